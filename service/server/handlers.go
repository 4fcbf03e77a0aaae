package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solvision/service/explorer"
	"github.com/brojonat/solvision/service/network"
	"github.com/brojonat/solvision/service/wallet"
	gvalidator "github.com/go-playground/validator/v10"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var validate = newValidator()

func newValidator() *gvalidator.Validate {
	v := gvalidator.New(gvalidator.WithRequiredStructEnabled())
	// Report JSON field names, which is what clients sent.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type searchRequest struct {
	Address string `json:"address" validate:"required,max=100"`
}

type selectRequest struct {
	NodeID string `json:"node_id" validate:"required,max=100"`
}

// sessionResponse is the JSON response format for a session snapshot.
type sessionResponse struct {
	ID         string          `json:"id"`
	Status     explorer.Status `json:"status"`
	Address    string          `json:"address,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Generation uint64          `json:"generation"`
	Selected   *network.Node   `json:"selected,omitempty"`
	Summary    *wallet.Summary `json:"summary,omitempty"`
	NodeCount  int             `json:"node_count"`
	EdgeCount  int             `json:"edge_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// searchResponse acknowledges a search started in the background. The search is finished once
// the session's generation exceeds PreviousGeneration and its status is no longer loading.
type searchResponse struct {
	SessionID          string          `json:"session_id"`
	Address            string          `json:"address"`
	Status             explorer.Status `json:"status"`
	PreviousGeneration uint64          `json:"previous_generation"`
}

// detailResponse is the JSON response format for the transactions behind the selection.
type detailResponse struct {
	Selected     *network.Node        `json:"selected"`
	Transactions []wallet.Transaction `json:"transactions"`
	Count        int                  `json:"count"`
}

func sessionToResponse(session *Session) sessionResponse {
	snap := session.Controller.Snapshot()
	resp := sessionResponse{
		ID:         session.ID,
		Status:     snap.Status,
		Address:    snap.Address,
		LastError:  snap.Error,
		Generation: snap.Generation,
		Selected:   snap.Selected,
		CreatedAt:  session.CreatedAt,
	}
	if snap.Wallet != nil {
		summary := wallet.Summarize(snap.Wallet)
		resp.Summary = &summary
	}
	if snap.Graph != nil {
		resp.NodeCount = len(snap.Graph.Nodes)
		resp.EdgeCount = len(snap.Graph.Edges)
	}
	return resp
}

// handleCreateSession returns a handler that starts a new explorer session.
// POST /api/v1/sessions
func handleCreateSession(sessions *SessionRegistry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := sessions.Create()
		logger.InfoContext(r.Context(), "session created", "session_id", session.ID)
		writeJSON(w, sessionToResponse(session), http.StatusCreated)
	})
}

// handleGetSession returns a handler that reports a session's state. A session that is not
// live is restored from its persisted lookup when there is one.
// GET /api/v1/sessions/{id}
func handleGetSession(sessions *SessionRegistry, store LookupStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if session, ok := sessions.Get(id); ok {
			writeJSON(w, sessionToResponse(session), http.StatusOK)
			return
		}

		if store == nil {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		session, err := sessions.Open(id)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		restored, err := session.restore(r.Context(), store)
		if err != nil {
			sessions.Close(session.ID)
			logger.ErrorContext(r.Context(), "failed to restore session", "session_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !restored {
			sessions.Close(session.ID)
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		logger.InfoContext(r.Context(), "session restored from lookup",
			"session_id", session.ID,
			"address", session.Controller.Snapshot().Address,
		)
		writeJSON(w, sessionToResponse(session), http.StatusOK)
	})
}

// handleDeleteSession returns a handler that ends a session and forgets its lookup.
// DELETE /api/v1/sessions/{id}
func handleDeleteSession(sessions *SessionRegistry, store LookupStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		session, ok := sessions.Get(id)
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		sessions.Close(session.ID)

		if store != nil {
			if err := store.DeleteLookup(r.Context(), session.ID); err != nil {
				logger.ErrorContext(r.Context(), "failed to delete lookup", "session_id", session.ID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		logger.InfoContext(r.Context(), "session deleted", "session_id", session.ID)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleSearch returns a handler that starts a wallet search in a session.
// POST /api/v1/sessions/{id}/search[?wait=true]
//
// The search runs in the background and the handler answers 202 right away. With wait=true
// the handler blocks until the search completes and answers with the session state.
func handleSearch(sessions *SessionRegistry, searches *searchRunner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		var req searchRequest
		if !decodeRequest(w, r, &req, logger) {
			return
		}
		req.Address = strings.TrimSpace(req.Address)

		if err := validateAddress(req.Address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("wait") == "true" {
			// The fetch bounds this response, not the server's write timeout.
			_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
			if err := searches.run(r.Context(), session, req.Address); err != nil {
				if errors.Is(err, explorer.ErrEmptyAddress) {
					writeError(w, err.Error(), http.StatusBadRequest)
					return
				}
				logger.WarnContext(r.Context(), "search did not complete", "session_id", session.ID, "error", err)
			}
			writeJSON(w, sessionToResponse(session), http.StatusOK)
			return
		}

		previous := session.Controller.Snapshot().Generation
		searches.start(session, req.Address)

		writeJSON(w, searchResponse{
			SessionID:          session.ID,
			Address:            req.Address,
			Status:             explorer.StatusLoading,
			PreviousGeneration: previous,
		}, http.StatusAccepted)
	})
}

// handleGetGraph returns a handler that renders the session's current network.
// GET /api/v1/sessions/{id}/graph
func handleGetGraph(sessions *SessionRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		snap := session.Controller.Snapshot()
		if snap.Graph == nil {
			writeError(w, explorer.ErrNotReady.Error(), http.StatusConflict)
			return
		}

		writeJSON(w, snap.Graph, http.StatusOK)
	})
}

// handleSelectNode returns a handler that selects a node and answers with its transactions.
// POST /api/v1/sessions/{id}/select
func handleSelectNode(sessions *SessionRegistry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		var req selectRequest
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if err := session.Controller.SelectNode(network.Node{ID: req.NodeID}); err != nil {
			switch {
			case errors.Is(err, explorer.ErrNotReady):
				writeError(w, err.Error(), http.StatusConflict)
			case errors.Is(err, explorer.ErrUnknownNode):
				writeError(w, err.Error(), http.StatusNotFound)
			default:
				logger.ErrorContext(r.Context(), "failed to select node", "session_id", session.ID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		logger.DebugContext(r.Context(), "node selected", "session_id", session.ID, "node_id", req.NodeID)
		writeJSON(w, detailToResponse(session.Controller), http.StatusOK)
	})
}

// handleClearSelection returns a handler that drops the session's selection.
// DELETE /api/v1/sessions/{id}/select
func handleClearSelection(sessions *SessionRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}
		session.Controller.ClearSelection()
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListTransactions returns a handler that lists the transactions behind the selection.
// With nothing selected the list is empty.
// GET /api/v1/sessions/{id}/transactions
func handleListTransactions(sessions *SessionRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, detailToResponse(session.Controller), http.StatusOK)
	})
}

func detailToResponse(c *explorer.Controller) detailResponse {
	resp := detailResponse{Transactions: []wallet.Transaction{}}

	selected, txns, ok := c.DetailTransactions()
	if !ok {
		return resp
	}

	resp.Selected = &selected
	resp.Transactions = txns
	resp.Count = len(txns)
	return resp
}

// decodeRequest reads and validates a JSON body into dst. On failure it writes the error
// response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}

	return true
}

// validationMessage turns validator errors into a client-facing message.
func validationMessage(err error) string {
	var validationErrors gvalidator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s too long: maximum length is %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s does not meet the requirements for the '%s' validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// validateAddress rejects addresses that cannot be wallet addresses at all. Whether the
// address is valid base58 is the fetcher's call, so it shows up as a failed search.
func validateAddress(address string) error {
	if address == "" {
		return explorer.ErrEmptyAddress
	}

	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.New("invalid characters in address: control characters and whitespace not allowed")
		}
	}

	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
