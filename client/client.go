package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solvision/service/network"
	"github.com/brojonat/solvision/service/wallet"
)

// Session is a server-side explorer session as reported by the API.
type Session struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"` // idle, loading, ready, error
	Address    string          `json:"address,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Generation uint64          `json:"generation"`
	Selected   *network.Node   `json:"selected,omitempty"`
	Summary    *wallet.Summary `json:"summary,omitempty"`
	NodeCount  int             `json:"node_count"`
	EdgeCount  int             `json:"edge_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Done reports whether the session has finished the search acknowledged by ack.
func (s *Session) Done(ack *SearchAck) bool {
	return s.Generation > ack.PreviousGeneration && s.Status != "loading"
}

// SearchAck acknowledges a search started in the background.
type SearchAck struct {
	SessionID          string `json:"session_id"`
	Address            string `json:"address"`
	Status             string `json:"status"`
	PreviousGeneration uint64 `json:"previous_generation"`
}

// Detail lists the transactions behind the selected node.
type Detail struct {
	Selected     *network.Node        `json:"selected"`
	Transactions []wallet.Transaction `json:"transactions"`
	Count        int                  `json:"count"`
}

// Notification is a search outcome delivered over the notification stream.
type Notification struct {
	SessionID   string    `json:"session_id"`
	Level       string    `json:"level"` // info, warning, error
	Message     string    `json:"message"`
	Address     string    `json:"address"`
	Generation  uint64    `json:"generation"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: %s", e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the SolVision explorer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new explorer service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateSession starts a new explorer session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, http.StatusCreated, &session); err != nil {
		return nil, err
	}
	c.logger.Debug("session created", "session_id", session.ID)
	return &session, nil
}

// GetSession retrieves a session, restoring it on the server from its last lookup if needed.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, http.StatusOK, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession ends a session and forgets its lookup.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("session deleted", "session_id", sessionID)
	return nil
}

// Search starts a wallet search in the background and returns immediately.
// Use WaitForSearch to block until it completes.
func (c *Client) Search(ctx context.Context, sessionID, address string) (*SearchAck, error) {
	var ack SearchAck
	body := map[string]string{"address": address}
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/search"), body, http.StatusAccepted, &ack); err != nil {
		return nil, err
	}
	c.logger.Debug("search started", "session_id", sessionID, "address", address)
	return &ack, nil
}

// SearchAndWait runs a wallet search and returns the session once the outcome is applied.
// A failed fetch is not an error here; it shows up as the session's error state.
func (c *Client) SearchAndWait(ctx context.Context, sessionID, address string) (*Session, error) {
	var session Session
	body := map[string]string{"address": address}
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/search")+"?wait=true", body, http.StatusOK, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// WaitForSearch polls the session until the search acknowledged by ack has completed.
func (c *Client) WaitForSearch(ctx context.Context, ack *SearchAck, pollInterval time.Duration) (*Session, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		session, err := c.GetSession(ctx, ack.SessionID)
		if err != nil {
			return nil, err
		}
		if session.Done(ack) {
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for search of %s: %w", ack.Address, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Graph retrieves the session's current network.
func (c *Client) Graph(ctx context.Context, sessionID string) (*network.Graph, error) {
	var graph network.Graph
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/graph"), nil, http.StatusOK, &graph); err != nil {
		return nil, err
	}
	return &graph, nil
}

// SelectNode selects a node of the current network and returns its transactions.
func (c *Client) SelectNode(ctx context.Context, sessionID, nodeID string) (*Detail, error) {
	var detail Detail
	body := map[string]string{"node_id": nodeID}
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/select"), body, http.StatusOK, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ClearSelection drops the session's selection.
func (c *Client) ClearSelection(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, "/select"), nil, http.StatusNoContent, nil)
}

// Transactions lists the transactions behind the current selection.
func (c *Client) Transactions(ctx context.Context, sessionID string) (*Detail, error) {
	var detail Detail
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/transactions"), nil, http.StatusOK, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// NodeQRCode returns a PNG QR code of a node's address. A size of zero lets the server choose.
func (c *Client) NodeQRCode(ctx context.Context, sessionID, nodeID string, size int) ([]byte, error) {
	u := c.baseURL + sessionPath(sessionID, "/nodes/"+url.PathEscape(nodeID)+"/qr")
	if size > 0 {
		u += "?size=" + strconv.Itoa(size)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	png, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read QR code: %w", err)
	}
	return png, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// StreamNotifications delivers the session's notifications to handle until ctx is done, the
// server ends the stream, or handle returns an error.
func (c *Client) StreamNotifications(ctx context.Context, sessionID string, handle func(*Notification) error) error {
	u := c.baseURL + "/api/v1/stream/notifications/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client may carry a timeout; streams must not.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to notification stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("connected to notification stream", "session_id", sessionID)

	scanner := bufio.NewScanner(resp.Body)
	var event, data string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if event == "notification" && data != "" {
				var n Notification
				if err := json.Unmarshal([]byte(data), &n); err != nil {
					c.logger.Warn("failed to decode notification", "error", err)
				} else if err := handle(&n); err != nil {
					return err
				}
			}
			if event == "shutdown" {
				return nil
			}
			event, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading notification stream: %w", err)
	}
	return nil
}

func sessionPath(sessionID, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(sessionID) + suffix
}

// do sends a JSON request and decodes the JSON response into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
