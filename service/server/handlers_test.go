package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solvision/service/db"
	"github.com/brojonat/solvision/service/explorer"
	"github.com/brojonat/solvision/service/metrics"
	"github.com/brojonat/solvision/service/network"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoot = "RootWa11et111111111111111111111111111111111"

// memStore is an in-memory LookupStore.
type memStore struct {
	mu      sync.Mutex
	lookups map[string]*db.Lookup
	saves   int
	deletes int
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{lookups: make(map[string]*db.Lookup)}
}

func (m *memStore) SaveLookup(ctx context.Context, sessionID string, data *wallet.Data) (*db.Lookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	lookup := &db.Lookup{
		SessionID:    sessionID,
		Address:      data.Address,
		Transactions: data.Transactions,
		FetchedAt:    time.Now().UTC(),
	}
	m.lookups[sessionID] = lookup
	return lookup, nil
}

func (m *memStore) GetLookup(ctx context.Context, sessionID string) (*db.Lookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	lookup, ok := m.lookups[sessionID]
	if !ok {
		return nil, db.ErrLookupNotFound
	}
	return lookup, nil
}

func (m *memStore) DeleteLookup(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.lookups, sessionID)
	return nil
}

func (m *memStore) get(sessionID string) (*db.Lookup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lookup, ok := m.lookups[sessionID]
	return lookup, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleWallet(root string) *wallet.Data {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &wallet.Data{
		Address: root,
		Transactions: []wallet.Transaction{
			{Signature: "s1", Timestamp: base, FromAddress: root, ToAddress: "X", Amount: 5, Type: wallet.TypeTransfer},
			{Signature: "s2", Timestamp: base.Add(time.Minute), FromAddress: "X", ToAddress: root, Amount: 2, Type: wallet.TypeTransfer},
			{Signature: "s3", Timestamp: base.Add(2 * time.Minute), FromAddress: "Y", ToAddress: root, Amount: 1, Type: wallet.TypeTransfer},
		},
	}
}

// walletFetcher serves sampleWallet for every address except those mapped to an error.
func walletFetcher(errs map[string]error) explorer.Fetcher {
	return explorer.FetcherFunc(func(ctx context.Context, address string) (*wallet.Data, error) {
		if err, ok := errs[address]; ok {
			return nil, err
		}
		return sampleWallet(address), nil
	})
}

type testServer struct {
	srv      *Server
	sessions *SessionRegistry
	store    *memStore
	handler  http.Handler
}

func newTestServer(t *testing.T, fetcher explorer.Fetcher, store *memStore) *testServer {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	sessions := NewSessionRegistry(fetcher, nil, m, discardLogger())

	var lookups LookupStore
	if store != nil {
		lookups = store
	}
	srv := New(":0", sessions, lookups, nil, 5*time.Second, m, discardLogger())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})

	return &testServer{
		srv:      srv,
		sessions: sessions,
		store:    store,
		handler:  srv.Handler(),
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.ID
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, w)["error"]
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t, walletFetcher(nil), nil)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeBody[sessionResponse](t, w)
	_, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, explorer.StatusIdle, resp.Status)
	assert.Zero(t, resp.Generation)
	assert.Nil(t, resp.Summary)
	assert.Equal(t, 1, ts.sessions.Len())

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+resp.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.ID, decodeBody[sessionResponse](t, w).ID)
}

func TestSearch_WaitOutlivesWriteTimeout(t *testing.T) {
	slow := explorer.FetcherFunc(func(ctx context.Context, address string) (*wallet.Data, error) {
		select {
		case <-time.After(300 * time.Millisecond):
			return sampleWallet(address), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	ts := newTestServer(t, slow, nil)
	id := ts.createSession(t)

	httpServer := httptest.NewUnstartedServer(ts.handler)
	httpServer.Config.WriteTimeout = 50 * time.Millisecond
	httpServer.Start()
	defer httpServer.Close()

	resp, err := http.Post(httpServer.URL+"/api/v1/sessions/"+id+"/search?wait=true", "application/json",
		strings.NewReader(`{"address":"`+testRoot+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, explorer.StatusReady, session.Status)
	assert.Equal(t, testRoot, session.Address)
}

func TestSearch_ExploreCycle(t *testing.T) {
	store := newMemStore()
	ts := newTestServer(t, walletFetcher(nil), store)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search?wait=true", `{"address":"`+testRoot+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	session := decodeBody[sessionResponse](t, w)
	assert.Equal(t, explorer.StatusReady, session.Status)
	assert.Equal(t, testRoot, session.Address)
	assert.Equal(t, uint64(1), session.Generation)
	assert.Equal(t, 3, session.NodeCount)
	assert.Equal(t, 2, session.EdgeCount)
	require.NotNil(t, session.Summary)
	assert.Equal(t, 3, session.Summary.TransactionCount)
	assert.Equal(t, 2, session.Summary.Counterparties)

	// Graph
	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	graph := decodeBody[network.Graph](t, w)
	assert.Equal(t, testRoot, graph.Root)
	require.Len(t, graph.Nodes, 3)
	assert.True(t, graph.Nodes[0].IsRoot)
	assert.Equal(t, "X", graph.Nodes[1].ID)
	assert.Equal(t, 2, graph.Nodes[1].TransactionCount)

	// Nothing selected yet
	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody[detailResponse](t, w)
	assert.Nil(t, detail.Selected)
	assert.Empty(t, detail.Transactions)

	// Select a counterparty
	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", `{"node_id":"X"}`)
	require.Equal(t, http.StatusOK, w.Code)
	detail = decodeBody[detailResponse](t, w)
	require.NotNil(t, detail.Selected)
	assert.Equal(t, "X", detail.Selected.ID)
	assert.Equal(t, 2, detail.Count)
	assert.Equal(t, "s1", detail.Transactions[0].Signature)
	assert.Equal(t, "s2", detail.Transactions[1].Signature)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeBody[detailResponse](t, w).Count)

	// Selecting the root shows everything
	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", `{"node_id":"`+testRoot+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decodeBody[detailResponse](t, w).Count)

	// Clear the selection
	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/select", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/transactions", "")
	assert.Empty(t, decodeBody[detailResponse](t, w).Transactions)

	// The lookup was persisted
	lookup, ok := store.get(id)
	require.True(t, ok)
	assert.Equal(t, testRoot, lookup.Address)
	assert.Len(t, lookup.Transactions, 3)
}

func TestSearch_EmptyResultIsReady(t *testing.T) {
	fetcher := explorer.FetcherFunc(func(ctx context.Context, address string) (*wallet.Data, error) {
		return &wallet.Data{Address: address}, nil
	})
	ts := newTestServer(t, fetcher, nil)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search?wait=true", `{"address":"`+testRoot+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	session := decodeBody[sessionResponse](t, w)
	assert.Equal(t, explorer.StatusReady, session.Status)
	assert.Equal(t, 1, session.NodeCount)
	assert.Zero(t, session.EdgeCount)
}

func TestSearch_FetchFailure(t *testing.T) {
	store := newMemStore()
	ts := newTestServer(t, walletFetcher(map[string]error{"Bad": errors.New("rpc unavailable")}), store)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search?wait=true", `{"address":"`+testRoot+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := store.get(id)
	require.True(t, ok)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search?wait=true", `{"address":"Bad"}`)
	require.Equal(t, http.StatusOK, w.Code)

	session := decodeBody[sessionResponse](t, w)
	assert.Equal(t, explorer.StatusError, session.Status)
	assert.Equal(t, "rpc unavailable", session.LastError)
	assert.Nil(t, session.Summary)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/graph", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	_, ok = store.get(id)
	assert.False(t, ok, "a failed search forgets the previous lookup")
}

func TestSearch_Async(t *testing.T) {
	release := make(chan struct{})
	fetcher := explorer.FetcherFunc(func(ctx context.Context, address string) (*wallet.Data, error) {
		select {
		case <-release:
			return sampleWallet(address), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	store := newMemStore()
	ts := newTestServer(t, fetcher, store)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search", `{"address":"`+testRoot+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	ack := decodeBody[searchResponse](t, w)
	assert.Equal(t, id, ack.SessionID)
	assert.Equal(t, testRoot, ack.Address)
	assert.Equal(t, explorer.StatusLoading, ack.Status)
	assert.Zero(t, ack.PreviousGeneration)

	close(release)

	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
		s := decodeBody[sessionResponse](t, w)
		return s.Generation > ack.PreviousGeneration && s.Status == explorer.StatusReady
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := store.get(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSearch_InvalidRequests(t *testing.T) {
	ts := newTestServer(t, walletFetcher(nil), nil)
	id := ts.createSession(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"extremely large request body", `{"address":"` + strings.Repeat("A", 2*1024*1024) + `"}`, "request body too large"},
		{"malformed JSON", `{"address":`, "invalid request body"},
		{"empty JSON object", `{}`, "address is required"},
		{"empty address", `{"address":""}`, "address is required"},
		{"blank address", `{"address":"   "}`, "address is required"},
		{"address too long", `{"address":"` + strings.Repeat("A", 500) + `"}`, "address too long"},
		{"address with null bytes", `{"address":"wallet\u0000123"}`, "invalid characters"},
		{"address with inner whitespace", `{"address":"wallet 123"}`, "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, errorMessage(t, w), tt.wantErr)
		})
	}

	// None of the rejected requests started a search.
	s := ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, explorer.StatusIdle, decodeBody[sessionResponse](t, s).Status)
}

func TestSelectNode_Errors(t *testing.T) {
	ts := newTestServer(t, walletFetcher(nil), nil)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", `{"node_id":"X"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorMessage(t, w), explorer.ErrNotReady.Error())

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search?wait=true", `{"address":"`+testRoot+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", `{"node_id":"Z"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "node_id is required")
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, walletFetcher(nil), nil)
	id := uuid.NewString()

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/v1/sessions/" + id, ""},
		{http.MethodDelete, "/api/v1/sessions/" + id, ""},
		{http.MethodPost, "/api/v1/sessions/" + id + "/search", `{"address":"A"}`},
		{http.MethodGet, "/api/v1/sessions/" + id + "/graph", ""},
		{http.MethodPost, "/api/v1/sessions/" + id + "/select", `{"node_id":"A"}`},
		{http.MethodDelete, "/api/v1/sessions/" + id + "/select", ""},
		{http.MethodGet, "/api/v1/sessions/" + id + "/transactions", ""},
	}

	for _, r := range requests {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			w := ts.do(t, r.method, r.path, r.body)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, "session not found", errorMessage(t, w))
		})
	}
}

func TestGetSession_RestoresFromStore(t *testing.T) {
	store := newMemStore()
	id := uuid.NewString()
	_, err := store.SaveLookup(context.Background(), id, sampleWallet(testRoot))
	require.NoError(t, err)

	ts := newTestServer(t, walletFetcher(nil), store)

	w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	session := decodeBody[sessionResponse](t, w)
	assert.Equal(t, id, session.ID)
	assert.Equal(t, explorer.StatusReady, session.Status)
	assert.Equal(t, testRoot, session.Address)
	assert.Equal(t, 3, session.NodeCount)

	// Restored sessions are live and explorable.
	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", `{"node_id":"Y"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[detailResponse](t, w).Count)

	// Restoring writes nothing back.
	assert.Equal(t, 1, store.saves)
}

func TestGetSession_RestoreMisses(t *testing.T) {
	t.Run("no lookup", func(t *testing.T) {
		ts := newTestServer(t, walletFetcher(nil), newMemStore())
		w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Zero(t, ts.sessions.Len())
	})

	t.Run("invalid id", func(t *testing.T) {
		ts := newTestServer(t, walletFetcher(nil), newMemStore())
		w := ts.do(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorMessage(t, w), ErrInvalidSessionID.Error())
	})

	t.Run("store error", func(t *testing.T) {
		store := newMemStore()
		store.getErr = errors.New("connection refused")
		ts := newTestServer(t, walletFetcher(nil), store)
		w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Zero(t, ts.sessions.Len())
	})
}

func TestDeleteSession(t *testing.T) {
	store := newMemStore()
	ts := newTestServer(t, walletFetcher(nil), store)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/search?wait=true", `{"address":"`+testRoot+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Zero(t, ts.sessions.Len())
	_, ok := store.get(id)
	assert.False(t, ok)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t, walletFetcher(nil), nil)

	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(t, http.MethodOptions, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestStreamEndpointDisabledWithoutSubscriber(t *testing.T) {
	ts := newTestServer(t, walletFetcher(nil), nil)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodGet, "/api/v1/stream/notifications/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
