package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solvision/service/explorer"
	natspkg "github.com/brojonat/solvision/service/nats"
	"github.com/brojonat/solvision/service/server"
	"github.com/brojonat/solvision/service/wallet"
)

const root = "RootWa11et111111111111111111111111111111111"

// syncBuffer lets a test read output while a command is still writing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runApp runs the CLI with args and returns what it wrote to stdout and stderr.
func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runAppContext(context.Background(), t, &syncBuffer{}, args...)
}

func runAppContext(ctx context.Context, t *testing.T, stdout *syncBuffer, args ...string) (string, string, error) {
	t.Helper()

	var stderr syncBuffer
	app := newApp()
	app.Writer = stdout
	app.ErrWriter = &stderr

	err := app.RunContext(ctx, append([]string{"solvision"}, args...))
	return stdout.String(), stderr.String(), err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleWallet(address string) *wallet.Data {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &wallet.Data{
		Address: address,
		Transactions: []wallet.Transaction{
			{Signature: "s1", Timestamp: ts, FromAddress: address, ToAddress: "X", Amount: 5, Type: wallet.TypeTransfer},
			{Signature: "s2", Timestamp: ts.Add(time.Hour), FromAddress: "X", ToAddress: address, Amount: 2, Type: wallet.TypeTransfer},
			{Signature: "s3", Timestamp: ts.Add(2 * time.Hour), FromAddress: "Y", ToAddress: address, Amount: 1, Type: wallet.TypeTransfer},
		},
	}
}

func cannedFetcher() explorer.Fetcher {
	return explorer.FetcherFunc(func(ctx context.Context, address string) (*wallet.Data, error) {
		if address == "Bad" {
			return nil, errors.New("rpc unavailable")
		}
		return sampleWallet(address), nil
	})
}

// newExplorerServer runs the real API over a canned fetcher and returns its URL.
func newExplorerServer(t *testing.T) (string, *natspkg.MockBroker) {
	t.Helper()

	broker := natspkg.NewMockBroker()
	sessions := server.NewSessionRegistry(cannedFetcher(), broker, nil, discardLogger())
	srv := server.New(":0", sessions, nil, broker, 5*time.Second, nil, discardLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})

	return ts.URL, broker
}
