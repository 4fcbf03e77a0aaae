package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const persistTimeout = 10 * time.Second

// searchRunner runs session searches with the configured fetch timeout and persists each
// applied outcome. Background searches stop when the runner is shut down.
type searchRunner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timeout time.Duration
	store   LookupStore
	logger  *slog.Logger
}

func newSearchRunner(timeout time.Duration, store LookupStore, logger *slog.Logger) *searchRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &searchRunner{
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		store:   store,
		logger:  logger,
	}
}

// start runs a search in the background.
func (sr *searchRunner) start(session *Session, address string) {
	sr.wg.Add(1)
	go func() {
		defer sr.wg.Done()
		if err := sr.run(sr.ctx, session, address); err != nil {
			sr.logger.Warn("background search did not complete",
				"session_id", session.ID,
				"address", address,
				"error", err,
			)
		}
	}()
}

// run searches address in session and blocks until the outcome is applied and persisted.
func (sr *searchRunner) run(ctx context.Context, session *Session, address string) error {
	if sr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sr.timeout)
		defer cancel()
	}

	searchErr := session.Controller.Search(ctx, address)

	// The outcome is applied even when ctx ended, so persist it on a fresh deadline.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := session.persist(persistCtx, sr.store, sr.logger); err != nil {
		sr.logger.ErrorContext(persistCtx, "failed to persist lookup",
			"session_id", session.ID,
			"error", err,
		)
	}

	return searchErr
}

// shutdown cancels background searches and waits for them to finish or ctx to end.
func (sr *searchRunner) shutdown(ctx context.Context) error {
	sr.cancel()

	done := make(chan struct{})
	go func() {
		sr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
