// Package maintenance runs the background sweeps the governing
// specification's operations rely on but never trigger synchronously:
// expired blacklist entries piling up in Postgres. Grounded on the
// teacher's annotation.LockExpiryWorker (same quit-channel/ticker/
// run-immediately-then-on-interval shape), narrowed to the one table
// this domain needs to sweep.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tokendomain "authz/internal/core/domain/token"
)

// TokenCleanupWorker periodically deletes blacklist entries past their
// expires_at, so the table doesn't grow unbounded with stale individual
// and emergency entries.
type TokenCleanupWorker struct {
	logger    *slog.Logger
	blacklist tokendomain.Repository
	interval  time.Duration

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewTokenCleanupWorker constructs a cleanup worker running every interval.
func NewTokenCleanupWorker(blacklist tokendomain.Repository, interval time.Duration, logger *slog.Logger) *TokenCleanupWorker {
	return &TokenCleanupWorker{
		logger:    logger,
		blacklist: blacklist,
		interval:  interval,
		quit:      make(chan struct{}),
	}
}

// Start begins the periodic sweep in the background.
func (w *TokenCleanupWorker) Start() {
	w.logger.Info("starting token blacklist cleanup worker", "interval", w.interval)
	w.wg.Add(1)
	go w.mainLoop()
}

// Stop stops the worker and waits for the in-flight sweep to finish.
func (w *TokenCleanupWorker) Stop() {
	w.logger.Info("stopping token blacklist cleanup worker")
	close(w.quit)
	w.wg.Wait()
}

func (w *TokenCleanupWorker) mainLoop() {
	defer w.wg.Done()

	w.run()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.run()
		case <-w.quit:
			w.logger.Info("token blacklist cleanup worker stopped")
			return
		}
	}
}

func (w *TokenCleanupWorker) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := w.blacklist.DeleteExpired(ctx)
	if err != nil {
		w.logger.Error("token blacklist cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("token blacklist cleanup completed", "deleted", deleted)
	}
}
