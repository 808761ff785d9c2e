package fabric

import (
	"context"
	"log/slog"
	"time"
)

// DeadLetterSink receives messages whose handler failed on every retry
// attempt. Grounded on the teacher's workers package DLQ constants
// (dlqStreamPrefix, dlqRetentionPeriod, dlqMaxLength) — RedisTransport's
// sink writes to "fabric:dlq:<name>" streams in the same shape.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg Message, cause error) error
}

// withPolicy wraps handler with retry/backoff, a circuit breaker, and
// dead-lettering on exhaustion. This is the single place that
// implements the governing specification's §4.6 retry and breaker
// semantics; every Transport.Consume implementation should route
// through it instead of re-implementing retry loops.
func withPolicy(cfg Config, breaker *CircuitBreaker, sink DeadLetterSink, logger *slog.Logger, handler Handler) Handler {
	return func(ctx context.Context, msg Message) (Message, error) {
		if err := breaker.Allow(); err != nil {
			logger.Warn("fabric: circuit open, dead-lettering", "message", msg.Name, "id", msg.ID)
			_ = sink.DeadLetter(ctx, msg, err)
			return Message{}, err
		}

		var lastErr error
		attempts := cfg.Retry.MaxAttempts
		if attempts <= 0 {
			attempts = 1
		}
		for attempt := 1; attempt <= attempts; attempt++ {
			callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
			reply, err := handler(callCtx, msg)
			cancel()
			lastErr = err

			if lastErr == nil {
				breaker.RecordSuccess()
				return reply, nil
			}

			logger.Warn("fabric: handler attempt failed", "message", msg.Name, "id", msg.ID, "attempt", attempt, "error", lastErr)

			if attempt < attempts {
				select {
				case <-time.After(cfg.Retry.Backoff(attempt)):
				case <-ctx.Done():
					breaker.RecordFailure()
					return Message{}, ctx.Err()
				}
			}
		}

		breaker.RecordFailure()
		if err := sink.DeadLetter(ctx, msg, lastErr); err != nil {
			logger.Error("fabric: dead-letter write failed", "message", msg.Name, "id", msg.ID, "error", err)
		}
		return Message{}, lastErr
	}
}

// semaphore bounds concurrent handler execution to MaxInFlight, the
// teacher's workers package equivalent of a worker pool sized by config
// rather than an unbounded goroutine-per-message fan-out.
type semaphore chan struct{}

func newSemaphore(n int) semaphore {
	if n <= 0 {
		n = 1
	}
	return make(semaphore, n)
}

func (s semaphore) acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s semaphore) release() { <-s }
