package fabric

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// InMemoryTransport is a single-process Transport used by unit tests and
// by deployments that run every component in one binary. Publish/Request
// dispatch directly to registered handlers under the same retry/breaker
// policy the Redis-backed transport applies, so tests exercise the real
// fabric semantics without a Redis dependency.
type InMemoryTransport struct {
	cfg    Config
	logger *slog.Logger
	sink   DeadLetterSink

	mu       sync.RWMutex
	handlers map[string]Handler
	breakers map[string]*CircuitBreaker
	sema     semaphore
}

// NewInMemoryTransport constructs an in-process transport.
func NewInMemoryTransport(cfg Config, sink DeadLetterSink, logger *slog.Logger) *InMemoryTransport {
	return &InMemoryTransport{
		cfg:      cfg,
		logger:   logger,
		sink:     sink,
		handlers: map[string]Handler{},
		breakers: map[string]*CircuitBreaker{},
		sema:     newSemaphore(cfg.MaxInFlight),
	}
}

func (t *InMemoryTransport) breakerFor(name string) *CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[name]
	if !ok {
		b = NewCircuitBreaker(t.cfg.Breaker)
		t.breakers[name] = b
	}
	return b
}

// Consume registers handler for name. InMemoryTransport has no
// background poll loop — Publish/Request invoke the registered handler
// inline, under the bounded-concurrency semaphore.
func (t *InMemoryTransport) Consume(ctx context.Context, name string, handler Handler) error {
	t.mu.Lock()
	t.handlers[name] = withPolicy(t.cfg, t.breakerFor(name), t.sink, t.logger, handler)
	t.mu.Unlock()
	return nil
}

func (t *InMemoryTransport) Publish(ctx context.Context, msg Message) error {
	t.mu.RLock()
	handler, ok := t.handlers[msg.Name]
	t.mu.RUnlock()
	if !ok {
		return errors.New("fabric: no consumer registered for " + msg.Name)
	}
	if err := t.sema.acquire(ctx); err != nil {
		return err
	}
	defer t.sema.release()
	_, err := handler(ctx, msg)
	return err
}

// Request dispatches to the registered handler inline and returns its
// reply. Unlike RedisTransport, there is no separate reply channel to
// cross — the handler's return value IS the reply.
func (t *InMemoryTransport) Request(ctx context.Context, msg Message) (Message, error) {
	t.mu.RLock()
	handler, ok := t.handlers[msg.Name]
	t.mu.RUnlock()
	if !ok {
		return Message{}, errors.New("fabric: no consumer registered for " + msg.Name)
	}
	if err := t.sema.acquire(ctx); err != nil {
		return Message{}, err
	}
	defer t.sema.release()
	return handler(ctx, msg)
}

func (t *InMemoryTransport) Close() error { return nil }
