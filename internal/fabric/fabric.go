// Package fabric implements the Message Fabric (component C6): an
// asynchronous typed request/reply and fire-and-forget bus with bounded
// concurrency, per-call deadlines, retry with exponential backoff,
// dead-lettering, and circuit breaking.
//
// Grounded on the teacher's Redis Streams producer (streams package,
// XAdd-based publish) and consumer (workers package, consumer groups +
// DLQ + retry backoff + discovery loop), generalized here from a single
// telemetry-batch use case into a transport-agnostic bus carrying any of
// the named messages in Catalog. Circuit breaking has no analogue
// anywhere in the reference corpus and is built net-new in the same
// atomic-counter/ticker idiom the teacher's workers package already uses
// for its own backoff bookkeeping (see breaker.go).
package fabric

import (
	"context"
	"time"
)

// Message is one unit of work flowing through the fabric.
type Message struct {
	Name    string
	ID      string
	Payload []byte
	Headers map[string]string
}

// Handler processes one message and, for request/reply messages, returns
// the reply payload (ignored by callers of a fire-and-forget message).
// Returning an error causes the fabric to retry per Config.Retry, and
// dead-letter once attempts are exhausted.
type Handler func(ctx context.Context, msg Message) (Message, error)

// Transport is the pluggable delivery mechanism — the teacher's go-redis
// Streams producer/consumer is one Transport implementation
// (RedisTransport); an in-process channel transport (InMemoryTransport)
// is used for unit tests and for single-process deployments.
type Transport interface {
	// Publish sends a fire-and-forget message.
	Publish(ctx context.Context, msg Message) error
	// Request sends msg and blocks for a reply on the same logical
	// channel, honoring ctx's deadline.
	Request(ctx context.Context, msg Message) (Message, error)
	// Consume registers handler for the named message and begins
	// consuming in the background until ctx is cancelled.
	Consume(ctx context.Context, name string, handler Handler) error
	Close() error
}

// Config controls the scheduling, retry, and breaker behavior common to
// every transport.
type Config struct {
	// MaxInFlight bounds how many messages a single consumer processes
	// concurrently (default 32, matching the governing specification's
	// default in-flight count).
	MaxInFlight int
	// Prefetch bounds how many messages are fetched ahead of processing
	// (default 16).
	Prefetch int
	// CallTimeout bounds a single Request round trip.
	CallTimeout time.Duration
	Retry       RetryConfig
	Breaker     BreakerConfig
}

// RetryConfig is exponential backoff with a cap and a maximum attempt
// count, matching the governing specification's defaults (1s initial,
// 2.0 multiplier, 30s cap, 3 max attempts).
type RetryConfig struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// DefaultConfig returns the specification's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight: 32,
		Prefetch:    16,
		CallTimeout: 30 * time.Second,
		Retry: RetryConfig{
			InitialBackoff: time.Second,
			Multiplier:     2.0,
			MaxBackoff:     30 * time.Second,
			MaxAttempts:    3,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			OpenDuration:     5 * time.Minute,
		},
	}
}

// Backoff returns the delay before the given attempt (1-indexed).
func (r RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return r.InitialBackoff
	}
	d := float64(r.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= r.Multiplier
		if time.Duration(d) >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	return time.Duration(d)
}
