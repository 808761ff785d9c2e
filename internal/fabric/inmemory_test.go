package fabric

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	count atomic.Int32
	last  Message
}

func (s *recordingSink) DeadLetter(ctx context.Context, msg Message, cause error) error {
	s.count.Add(1)
	s.last = msg
	return nil
}

func fastConfig() Config {
	return Config{
		MaxInFlight: 4,
		Prefetch:    4,
		CallTimeout: time.Second,
		Retry: RetryConfig{
			InitialBackoff: time.Millisecond,
			Multiplier:     1.0,
			MaxBackoff:     5 * time.Millisecond,
			MaxAttempts:    3,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 100,
			Window:           time.Minute,
			OpenDuration:     time.Minute,
		},
	}
}

func TestInMemoryTransport_PublishDispatchesToHandler(t *testing.T) {
	sink := &recordingSink{}
	transport := NewInMemoryTransport(fastConfig(), sink, testLogger())

	var received Message
	err := transport.Consume(context.Background(), "test.event", func(ctx context.Context, msg Message) (Message, error) {
		received = msg
		return Message{}, nil
	})
	require.NoError(t, err)

	err = transport.Publish(context.Background(), Message{Name: "test.event", ID: "1", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "test.event", received.Name)
	assert.Equal(t, int32(0), sink.count.Load())
}

func TestInMemoryTransport_PublishWithNoConsumerErrors(t *testing.T) {
	transport := NewInMemoryTransport(fastConfig(), &recordingSink{}, testLogger())
	err := transport.Publish(context.Background(), Message{Name: "unregistered"})
	assert.Error(t, err)
}

func TestInMemoryTransport_RetriesThenSucceeds(t *testing.T) {
	sink := &recordingSink{}
	transport := NewInMemoryTransport(fastConfig(), sink, testLogger())

	var attempts atomic.Int32
	err := transport.Consume(context.Background(), "flaky", func(ctx context.Context, msg Message) (Message, error) {
		n := attempts.Add(1)
		if n < 2 {
			return Message{}, errors.New("transient")
		}
		return Message{Payload: []byte("ok")}, nil
	})
	require.NoError(t, err)

	reply, err := transport.Request(context.Background(), Message{Name: "flaky", ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(reply.Payload))
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(0), sink.count.Load())
}

func TestInMemoryTransport_DeadLettersAfterExhaustingRetries(t *testing.T) {
	sink := &recordingSink{}
	transport := NewInMemoryTransport(fastConfig(), sink, testLogger())

	var attempts atomic.Int32
	err := transport.Consume(context.Background(), "always-fails", func(ctx context.Context, msg Message) (Message, error) {
		attempts.Add(1)
		return Message{}, errors.New("permanent")
	})
	require.NoError(t, err)

	_, err = transport.Request(context.Background(), Message{Name: "always-fails", ID: "42"})
	assert.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int32(1), sink.count.Load())
	assert.Equal(t, "42", sink.last.ID)
}

func TestInMemoryTransport_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = BreakerConfig{FailureThreshold: 2, Window: time.Minute, OpenDuration: time.Hour}
	sink := &recordingSink{}
	transport := NewInMemoryTransport(cfg, sink, testLogger())

	err := transport.Consume(context.Background(), "bad", func(ctx context.Context, msg Message) (Message, error) {
		return Message{}, errors.New("nope")
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = transport.Request(context.Background(), Message{Name: "bad", ID: "x"})
	}

	_, err = transport.Request(context.Background(), Message{Name: "bad", ID: "y"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), sink.count.Load())
}
