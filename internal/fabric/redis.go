package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix      = "fabric:stream:"
	replyStreamPrefix = "fabric:reply:"
	dlqStreamPrefix   = "fabric:dlq:"
	dlqRetentionPeriod = 7 * 24 * time.Hour
	dlqMaxLength       = 1000
)

// RedisTransport is the production Transport, grounded on the teacher's
// streams.TelemetryStreamProducer (XAdd-based publish keyed per entity)
// and workers.TelemetryStreamConsumer (consumer groups, discovery loop,
// retry/backoff, dead-lettering), generalized from one telemetry stream
// into one stream per catalog message name.
type RedisTransport struct {
	client        *redis.Client
	cfg           Config
	logger        *slog.Logger
	consumerGroup string
	consumerID    string

	breakers map[string]*CircuitBreaker
}

// NewRedisTransport constructs a Redis Streams-backed transport.
func NewRedisTransport(client *redis.Client, cfg Config, consumerGroup string, logger *slog.Logger) *RedisTransport {
	return &RedisTransport{
		client:        client,
		cfg:           cfg,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerID:    "worker-" + uuid.NewString(),
		breakers:      map[string]*CircuitBreaker{},
	}
}

func (t *RedisTransport) breakerFor(name string) *CircuitBreaker {
	b, ok := t.breakers[name]
	if !ok {
		b = NewCircuitBreaker(t.cfg.Breaker)
		t.breakers[name] = b
	}
	return b
}

func streamKey(name string) string { return streamPrefix + name }

// Publish XAdds msg to the named stream, mirroring
// TelemetryStreamProducer.PublishBatch's structured Values convention.
// Payload is already an opaque byte slice (typically JSON the caller
// encoded) so it is written as-is rather than re-marshaled.
func (t *RedisTransport) Publish(ctx context.Context, msg Message) error {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("fabric: marshal headers: %w", err)
	}
	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(msg.Name),
		Values: map[string]interface{}{
			"id":      msg.ID,
			"name":    msg.Name,
			"payload": string(msg.Payload),
			"headers": string(headers),
		},
	}).Err()
}

// Request publishes to the request stream and blocks, polling a
// per-message reply stream keyed by msg.ID, until either a reply arrives
// or ctx's deadline elapses.
func (t *RedisTransport) Request(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	replyKey := replyStreamPrefix + msg.ID
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	msg.Headers["reply_to"] = replyKey

	if err := t.Publish(ctx, msg); err != nil {
		return Message{}, err
	}

	lastID := "0"
	for {
		res, err := t.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{replyKey, lastID},
			Block:   500 * time.Millisecond,
			Count:   1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Message{}, err
		}
		if len(res) > 0 && len(res[0].Messages) > 0 {
			entry := res[0].Messages[0]
			return decodeEntry(entry.Values), nil
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		default:
		}
	}
}

func decodeEntry(values map[string]interface{}) Message {
	msg := Message{Headers: map[string]string{}}
	if v, ok := values["id"].(string); ok {
		msg.ID = v
	}
	if v, ok := values["name"].(string); ok {
		msg.Name = v
	}
	if v, ok := values["payload"].(string); ok {
		msg.Payload = []byte(v)
	}
	if v, ok := values["headers"].(string); ok {
		_ = json.Unmarshal([]byte(v), &msg.Headers)
	}
	return msg
}

// Consume joins consumerGroup on the named stream (creating it if
// absent, per the teacher's consumer-group bootstrap) and processes
// entries with bounded concurrency, retry/backoff, and dead-lettering —
// the same shape as TelemetryStreamConsumer.consumeLoop, generalized to
// any catalog message.
func (t *RedisTransport) Consume(ctx context.Context, name string, handler Handler) error {
	key := streamKey(name)
	if err := t.client.XGroupCreateMkStream(ctx, key, t.consumerGroup, "0").Err(); err != nil {
		if !errors.Is(err, redis.Nil) {
			// BUSYGROUP means the group already exists; anything else is
			// worth logging but not fatal to starting consumption.
			t.logger.Debug("fabric: group create", "stream", key, "error", err)
		}
	}

	wrapped := withPolicy(t.cfg, t.breakerFor(name), &redisDLQ{client: t.client}, t.logger, handler)
	sema := newSemaphore(t.cfg.MaxInFlight)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    t.consumerGroup,
				Consumer: t.consumerID,
				Streams:  []string{key, ">"},
				Count:    int64(t.cfg.Prefetch),
				Block:    time.Second,
			}).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					t.logger.Warn("fabric: xreadgroup error", "stream", key, "error", err)
					time.Sleep(time.Second)
				}
				continue
			}

			for _, stream := range res {
				for _, entry := range stream.Messages {
					entry := entry
					if err := sema.acquire(ctx); err != nil {
						return
					}
					go func() {
						defer sema.release()
						msg := decodeEntry(entry.Values)
						reply, err := wrapped(ctx, msg)
						if err != nil {
							t.logger.Warn("fabric: handler failed after retries", "stream", key, "error", err)
						}
						t.client.XAck(ctx, key, t.consumerGroup, entry.ID)

						if replyTo, ok := msg.Headers["reply_to"]; ok && replyTo != "" {
							if reply.Name == "" {
								reply.Name = msg.Name
							}
							if reply.ID == "" {
								reply.ID = msg.ID
							}
							_ = t.client.XAdd(ctx, &redis.XAddArgs{
								Stream: replyTo,
								Values: map[string]interface{}{
									"id":      reply.ID,
									"name":    reply.Name,
									"payload": string(reply.Payload),
								},
							}).Err()
						}
					}()
				}
			}
		}
	}()

	return nil
}

func (t *RedisTransport) Close() error { return t.client.Close() }

// redisDLQ writes exhausted messages to a per-name dead-letter stream,
// trimmed and TTL'd exactly as the teacher's workers package documents
// for its own DLQ (dlqRetentionPeriod, dlqMaxLength).
type redisDLQ struct {
	client *redis.Client
}

func (d *redisDLQ) DeadLetter(ctx context.Context, msg Message, cause error) error {
	key := dlqStreamPrefix + msg.Name
	err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: dlqMaxLength,
		Approx: true,
		Values: map[string]interface{}{
			"id":    msg.ID,
			"name":  msg.Name,
			"cause": cause.Error(),
		},
	}).Err()
	if err != nil {
		return err
	}
	return d.client.Expire(ctx, key, dlqRetentionPeriod).Err()
}
