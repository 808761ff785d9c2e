// Package audit implements the append-only audit event log on
// ClickHouse, grounded on the teacher's observability score/span
// repositories (same driver.Conn query/scan shape, same PrepareBatch
// insert pattern for AppendBatch).
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	domain "authz/internal/core/domain/audit"
)

type eventRepository struct {
	db clickhouse.Conn
}

// NewRepository constructs a ClickHouse-backed domain.Repository. The
// underlying table is append-only and partitioned by month:
//
//	CREATE TABLE audit_events (
//	    id UUID, occurred_at DateTime64(3), type String,
//	    user_id UUID, organization_id Nullable(UUID),
//	    ip_address String, user_agent String, success UInt8,
//	    reason String, request_id String, metadata String
//	) ENGINE = MergeTree
//	PARTITION BY toYYYYMM(occurred_at)
//	ORDER BY (user_id, occurred_at)
func NewRepository(db clickhouse.Conn) domain.Repository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *domain.Event) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}
	return r.db.Exec(ctx, `
		INSERT INTO audit_events (
			id, occurred_at, type, user_id, organization_id,
			ip_address, user_agent, success, reason, request_id, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.OccurredAt, string(event.Type), event.UserID, event.OrganizationID,
		event.IPAddress, event.UserAgent, boolToUint8(event.Success), event.Reason, event.RequestID, metadata,
	)
}

func (r *eventRepository) AppendBatch(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := r.db.PrepareBatch(ctx, `
		INSERT INTO audit_events (
			id, occurred_at, type, user_id, organization_id,
			ip_address, user_agent, success, reason, request_id, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, event := range events {
		metadata, err := marshalMetadata(event.Metadata)
		if err != nil {
			return err
		}
		if err := batch.Append(
			event.ID, event.OccurredAt, string(event.Type), event.UserID, event.OrganizationID,
			event.IPAddress, event.UserAgent, boolToUint8(event.Success), event.Reason, event.RequestID, metadata,
		); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	return batch.Send()
}

// CountFailedAuthEvents backs the brute-force detector: failed logins
// from userID or ip within the window.
func (r *eventRepository) CountFailedAuthEvents(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count()
		FROM audit_events
		WHERE type = ?
		  AND success = 0
		  AND (user_id = ? OR ip_address = ?)
		  AND occurred_at >= ?
	`, string(domain.EventLoginFailure), userID, ip, since).Scan(&count)
	return count, err
}

// CountDistinctOrganizationsForPermissionChecks backs the
// unusual-access-pattern detector: how many distinct organizations
// userID touched from ip within the window.
func (r *eventRepository) CountDistinctOrganizationsForPermissionChecks(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(DISTINCT organization_id)
		FROM audit_events
		WHERE type = ?
		  AND user_id = ?
		  AND ip_address = ?
		  AND occurred_at >= ?
		  AND organization_id IS NOT NULL
	`, string(domain.EventPermissionCheck), userID, ip, since).Scan(&count)
	return count, err
}

func (r *eventRepository) Query(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, occurred_at, type, user_id, organization_id,
		       ip_address, user_agent, success, reason, request_id, metadata
		FROM audit_events
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at DESC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(rows driver.Rows) (*domain.Event, error) {
	var (
		event        domain.Event
		eventType    string
		success      uint8
		metadataJSON string
	)
	if err := rows.Scan(
		&event.ID, &event.OccurredAt, &eventType, &event.UserID, &event.OrganizationID,
		&event.IPAddress, &event.UserAgent, &success, &event.Reason, &event.RequestID, &metadataJSON,
	); err != nil {
		return nil, fmt.Errorf("scan audit event: %w", err)
	}
	event.Type = domain.EventType(eventType)
	event.Success = success != 0
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit event metadata: %w", err)
		}
	}
	return &event, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal audit event metadata: %w", err)
	}
	return string(b), nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
