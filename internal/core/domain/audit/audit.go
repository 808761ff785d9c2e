// Package audit models the immutable, monthly-time-partitioned audit
// event log (I-A1: an audit event is never updated or deleted by
// application code once written). The write/read path and anomaly
// detection live in internal/core/services/audit.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the audit-worthy actions the Auth Coordinator and
// RBAC mutation services emit.
type EventType string

const (
	EventLoginSuccess       EventType = "login.success"
	EventLoginFailure       EventType = "login.failure"
	EventTokenRefresh       EventType = "token.refresh"
	EventTokenRevoke        EventType = "token.revoke"
	EventEmergencyRevoke    EventType = "token.emergency_revoke"
	EventPermissionCheck    EventType = "permission.check"
	EventRoleGranted        EventType = "rbac.role_granted"
	EventRoleRevoked        EventType = "rbac.role_revoked"
	EventOrganizationMoved  EventType = "organization.moved"
	EventOrganizationCreate EventType = "organization.created"
)

// Event is one append-only audit record.
type Event struct {
	ID             uuid.UUID         `json:"id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Type           EventType         `json:"type"`
	UserID         uuid.UUID         `json:"user_id"`
	OrganizationID *uuid.UUID        `json:"organization_id,omitempty"`
	IPAddress      string            `json:"ip_address"`
	UserAgent      string            `json:"user_agent"`
	Success        bool              `json:"success"`
	Reason         string            `json:"reason,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// New constructs an event stamped with the current time; occurred_at is
// never caller-suppliable beyond that to keep ordering honest.
func New(eventType EventType, userID uuid.UUID, success bool) *Event {
	return &Event{
		ID:         uuid.New(),
		OccurredAt: time.Now(),
		Type:       eventType,
		UserID:     userID,
		Success:    success,
		Metadata:   map[string]string{},
	}
}

// AnomalyRule identifies which detector flagged a pattern.
type AnomalyRule string

const (
	RuleBruteForce            AnomalyRule = "brute_force"
	RuleUnusualAccessPattern  AnomalyRule = "unusual_access_pattern"
)

// Anomaly is a detector finding over a window of events.
type Anomaly struct {
	Rule      AnomalyRule `json:"rule"`
	UserID    uuid.UUID   `json:"user_id"`
	IPAddress string      `json:"ip_address"`
	Count     int         `json:"count"`
	WindowEnd time.Time   `json:"window_end"`
}

// Repository is the append-only persistence contract for audit events
// (grounded on ClickHouse, whose MergeTree engine is naturally
// append-only and trivially partitioned by month).
type Repository interface {
	Append(ctx context.Context, event *Event) error
	AppendBatch(ctx context.Context, events []*Event) error
	CountFailedAuthEvents(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (int, error)
	CountDistinctOrganizationsForPermissionChecks(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (int, error)
	Query(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*Event, error)
}
