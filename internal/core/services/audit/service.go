// Package audit implements the Audit Pipeline (component C7): the
// write path for the immutable, monthly-partitioned event log, and the
// two anomaly detectors the specification names in §4.7.
//
// Grounded on the teacher's audit_decorator.go (wrap-the-call,
// always-emit-an-event regardless of outcome) and its ClickHouse
// repository pattern (batched append, time-ranged query) — the detector
// queries are new aggregate reads over the same append-only table rather
// than anything the teacher itself computed.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authz/internal/core/domain/audit"
)

const (
	// DefaultBruteForceThreshold is the minimum count of failed
	// auth/permission events from the same (user_id, ip) within
	// DefaultDetectionWindow that trips RuleBruteForce.
	DefaultBruteForceThreshold = 5
	// DefaultUnusualOrgThreshold is the number of distinct organizations
	// a (user_id, ip) pair may touch with permission checks within
	// DefaultDetectionWindow before RuleUnusualAccessPattern trips.
	DefaultUnusualOrgThreshold = 3
	// DefaultDetectionWindow is the sliding window both detectors use.
	DefaultDetectionWindow = 15 * time.Minute
)

// Service is the Audit Pipeline's write and read path.
type Service struct {
	repo   audit.Repository
	logger *slog.Logger
}

// NewService constructs an audit Service over repo.
func NewService(repo audit.Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record appends evt synchronously, propagating the write error to the
// caller — used when the audit write must be transactional with the
// mutation it describes (same DB connection/transaction scope, per
// §4.7's write path).
func (s *Service) Record(ctx context.Context, evt *audit.Event) error {
	return s.repo.Append(ctx, evt)
}

// RecordAsync appends evt best-effort: the caller does not wait for the
// write and a failure is logged rather than propagated, matching the
// fire-and-forget delivery the specification describes for
// LogAuthenticationEvent and similar events published over the fabric.
func (s *Service) RecordAsync(ctx context.Context, evt *audit.Event) {
	go func() {
		if err := s.repo.Append(context.WithoutCancel(ctx), evt); err != nil {
			s.logger.Error("audit: async append failed", "event_type", evt.Type, "error", err)
		}
	}()
}

// Query returns events for userID within [from, to].
func (s *Service) Query(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*audit.Event, error) {
	return s.repo.Query(ctx, userID, from, to)
}

// DetectBruteForce implements §4.7(a): N or more failed authentication
// events from the same (user_id, ip) within the window.
func (s *Service) DetectBruteForce(ctx context.Context, userID uuid.UUID, ip string) (*audit.Anomaly, error) {
	since := time.Now().Add(-DefaultDetectionWindow)
	count, err := s.repo.CountFailedAuthEvents(ctx, userID, ip, since)
	if err != nil {
		return nil, err
	}
	if count < DefaultBruteForceThreshold {
		return nil, nil
	}
	return &audit.Anomaly{
		Rule:      audit.RuleBruteForce,
		UserID:    userID,
		IPAddress: ip,
		Count:     count,
		WindowEnd: time.Now(),
	}, nil
}

// DetectUnusualAccessPattern implements §4.7(b): permission checks
// spanning more than 3 distinct organizations for the same (user_id, ip)
// within the window.
func (s *Service) DetectUnusualAccessPattern(ctx context.Context, userID uuid.UUID, ip string) (*audit.Anomaly, error) {
	since := time.Now().Add(-DefaultDetectionWindow)
	count, err := s.repo.CountDistinctOrganizationsForPermissionChecks(ctx, userID, ip, since)
	if err != nil {
		return nil, err
	}
	if count <= DefaultUnusualOrgThreshold {
		return nil, nil
	}
	return &audit.Anomaly{
		Rule:      audit.RuleUnusualAccessPattern,
		UserID:    userID,
		IPAddress: ip,
		Count:     count,
		WindowEnd: time.Now(),
	}, nil
}
