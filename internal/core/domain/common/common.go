// Package common holds small cross-domain types shared by every other
// domain package, kept separate so that organization/rbac/token/audit
// packages never need to import one another just to describe "who did
// this."
package common

import "github.com/google/uuid"

// Actor identifies who performed an action, for audit attribution and for
// the brute-force / unusual-access-pattern anomaly detectors that key off
// (user_id, ip_address).
type Actor struct {
	UserID    uuid.UUID
	IPAddress string
	UserAgent string
}
