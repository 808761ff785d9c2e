// Package user models the minimal local identity record this server
// keeps. Credential verification and the OIDC authorization-code exchange
// are an explicit Non-goal of the governing specification and are
// delegated to the external identity provider described by the outbound
// IdP adapter contract; this server only needs a stable local user row to
// attach organization memberships and role grants to.
package user

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a local identity record, provisioned the first time an IdP
// subject is seen (see the Auth Coordinator's success-path step 1).
type User struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalSubject       string     `gorm:"size:255;not null;uniqueIndex" json:"external_subject"`
	Email                 string     `gorm:"size:255;not null;uniqueIndex" json:"email"`
	DisplayName           string     `gorm:"size:255" json:"display_name"`
	FirstName             string     `gorm:"size:255" json:"first_name,omitempty"`
	LastName              string     `gorm:"size:255" json:"last_name,omitempty"`
	IsActive              bool       `gorm:"not null;default:true" json:"is_active"`
	DefaultOrganizationID *uuid.UUID `gorm:"type:uuid" json:"default_organization_id,omitempty"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// NewFromExternalSubject provisions a user the first time an IdP subject
// authenticates successfully. displayName falls back to "firstName
// lastName" when the IdP didn't supply a combined name claim.
func NewFromExternalSubject(externalSubject, email, firstName, lastName, displayName string) *User {
	now := time.Now()
	if displayName == "" {
		displayName = strings.TrimSpace(firstName + " " + lastName)
	}
	return &User{
		ID:              uuid.New(),
		ExternalSubject: externalSubject,
		Email:           email,
		DisplayName:     displayName,
		FirstName:       firstName,
		LastName:        lastName,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Repository is the persistence contract for local user records.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByExternalSubject(ctx context.Context, subject string) (*User, error)
	Update(ctx context.Context, u *User) error
}
