package coordinator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

func encodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decodePayload(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

// ResolveUserRequest/Response back fabric.MsgResolveUser.
type ResolveUserRequest struct {
	ExternalSubject string `json:"external_subject"`
}

type ResolveUserResponse struct {
	Found                 bool       `json:"found"`
	UserID                uuid.UUID  `json:"user_id,omitempty"`
	ExternalSubject       string     `json:"external_subject,omitempty"`
	Email                 string     `json:"email,omitempty"`
	DisplayName           string     `json:"display_name,omitempty"`
	FirstName             string     `json:"first_name,omitempty"`
	LastName              string     `json:"last_name,omitempty"`
	DefaultOrganizationID *uuid.UUID `json:"default_organization_id,omitempty"`
}

// CreateUserRequest/Response back fabric.MsgCreateUser.
type CreateUserRequest struct {
	ExternalSubject string `json:"external_subject"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

type CreateUserResponse struct {
	UserID uuid.UUID `json:"user_id"`
}

// GetUserProfileRequest/Response back fabric.MsgGetUserProfile — looked
// up by internal id rather than external subject, since a refresh token
// only carries the internal id as its subject.
type GetUserProfileRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type GetUserProfileResponse struct {
	UserID          uuid.UUID `json:"user_id"`
	ExternalSubject string    `json:"external_subject"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"display_name"`
	FirstName       string    `json:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
}

// GetUserOrganizationsRequest/Response back fabric.MsgGetUserOrganizations.
type GetUserOrganizationsRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type OrganizationMembership struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
}

type GetUserOrganizationsResponse struct {
	Organizations      []OrganizationMembership `json:"organizations"`
	PrimaryOrganization uuid.UUID               `json:"primary_organization,omitempty"`
}

// GetUserPermissionsRequest/Response back fabric.MsgGetUserPermissions.
type GetUserPermissionsRequest struct {
	UserID           uuid.UUID `json:"user_id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	IncludeInherited bool      `json:"include_inherited"`
}

// RoleSummary is one winning role grant, as returned to the coordinator
// for embedding in a minted token.
type RoleSummary struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	IsInheritable bool      `json:"is_inheritable"`
}

// PermissionGrant is one per-permission provenance row, mirroring the
// Permission Engine's Resolution.Rows() — the `resolve_user_permissions`
// rows tuple (permission, role_id, role_name, is_inheritable, source,
// granted_at, expires_at).
type PermissionGrant struct {
	Permission    string     `json:"permission"`
	RoleID        uuid.UUID  `json:"role_id"`
	RoleName      string     `json:"role_name"`
	IsInheritable bool       `json:"is_inheritable"`
	Source        string     `json:"source"`
	GrantedAt     time.Time  `json:"granted_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type GetUserPermissionsResponse struct {
	Permissions       []string          `json:"permissions"`
	Roles             []RoleSummary     `json:"roles"`
	Rows              []PermissionGrant `json:"rows"`
	IncludesInherited bool              `json:"includes_inherited"`
}

// CheckTokenBlacklistRequest/Response back fabric.MsgCheckTokenBlacklist.
type CheckTokenBlacklistRequest struct {
	JTI    string    `json:"jti"`
	UserID uuid.UUID `json:"user_id"`
}

type CheckTokenBlacklistResponse struct {
	IsBlacklisted bool      `json:"is_blacklisted"`
	Reason        string    `json:"reason,omitempty"`
	BlacklistedAt time.Time `json:"blacklisted_at,omitempty"`
}

// BlacklistTokenRequest/Response back fabric.MsgBlacklistToken.
type BlacklistTokenRequest struct {
	JTI       string    `json:"jti"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	Emergency bool      `json:"emergency"`
}

type BlacklistTokenResponse struct {
	OK                     bool `json:"ok"`
	AdditionalRevokedCount int  `json:"additional_revoked_count"`
}

// LogAuthenticationEventRequest backs the fire-and-forget
// fabric.MsgLogAuthenticationEvent.
type LogAuthenticationEventRequest struct {
	UserID    uuid.UUID         `json:"user_id"`
	EventType string            `json:"event_type"`
	Success   bool              `json:"success"`
	IPAddress string            `json:"ip_address"`
	UserAgent string            `json:"user_agent"`
	Reason    string            `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// ValidatePermissionRequest/Response back fabric.MsgValidatePermission.
type ValidatePermissionRequest struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Permission     string    `json:"permission"`
}

type ValidatePermissionResponse struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}
