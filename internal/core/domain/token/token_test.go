package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermission_ExactMatch(t *testing.T) {
	c := &Claims{Permissions: []string{"projects:read"}}
	assert.True(t, c.HasPermission("projects:read"))
	assert.False(t, c.HasPermission("projects:write"))
}

func TestHasPermission_GlobalWildcard(t *testing.T) {
	c := &Claims{Permissions: []string{"*:*"}}
	assert.True(t, c.HasPermission("anything:goes"))
}

func TestHasPermission_ResourceWildcard(t *testing.T) {
	c := &Claims{Permissions: []string{"projects:*"}}
	assert.True(t, c.HasPermission("projects:delete"))
	assert.False(t, c.HasPermission("billing:delete"))
}

func TestHasPermission_ActionWildcard(t *testing.T) {
	c := &Claims{Permissions: []string{"*:read"}}
	assert.True(t, c.HasPermission("projects:read"))
	assert.False(t, c.HasPermission("projects:write"))
}

func TestHasPermission_MalformedRequestNeverMatches(t *testing.T) {
	c := &Claims{Permissions: []string{"projects:*"}}
	assert.False(t, c.HasPermission("projects"))
}

func TestNewIndividualBlacklistEntry_UsesJTIAsID(t *testing.T) {
	userID := uuid.New()
	expiresAt := time.Now().Add(time.Hour)
	entry := NewIndividualBlacklistEntry("jti-123", userID, "user_logout", expiresAt)
	assert.Equal(t, "jti-123", entry.ID)
	assert.Equal(t, EntryIndividual, entry.Type)
	assert.Equal(t, userID, entry.UserID)
	assert.Equal(t, expiresAt, entry.ExpiresAt)
}

func TestNewEmergencyBlacklistEntry_UsesPrefixedUserID(t *testing.T) {
	userID := uuid.New()
	entry := NewEmergencyBlacklistEntry(userID, "compromised_account", time.Hour)
	assert.Equal(t, "EMERGENCY_"+userID.String(), entry.ID)
	assert.Equal(t, EntryUserTimestamp, entry.Type)
	assert.True(t, entry.ExpiresAt.After(time.Now()))
}

func TestClaims_CarriesSelfDescribingProfileAndProvenance(t *testing.T) {
	userID := uuid.New()
	roleID := uuid.New()
	generatedAt := time.Now()

	c := &Claims{
		Subject: userID,
		User: UserContext{
			InternalID: userID,
			Email:      "ada@example.com",
			Name:       "Ada Lovelace",
			FirstName:  "Ada",
			LastName:   "Lovelace",
			ExternalID: "idp|ada",
		},
		Roles: []RoleClaim{
			{ID: roleID, Name: "admin", IsInheritable: true},
		},
		Permissions:       []string{"projects:*"},
		IncludesInherited: true,
		Metadata: Metadata{
			GeneratedAt:     generatedAt,
			Source:          "login",
			PermissionCount: 1,
			InheritedCount:  0,
		},
	}

	assert.Equal(t, "ada@example.com", c.User.Email)
	assert.Equal(t, "idp|ada", c.User.ExternalID)
	require.Len(t, c.Roles, 1)
	assert.Equal(t, roleID, c.Roles[0].ID)
	assert.True(t, c.Roles[0].IsInheritable)
	assert.Equal(t, "login", c.Metadata.Source)
	assert.Equal(t, 1, c.Metadata.PermissionCount)
	assert.True(t, c.HasPermission("projects:delete"))
}
