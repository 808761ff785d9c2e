package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "authz/internal/core/domain/audit"
	audsvc "authz/internal/core/services/audit"
	tokensvc "authz/internal/core/services/token"
	"authz/internal/fabric"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIdPClient struct {
	profile *IdPProfile
	err     error
	authURL string
}

func (f *fakeIdPClient) Exchange(ctx context.Context, code string) (*IdPProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func (f *fakeIdPClient) AuthCodeURL(state string) string {
	return f.authURL + "?state=" + state
}

type fakeAuditRepo struct {
	events []*auditdomain.Event
}

func (f *fakeAuditRepo) Append(ctx context.Context, event *auditdomain.Event) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeAuditRepo) AppendBatch(ctx context.Context, events []*auditdomain.Event) error {
	f.events = append(f.events, events...)
	return nil
}
func (f *fakeAuditRepo) CountFailedAuthEvents(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (int, error) {
	return 0, nil
}
func (f *fakeAuditRepo) CountDistinctOrganizationsForPermissionChecks(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (int, error) {
	return 0, nil
}
func (f *fakeAuditRepo) Query(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*auditdomain.Event, error) {
	return f.events, nil
}

// testHarness wires an in-memory fabric transport with stub handlers for
// every message the Auth Coordinator's flows depend on, so Login/Refresh/
// Revoke/Introspect can be exercised without a real Postgres-backed
// Handlers.Register wiring.
type testHarness struct {
	transport   *fabric.InMemoryTransport
	tokens      *tokensvc.Manager
	auditRepo   *fakeAuditRepo
	coordinator *Coordinator
	idp         *fakeIdPClient

	userID uuid.UUID
	orgID  uuid.UUID

	blacklisted map[string]string
}

func newTestHarness(t *testing.T) *testHarness {
	cfg := fabric.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	transport := fabric.NewInMemoryTransport(cfg, fabric.NewLoggingDeadLetterSink(testLogger()), testLogger())

	tokens, err := tokensvc.NewManager(tokensvc.Config{
		Secret:          "test-secret-at-least-32-bytes-long!!",
		Issuer:          "authz-test",
		Audience:        "authz-clients",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		MaxPermissions:  500,
	})
	require.NoError(t, err)

	auditRepo := &fakeAuditRepo{}
	audit := audsvc.NewService(auditRepo, testLogger())

	userID := uuid.New()
	orgID := uuid.New()

	h := &testHarness{
		transport: transport,
		tokens:    tokens,
		auditRepo: auditRepo,
		idp: &fakeIdPClient{profile: &IdPProfile{
			ExternalSubject: "ext-1", Email: "user@example.com", DisplayName: "Test User",
			FirstName: "Test", LastName: "User",
		}, authURL: "https://idp.example.com/authorize"},
		userID:      userID,
		orgID:       orgID,
		blacklisted: map[string]string{},
	}

	roleID := uuid.New()

	mustRegister(t, transport, fabric.MsgResolveUser, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		return encodeReply(ResolveUserResponse{
			Found: true, UserID: userID, DefaultOrganizationID: &orgID,
			ExternalSubject: "ext-1", FirstName: "Test", LastName: "User",
		})
	})
	mustRegister(t, transport, fabric.MsgCreateUser, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		return encodeReply(CreateUserResponse{UserID: userID})
	})
	mustRegister(t, transport, fabric.MsgGetUserOrganizations, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		return encodeReply(GetUserOrganizationsResponse{
			Organizations:       []OrganizationMembership{{OrganizationID: orgID, Name: "Acme", Path: "admin.acme"}},
			PrimaryOrganization: orgID,
		})
	})
	mustRegister(t, transport, fabric.MsgGetUserPermissions, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		return encodeReply(GetUserPermissionsResponse{
			Permissions:       []string{"projects:read"},
			Roles:             []RoleSummary{{ID: roleID, Name: "viewer", IsInheritable: true}},
			Rows:              []PermissionGrant{{Permission: "projects:read", RoleID: roleID, RoleName: "viewer", IsInheritable: true, Source: "direct", GrantedAt: time.Now()}},
			IncludesInherited: true,
		})
	})
	mustRegister(t, transport, fabric.MsgGetUserProfile, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		return encodeReply(GetUserProfileResponse{
			UserID: userID, ExternalSubject: "ext-1", Email: "user@example.com",
			DisplayName: "Test User", FirstName: "Test", LastName: "User",
		})
	})
	mustRegister(t, transport, fabric.MsgCheckTokenBlacklist, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		var req CheckTokenBlacklistRequest
		_ = decodePayload(msg.Payload, &req)
		if reason, ok := h.blacklisted[req.JTI]; ok {
			return encodeReply(CheckTokenBlacklistResponse{IsBlacklisted: true, Reason: reason})
		}
		return encodeReply(CheckTokenBlacklistResponse{IsBlacklisted: false})
	})
	mustRegister(t, transport, fabric.MsgBlacklistToken, func(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
		var req BlacklistTokenRequest
		_ = decodePayload(msg.Payload, &req)
		h.blacklisted[req.JTI] = req.Reason
		return encodeReply(BlacklistTokenResponse{OK: true})
	})

	h.coordinator = New(transport, h.idp, tokens, audit)
	return h
}

func mustRegister(t *testing.T, transport *fabric.InMemoryTransport, name string, handler fabric.Handler) {
	t.Helper()
	require.NoError(t, transport.Consume(context.Background(), name, handler))
}

func encodeReply(v interface{}) (fabric.Message, error) {
	payload, err := encodePayload(v)
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Payload: payload}, nil
}

func TestLogin_Success(t *testing.T) {
	h := newTestHarness(t)
	result, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, h.userID, result.UserID)
	assert.Equal(t, h.orgID, result.OrganizationID)
	assert.Contains(t, result.Permissions, "projects:read")
	assert.Contains(t, result.Roles, "viewer")
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.False(t, result.FirstLogin)

	claims, err := h.tokens.Validate(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.User.Email)
	assert.Equal(t, "Test", claims.User.FirstName)
	assert.Equal(t, "ext-1", claims.User.ExternalID)
	require.Len(t, claims.Roles, 1)
	assert.Equal(t, "viewer", claims.Roles[0].Name)
	assert.Equal(t, "login", claims.Metadata.Source)
	assert.Equal(t, 1, claims.Metadata.PermissionCount)
}

func TestLogin_IdPExchangeFailure(t *testing.T) {
	h := newTestHarness(t)
	h.idp.err = assert.AnError
	_, err := h.coordinator.Login(context.Background(), "bad-code", ClientContext{})
	assert.Error(t, err)
}

func TestIntrospect_ValidTokenSucceeds(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	claims, err := h.coordinator.Introspect(context.Background(), login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, h.userID, claims.Subject)
}

func TestIntrospect_BlacklistedTokenFails(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	require.NoError(t, h.coordinator.Revoke(context.Background(), login.AccessToken, "manual_revocation", ClientContext{}))

	_, err = h.coordinator.Introspect(context.Background(), login.AccessToken)
	assert.Error(t, err)
}

func TestAuthorize_GrantsWithMatchingPermission(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	claims, err := h.coordinator.Authorize(context.Background(), login.AccessToken, "projects:read")
	require.NoError(t, err)
	assert.Equal(t, h.userID, claims.Subject)
}

func TestAuthorize_DeniesMissingPermission(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	_, err = h.coordinator.Authorize(context.Background(), login.AccessToken, "billing:delete")
	assert.Error(t, err)
}

func TestRefresh_MintsNewTokenAndBlacklistsOld(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	refreshed, err := h.coordinator.Refresh(context.Background(), login.RefreshToken, ClientContext{})
	require.NoError(t, err)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)

	newClaims, err := h.tokens.Validate(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", newClaims.User.Email)
	assert.Equal(t, "refresh", newClaims.Metadata.Source)

	oldClaims, err := h.tokens.Validate(login.RefreshToken)
	require.NoError(t, err)
	_, reason := h.coordinator.isBlacklisted(context.Background(), oldClaims.JTI, oldClaims.Subject)
	assert.Equal(t, "token_refresh", reason)
}

func TestRefresh_RejectsAccessTokenAsRefreshToken(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	_, err = h.coordinator.Refresh(context.Background(), login.AccessToken, ClientContext{})
	assert.Error(t, err)
}

func TestRevoke_BlacklistsToken(t *testing.T) {
	h := newTestHarness(t)
	login, err := h.coordinator.Login(context.Background(), "auth-code", ClientContext{})
	require.NoError(t, err)

	err = h.coordinator.Revoke(context.Background(), login.AccessToken, "user_logout", ClientContext{})
	require.NoError(t, err)

	_, err = h.coordinator.Introspect(context.Background(), login.AccessToken)
	assert.Error(t, err)
}

func TestBuildAuthorizationURL_DelegatesToIdPClient(t *testing.T) {
	h := newTestHarness(t)
	url, err := h.coordinator.BuildAuthorizationURL("state-abc")
	require.NoError(t, err)
	assert.Contains(t, url, "state=state-abc")
}

func TestBuildAuthorizationURL_ErrorsWithoutCapableClient(t *testing.T) {
	cfg := fabric.DefaultConfig()
	transport := fabric.NewInMemoryTransport(cfg, fabric.NewLoggingDeadLetterSink(testLogger()), testLogger())
	tokens, err := tokensvc.NewManager(tokensvc.Config{
		Secret: "test-secret-at-least-32-bytes-long!!", Issuer: "authz-test",
		AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	audit := audsvc.NewService(&fakeAuditRepo{}, testLogger())

	plainIdP := &fakeIdPClientNoAuthURL{}
	c := New(transport, plainIdP, tokens, audit)

	_, err = c.BuildAuthorizationURL("state")
	assert.Error(t, err)
}

type fakeIdPClientNoAuthURL struct{}

func (f *fakeIdPClientNoAuthURL) Exchange(ctx context.Context, code string) (*IdPProfile, error) {
	return &IdPProfile{ExternalSubject: "x"}, nil
}
