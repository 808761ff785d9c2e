// Package coordinator implements the Auth Coordinator (component C5):
// the only component that holds the full authentication/authorization
// story end to end. It sequences Fabric calls to the User Store,
// Organization Resolver, Permission Engine, and Token Manager, and is
// the sole place that checks the token blacklist, kept out of the
// Token Manager's own scope.
//
// The orchestration shape follows an exchange -> resolve/create user ->
// pick org -> mint sequence, wrapped so every outcome, success or
// failure, always emits an audit event.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	auditdomain "authz/internal/core/domain/audit"
	tokendomain "authz/internal/core/domain/token"
	audsvc "authz/internal/core/services/audit"
	tokensvc "authz/internal/core/services/token"
	"authz/internal/fabric"
	appErrors "authz/pkg/errors"
)

// Coordinator orchestrates the end-to-end login/refresh/authorize flow.
type Coordinator struct {
	transport fabric.Transport
	idp       IdPClient
	tokens    *tokensvc.Manager
	audit     *audsvc.Service
}

// New constructs an Auth Coordinator.
func New(transport fabric.Transport, idp IdPClient, tokens *tokensvc.Manager, audit *audsvc.Service) *Coordinator {
	return &Coordinator{transport: transport, idp: idp, tokens: tokens, audit: audit}
}

// ClientContext is the optional request-scoped context the caller
// supplies alongside an authorization code or token operation.
type ClientContext struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// LoginResult is returned on a successful login or refresh.
type LoginResult struct {
	AccessToken    string
	RefreshToken   string
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Permissions    []string
	Roles          []string
	FirstLogin     bool
}

// Login implements the success-path flow: IdP exchange, user
// resolve-or-create, organization pick, permission resolve, token mint,
// and a fire-and-forget audit publish. The numbered comments below mark
// each stage so the flow can be checked against it step by step.
func (c *Coordinator) Login(ctx context.Context, code string, cc ClientContext) (*LoginResult, error) {
	// Steps 1-2: exchange code for an IdP profile.
	profile, err := c.idp.Exchange(ctx, code)
	if err != nil {
		c.auditLoginFailure(ctx, uuid.Nil, cc, "idp_exchange_failed")
		return nil, appErrors.NewErrorWithCode(appErrors.CodeIdPExchangeFail, err.Error())
	}

	// Step 3: resolve or create the local user record.
	who, err := c.resolveOrCreateUser(ctx, profile)
	if err != nil {
		c.auditLoginFailure(ctx, uuid.Nil, cc, "user_provisioning_failed")
		return nil, err
	}
	firstLogin := who.DefaultOrganizationID == nil

	// Step 4: pick the organization — the primary membership, or the
	// first listed if none is primary.
	orgsResp, err := c.getUserOrganizations(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	if len(orgsResp.Organizations) == 0 {
		c.auditLoginFailure(ctx, who.UserID, cc, "no_organization_membership")
		return nil, appErrors.NewErrorWithCode(appErrors.CodeNoOrganizationMembership, "user has no organization membership")
	}
	chosen := orgsResp.Organizations[0]
	for _, o := range orgsResp.Organizations {
		if o.OrganizationID == orgsResp.PrimaryOrganization {
			chosen = o
			break
		}
	}

	// Step 5: resolve permissions (with inheritance).
	permsResp, err := c.getUserPermissions(ctx, who.UserID, chosen.OrganizationID)
	if err != nil {
		return nil, err
	}

	// Step 6: mint the scoped access token plus a companion refresh token.
	minted, err := c.tokens.Mint(tokensvc.MintInput{
		User: who.userContext(),
		Organization: tokendomain.OrganizationContext{
			ID:   chosen.OrganizationID,
			Name: chosen.Name,
			Path: chosen.Path,
		},
		Roles:             toRoleClaims(permsResp.Roles),
		Permissions:       permsResp.Permissions,
		IncludesInherited: permsResp.IncludesInherited,
		InheritedCount:    inheritedPermissionCount(permsResp.Rows),
		Scope:             fmt.Sprintf("org:%s", chosen.OrganizationID),
		Source:            "login",
		IP:                cc.IPAddress,
		UserAgent:         cc.UserAgent,
		SessionID:         cc.SessionID,
	})
	if err != nil {
		return nil, err
	}
	refresh, err := c.tokens.MintRefresh(who.UserID)
	if err != nil {
		return nil, err
	}

	// Step 7: fire-and-forget audit publish.
	evt := auditdomain.New(auditdomain.EventLoginSuccess, who.UserID, true)
	evt.OrganizationID = &chosen.OrganizationID
	evt.IPAddress = cc.IPAddress
	evt.UserAgent = cc.UserAgent
	evt.Metadata["jti"] = minted.Claims.JTI
	evt.Metadata["permission_count"] = fmt.Sprintf("%d", len(permsResp.Permissions))
	c.audit.RecordAsync(ctx, evt)

	// Step 8: return token + principal info.
	return &LoginResult{
		AccessToken:    minted.Token,
		RefreshToken:   refresh.Token,
		UserID:         who.UserID,
		OrganizationID: chosen.OrganizationID,
		Permissions:    permsResp.Permissions,
		Roles:          roleNames(permsResp.Roles),
		FirstLogin:     firstLogin,
	}, nil
}

// Refresh mirrors Login's steps 3-7 (skipping IdP exchange and user
// creation): validate the current token, re-resolve permissions, mint a
// new access token, then blacklist the old jti with reason
// "token_refresh". The old-token blacklist and new-token mint are not
// atomic across the DB and the signed token in flight; the window in
// which both are momentarily valid is bounded by the clock-skew leeway
// the Token Manager already applies.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string, cc ClientContext) (*LoginResult, error) {
	claims, err := c.tokens.Validate(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != tokendomain.KindRefresh {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, "not a refresh token")
	}
	if blacklisted, reason := c.isBlacklisted(ctx, claims.JTI, claims.Subject); blacklisted {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenRevoked, reason)
	}

	orgsResp, err := c.getUserOrganizations(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if len(orgsResp.Organizations) == 0 {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeNoOrganizationMembership, "user has no organization membership")
	}
	chosen := orgsResp.Organizations[0]
	for _, o := range orgsResp.Organizations {
		if o.OrganizationID == orgsResp.PrimaryOrganization {
			chosen = o
			break
		}
	}

	permsResp, err := c.getUserPermissions(ctx, claims.Subject, chosen.OrganizationID)
	if err != nil {
		return nil, err
	}

	// The refresh token itself carries no user profile (MintRefresh omits
	// it), but the blacklist/organization/permission round trips above all
	// keyed off claims.Subject still leave us without one here. Re-resolve
	// it the same way Login does rather than guess from the refresh token.
	who, err := c.getUserProfile(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	minted, err := c.tokens.Mint(tokensvc.MintInput{
		User: who.userContext(),
		Organization: tokendomain.OrganizationContext{
			ID:   chosen.OrganizationID,
			Name: chosen.Name,
			Path: chosen.Path,
		},
		Roles:             toRoleClaims(permsResp.Roles),
		Permissions:       permsResp.Permissions,
		IncludesInherited: permsResp.IncludesInherited,
		InheritedCount:    inheritedPermissionCount(permsResp.Rows),
		Scope:             fmt.Sprintf("org:%s", chosen.OrganizationID),
		Source:            "refresh",
		IP:                cc.IPAddress,
		UserAgent:         cc.UserAgent,
		SessionID:         cc.SessionID,
	})
	if err != nil {
		return nil, err
	}
	newRefresh, err := c.tokens.MintRefresh(claims.Subject)
	if err != nil {
		return nil, err
	}

	c.blacklist(ctx, claims.JTI, claims.Subject, "token_refresh", claims.ExpiresAt, false)

	evt := auditdomain.New(auditdomain.EventTokenRefresh, claims.Subject, true)
	evt.OrganizationID = &chosen.OrganizationID
	evt.IPAddress = cc.IPAddress
	evt.UserAgent = cc.UserAgent
	c.audit.RecordAsync(ctx, evt)

	return &LoginResult{
		AccessToken:    minted.Token,
		RefreshToken:   newRefresh.Token,
		UserID:         claims.Subject,
		OrganizationID: chosen.OrganizationID,
		Permissions:    permsResp.Permissions,
		Roles:          roleNames(permsResp.Roles),
	}, nil
}

// Revoke blacklists a single token's jti, extracted without full
// validation (a token a caller wants revoked may already be expired or
// otherwise "invalid" in ways that shouldn't block revocation).
func (c *Coordinator) Revoke(ctx context.Context, tokenString, reason string, cc ClientContext) error {
	jti, err := c.tokens.ExtractJTI(tokenString)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	subject := uuid.Nil
	if claims, verr := c.tokens.Validate(tokenString); verr == nil {
		expiresAt = claims.ExpiresAt
		subject = claims.Subject
	} else {
		expiresAt = time.Now()
	}

	c.blacklist(ctx, jti, subject, reason, expiresAt, false)

	evt := auditdomain.New(auditdomain.EventTokenRevoke, subject, true)
	evt.IPAddress = cc.IPAddress
	evt.Reason = reason
	c.audit.RecordAsync(ctx, evt)
	return nil
}

// EmergencyRevokeUser blacklists every token issued to userID up to now
// — the blanket per-user revocation form described on the token domain
// package's NewEmergencyBlacklistEntry doc comment. ttl bounds how long the
// blanket entry itself is retained (it must outlive the longest-lived
// access token still in circulation).
func (c *Coordinator) EmergencyRevokeUser(ctx context.Context, userID uuid.UUID, reason string, ttl time.Duration, cc ClientContext) error {
	c.blacklistRequest(ctx, BlacklistTokenRequest{
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: time.Now().Add(ttl),
		Emergency: true,
	})

	evt := auditdomain.New(auditdomain.EventEmergencyRevoke, userID, true)
	evt.IPAddress = cc.IPAddress
	evt.Reason = reason
	c.audit.RecordAsync(ctx, evt)
	return nil
}

// Introspect validates a token's signature and expiry and checks it
// against the blacklist, without checking any particular permission —
// the shared core behind both the ValidateToken and GetUserContext
// boundary operations.
func (c *Coordinator) Introspect(ctx context.Context, tokenString string) (*tokendomain.Claims, error) {
	claims, err := c.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if blacklisted, reason := c.isBlacklisted(ctx, claims.JTI, claims.Subject); blacklisted {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenRevoked, reason)
	}
	return claims, nil
}

// Authorize implements authorization of an inbound call: validate the
// token, check the blacklist, then check the resolved permission
// payload against the required resource:action.
func (c *Coordinator) Authorize(ctx context.Context, tokenString, resourceAction string) (*tokendomain.Claims, error) {
	claims, err := c.Introspect(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.HasPermission(resourceAction) {
		return nil, appErrors.NewMissingPermissionError(resourceAction)
	}
	return claims, nil
}

// BuildAuthorizationURL implements the authorize_url boundary
// operation. It returns an error if the wired IdPClient doesn't also
// implement AuthorizationURLBuilder.
func (c *Coordinator) BuildAuthorizationURL(state string) (string, error) {
	builder, ok := c.idp.(AuthorizationURLBuilder)
	if !ok {
		return "", fmt.Errorf("configured idp client does not support building authorization urls")
	}
	return builder.AuthCodeURL(state), nil
}

// principal is the resolved profile the coordinator threads into a
// minted token's user object, whether the user record already existed
// or was just provisioned.
type principal struct {
	UserID                uuid.UUID
	ExternalID            string
	Email                 string
	Name                  string
	FirstName             string
	LastName              string
	DefaultOrganizationID *uuid.UUID
}

func (p *principal) userContext() tokendomain.UserContext {
	return tokendomain.UserContext{
		InternalID: p.UserID,
		Email:      p.Email,
		Name:       p.Name,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		ExternalID: p.ExternalID,
	}
}

func (c *Coordinator) resolveOrCreateUser(ctx context.Context, profile *IdPProfile) (*principal, error) {
	reqPayload, err := encodePayload(ResolveUserRequest{ExternalSubject: profile.ExternalSubject})
	if err != nil {
		return nil, err
	}
	reply, err := c.transport.Request(ctx, fabric.Message{Name: fabric.MsgResolveUser, ID: uuid.NewString(), Payload: reqPayload})
	if err != nil {
		return nil, appErrors.NewFabricError("resolve_user", err)
	}
	var resolved ResolveUserResponse
	if err := decodePayload(reply.Payload, &resolved); err != nil {
		return nil, err
	}
	if resolved.Found {
		return &principal{
			UserID:                resolved.UserID,
			ExternalID:            resolved.ExternalSubject,
			Email:                 resolved.Email,
			Name:                  resolved.DisplayName,
			FirstName:             resolved.FirstName,
			LastName:              resolved.LastName,
			DefaultOrganizationID: resolved.DefaultOrganizationID,
		}, nil
	}

	createPayload, err := encodePayload(CreateUserRequest{
		ExternalSubject: profile.ExternalSubject,
		Email:           profile.Email,
		DisplayName:     profile.DisplayName,
		FirstName:       profile.FirstName,
		LastName:        profile.LastName,
	})
	if err != nil {
		return nil, err
	}
	createReply, err := c.transport.Request(ctx, fabric.Message{Name: fabric.MsgCreateUser, ID: uuid.NewString(), Payload: createPayload})
	if err != nil {
		return nil, appErrors.NewFabricError("create_user", err)
	}
	var created CreateUserResponse
	if err := decodePayload(createReply.Payload, &created); err != nil {
		return nil, err
	}
	return &principal{
		UserID:     created.UserID,
		ExternalID: profile.ExternalSubject,
		Email:      profile.Email,
		Name:       profile.DisplayName,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
	}, nil
}

func (c *Coordinator) getUserProfile(ctx context.Context, userID uuid.UUID) (*principal, error) {
	payload, err := encodePayload(GetUserProfileRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	reply, err := c.transport.Request(ctx, fabric.Message{Name: fabric.MsgGetUserProfile, ID: uuid.NewString(), Payload: payload})
	if err != nil {
		return nil, appErrors.NewFabricError("get_user_profile", err)
	}
	var resp GetUserProfileResponse
	if err := decodePayload(reply.Payload, &resp); err != nil {
		return nil, err
	}
	return &principal{
		UserID:     resp.UserID,
		ExternalID: resp.ExternalSubject,
		Email:      resp.Email,
		Name:       resp.DisplayName,
		FirstName:  resp.FirstName,
		LastName:   resp.LastName,
	}, nil
}

// toRoleClaims maps the fabric's wire role summaries onto the domain
// shape embedded in a minted token.
func toRoleClaims(roles []RoleSummary) []tokendomain.RoleClaim {
	out := make([]tokendomain.RoleClaim, 0, len(roles))
	for _, r := range roles {
		out = append(out, tokendomain.RoleClaim{ID: r.ID, Name: r.Name, IsInheritable: r.IsInheritable})
	}
	return out
}

func roleNames(roles []RoleSummary) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

// inheritedPermissionCount counts permissions whose only provenance rows
// are inherited grants — a permission also reachable through a direct
// grant doesn't count, since the user would keep it even if every
// inherited role were stripped.
func inheritedPermissionCount(rows []PermissionGrant) int {
	direct := map[string]bool{}
	inherited := map[string]bool{}
	for _, r := range rows {
		if r.Source == "direct" {
			direct[r.Permission] = true
		} else {
			inherited[r.Permission] = true
		}
	}
	count := 0
	for p := range inherited {
		if !direct[p] {
			count++
		}
	}
	return count
}

func (c *Coordinator) getUserOrganizations(ctx context.Context, userID uuid.UUID) (*GetUserOrganizationsResponse, error) {
	payload, err := encodePayload(GetUserOrganizationsRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	reply, err := c.transport.Request(ctx, fabric.Message{Name: fabric.MsgGetUserOrganizations, ID: uuid.NewString(), Payload: payload})
	if err != nil {
		return nil, appErrors.NewFabricError("get_user_organizations", err)
	}
	var resp GetUserOrganizationsResponse
	if err := decodePayload(reply.Payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Coordinator) getUserPermissions(ctx context.Context, userID, orgID uuid.UUID) (*GetUserPermissionsResponse, error) {
	payload, err := encodePayload(GetUserPermissionsRequest{UserID: userID, OrganizationID: orgID, IncludeInherited: true})
	if err != nil {
		return nil, err
	}
	reply, err := c.transport.Request(ctx, fabric.Message{Name: fabric.MsgGetUserPermissions, ID: uuid.NewString(), Payload: payload})
	if err != nil {
		return nil, appErrors.NewFabricError("get_user_permissions", err)
	}
	var resp GetUserPermissionsResponse
	if err := decodePayload(reply.Payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Coordinator) isBlacklisted(ctx context.Context, jti string, userID uuid.UUID) (bool, string) {
	payload, err := encodePayload(CheckTokenBlacklistRequest{JTI: jti, UserID: userID})
	if err != nil {
		return false, ""
	}
	reply, err := c.transport.Request(ctx, fabric.Message{Name: fabric.MsgCheckTokenBlacklist, ID: uuid.NewString(), Payload: payload})
	if err != nil {
		return false, ""
	}
	var resp CheckTokenBlacklistResponse
	if err := decodePayload(reply.Payload, &resp); err != nil {
		return false, ""
	}
	return resp.IsBlacklisted, resp.Reason
}

func (c *Coordinator) blacklist(ctx context.Context, jti string, userID uuid.UUID, reason string, expiresAt time.Time, emergency bool) {
	c.blacklistRequest(ctx, BlacklistTokenRequest{
		JTI:       jti,
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: expiresAt,
		Emergency: emergency,
	})
}

func (c *Coordinator) blacklistRequest(ctx context.Context, req BlacklistTokenRequest) {
	payload, err := encodePayload(req)
	if err != nil {
		return
	}
	_, _ = c.transport.Request(ctx, fabric.Message{Name: fabric.MsgBlacklistToken, ID: uuid.NewString(), Payload: payload})
}

func (c *Coordinator) auditLoginFailure(ctx context.Context, userID uuid.UUID, cc ClientContext, reason string) {
	evt := auditdomain.New(auditdomain.EventLoginFailure, userID, false)
	evt.IPAddress = cc.IPAddress
	evt.UserAgent = cc.UserAgent
	evt.Reason = reason
	c.audit.RecordAsync(ctx, evt)
}
