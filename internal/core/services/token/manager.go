// Package token implements the Token Manager (component C4): minting and
// validating self-describing, signed scoped access/refresh tokens, and
// the blacklist-backed revocation operations.
//
// Blacklist checking is deliberately kept out of this layer's token
// validation and performed by the Auth Coordinator instead, which is the
// only component that also knows how to reach the blacklist store.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	appErrors "authz/pkg/errors"

	domain "authz/internal/core/domain/token"
)

// Config controls signing and token shape.
type Config struct {
	Secret            string
	Issuer            string
	Audience          string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	MaxPermissions    int
}

// Manager mints and validates tokens.
type Manager struct {
	cfg Config
}

// NewManager constructs a Token Manager. The secret must be at least 32
// bytes, matching the teacher's AuthConfig.Validate() HS256 rule.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, appErrors.NewValidationError("token secret too short", "must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		return nil, appErrors.NewValidationError("token issuer is required", "")
	}
	if cfg.MaxPermissions <= 0 {
		cfg.MaxPermissions = 500
	}
	return &Manager{cfg: cfg}, nil
}

// MintInput is everything the engine needs to mint a scoped access token
// for one (user, organization) resolution. User carries the resolved
// principal profile so the token is self-describing without a further
// lookup; Source/IP/UserAgent/SessionID feed the token's metadata block
// and are typically sourced from the coordinator's ClientContext.
type MintInput struct {
	User              domain.UserContext
	Organization      domain.OrganizationContext
	Roles             []domain.RoleClaim
	Permissions       []string
	IncludesInherited bool
	InheritedCount    int
	Scope             string
	Source            string
	IP                string
	UserAgent         string
	SessionID         string
}

// Minted is a signed token plus the claims minted into it, so callers can
// log/audit the jti without re-parsing the token they just made.
type Minted struct {
	Token  string
	Claims *domain.Claims
}

func newJTI() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Mint issues a new signed access token. If the resolved permission set
// exceeds MaxPermissions, only the first MaxPermissions entries (sorted,
// so the truncation is deterministic) are embedded and IncludesInherited
// is left as given — callers needing the full set must re-resolve via
// the Permission Engine rather than trust an oversized token payload.
func (m *Manager) Mint(input MintInput) (*Minted, error) {
	perms := input.Permissions
	if len(perms) > m.cfg.MaxPermissions {
		perms = append([]string(nil), perms[:m.cfg.MaxPermissions]...)
	}

	now := time.Now()
	claims := &domain.Claims{
		Subject:           input.User.InternalID,
		JTI:               newJTI(),
		Kind:              domain.KindAccess,
		User:              input.User,
		Organization:      input.Organization,
		Roles:             input.Roles,
		Permissions:       perms,
		IncludesInherited: input.IncludesInherited,
		Scope:             input.Scope,
		IssuedAt:          now,
		NotBefore:         now,
		ExpiresAt:         now.Add(m.cfg.AccessTokenTTL),
		Issuer:            m.cfg.Issuer,
		Audience:          m.cfg.Audience,
		Metadata: domain.Metadata{
			GeneratedAt:     now,
			Source:          input.Source,
			IP:              input.IP,
			UserAgent:       input.UserAgent,
			SessionID:       input.SessionID,
			PermissionCount: len(perms),
			InheritedCount:  input.InheritedCount,
		},
	}

	signed, err := m.sign(claims)
	if err != nil {
		return nil, err
	}
	return &Minted{Token: signed, Claims: claims}, nil
}

// MintRefresh issues a refresh token carrying only subject/jti/expiry —
// no permission payload, since a refresh is exchanged for a freshly
// resolved access token rather than trusted on its own.
func (m *Manager) MintRefresh(userID uuid.UUID) (*Minted, error) {
	now := time.Now()
	claims := &domain.Claims{
		Subject:   userID,
		JTI:       newJTI(),
		Kind:      domain.KindRefresh,
		IssuedAt:  now,
		NotBefore: now,
		ExpiresAt: now.Add(m.cfg.RefreshTokenTTL),
		Issuer:    m.cfg.Issuer,
		Audience:  m.cfg.Audience,
	}
	signed, err := m.sign(claims)
	if err != nil {
		return nil, err
	}
	return &Minted{Token: signed, Claims: claims}, nil
}

func (m *Manager) sign(claims *domain.Claims) (string, error) {
	mc := jwt.MapClaims{
		"sub":                claims.Subject.String(),
		"jti":                claims.JTI,
		"token_type":         string(claims.Kind),
		"iat":                claims.IssuedAt.Unix(),
		"nbf":                claims.NotBefore.Unix(),
		"exp":                claims.ExpiresAt.Unix(),
		"iss":                claims.Issuer,
		"aud":                claims.Audience,
		"permissions":        claims.Permissions,
		"includes_inherited": claims.IncludesInherited,
		"scope":              claims.Scope,
	}
	roles := make([]map[string]interface{}, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		roles = append(roles, map[string]interface{}{
			"id":             r.ID.String(),
			"name":           r.Name,
			"is_inheritable": r.IsInheritable,
		})
	}
	mc["roles"] = roles
	if claims.Kind == domain.KindAccess {
		mc["organization"] = map[string]string{
			"id":   claims.Organization.ID.String(),
			"name": claims.Organization.Name,
			"path": claims.Organization.Path,
		}
		mc["user"] = map[string]string{
			"internal_id": claims.User.InternalID.String(),
			"email":       claims.User.Email,
			"name":        claims.User.Name,
			"first_name":  claims.User.FirstName,
			"last_name":   claims.User.LastName,
			"external_id": claims.User.ExternalID,
		}
		mc["metadata"] = map[string]interface{}{
			"generated_at":     claims.Metadata.GeneratedAt.Unix(),
			"source":           claims.Metadata.Source,
			"ip":               claims.Metadata.IP,
			"user_agent":       claims.Metadata.UserAgent,
			"session_id":       claims.Metadata.SessionID,
			"permission_count": claims.Metadata.PermissionCount,
			"inherited_count":  claims.Metadata.InheritedCount,
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString([]byte(m.cfg.Secret))
}

// Validate parses and verifies a token's signature, issuer, and
// not-before/expiry window (with a 5-minute clock-skew leeway), and
// returns its claims. Blacklist checks are the Auth Coordinator's
// responsibility, not this method's — see the package doc comment.
func (m *Manager) Validate(tokenString string) (*domain.Claims, error) {
	const skew = 5 * time.Minute

	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	}, jwt.WithLeeway(skew))
	if err != nil || !parsed.Valid {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, errString(err))
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, "unexpected claims type")
	}

	issuer, _ := mc.GetIssuer()
	if issuer != m.cfg.Issuer {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, "unexpected issuer")
	}

	return claimsFromMap(mc)
}

// ExtractJTI parses claims without verifying the signature — used only
// to look a token up in the blacklist by jti before doing the (more
// expensive) full validation.
func (m *Manager) ExtractJTI(tokenString string) (string, error) {
	parser := jwt.NewParser()
	var mc jwt.MapClaims
	_, _, err := parser.ParseUnverified(tokenString, &mc)
	if err != nil {
		return "", appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, err.Error())
	}
	jti, _ := mc["jti"].(string)
	if jti == "" {
		return "", appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, "missing jti")
	}
	return jti, nil
}

func claimsFromMap(mc jwt.MapClaims) (*domain.Claims, error) {
	sub, _ := mc.GetSubject()
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, appErrors.NewErrorWithCode(appErrors.CodeTokenInvalid, "invalid subject")
	}
	c := &domain.Claims{
		Subject: userID,
		JTI:     stringField(mc, "jti"),
		Kind:    domain.Kind(stringField(mc, "token_type")),
		Scope:   stringField(mc, "scope"),
	}
	if iat, ok := mc["iat"]; ok {
		c.IssuedAt = unixField(iat)
	}
	if nbf, ok := mc["nbf"]; ok {
		c.NotBefore = unixField(nbf)
	}
	if exp, ok := mc["exp"]; ok {
		c.ExpiresAt = unixField(exp)
	}
	if inc, ok := mc["includes_inherited"].(bool); ok {
		c.IncludesInherited = inc
	}
	c.Roles = roleClaimsField(mc, "roles")
	c.Permissions = stringSliceField(mc, "permissions")

	if org, ok := mc["organization"].(map[string]interface{}); ok {
		if id, _ := org["id"].(string); id != "" {
			if orgID, err := uuid.Parse(id); err == nil {
				c.Organization.ID = orgID
			}
		}
		c.Organization.Name, _ = org["name"].(string)
		c.Organization.Path, _ = org["path"].(string)
	}
	if user, ok := mc["user"].(map[string]interface{}); ok {
		if id, _ := user["internal_id"].(string); id != "" {
			if internalID, err := uuid.Parse(id); err == nil {
				c.User.InternalID = internalID
			}
		}
		c.User.Email, _ = user["email"].(string)
		c.User.Name, _ = user["name"].(string)
		c.User.FirstName, _ = user["first_name"].(string)
		c.User.LastName, _ = user["last_name"].(string)
		c.User.ExternalID, _ = user["external_id"].(string)
	}
	if meta, ok := mc["metadata"].(map[string]interface{}); ok {
		if gen, ok := meta["generated_at"]; ok {
			c.Metadata.GeneratedAt = unixField(gen)
		}
		c.Metadata.Source, _ = meta["source"].(string)
		c.Metadata.IP, _ = meta["ip"].(string)
		c.Metadata.UserAgent, _ = meta["user_agent"].(string)
		c.Metadata.SessionID, _ = meta["session_id"].(string)
		c.Metadata.PermissionCount = intField(meta["permission_count"])
		c.Metadata.InheritedCount = intField(meta["inherited_count"])
	}
	return c, nil
}

func stringField(mc jwt.MapClaims, key string) string {
	v, _ := mc[key].(string)
	return v
}

func stringSliceField(mc jwt.MapClaims, key string) []string {
	raw, ok := mc[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func unixField(v interface{}) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0)
	case int64:
		return time.Unix(n, 0)
	}
	return time.Time{}
}

func intField(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func roleClaimsField(mc jwt.MapClaims, key string) []domain.RoleClaim {
	raw, ok := mc[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]domain.RoleClaim, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var id uuid.UUID
		if s, _ := m["id"].(string); s != "" {
			id, _ = uuid.Parse(s)
		}
		inheritable, _ := m["is_inheritable"].(bool)
		name, _ := m["name"].(string)
		out = append(out, domain.RoleClaim{ID: id, Name: name, IsInheritable: inheritable})
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Repository re-exports the blacklist repository contract from the
// domain package for callers that only need the token package's import.
type Repository = domain.Repository
