package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	orgdomain "authz/internal/core/domain/organization"
	tokendomain "authz/internal/core/domain/token"
	"authz/internal/core/services/audit"
	"authz/internal/core/services/coordinator"
	"authz/internal/core/services/organization"
	"authz/internal/core/services/rbac"
	appErrors "authz/pkg/errors"
)

// Handler implements the §6 inbound protected operations as plain Gin
// handlers, one method per operation, translating JSON requests into
// Coordinator calls and AppError into the corresponding status code.
type Handler struct {
	coordinator *coordinator.Coordinator
	orgs        *organization.Resolver
	engine      *rbac.Engine
	audit       *audit.Service
	logger      *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(coord *coordinator.Coordinator, orgs *organization.Resolver, engine *rbac.Engine, auditSvc *audit.Service, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coord, orgs: orgs, engine: engine, audit: auditSvc, logger: logger}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func clientContext(c *gin.Context) coordinator.ClientContext {
	return coordinator.ClientContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		SessionID: c.GetHeader("X-Session-Id"),
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}

// respondError translates an AppError into its configured status code;
// anything else is an unexpected internal failure.
func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := appErrors.IsAppError(err); ok {
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Type, "message": appErr.Message})
		return
	}
	h.logger.Error("unhandled request error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
}

// BuildAuthorizationUrl is the §6 `BuildAuthorizationUrl` operation.
func (h *Handler) BuildAuthorizationURL(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		state = uuid.NewString()
	}
	url, err := h.coordinator.BuildAuthorizationURL(state)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "state": state})
}

type exchangeRequest struct {
	Code string `json:"code" binding:"required"`
}

// ExchangeAuthorizationCode is the §6 `ExchangeAuthorizationCode` operation.
func (h *Handler) ExchangeAuthorizationCode(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": err.Error()})
		return
	}

	result, err := h.coordinator.Login(c.Request.Context(), req.Code, clientContext(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResultPayload(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": err.Error()})
		return
	}

	result, err := h.coordinator.Refresh(c.Request.Context(), req.RefreshToken, clientContext(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResultPayload(result))
}

type revokeRequest struct {
	Token  string `json:"token" binding:"required"`
	Reason string `json:"reason"`
}

// RevokeToken is the §6 `RevokeToken` operation.
func (h *Handler) RevokeToken(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": err.Error()})
		return
	}

	if err := h.coordinator.Revoke(c.Request.Context(), req.Token, req.Reason, clientContext(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ValidateToken is the §6 `ValidateToken` operation.
func (h *Handler) ValidateToken(c *gin.Context) {
	claims, err := h.coordinator.Introspect(c.Request.Context(), bearerToken(c))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "payload": claimsPayload(claims)})
}

// GetUserContext is the §6 `GetUserContext` operation.
func (h *Handler) GetUserContext(c *gin.Context) {
	claims, err := h.coordinator.Introspect(c.Request.Context(), bearerToken(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"principal":    claims.Subject,
		"user":         claims.User,
		"organization": claims.Organization,
		"permissions":  claims.Permissions,
		"roles":        claims.Roles,
		"metadata":     claims.Metadata,
		"expires_at":   claims.ExpiresAt,
	})
}

type checkPermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

// CheckPermissions is the §6 `CheckPermissions` operation.
func (h *Handler) CheckPermissions(c *gin.Context) {
	var req checkPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": err.Error()})
		return
	}

	claims, err := h.coordinator.Introspect(c.Request.Context(), bearerToken(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	results := make(map[string]bool, len(req.Permissions))
	hasAll := true
	hasAny := false
	for _, p := range req.Permissions {
		allowed := claims.HasPermission(p)
		results[p] = allowed
		if allowed {
			hasAny = true
		} else {
			hasAll = false
		}
	}

	c.JSON(http.StatusOK, gin.H{"permissions": results, "has_all": hasAll, "has_any": hasAny})
}

func loginResultPayload(result *coordinator.LoginResult) gin.H {
	return gin.H{
		"token":           result.AccessToken,
		"refresh_token":   result.RefreshToken,
		"user_id":         result.UserID,
		"organization_id": result.OrganizationID,
		"permissions":     result.Permissions,
		"roles":           result.Roles,
		"is_new_user":     result.FirstLogin,
	}
}

func claimsPayload(claims *tokendomain.Claims) gin.H {
	return gin.H{
		"sub":                claims.Subject,
		"jti":                claims.JTI,
		"token_type":         claims.Kind,
		"user":               claims.User,
		"organization":       claims.Organization,
		"roles":              claims.Roles,
		"permissions":        claims.Permissions,
		"includes_inherited": claims.IncludesInherited,
		"scope":              claims.Scope,
		"metadata":           claims.Metadata,
		"expires_at":         claims.ExpiresAt,
	}
}

func organizationPayload(org *orgdomain.Organization) gin.H {
	return gin.H{
		"id":        org.ID,
		"parent_id": org.ParentID,
		"name":      org.Name,
		"slug":      org.Slug,
		"path":      org.Path,
		"status":    org.Status,
	}
}

// GetOrganization looks up a single organization by ID — an administrative
// read that sits outside the Auth Coordinator's login/token flow.
func (h *Handler) GetOrganization(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": "invalid organization id"})
		return
	}
	org, err := h.orgs.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, organizationPayload(org))
}

// ListOrganizationChildren lists the direct children of an organization.
func (h *Handler) ListOrganizationChildren(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": "invalid organization id"})
		return
	}
	children, err := h.orgs.Children(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]gin.H, 0, len(children))
	for _, child := range children {
		payload = append(payload, organizationPayload(child))
	}
	c.JSON(http.StatusOK, gin.H{"children": payload})
}

type createOrganizationRequest struct {
	ParentID uuid.UUID `json:"parent_id" binding:"required"`
	Name     string    `json:"name" binding:"required"`
}

// CreateOrganization inserts a new organization under an existing parent.
func (h *Handler) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": err.Error()})
		return
	}
	org, err := h.orgs.Create(c.Request.Context(), req.ParentID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, organizationPayload(org))
}

type moveOrganizationRequest struct {
	NewParentID uuid.UUID `json:"new_parent_id" binding:"required"`
}

// MoveOrganization relocates an organization to a new parent, rewriting
// its subtree's materialized paths.
func (h *Handler) MoveOrganization(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": "invalid organization id"})
		return
	}
	var req moveOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": err.Error()})
		return
	}
	org, err := h.orgs.Move(c.Request.Context(), id, req.NewParentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, organizationPayload(org))
}

// ResolvePermissions runs the Permission Engine directly for a
// (user_id, organization_id) pair, bypassing the token layer — used by
// administrative tooling that needs to inspect a resolution without
// minting a token for it.
func (h *Handler) ResolvePermissions(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": "invalid user_id"})
		return
	}
	orgID, err := uuid.Parse(c.Query("organization_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": "invalid organization_id"})
		return
	}
	resolution, err := h.engine.Resolve(c.Request.Context(), userID, orgID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roles":       resolution.RoleNames(),
		"permissions": resolution.PermissionList(),
		"rows":        resolution.Rows(),
	})
}

// QueryAuditEvents returns a user's audit trail over [from, to], defaulting
// to the last 24 hours when the query params are omitted.
func (h *Handler) QueryAuditEvents(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST_ERROR", "message": "invalid user_id"})
		return
	}
	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			from = parsed
		}
	}
	if v := c.Query("to"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			to = parsed
		}
	}
	events, err := h.audit.Query(c.Request.Context(), userID, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
