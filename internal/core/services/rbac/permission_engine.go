// Package rbac implements the Permission Engine (component C2): the
// algorithm that collects a user's direct and inherited role grants at an
// organization, resolves them to a concrete permission set with
// deterministic tie-breaking, and answers single and bulk permission
// checks.
//
// Grounded on the teacher's permission_service.go (BulkPermissionExists,
// ParseResourceAction) and role_service.go/role_repository.go (role
// loading, permission loading via Joins), generalized from a flat
// single-organization model into the hierarchical one: inherited grants
// are collected by walking the organization's ancestor-path prefix
// instead of a single GetByOrganizationID lookup.
package rbac

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	appErrors "authz/pkg/errors"

	"authz/internal/core/domain/organization"
	"authz/internal/core/domain/rbac"
)

// Grant is a resolved, winning role grant after tie-breaking — the unit
// the caching layer stores and the token payload is minted from.
type Grant struct {
	Role        *rbac.Role
	Direct      bool
	GrantedAt   time.Time
	ExpiresAt   *time.Time
	Permissions []*rbac.Permission
}

// Resolution is the engine's answer for one (user, organization) pair.
type Resolution struct {
	Roles       []*Grant
	Permissions map[string]struct{} // canonical "resource:action" set, "*" wildcards kept literal
}

// PermissionRow is one per-permission provenance tuple: which winning
// role granted it, whether that grant was direct or inherited down the
// organization hierarchy, and when it was granted/expires. This is the
// `resolve_user_permissions` rows shape (§4.1/§4.2) that makes the
// "ancestor-only" inheritance law auditable by any caller.
type PermissionRow struct {
	Permission    string
	RoleID        uuid.UUID
	RoleName      string
	IsInheritable bool
	Source        string // "direct" or "inherited"
	GrantedAt     time.Time
	ExpiresAt     *time.Time
}

// Rows flattens every winning role's permission set into provenance
// rows, one per (role, permission) pair. A permission granted by more
// than one winning role appears once per granting role, so a caller can
// see every source it traces back to, not just the flattened union in
// Permissions.
func (r *Resolution) Rows() []PermissionRow {
	out := make([]PermissionRow, 0, len(r.Permissions))
	for _, g := range r.Roles {
		source := "inherited"
		if g.Direct {
			source = "direct"
		}
		for _, p := range g.Permissions {
			out = append(out, PermissionRow{
				Permission:    p.String(),
				RoleID:        g.Role.ID,
				RoleName:      g.Role.Name,
				IsInheritable: g.Role.Inheritable,
				Source:        source,
				GrantedAt:     g.GrantedAt,
				ExpiresAt:     g.ExpiresAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Permission != out[j].Permission {
			return out[i].Permission < out[j].Permission
		}
		return out[i].RoleName < out[j].RoleName
	})
	return out
}

// HasPermission reports whether the resolved set covers resourceAction,
// honoring wildcards in either the resource or the action position
// (I-PE1: wildcard grants subsume every concrete resource/action pair
// they match, never the reverse).
func (r *Resolution) HasPermission(resourceAction string) bool {
	if _, ok := r.Permissions[resourceAction]; ok {
		return true
	}
	resource, action, err := rbac.ParsePermission(resourceAction)
	if err != nil {
		return false
	}
	for granted := range r.Permissions {
		gr, ga, err := rbac.ParsePermission(granted)
		if err != nil {
			continue
		}
		if (gr == "*" || gr == resource) && (ga == "*" || ga == action) {
			return true
		}
	}
	return false
}

// PermissionList returns the resolved set as a sorted slice, for minting
// into a token or returning from a listing endpoint.
func (r *Resolution) PermissionList() []string {
	out := make([]string, 0, len(r.Permissions))
	for p := range r.Permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RoleNames returns the winning roles' names, highest priority first.
func (r *Resolution) RoleNames() []string {
	out := make([]string, 0, len(r.Roles))
	for _, g := range r.Roles {
		out = append(out, g.Role.Name)
	}
	return out
}

// Engine is the Permission Engine. Its caching design follows the
// governing specification's "materialized direct-permission cache with
// non-blocking refresh": a fresh *lru.Cache is built and atomically
// swapped in rather than mutated in place, so a concurrent reader never
// observes a half-rebuilt cache.
type Engine struct {
	orgRepo      organization.Repository
	userRoleRepo rbac.UserRoleRepository
	roleRepo     rbac.RoleRepository
	logger       *slog.Logger

	cacheSize int
	cache     atomic.Pointer[lru.Cache[string, *Resolution]]
}

// NewEngine constructs a Permission Engine backed by the given
// repositories, with an initial empty projection cache of the given size.
func NewEngine(orgRepo organization.Repository, userRoleRepo rbac.UserRoleRepository, roleRepo rbac.RoleRepository, cacheSize int, logger *slog.Logger) *Engine {
	c, _ := lru.New[string, *Resolution](cacheSize)
	e := &Engine{
		orgRepo:      orgRepo,
		userRoleRepo: userRoleRepo,
		roleRepo:     roleRepo,
		logger:       logger,
		cacheSize:    cacheSize,
	}
	e.cache.Store(c)
	return e
}

func cacheKey(userID, orgID uuid.UUID) string {
	return userID.String() + "|" + orgID.String()
}

// Invalidate drops any cached resolution for (userID, orgID); callers
// that mutate a role's permission set should invalidate every cached
// entry instead, since the engine cannot cheaply enumerate which cached
// users hold that role — see InvalidateAll.
func (e *Engine) Invalidate(userID, orgID uuid.UUID) {
	e.cache.Load().Remove(cacheKey(userID, orgID))
}

// InvalidateAll performs a non-blocking refresh: a fresh, empty cache of
// the same size is built and atomically swapped in, so in-flight reads
// against the old cache complete undisturbed and new reads simply
// recompute on first miss.
func (e *Engine) InvalidateAll() {
	fresh, _ := lru.New[string, *Resolution](e.cacheSize)
	e.cache.Store(fresh)
}

// Resolve implements the §4.2 algorithm:
//  1. Collect direct grants: user_roles rows at exactly orgID.
//  2. Collect inherited grants: user_roles rows at any ancestor of orgID
//     whose role is Inheritable.
//  3. Union them; where two grants name the same role, or where a direct
//     and inherited grant conflict, prefer direct over inherited, then
//     higher Role.Priority, then earlier GrantedAt (I-PE2).
//  4. Flatten the winning roles' permissions into one set (I-PE3: the
//     union, never an intersection — any winning role's permission is
//     granted).
func (e *Engine) Resolve(ctx context.Context, userID, orgID uuid.UUID) (*Resolution, error) {
	key := cacheKey(userID, orgID)
	cache := e.cache.Load()
	if cached, ok := cache.Get(key); ok {
		return cached, nil
	}

	org, err := e.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		return nil, appErrors.WrapInternalError(err, "rbac: load organization")
	}

	ancestors, err := e.orgRepo.ListAncestors(ctx, org)
	if err != nil {
		return nil, appErrors.WrapInternalError(err, "rbac: load ancestor organizations")
	}
	paths := make([]string, 0, len(ancestors)+1)
	paths = append(paths, org.Path)
	for _, a := range ancestors {
		paths = append(paths, a.Path)
	}

	grants, err := e.userRoleRepo.ListForUserAtOrgPaths(ctx, userID, paths)
	if err != nil {
		return nil, appErrors.WrapInternalError(err, "rbac: load user role grants")
	}

	now := time.Now()
	winners := map[uuid.UUID]*Grant{} // roleID -> winning grant for that role
	for _, g := range grants {
		if g.IsExpired(now) {
			continue
		}
		direct := g.OrganizationID == orgID

		role, err := e.roleRepo.GetByID(ctx, g.RoleID)
		if err != nil {
			continue
		}
		if !direct && !role.Inheritable {
			continue
		}

		candidate := &Grant{Role: role, Direct: direct, GrantedAt: g.GrantedAt, ExpiresAt: g.ExpiresAt}
		existing, ok := winners[g.RoleID]
		if !ok || beats(candidate, existing) {
			winners[g.RoleID] = candidate
		}
	}

	resolution := &Resolution{Permissions: map[string]struct{}{}}
	for _, grant := range winners {
		resolution.Roles = append(resolution.Roles, grant)
		perms, err := e.roleRepo.GetPermissions(ctx, grant.Role.ID)
		if err != nil {
			return nil, appErrors.WrapInternalError(err, "rbac: load role permissions")
		}
		grant.Permissions = perms
		for _, p := range perms {
			resolution.Permissions[p.String()] = struct{}{}
		}
	}
	sort.Slice(resolution.Roles, func(i, j int) bool {
		return resolution.Roles[i].Role.Priority > resolution.Roles[j].Role.Priority
	})

	cache.Add(key, resolution)
	return resolution, nil
}

// beats implements the I-PE2 tie-break: direct beats inherited, then
// higher priority wins, then the earlier grant wins.
func beats(candidate, existing *Grant) bool {
	if candidate.Direct != existing.Direct {
		return candidate.Direct
	}
	if candidate.Role.Priority != existing.Role.Priority {
		return candidate.Role.Priority > existing.Role.Priority
	}
	return candidate.GrantedAt.Before(existing.GrantedAt)
}

// HasPermission is the single-check entry point used by the inbound
// authorization-of-a-call flow.
func (e *Engine) HasPermission(ctx context.Context, userID, orgID uuid.UUID, resourceAction string) (bool, error) {
	res, err := e.Resolve(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	return res.HasPermission(resourceAction), nil
}

// CheckBulk answers many resource:action checks against one resolution in
// a single pass (the bulk semantics named in §4.2: failure of the whole
// call only on a resolution error, never on an individual miss).
func (e *Engine) CheckBulk(ctx context.Context, userID, orgID uuid.UUID, resourceActions []string) (map[string]bool, error) {
	res, err := e.Resolve(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(resourceActions))
	for _, ra := range resourceActions {
		out[ra] = res.HasPermission(ra)
	}
	return out, nil
}
