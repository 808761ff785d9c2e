package coordinator

import (
	"context"
	"log/slog"
	"time"

	"authz/internal/fabric"

	orgdomain "authz/internal/core/domain/organization"
	tokendomain "authz/internal/core/domain/token"
	userdomain "authz/internal/core/domain/user"
	rbacsvc "authz/internal/core/services/rbac"
)

// Handlers bridges the fabric's named messages to the actual
// repositories and services. Each message the Auth Coordinator depends
// on (§4.6's catalog) is backed here by exactly one Consume registration
// — the "isolated consumer" the governing specification calls for,
// generalized from the teacher's one-handler-per-stream wiring in
// cmd/worker.
type Handlers struct {
	Users       userdomain.Repository
	Memberships orgdomain.MembershipRepository
	Orgs        orgdomain.Repository
	Permissions *rbacsvc.Engine
	Blacklist   tokendomain.Repository
	Logger      *slog.Logger
}

// Register consumes every message in fabric.DefaultCatalog against
// transport, using the repositories/services in h.
func (h *Handlers) Register(ctx context.Context, transport fabric.Transport) error {
	registrations := []struct {
		name    string
		handler fabric.Handler
	}{
		{fabric.MsgResolveUser, h.resolveUser},
		{fabric.MsgCreateUser, h.createUser},
		{fabric.MsgGetUserProfile, h.getUserProfile},
		{fabric.MsgGetUserOrganizations, h.getUserOrganizations},
		{fabric.MsgGetUserPermissions, h.getUserPermissions},
		{fabric.MsgCheckTokenBlacklist, h.checkTokenBlacklist},
		{fabric.MsgBlacklistToken, h.blacklistToken},
		{fabric.MsgValidatePermission, h.validatePermission},
	}
	for _, reg := range registrations {
		if err := transport.Consume(ctx, reg.name, reg.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) resolveUser(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req ResolveUserRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}
	u, err := h.Users.GetByExternalSubject(ctx, req.ExternalSubject)
	if err != nil {
		payload, _ := encodePayload(ResolveUserResponse{Found: false})
		return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
	}
	payload, err := encodePayload(ResolveUserResponse{
		Found:                 true,
		UserID:                u.ID,
		ExternalSubject:       u.ExternalSubject,
		Email:                 u.Email,
		DisplayName:           u.DisplayName,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		DefaultOrganizationID: u.DefaultOrganizationID,
	})
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) createUser(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req CreateUserRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}
	u := userdomain.NewFromExternalSubject(req.ExternalSubject, req.Email, req.FirstName, req.LastName, req.DisplayName)
	if err := h.Users.Create(ctx, u); err != nil {
		return fabric.Message{}, err
	}
	payload, err := encodePayload(CreateUserResponse{UserID: u.ID})
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) getUserProfile(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req GetUserProfileRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}
	u, err := h.Users.GetByID(ctx, req.UserID)
	if err != nil {
		return fabric.Message{}, err
	}
	payload, err := encodePayload(GetUserProfileResponse{
		UserID:          u.ID,
		ExternalSubject: u.ExternalSubject,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
	})
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) getUserOrganizations(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req GetUserOrganizationsRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}
	memberships, err := h.Memberships.ListByUser(ctx, req.UserID)
	if err != nil {
		return fabric.Message{}, err
	}
	u, err := h.Users.GetByID(ctx, req.UserID)
	if err != nil {
		return fabric.Message{}, err
	}

	resp := GetUserOrganizationsResponse{}
	for _, m := range memberships {
		if m.Status != orgdomain.MembershipActive {
			continue
		}
		entry := OrganizationMembership{OrganizationID: m.OrganizationID}
		if org, err := h.Orgs.GetByID(ctx, m.OrganizationID); err == nil {
			entry.Name = org.Name
			entry.Path = org.Path
		}
		resp.Organizations = append(resp.Organizations, entry)
	}
	if u.DefaultOrganizationID != nil {
		resp.PrimaryOrganization = *u.DefaultOrganizationID
	} else if len(resp.Organizations) > 0 {
		resp.PrimaryOrganization = resp.Organizations[0].OrganizationID
	}

	payload, err := encodePayload(resp)
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) getUserPermissions(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req GetUserPermissionsRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}
	resolution, err := h.Permissions.Resolve(ctx, req.UserID, req.OrganizationID)
	if err != nil {
		return fabric.Message{}, err
	}

	roles := make([]RoleSummary, 0, len(resolution.Roles))
	for _, g := range resolution.Roles {
		roles = append(roles, RoleSummary{ID: g.Role.ID, Name: g.Role.Name, IsInheritable: g.Role.Inheritable})
	}
	rows := resolution.Rows()
	wireRows := make([]PermissionGrant, 0, len(rows))
	for _, r := range rows {
		wireRows = append(wireRows, PermissionGrant{
			Permission:    r.Permission,
			RoleID:        r.RoleID,
			RoleName:      r.RoleName,
			IsInheritable: r.IsInheritable,
			Source:        r.Source,
			GrantedAt:     r.GrantedAt,
			ExpiresAt:     r.ExpiresAt,
		})
	}

	payload, err := encodePayload(GetUserPermissionsResponse{
		Permissions:       resolution.PermissionList(),
		Roles:             roles,
		Rows:              wireRows,
		IncludesInherited: req.IncludeInherited,
	})
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) checkTokenBlacklist(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req CheckTokenBlacklistRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}

	resp := CheckTokenBlacklistResponse{}
	if entry, err := h.Blacklist.GetByJTI(ctx, req.JTI); err == nil && entry != nil {
		resp.IsBlacklisted = true
		resp.Reason = entry.Reason
		resp.BlacklistedAt = entry.CreatedAt
	} else if emergency, err := h.Blacklist.GetEmergencyEntry(ctx, req.UserID); err == nil && emergency != nil {
		resp.IsBlacklisted = true
		resp.Reason = emergency.Reason
		resp.BlacklistedAt = emergency.CreatedAt
	}

	payload, err := encodePayload(resp)
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) blacklistToken(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req BlacklistTokenRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}

	var entry *tokendomain.BlacklistEntry
	if req.Emergency {
		entry = tokendomain.NewEmergencyBlacklistEntry(req.UserID, req.Reason, time.Until(req.ExpiresAt))
	} else {
		entry = tokendomain.NewIndividualBlacklistEntry(req.JTI, req.UserID, req.Reason, req.ExpiresAt)
	}
	if err := h.Blacklist.Put(ctx, entry); err != nil {
		return fabric.Message{}, err
	}

	payload, err := encodePayload(BlacklistTokenResponse{OK: true})
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}

func (h *Handlers) validatePermission(ctx context.Context, msg fabric.Message) (fabric.Message, error) {
	var req ValidatePermissionRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		return fabric.Message{}, err
	}
	allowed, err := h.Permissions.HasPermission(ctx, req.UserID, req.OrganizationID, req.Permission)
	if err != nil {
		return fabric.Message{}, err
	}
	resp := ValidatePermissionResponse{Allow: allowed}
	if !allowed {
		resp.Reason = "permission not granted at this organization scope"
	}
	payload, err := encodePayload(resp)
	if err != nil {
		return fabric.Message{}, err
	}
	return fabric.Message{Name: msg.Name, ID: msg.ID, Payload: payload}, nil
}
