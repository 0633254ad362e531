package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/religion/domain"
	"go.uber.org/zap"
)

type RoleRequest struct {
	Name        string
	Permissions domain.Permission
}

// CreateRole adds a custom role. Actors cannot grant permissions they do not hold.
func (r *Registry) CreateRole(ctx context.Context, religionID, actorID string, req RoleRequest) (domain.Role, error) {
	const op = "create_role"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{zap.String("religion_id", religionID), zap.String("actor_id", actorID)}

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermManageRoles)
	if err != nil {
		return domain.Role{}, r.reject(ctx, op, err, fields...)
	}
	name, err := domain.NormalizeRoleName(req.Name)
	if err != nil {
		return domain.Role{}, r.reject(ctx, op, err, fields...)
	}
	if err := checkRoleLocked(religion, actorID, "", name, req.Permissions); err != nil {
		return domain.Role{}, r.reject(ctx, op, err, fields...)
	}

	role := domain.Role{
		ID:          uuid.NewString(),
		Name:        name,
		Permissions: req.Permissions.Known(),
		CreatedAt:   r.clock.Now(),
	}
	religion.Roles[role.ID] = role
	religion.UpdatedAt = role.CreatedAt
	r.persistLocked(ctx, persistence.KeyReligions)

	r.log.Info("role created", append(fields, zap.String("role_id", role.ID), zap.Stringer("permissions", role.Permissions))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return role, nil
}

// UpdateRole renames a role and replaces its permissions. Protected roles are immutable.
func (r *Registry) UpdateRole(ctx context.Context, religionID, actorID, roleID string, req RoleRequest) error {
	const op = "update_role"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", religionID),
		zap.String("actor_id", actorID),
		zap.String("role_id", roleID),
	}

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermManageRoles)
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}
	role, ok := religion.Roles[roleID]
	if !ok {
		return r.reject(ctx, op, domain.ErrRoleNotFound, fields...)
	}
	if role.IsProtected {
		return r.reject(ctx, op, domain.ErrRoleProtected, fields...)
	}
	name, err := domain.NormalizeRoleName(req.Name)
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}
	if err := checkRoleLocked(religion, actorID, roleID, name, req.Permissions); err != nil {
		return r.reject(ctx, op, err, fields...)
	}

	role.Name = name
	role.Permissions = req.Permissions.Known()
	religion.Roles[roleID] = role
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// DeleteRole removes a custom role; its holders fall back to the default role.
func (r *Registry) DeleteRole(ctx context.Context, religionID, actorID, roleID string) error {
	const op = "delete_role"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", religionID),
		zap.String("actor_id", actorID),
		zap.String("role_id", roleID),
	}

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermManageRoles)
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}
	role, ok := religion.Roles[roleID]
	if !ok {
		return r.reject(ctx, op, domain.ErrRoleNotFound, fields...)
	}
	if role.IsProtected || role.IsDefault {
		return r.reject(ctx, op, domain.ErrRoleProtected, fields...)
	}

	delete(religion.Roles, roleID)
	fallback := religion.DefaultRole().ID
	reassigned := 0
	for playerID, held := range religion.MemberRoles {
		if held == roleID {
			religion.MemberRoles[playerID] = fallback
			reassigned++
		}
	}
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)

	r.log.Info("role deleted", append(fields, zap.Int("reassigned", reassigned))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// AssignRole gives targetID a role. The Founder role moves only through succession.
func (r *Registry) AssignRole(ctx context.Context, religionID, actorID, targetID, roleID string) error {
	const op = "assign_role"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", religionID),
		zap.String("actor_id", actorID),
		zap.String("player_id", targetID),
		zap.String("role_id", roleID),
	}

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermManageRoles)
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}
	role, ok := religion.Roles[roleID]
	switch {
	case !religion.IsMember(targetID):
		err = domain.ErrNotMember
	case !ok:
		err = domain.ErrRoleNotFound
	case role.IsFounder() || religion.IsFounder(targetID):
		err = domain.ErrRoleProtected
	case role.Permissions != 0 && !religion.IsFounder(actorID) && !religion.HasPermission(actorID, role.Permissions):
		err = domain.ErrForbidden
	}
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}

	religion.MemberRoles[targetID] = roleID
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// GetRoles returns the religion's role table ordered by id.
func (r *Registry) GetRoles(religionID string) []domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	religion, ok := r.religions[religionID]
	if !ok {
		return nil
	}
	return religion.SortedRoles()
}

func checkRoleLocked(religion *domain.Religion, actorID, roleID, name string, perms domain.Permission) error {
	if perms.Known() != perms {
		return &domain.ValidationError{Field: "permissions", Err: domain.ErrInvalidRole}
	}
	key := strings.ToLower(name)
	for id, existing := range religion.Roles {
		if id != roleID && strings.ToLower(existing.Name) == key {
			return domain.ErrRoleNameTaken
		}
	}
	if perms != 0 && !religion.IsFounder(actorID) && !religion.HasPermission(actorID, perms) {
		return domain.ErrForbidden
	}
	return nil
}
