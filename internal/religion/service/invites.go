package service

import (
	"context"
	"errors"
	"time"

	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/religion/domain"
	"go.uber.org/zap"
)

// Invite offers religion membership to targetID on behalf of inviterID.
func (r *Registry) Invite(ctx context.Context, religionID, inviterID, targetID string) (invitationdomain.Invite, error) {
	const op = "invite_player"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", religionID),
		zap.String("actor_id", inviterID),
		zap.String("player_id", targetID),
	}

	religion, err := r.authorizeLocked(religionID, inviterID, domain.PermInvitePlayers)
	if err != nil {
		return invitationdomain.Invite{}, r.reject(ctx, op, err, fields...)
	}
	switch {
	case targetID == "":
		err = domain.ErrInvalidPlayer
	case targetID == inviterID:
		err = domain.ErrCannotTargetSelf
	case religion.IsMember(targetID):
		err = domain.ErrAlreadyMember
	case r.playerReligionLocked(targetID) != nil:
		err = domain.ErrAlreadyInReligion
	}
	if err == nil {
		if _, banned := religion.ActiveBan(targetID, r.clock.Now()); banned {
			err = domain.ErrBanned
		}
	}
	if err != nil {
		return invitationdomain.Invite{}, r.reject(ctx, op, err, fields...)
	}

	invite, err := r.invites.Add(religionID, targetID)
	if errors.Is(err, invitationdomain.ErrDuplicateInvite) {
		return invitationdomain.Invite{}, r.reject(ctx, op, domain.ErrDuplicateInvite, fields...)
	}
	if err != nil {
		return invitationdomain.Invite{}, r.reject(ctx, op, err, fields...)
	}

	r.persistLocked(ctx, persistence.KeyReligionInvites)
	r.log.Info("player invited", append(fields, zap.String("invite_id", invite.ID))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return invite, nil
}

// HasInvitation reports whether playerID holds a live invite to religionID.
func (r *Registry) HasInvitation(religionID, playerID string) bool {
	return r.invites.HasPending(religionID, playerID)
}

// RemoveInvitation withdraws the invite to playerID. It reports whether one existed.
func (r *Registry) RemoveInvitation(ctx context.Context, religionID, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	invite, ok := r.invites.Find(religionID, playerID)
	if !ok {
		return false
	}
	r.invites.Remove(invite.ID)
	r.persistLocked(ctx, persistence.KeyReligionInvites)
	return true
}

// GetPlayerInvitations lists the live invites addressed to playerID, oldest first.
func (r *Registry) GetPlayerInvitations(playerID string) []invitationdomain.Invite {
	return r.invites.ListByTarget(playerID)
}

// GetReligionInvitations lists the live invites a religion has issued, oldest first.
func (r *Registry) GetReligionInvitations(religionID string) []invitationdomain.Invite {
	return r.invites.ListBySource(religionID)
}

func (r *Registry) InviteWindow() time.Duration {
	return r.invites.Window()
}

// AcceptInvite consumes the invite and joins the player to the religion.
// The player must still have no religion and must not be banned from it.
func (r *Registry) AcceptInvite(ctx context.Context, religionID, playerID string) error {
	const op = "accept_invite"
	name, known := r.resolveName(ctx, playerID)

	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", religionID),
		zap.String("player_id", playerID),
	}

	invite, ok := r.invites.Find(religionID, playerID)
	if !ok {
		return r.reject(ctx, op, domain.ErrInviteNotFound, fields...)
	}
	religion, ok := r.religions[religionID]
	if !ok {
		r.invites.Remove(invite.ID)
		r.persistLocked(ctx, persistence.KeyReligionInvites)
		return r.reject(ctx, op, domain.ErrReligionNotFound, fields...)
	}
	if r.playerReligionLocked(playerID) != nil {
		return r.reject(ctx, op, domain.ErrAlreadyInReligion, fields...)
	}
	if _, banned := religion.ActiveBan(playerID, r.clock.Now()); banned {
		r.invites.Remove(invite.ID)
		r.persistLocked(ctx, persistence.KeyReligionInvites)
		return r.reject(ctx, op, domain.ErrBanned, fields...)
	}
	if !known {
		return r.reject(ctx, op, domain.ErrPlayerUnknown, fields...)
	}

	religion.AddMember(playerID, name, "")
	religion.UpdatedAt = r.clock.Now()
	r.invites.Remove(invite.ID)
	r.persistLocked(ctx, persistence.KeyReligions, persistence.KeyReligionInvites)

	r.log.Info("invite accepted", append(fields, zap.String("invite_id", invite.ID))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// DeclineInvite discards the player's invite to religionID.
func (r *Registry) DeclineInvite(ctx context.Context, religionID, playerID string) error {
	if !r.RemoveInvitation(ctx, religionID, playerID) {
		return r.reject(ctx, "decline_invite", domain.ErrInviteNotFound,
			zap.String("religion_id", religionID),
			zap.String("player_id", playerID),
		)
	}
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, "decline_invite", nil)
	return nil
}

// CleanupExpiredInvites sweeps lapsed invites and persists the result when any were removed.
func (r *Registry) CleanupExpiredInvites(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.invites.CleanupExpired()
	if removed > 0 {
		r.persistLocked(ctx, persistence.KeyReligionInvites)
		r.metrics.RecordInvitesExpired(ctx, metrics.RegistryReligion, removed)
	}
	return removed
}
