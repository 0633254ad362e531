package service

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"go.uber.org/zap"
)

// InviteReligion offers membership to a religion. Only the anchor's founder may invite,
// and the target's deity must not already be represented.
func (r *Registry) InviteReligion(ctx context.Context, civID, religionID, inviterID string) (invitationdomain.Invite, error) {
	const op = "invite_religion"
	fields := []zap.Field{
		zap.String("civilization_id", civID),
		zap.String("religion_id", religionID),
		zap.String("actor_id", inviterID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	civ, err := r.authorizeLocked(civID, inviterID)
	if err != nil {
		return invitationdomain.Invite{}, r.reject(ctx, op, err, fields...)
	}
	if civ.ReligionCount() >= r.maxReligions() {
		return invitationdomain.Invite{}, r.reject(ctx, op, domain.ErrCivilizationFull, fields...)
	}
	target, ok := r.religions.LookupReligion(religionID)
	if !ok {
		return invitationdomain.Invite{}, r.reject(ctx, op, domain.ErrReligionNotFound, fields...)
	}
	if r.civilizationForLocked(target.ID) != nil {
		return invitationdomain.Invite{}, r.reject(ctx, op, domain.ErrAlreadyInCivilization, fields...)
	}
	if r.deityTakenLocked(civ, target.Deity) {
		return invitationdomain.Invite{}, r.reject(ctx, op, domain.ErrDeityTaken,
			append(fields, zap.Stringer("deity", target.Deity))...)
	}

	invite, err := r.invites.Add(civ.ID, target.ID)
	if errors.Is(err, invitationdomain.ErrDuplicateInvite) {
		err = domain.ErrDuplicateInvite
	}
	if err != nil {
		return invitationdomain.Invite{}, r.reject(ctx, op, err, fields...)
	}

	r.persistLocked(ctx, persistence.KeyCivilizationInvites)
	r.log.Info("religion invited", append(fields, zap.String("invite_id", invite.ID))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return invite, nil
}

// AcceptInvite joins the invited religion on its founder's behalf. Room, deity
// diversity and single membership are re-checked against current state.
func (r *Registry) AcceptInvite(ctx context.Context, inviteID, accepterID string) error {
	const op = "accept_civilization_invite"
	fields := []zap.Field{zap.String("invite_id", inviteID), zap.String("actor_id", accepterID)}

	r.mu.Lock()
	defer r.mu.Unlock()

	invite, ok := r.invites.Get(inviteID)
	if !ok {
		return r.reject(ctx, op, domain.ErrInviteNotFound, fields...)
	}
	fields = append(fields,
		zap.String("civilization_id", invite.SourceID),
		zap.String("religion_id", invite.TargetID),
	)

	target, ok := r.religions.LookupReligion(invite.TargetID)
	if !ok {
		return r.reject(ctx, op, domain.ErrReligionNotFound, fields...)
	}
	if target.FounderID != accepterID {
		return r.reject(ctx, op, domain.ErrNotReligionFounder, fields...)
	}
	civ, ok := r.civilizations[invite.SourceID]
	if !ok {
		r.invites.Remove(invite.ID)
		r.persistLocked(ctx, persistence.KeyCivilizationInvites)
		return r.reject(ctx, op, domain.ErrCivilizationNotFound, fields...)
	}

	var err error
	switch {
	case r.civilizationForLocked(target.ID) != nil:
		err = domain.ErrAlreadyInCivilization
	case civ.ReligionCount() >= r.maxReligions():
		err = domain.ErrCivilizationFull
	case r.deityTakenLocked(civ, target.Deity):
		err = domain.ErrDeityTaken
	}
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}

	civ.AddReligion(target.ID)
	civ.MemberCount += target.MemberCount
	civ.UpdatedAt = r.clock.Now()
	// a religion in a civilization cannot take up any other offer
	r.invites.RemoveTarget(target.ID)
	r.persistLocked(ctx, persistence.KeyCivilizations, persistence.KeyCivilizationInvites)

	r.log.Info("civilization invite accepted", append(fields, zap.Int("religions", civ.ReligionCount()))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return nil
}

// DeclineInvite discards an invite on behalf of the target religion's founder.
func (r *Registry) DeclineInvite(ctx context.Context, inviteID, playerID string) error {
	const op = "decline_civilization_invite"
	fields := []zap.Field{zap.String("invite_id", inviteID), zap.String("actor_id", playerID)}

	r.mu.Lock()
	defer r.mu.Unlock()

	invite, ok := r.invites.Get(inviteID)
	if !ok {
		return r.reject(ctx, op, domain.ErrInviteNotFound, fields...)
	}
	target, ok := r.religions.LookupReligion(invite.TargetID)
	if ok && target.FounderID != playerID {
		return r.reject(ctx, op, domain.ErrNotReligionFounder, fields...)
	}
	r.invites.Remove(invite.ID)
	r.persistLocked(ctx, persistence.KeyCivilizationInvites)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return nil
}

// HasInvitation reports whether religionID holds a live invite from civID.
func (r *Registry) HasInvitation(civID, religionID string) bool {
	return r.invites.HasPending(civID, religionID)
}

// GetInvite returns a live invite by id.
func (r *Registry) GetInvite(inviteID string) (invitationdomain.Invite, bool) {
	return r.invites.Get(inviteID)
}

// GetInvitesForReligion lists the live invites addressed to a religion, oldest first.
func (r *Registry) GetInvitesForReligion(religionID string) []invitationdomain.Invite {
	return r.invites.ListByTarget(religionID)
}

// GetCivilizationInvites lists the live invites a civilization has issued.
func (r *Registry) GetCivilizationInvites(civID string) []invitationdomain.Invite {
	return r.invites.ListBySource(civID)
}

func (r *Registry) InviteWindow() time.Duration {
	return r.invites.Window()
}

func (r *Registry) CleanupExpiredInvites(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.invites.CleanupExpired()
	if removed > 0 {
		r.persistLocked(ctx, persistence.KeyCivilizationInvites)
		r.metrics.RecordInvitesExpired(ctx, metrics.RegistryCivilization, removed)
	}
	return removed
}
