package service

import (
	"context"
	"fmt"

	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"go.uber.org/zap"
)

// persistLocked writes the named keys through. Failures leave memory as is and mark the registry dirty.
func (r *Registry) persistLocked(ctx context.Context, keys ...string) {
	r.world.SetCivilizations(len(r.civilizations))
	if r.gateway == nil {
		return
	}
	for _, key := range keys {
		if err := r.storeLocked(ctx, key); err != nil {
			r.markDirty(true)
			r.log.Error("write-through failed, retrying at next checkpoint",
				zap.String("key", key),
				zap.Error(err),
			)
			r.metrics.RecordPersistFailure(ctx, metrics.RegistryCivilization, key, err)
			r.world.IncPersistError(metrics.RegistryCivilization, err)
		}
	}
}

func (r *Registry) storeLocked(ctx context.Context, key string) error {
	switch key {
	case persistence.KeyCivilizations:
		return persistence.StoreFrom(ctx, r.gateway, key, r.snapshotLocked())
	case persistence.KeyCivilizationInvites:
		return persistence.StoreFrom(ctx, r.gateway, key, r.invites.Snapshot())
	default:
		return fmt.Errorf("%w: %s", persistence.ErrInvalidKey, key)
	}
}

func (r *Registry) snapshotLocked() domain.Snapshot {
	civs := make([]*domain.Civilization, 0, len(r.civilizations))
	for _, civ := range r.civilizations {
		civs = append(civs, civ)
	}
	domain.SortCivilizations(civs)
	return domain.Snapshot{Civilizations: civs}
}

// Snapshot returns a deep copy of the registry state.
func (r *Registry) Snapshot() (domain.Snapshot, []invitationdomain.Invite) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshotLocked()
	for i, civ := range snap.Civilizations {
		snap.Civilizations[i] = civ.Clone()
	}
	return snap, r.invites.Snapshot()
}

// Load replaces in-memory state with the stored snapshot. Religions that no
// longer exist are dropped and civilizations left without their anchor are not restored.
// Call it after the religion registry has loaded.
func (r *Registry) Load(ctx context.Context) error {
	if r.gateway == nil {
		return nil
	}

	var snap domain.Snapshot
	if _, err := persistence.LoadInto(ctx, r.gateway, persistence.KeyCivilizations, &snap); err != nil {
		return fmt.Errorf("load civilizations: %w", err)
	}
	var invites []invitationdomain.Invite
	if _, err := persistence.LoadInto(ctx, r.gateway, persistence.KeyCivilizationInvites, &invites); err != nil {
		return fmt.Errorf("load civilization invites: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repaired := 0
	claimed := make(map[string]string)
	civs := make(map[string]*domain.Civilization, len(snap.Civilizations))
	for _, civ := range snap.Civilizations {
		if civ == nil || civ.ID == "" || civ.DisbandedAt != nil {
			repaired++
			continue
		}
		if _, ok := r.religions.LookupReligion(civ.AnchorReligionID); !ok {
			r.log.Warn("dropping civilization without anchor", zap.String("civilization_id", civ.ID))
			repaired++
			continue
		}
		kept := make([]string, 0, len(civ.ReligionIDs))
		for _, id := range civ.ReligionIDs {
			_, exists := r.religions.LookupReligion(id)
			if owner, taken := claimed[id]; !exists || taken {
				r.log.Warn("dropping religion from civilization on load",
					zap.String("civilization_id", civ.ID),
					zap.String("religion_id", id),
					zap.String("claimed_by", owner),
				)
				repaired++
				continue
			}
			claimed[id] = civ.ID
			kept = append(kept, id)
		}
		civ.ReligionIDs = kept
		if !civ.HasReligion(civ.AnchorReligionID) {
			repaired++
			continue
		}
		if r.refreshLocked(civ) {
			repaired++
		}
		civs[civ.ID] = civ
	}
	r.civilizations = civs
	r.invites.Restore(invites)
	orphaned := r.pruneOrphanInvitesLocked(invites)

	r.log.Info("civilization state loaded",
		zap.Int("civilizations", len(r.civilizations)),
		zap.Int("invites", r.invites.Len()),
		zap.Int("repaired", repaired),
		zap.Int("orphaned_invites", orphaned),
	)

	var keys []string
	if repaired > 0 {
		keys = append(keys, persistence.KeyCivilizations)
	}
	if orphaned > 0 {
		keys = append(keys, persistence.KeyCivilizationInvites)
	}
	if len(keys) > 0 {
		r.persistLocked(ctx, keys...)
	} else {
		r.world.SetCivilizations(len(r.civilizations))
	}
	return nil
}

// pruneOrphanInvitesLocked drops restored invites whose civilization was not
// restored or whose target religion no longer exists.
func (r *Registry) pruneOrphanInvitesLocked(invites []invitationdomain.Invite) int {
	removed := 0
	for _, invite := range invites {
		if _, ok := r.civilizations[invite.SourceID]; !ok {
			removed += r.invites.RemoveSource(invite.SourceID)
		}
		if _, ok := r.religions.LookupReligion(invite.TargetID); !ok {
			removed += r.invites.RemoveTarget(invite.TargetID)
		}
	}
	return removed
}

// Checkpoint stores every key and clears the dirty flag when all writes succeed.
func (r *Registry) Checkpoint(ctx context.Context) error {
	if r.gateway == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range []string{persistence.KeyCivilizations, persistence.KeyCivilizationInvites} {
		if err := r.storeLocked(ctx, key); err != nil {
			r.markDirty(true)
			r.metrics.RecordPersistFailure(ctx, metrics.RegistryCivilization, key, err)
			r.world.IncPersistError(metrics.RegistryCivilization, err)
			return fmt.Errorf("checkpoint %s: %w", key, err)
		}
	}
	r.markDirty(false)
	return nil
}

func (r *Registry) Dirty() bool {
	return r.dirty.Load()
}

func (r *Registry) markDirty(dirty bool) {
	r.dirty.Store(dirty)
	r.world.SetDirty(metrics.RegistryCivilization, dirty)
}
