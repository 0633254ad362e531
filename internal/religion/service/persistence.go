package service

import (
	"context"
	"fmt"

	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/religion/domain"
	"go.uber.org/zap"
)

// persistLocked writes the named keys through to the gateway. A failed write keeps
// the in-memory change and marks the registry dirty for the next checkpoint.
func (r *Registry) persistLocked(ctx context.Context, keys ...string) {
	r.refreshGaugesLocked()
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
			r.metrics.RecordPersistFailure(ctx, metrics.RegistryReligion, key, err)
			r.world.IncPersistError(metrics.RegistryReligion, err)
		}
	}
}

func (r *Registry) storeLocked(ctx context.Context, key string) error {
	switch key {
	case persistence.KeyReligions:
		return persistence.StoreFrom(ctx, r.gateway, key, r.snapshotLocked())
	case persistence.KeyReligionInvites:
		return persistence.StoreFrom(ctx, r.gateway, key, r.invites.Snapshot())
	default:
		return fmt.Errorf("%w: %s", persistence.ErrInvalidKey, key)
	}
}

func (r *Registry) snapshotLocked() domain.Snapshot {
	religions := make([]*domain.Religion, 0, len(r.religions))
	for _, religion := range r.religions {
		religions = append(religions, religion)
	}
	domain.SortReligions(religions)
	return domain.Snapshot{Religions: religions}
}

// Snapshot returns a deep copy of the registry state.
func (r *Registry) Snapshot() (domain.Snapshot, []invitationdomain.Invite) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshotLocked()
	for i, religion := range snap.Religions {
		snap.Religions[i] = religion.Clone()
	}
	return snap, r.invites.Snapshot()
}

// Load replaces in-memory state with what the gateway holds. Invariants are
// repaired on the way in and the repaired state is written back.
func (r *Registry) Load(ctx context.Context) error {
	if r.gateway == nil {
		return nil
	}

	var snap domain.Snapshot
	if _, err := persistence.LoadInto(ctx, r.gateway, persistence.KeyReligions, &snap); err != nil {
		return fmt.Errorf("load religions: %w", err)
	}
	var invites []invitationdomain.Invite
	if _, err := persistence.LoadInto(ctx, r.gateway, persistence.KeyReligionInvites, &invites); err != nil {
		return fmt.Errorf("load religion invites: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	repaired := 0
	religions := make(map[string]*domain.Religion, len(snap.Religions))
	for _, religion := range snap.Religions {
		if religion == nil || religion.ID == "" {
			continue
		}
		if religion.Repair(now) {
			repaired++
		}
		if religion.MemberCount() == 0 {
			r.log.Warn("dropping empty religion on load", zap.String("religion_id", religion.ID))
			repaired++
			continue
		}
		religions[religion.ID] = religion
	}
	r.religions = religions
	r.invites.Restore(invites)
	orphaned := r.pruneOrphanInvitesLocked(invites)

	r.log.Info("religion state loaded",
		zap.Int("religions", len(r.religions)),
		zap.Int("invites", r.invites.Len()),
		zap.Int("repaired", repaired),
		zap.Int("orphaned_invites", orphaned),
	)

	var keys []string
	if repaired > 0 {
		keys = append(keys, persistence.KeyReligions)
	}
	if orphaned > 0 {
		keys = append(keys, persistence.KeyReligionInvites)
	}
	if len(keys) > 0 {
		r.persistLocked(ctx, keys...)
	} else {
		r.refreshGaugesLocked()
	}
	return nil
}

// pruneOrphanInvitesLocked drops restored invites whose religion did not survive the load.
func (r *Registry) pruneOrphanInvitesLocked(invites []invitationdomain.Invite) int {
	removed := 0
	for _, invite := range invites {
		if _, ok := r.religions[invite.SourceID]; !ok {
			removed += r.invites.RemoveSource(invite.SourceID)
		}
	}
	return removed
}

// Checkpoint stores every key. It clears the dirty flag only when all writes succeed.
func (r *Registry) Checkpoint(ctx context.Context) error {
	if r.gateway == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range []string{persistence.KeyReligions, persistence.KeyReligionInvites} {
		if err := r.storeLocked(ctx, key); err != nil {
			r.markDirty(true)
			r.metrics.RecordPersistFailure(ctx, metrics.RegistryReligion, key, err)
			r.world.IncPersistError(metrics.RegistryReligion, err)
			return fmt.Errorf("checkpoint %s: %w", key, err)
		}
	}
	r.markDirty(false)
	return nil
}

// Dirty reports whether a write-through failed since the last successful checkpoint.
func (r *Registry) Dirty() bool {
	return r.dirty.Load()
}

func (r *Registry) markDirty(dirty bool) {
	r.dirty.Store(dirty)
	r.world.SetDirty(metrics.RegistryReligion, dirty)
}

func (r *Registry) refreshGaugesLocked() {
	if r.world == nil {
		return
	}
	members := 0
	for _, religion := range r.religions {
		members += religion.MemberCount()
	}
	r.world.SetReligions(len(r.religions), members)
}
