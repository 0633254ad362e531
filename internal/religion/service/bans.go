package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/religion/domain"
	"go.uber.org/zap"
)

// maxBanDays clamps timed bans to roughly a thousand years either way.
const maxBanDays = 365_000

func banExpiry(now time.Time, days int) time.Time {
	days = max(min(days, maxBanDays), -maxBanDays)
	return now.AddDate(0, 0, days)
}

type BanRequest struct {
	ReligionID string
	PlayerID   string
	ActorID    string
	Reason     string
	// ExpiryDays nil means permanent. Zero or negative values produce a ban that is already inert.
	ExpiryDays *int
}

// BanPlayer records a ban and evicts the player if they are a member. Re-banning
// overwrites the previous record. The founder cannot be banned.
func (r *Registry) BanPlayer(ctx context.Context, req BanRequest) error {
	const op = "ban_player"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", req.ReligionID),
		zap.String("actor_id", req.ActorID),
		zap.String("player_id", req.PlayerID),
	}

	religion, err := r.authorizeLocked(req.ReligionID, req.ActorID, domain.PermBanPlayers)
	if err == nil {
		switch {
		case strings.TrimSpace(req.PlayerID) == "":
			err = domain.ErrInvalidPlayer
		case req.PlayerID == req.ActorID:
			err = domain.ErrCannotTargetSelf
		case religion.IsFounder(req.PlayerID):
			err = domain.ErrCannotBanFounder
		}
	}
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}

	now := r.clock.Now()
	ban := domain.BanRecord{
		PlayerID: req.PlayerID,
		BannedBy: req.ActorID,
		Reason:   strings.TrimSpace(req.Reason),
		BannedAt: now,
	}
	if req.ExpiryDays != nil {
		expires := banExpiry(now, *req.ExpiryDays)
		ban.ExpiresAt = &expires
	}
	religion.ApplyBan(ban)
	religion.UpdatedAt = now

	keys := []string{persistence.KeyReligions}
	if invite, ok := r.invites.Find(req.ReligionID, req.PlayerID); ok {
		r.invites.Remove(invite.ID)
		keys = append(keys, persistence.KeyReligionInvites)
	}
	r.persistLocked(ctx, keys...)

	r.log.Info("player banned", append(fields, zap.Bool("permanent", ban.IsPermanent()))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// UnbanPlayer lifts an active ban.
func (r *Registry) UnbanPlayer(ctx context.Context, religionID, playerID, actorID string) error {
	const op = "unban_player"
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := []zap.Field{
		zap.String("religion_id", religionID),
		zap.String("actor_id", actorID),
		zap.String("player_id", playerID),
	}

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermBanPlayers)
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}
	religion.PurgeExpiredBans(r.clock.Now())
	if _, ok := religion.Bans[playerID]; !ok {
		return r.reject(ctx, op, domain.ErrNotBanned, fields...)
	}
	delete(religion.Bans, playerID)
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)

	r.log.Info("player unbanned", fields...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// IsBanned reports whether playerID is under an active ban. Expired bans are purged.
func (r *Registry) IsBanned(religionID, playerID string) bool {
	_, ok := r.GetBanDetails(religionID, playerID)
	return ok
}

// GetBanDetails returns the active ban for playerID.
func (r *Registry) GetBanDetails(religionID, playerID string) (domain.BanRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, ok := r.religions[religionID]
	if !ok {
		return domain.BanRecord{}, false
	}
	now := r.clock.Now()
	religion.PurgeExpiredBans(now)
	ban, ok := religion.ActiveBan(playerID, now)
	if !ok {
		return domain.BanRecord{}, false
	}
	return cloneBan(ban), true
}

// GetBannedPlayers lists active bans, oldest first.
func (r *Registry) GetBannedPlayers(religionID string) []domain.BanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, ok := r.religions[religionID]
	if !ok {
		return nil
	}
	religion.PurgeExpiredBans(r.clock.Now())
	out := make([]domain.BanRecord, 0, len(religion.Bans))
	for _, ban := range religion.Bans {
		out = append(out, cloneBan(ban))
	}
	slices.SortFunc(out, func(a, b domain.BanRecord) int {
		if c := a.BannedAt.Compare(b.BannedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	return out
}

func cloneBan(ban domain.BanRecord) domain.BanRecord {
	if ban.ExpiresAt != nil {
		expires := *ban.ExpiresAt
		ban.ExpiresAt = &expires
	}
	return ban
}
