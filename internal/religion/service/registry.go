package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/config"
	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/smallbiznis/pantheon/internal/identity"
	"github.com/smallbiznis/pantheon/internal/invitation"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/religion/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DeletionListener is told about a religion after it has left the registry.
type DeletionListener func(ctx context.Context, religionID string)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Identity   identity.Resolver
	Gateway    persistence.Gateway
	Metrics    *metrics.Metrics         `optional:"true"`
	World      *metrics.WorldMetrics    `optional:"true"`
	Governance *config.GovernanceHolder `optional:"true"`
}

// Registry owns every religion and the religion invitation store.
//
// All mutations run under mu and write through to the gateway before mu is
// released. Deletion listeners run after mu is released.
type Registry struct {
	mu         sync.RWMutex
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	identity   identity.Resolver
	gateway    persistence.Gateway
	metrics    *metrics.Metrics
	world      *metrics.WorldMetrics
	governance *config.GovernanceHolder

	religions map[string]*domain.Religion
	invites   *invitation.Store
	dirty     atomic.Bool

	listenersMu sync.Mutex
	listeners   []DeletionListener
}

func New(p Params) *Registry {
	r := &Registry{
		log:        p.Log.Named("religion.registry"),
		genID:      p.GenID,
		clock:      p.Clock,
		identity:   p.Identity,
		gateway:    p.Gateway,
		metrics:    p.Metrics,
		world:      p.World,
		governance: p.Governance,
		religions:  make(map[string]*domain.Religion),
		invites:    invitation.NewStore(p.Clock, p.Governance.Get().InviteWindow()),
	}
	p.Governance.Subscribe(func(cfg config.GovernanceConfig) {
		r.invites.SetWindow(cfg.InviteWindow())
	})
	return r
}

// Subscribe registers a listener for religion deletion.
func (r *Registry) Subscribe(fn DeletionListener) {
	if fn == nil {
		return
	}
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notifyDeleted(ctx context.Context, religionID string) {
	r.listenersMu.Lock()
	listeners := append([]DeletionListener(nil), r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ctx, religionID)
	}
}

type CreateReligionRequest struct {
	Name      string
	Deity     deity.Deity
	FounderID string
	IsPublic  bool
}

// CreateReligion founds a religion whose sole member is the founder.
func (r *Registry) CreateReligion(ctx context.Context, req CreateReligionRequest) (*domain.Religion, error) {
	const op = "create_religion"
	founderID := strings.TrimSpace(req.FounderID)
	founderName, ok := r.resolveName(ctx, founderID)
	if founderID != "" && !ok {
		return nil, r.reject(ctx, op, domain.ErrPlayerUnknown, zap.String("player_id", founderID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	religion, err := domain.NewReligion(r.genID.Generate().String(), req.Name, req.Deity, founderID, founderName, req.IsPublic, r.clock.Now())
	if err != nil {
		return nil, r.reject(ctx, op, err, zap.String("player_id", founderID))
	}
	if r.nameTakenLocked(religion.Name, "") {
		return nil, r.reject(ctx, op, domain.ErrNameTaken, zap.String("name", religion.Name))
	}
	religion.Slug = r.slugForLocked(religion.Name, religion.ID)
	if r.playerReligionLocked(founderID) != nil {
		return nil, r.reject(ctx, op, domain.ErrAlreadyInReligion, zap.String("player_id", founderID))
	}

	r.religions[religion.ID] = religion
	r.invites.RemoveTarget(founderID)
	r.persistLocked(ctx, persistence.KeyReligions, persistence.KeyReligionInvites)

	r.log.Info("religion created",
		zap.String("religion_id", religion.ID),
		zap.String("name", religion.Name),
		zap.Stringer("deity", religion.Deity),
		zap.String("player_id", founderID),
	)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return religion.Clone(), nil
}

// AddMember puts a player into a religion. It does not apply join policy; callers
// check HasReligion and IsBanned (or CanJoinReligion) first.
func (r *Registry) AddMember(ctx context.Context, religionID, playerID string) error {
	const op = "add_member"
	name, ok := r.resolveName(ctx, playerID)
	if !ok {
		return r.reject(ctx, op, domain.ErrPlayerUnknown, zap.String("player_id", playerID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	religion, ok := r.religions[religionID]
	if !ok {
		return r.reject(ctx, op, domain.ErrReligionNotFound, zap.String("religion_id", religionID))
	}
	if !religion.AddMember(playerID, name, "") {
		return nil
	}
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// RemoveMember takes a player out of a religion, running founder succession and
// deleting the religion once it is empty. It reports false when nothing changed.
func (r *Registry) RemoveMember(ctx context.Context, religionID, playerID string) bool {
	r.mu.Lock()
	removed, deleted := r.removeMemberLocked(ctx, religionID, playerID)
	r.mu.Unlock()

	if deleted {
		r.notifyDeleted(ctx, religionID)
	}
	return removed
}

func (r *Registry) removeMemberLocked(ctx context.Context, religionID, playerID string) (removed, deleted bool) {
	religion, ok := r.religions[religionID]
	if !ok || !religion.RemoveMember(playerID) {
		r.log.Debug("remove member ignored",
			zap.String("religion_id", religionID),
			zap.String("player_id", playerID),
		)
		return false, false
	}

	if religion.MemberCount() == 0 {
		delete(r.religions, religionID)
		r.invites.RemoveSource(religionID)
		r.persistLocked(ctx, persistence.KeyReligions, persistence.KeyReligionInvites)
		r.log.Info("religion emptied and removed", zap.String("religion_id", religionID))
		r.metrics.RecordOperation(ctx, metrics.RegistryReligion, "remove_member", nil)
		return true, true
	}

	if religion.IsFounder(playerID) {
		religion.PromoteNextFounder()
		r.log.Info("founder succession",
			zap.String("religion_id", religionID),
			zap.String("previous_founder", playerID),
			zap.String("founder_id", religion.FounderID),
		)
	}
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, "remove_member", nil)
	return true, false
}

// LeaveReligion removes the player from whichever religion they belong to.
func (r *Registry) LeaveReligion(ctx context.Context, playerID string) error {
	r.mu.Lock()
	religion := r.playerReligionLocked(playerID)
	if religion == nil {
		r.mu.Unlock()
		return r.reject(ctx, "leave_religion", domain.ErrNotMember, zap.String("player_id", playerID))
	}
	religionID := religion.ID
	_, deleted := r.removeMemberLocked(ctx, religionID, playerID)
	r.mu.Unlock()

	if deleted {
		r.notifyDeleted(ctx, religionID)
	}
	return nil
}

// KickMember removes targetID on behalf of actorID. The founder cannot be kicked.
func (r *Registry) KickMember(ctx context.Context, religionID, actorID, targetID string) error {
	const op = "kick_member"
	r.mu.Lock()
	religion, err := r.authorizeLocked(religionID, actorID, domain.PermKickMembers)
	if err == nil {
		switch {
		case actorID == targetID:
			err = domain.ErrCannotTargetSelf
		case religion.IsFounder(targetID):
			err = domain.ErrCannotKickFounder
		case !religion.IsMember(targetID):
			err = domain.ErrNotMember
		}
	}
	if err != nil {
		r.mu.Unlock()
		return r.reject(ctx, op, err,
			zap.String("religion_id", religionID),
			zap.String("actor_id", actorID),
			zap.String("player_id", targetID),
		)
	}
	r.removeMemberLocked(ctx, religionID, targetID)
	r.mu.Unlock()

	r.log.Info("member kicked",
		zap.String("religion_id", religionID),
		zap.String("actor_id", actorID),
		zap.String("player_id", targetID),
	)
	return nil
}

// DeleteReligion disbands a religion. Only its current founder may do so.
func (r *Registry) DeleteReligion(ctx context.Context, religionID, requesterID string) error {
	const op = "delete_religion"
	r.mu.Lock()
	religion, ok := r.religions[religionID]
	if !ok {
		r.mu.Unlock()
		return r.reject(ctx, op, domain.ErrReligionNotFound, zap.String("religion_id", religionID))
	}
	if !religion.IsFounder(requesterID) {
		r.mu.Unlock()
		return r.reject(ctx, op, domain.ErrNotFounder,
			zap.String("religion_id", religionID),
			zap.String("actor_id", requesterID),
		)
	}
	delete(r.religions, religionID)
	r.invites.RemoveSource(religionID)
	r.persistLocked(ctx, persistence.KeyReligions, persistence.KeyReligionInvites)
	r.mu.Unlock()

	r.log.Info("religion disbanded",
		zap.String("religion_id", religionID),
		zap.String("actor_id", requesterID),
	)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	r.notifyDeleted(ctx, religionID)
	return nil
}

// TransferFounder hands founder authority to another member.
func (r *Registry) TransferFounder(ctx context.Context, religionID, actorID, newFounderID string) error {
	const op = "transfer_founder"
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, ok := r.religions[religionID]
	var err error
	switch {
	case !ok:
		err = domain.ErrReligionNotFound
	case !religion.IsFounder(actorID):
		err = domain.ErrNotFounder
	case actorID == newFounderID:
		err = domain.ErrCannotTargetSelf
	case !religion.IsMember(newFounderID):
		err = domain.ErrNotMember
	}
	if err != nil {
		return r.reject(ctx, op, err,
			zap.String("religion_id", religionID),
			zap.String("actor_id", actorID),
			zap.String("player_id", newFounderID),
		)
	}

	religion.SetFounder(newFounderID)
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.log.Info("founder transferred",
		zap.String("religion_id", religionID),
		zap.String("actor_id", actorID),
		zap.String("founder_id", newFounderID),
	)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// RenameReligion changes the display name, keeping names unique.
func (r *Registry) RenameReligion(ctx context.Context, religionID, actorID, name string) error {
	const op = "rename_religion"
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermEditReligion)
	if err != nil {
		return r.reject(ctx, op, err, zap.String("religion_id", religionID), zap.String("actor_id", actorID))
	}
	name, err = domain.NormalizeName(name)
	if err != nil {
		return r.reject(ctx, op, err, zap.String("religion_id", religionID))
	}
	if r.nameTakenLocked(name, religionID) {
		return r.reject(ctx, op, domain.ErrNameTaken, zap.String("name", name))
	}

	religion.Name = name
	religion.Slug = r.slugForLocked(name, religionID)
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

func (r *Registry) SetVisibility(ctx context.Context, religionID, actorID string, isPublic bool) error {
	const op = "set_visibility"
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermEditReligion)
	if err != nil {
		return r.reject(ctx, op, err, zap.String("religion_id", religionID), zap.String("actor_id", actorID))
	}
	if religion.IsPublic == isPublic {
		return nil
	}
	religion.IsPublic = isPublic
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

func (r *Registry) SetDescription(ctx context.Context, religionID, actorID, description string) error {
	const op = "set_description"
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, err := r.authorizeLocked(religionID, actorID, domain.PermEditReligion)
	if err != nil {
		return r.reject(ctx, op, err, zap.String("religion_id", religionID), zap.String("actor_id", actorID))
	}
	description, err = domain.NormalizeDescription(description)
	if err != nil {
		return r.reject(ctx, op, err, zap.String("religion_id", religionID))
	}
	religion.Description = description
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// AddPrestige is the write-back hook for the prestige economy. Negative amounts spend prestige.
func (r *Registry) AddPrestige(ctx context.Context, religionID string, amount int64) error {
	const op = "add_prestige"
	if amount == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	religion, ok := r.religions[religionID]
	if !ok {
		return r.reject(ctx, op, domain.ErrReligionNotFound, zap.String("religion_id", religionID))
	}
	previous := religion.PrestigeRank
	religion.AddPrestige(amount, r.governance.Get().PrestigeRankThresholds)
	religion.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyReligions)

	if religion.PrestigeRank != previous {
		r.log.Info("prestige rank changed",
			zap.String("religion_id", religionID),
			zap.Stringer("from", previous),
			zap.Stringer("to", religion.PrestigeRank),
		)
	}
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, nil)
	return nil
}

// GetReligion returns a copy of the religion.
func (r *Registry) GetReligion(religionID string) (*domain.Religion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	religion, ok := r.religions[religionID]
	if !ok {
		return nil, false
	}
	return religion.Clone(), true
}

// GetReligionByName looks a religion up by case-insensitive name.
func (r *Registry) GetReligionByName(name string) (*domain.Religion, bool) {
	key := domain.NameKey(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, religion := range r.religions {
		if domain.NameKey(religion.Name) == key {
			return religion.Clone(), true
		}
	}
	return nil, false
}

func (r *Registry) GetReligionBySlug(value string) (*domain.Religion, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, religion := range r.religions {
		if religion.Slug == value {
			return religion.Clone(), true
		}
	}
	return nil, false
}

// GetPlayerReligion returns the religion the player belongs to.
func (r *Registry) GetPlayerReligion(playerID string) (*domain.Religion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	religion := r.playerReligionLocked(playerID)
	if religion == nil {
		return nil, false
	}
	return religion.Clone(), true
}

func (r *Registry) HasReligion(playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playerReligionLocked(playerID) != nil
}

// GetAllReligions returns copies of every religion, oldest first.
func (r *Registry) GetAllReligions() []*domain.Religion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Religion, 0, len(r.religions))
	for _, religion := range r.religions {
		out = append(out, religion.Clone())
	}
	domain.SortReligions(out)
	return out
}

// MemberCount returns the live member count of a religion.
func (r *Registry) MemberCount(religionID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	religion, ok := r.religions[religionID]
	if !ok {
		return 0, false
	}
	return religion.MemberCount(), true
}

// CanJoinReligion is the join policy: not already a member, not banned, and the
// religion is public or the player holds a live invite.
func (r *Registry) CanJoinReligion(religionID, playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	religion, ok := r.religions[religionID]
	if !ok || religion.IsMember(playerID) {
		return false
	}
	if _, banned := religion.ActiveBan(playerID, r.clock.Now()); banned {
		return false
	}
	return religion.IsPublic || r.invites.HasPending(religionID, playerID)
}

func (r *Registry) HasPermission(religionID, playerID string, perm domain.Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	religion, ok := r.religions[religionID]
	return ok && religion.HasPermission(playerID, perm)
}

func (r *Registry) playerReligionLocked(playerID string) *domain.Religion {
	if playerID == "" {
		return nil
	}
	var found *domain.Religion
	for _, religion := range r.religions {
		if !religion.IsMember(playerID) {
			continue
		}
		// single membership holds by policy; pick deterministically if it was bypassed
		if found == nil || religion.CreatedAt.Before(found.CreatedAt) ||
			(religion.CreatedAt.Equal(found.CreatedAt) && religion.ID < found.ID) {
			found = religion
		}
	}
	return found
}

func (r *Registry) nameTakenLocked(name, exceptID string) bool {
	key := domain.NameKey(name)
	for id, religion := range r.religions {
		if id != exceptID && domain.NameKey(religion.Name) == key {
			return true
		}
	}
	return false
}

// slugForLocked derives the route slug for name. An empty slug falls back to the
// id; a slug already held by another religion gets the id appended.
func (r *Registry) slugForLocked(name, id string) string {
	base := slug.Make(name)
	if base == "" {
		return id
	}
	for otherID, other := range r.religions {
		if otherID != id && other.Slug == base {
			return base + "-" + id
		}
	}
	return base
}

// authorizeLocked resolves the religion and checks that actorID holds perm in it.
func (r *Registry) authorizeLocked(religionID, actorID string, perm domain.Permission) (*domain.Religion, error) {
	religion, ok := r.religions[religionID]
	if !ok {
		return nil, domain.ErrReligionNotFound
	}
	if !religion.IsMember(actorID) {
		return nil, domain.ErrNotMember
	}
	if !religion.HasPermission(actorID, perm) {
		return nil, domain.ErrForbidden
	}
	return religion, nil
}

func (r *Registry) resolveName(ctx context.Context, playerID string) (string, bool) {
	if strings.TrimSpace(playerID) == "" || r.identity == nil {
		return "", false
	}
	return r.identity.ResolvePlayerName(ctx, playerID)
}

func (r *Registry) reject(ctx context.Context, op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("operation", op), zap.Error(err))
	r.log.Debug("religion operation rejected", fields...)
	r.metrics.RecordOperation(ctx, metrics.RegistryReligion, op, err)
	return err
}
