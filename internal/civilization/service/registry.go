package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/config"
	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/smallbiznis/pantheon/internal/invitation"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	disbandRequested   = "requested"
	disbandBelowFloor  = "below_floor"
	disbandAnchorGone  = "anchor_deleted"
	disbandAnchorStale = "anchor_missing"
)

// ReligionLookup is the read-only view of the religion registry. Implementations
// must not call back into the civilization registry.
type ReligionLookup interface {
	LookupReligion(religionID string) (domain.ReligionView, bool)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Religions  ReligionLookup
	Gateway    persistence.Gateway
	Metrics    *metrics.Metrics         `optional:"true"`
	World      *metrics.WorldMetrics    `optional:"true"`
	Governance *config.GovernanceHolder `optional:"true"`
}

// Registry owns every active civilization and the civilization invitation store.
//
// Mutations hold mu for the whole check-mutate-persist sequence. The religion
// lookup is called with mu held; it takes only the religion registry's lock.
type Registry struct {
	mu         sync.RWMutex
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	religions  ReligionLookup
	gateway    persistence.Gateway
	metrics    *metrics.Metrics
	world      *metrics.WorldMetrics
	governance *config.GovernanceHolder

	civilizations map[string]*domain.Civilization
	invites       *invitation.Store
	dirty         atomic.Bool
}

func New(p Params) *Registry {
	r := &Registry{
		log:           p.Log.Named("civilization.registry"),
		genID:         p.GenID,
		clock:         p.Clock,
		religions:     p.Religions,
		gateway:       p.Gateway,
		metrics:       p.Metrics,
		world:         p.World,
		governance:    p.Governance,
		civilizations: make(map[string]*domain.Civilization),
		invites:       invitation.NewStore(p.Clock, p.Governance.Get().InviteWindow()),
	}
	p.Governance.Subscribe(func(cfg config.GovernanceConfig) {
		r.invites.SetWindow(cfg.InviteWindow())
	})
	return r
}

type CreateCivilizationRequest struct {
	Name       string
	FounderID  string
	ReligionID string
}

// CreateCivilization founds an alliance anchored on the founder's religion.
func (r *Registry) CreateCivilization(ctx context.Context, req CreateCivilizationRequest) (*domain.Civilization, error) {
	const op = "create_civilization"
	fields := []zap.Field{
		zap.String("religion_id", req.ReligionID),
		zap.String("actor_id", req.FounderID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limits := r.governance.Get()
	name, err := domain.NormalizeName(req.Name, nameRules(limits))
	if err != nil {
		return nil, r.reject(ctx, op, err, fields...)
	}
	if r.nameTakenLocked(name) {
		return nil, r.reject(ctx, op, domain.ErrNameTaken, append(fields, zap.String("name", name))...)
	}
	anchor, ok := r.religions.LookupReligion(req.ReligionID)
	if !ok {
		return nil, r.reject(ctx, op, domain.ErrReligionNotFound, fields...)
	}
	if strings.TrimSpace(req.FounderID) == "" || anchor.FounderID != req.FounderID {
		return nil, r.reject(ctx, op, domain.ErrNotReligionFounder, fields...)
	}
	if r.civilizationForLocked(anchor.ID) != nil {
		return nil, r.reject(ctx, op, domain.ErrAlreadyInCivilization, fields...)
	}

	civ, err := domain.NewCivilization(r.genID.Generate().String(), name, nameRules(limits), anchor, r.clock.Now())
	if err != nil {
		return nil, r.reject(ctx, op, err, fields...)
	}
	civ.Slug = r.slugForLocked(civ.Name, civ.ID)
	r.civilizations[civ.ID] = civ
	r.invites.RemoveTarget(anchor.ID)
	r.persistLocked(ctx, persistence.KeyCivilizations, persistence.KeyCivilizationInvites)

	r.log.Info("civilization created", append(fields,
		zap.String("civilization_id", civ.ID),
		zap.String("name", civ.Name),
	)...)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return civ.Clone(), nil
}

// LeaveReligion takes a religion out of its civilization at its founder's request.
// The anchor cannot leave; its founder disbands instead.
func (r *Registry) LeaveReligion(ctx context.Context, religionID, requesterID string) error {
	const op = "leave_civilization"
	fields := []zap.Field{zap.String("religion_id", religionID), zap.String("actor_id", requesterID)}

	r.mu.Lock()
	defer r.mu.Unlock()

	civ := r.civilizationForLocked(religionID)
	if civ == nil {
		return r.reject(ctx, op, domain.ErrNotInCivilization, fields...)
	}
	religion, ok := r.religions.LookupReligion(religionID)
	if !ok {
		return r.reject(ctx, op, domain.ErrReligionNotFound, fields...)
	}
	if religion.FounderID != requesterID {
		return r.reject(ctx, op, domain.ErrNotReligionFounder, fields...)
	}
	if civ.IsAnchor(religionID) {
		return r.reject(ctx, op, domain.ErrAnchorCannotLeave, fields...)
	}

	r.removeReligionLocked(ctx, civ, religionID)
	r.log.Info("religion left civilization", append(fields, zap.String("civilization_id", civ.ID))...)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return nil
}

// KickReligion removes a member religion on behalf of the anchor's founder.
func (r *Registry) KickReligion(ctx context.Context, civID, religionID, kickerID string) error {
	const op = "kick_religion"
	fields := []zap.Field{
		zap.String("civilization_id", civID),
		zap.String("religion_id", religionID),
		zap.String("actor_id", kickerID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	civ, err := r.authorizeLocked(civID, kickerID)
	if err == nil {
		switch {
		case civ.IsAnchor(religionID):
			err = domain.ErrCannotKickAnchor
		case !civ.HasReligion(religionID):
			err = domain.ErrNotInCivilization
		}
	}
	if err != nil {
		return r.reject(ctx, op, err, fields...)
	}

	r.removeReligionLocked(ctx, civ, religionID)
	r.log.Info("religion kicked from civilization", fields...)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return nil
}

// DisbandCivilization dissolves the alliance and drops its pending invites.
func (r *Registry) DisbandCivilization(ctx context.Context, civID, requesterID string) error {
	const op = "disband_civilization"
	r.mu.Lock()
	defer r.mu.Unlock()

	civ, err := r.authorizeLocked(civID, requesterID)
	if err != nil {
		return r.reject(ctx, op, err, zap.String("civilization_id", civID), zap.String("actor_id", requesterID))
	}
	r.disbandLocked(ctx, civ, disbandRequested)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, nil)
	return nil
}

// OnReligionDeleted drops a vanished religion from its civilization. Losing the
// anchor, or falling under the floor, disbands the civilization.
func (r *Registry) OnReligionDeleted(ctx context.Context, religionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := []string{}
	if r.invites.RemoveTarget(religionID) > 0 {
		keys = append(keys, persistence.KeyCivilizationInvites)
	}
	civ := r.civilizationForLocked(religionID)
	if civ == nil {
		if len(keys) > 0 {
			r.persistLocked(ctx, keys...)
		}
		return
	}

	if civ.IsAnchor(religionID) {
		r.log.Info("anchor religion deleted",
			zap.String("civilization_id", civ.ID),
			zap.String("religion_id", religionID),
		)
		r.disbandLocked(ctx, civ, disbandAnchorGone)
		return
	}
	r.removeReligionLocked(ctx, civ, religionID)
}

// UpdateMemberCounts recomputes every aggregate member count from live religion
// data and refreshes the cached anchor founder. It returns how many civilizations changed.
func (r *Registry) UpdateMemberCounts(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, civ := range r.civilizations {
		if _, ok := r.religions.LookupReligion(civ.AnchorReligionID); !ok {
			r.log.Warn("civilization anchor missing", zap.String("civilization_id", civ.ID))
			r.disbandLocked(ctx, civ, disbandAnchorStale)
			changed++
			continue
		}
		if r.refreshLocked(civ) {
			civ.UpdatedAt = r.clock.Now()
			changed++
		}
	}
	if changed > 0 {
		r.persistLocked(ctx, persistence.KeyCivilizations)
	}
	return changed
}

// GetCivilization returns a copy of the civilization.
func (r *Registry) GetCivilization(civID string) (*domain.Civilization, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	civ, ok := r.civilizations[civID]
	if !ok {
		return nil, false
	}
	return civ.Clone(), true
}

func (r *Registry) GetCivilizationByName(name string) (*domain.Civilization, bool) {
	key := domain.NameKey(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, civ := range r.civilizations {
		if domain.NameKey(civ.Name) == key {
			return civ.Clone(), true
		}
	}
	return nil, false
}

func (r *Registry) GetCivilizationBySlug(value string) (*domain.Civilization, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, civ := range r.civilizations {
		if civ.Slug == value {
			return civ.Clone(), true
		}
	}
	return nil, false
}

// GetCivilizationForReligion returns the civilization a religion belongs to.
func (r *Registry) GetCivilizationForReligion(religionID string) (*domain.Civilization, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	civ := r.civilizationForLocked(religionID)
	if civ == nil {
		return nil, false
	}
	return civ.Clone(), true
}

// GetAllCivilizations returns copies of every active civilization, oldest first.
func (r *Registry) GetAllCivilizations() []*domain.Civilization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Civilization, 0, len(r.civilizations))
	for _, civ := range r.civilizations {
		out = append(out, civ.Clone())
	}
	domain.SortCivilizations(out)
	return out
}

func (r *Registry) removeReligionLocked(ctx context.Context, civ *domain.Civilization, religionID string) {
	civ.RemoveReligion(religionID)
	if civ.ReligionCount() < r.minReligions() {
		r.log.Info("civilization fell below floor",
			zap.String("civilization_id", civ.ID),
			zap.Int("religions", civ.ReligionCount()),
		)
		r.disbandLocked(ctx, civ, disbandBelowFloor)
		return
	}
	r.refreshLocked(civ)
	civ.UpdatedAt = r.clock.Now()
	r.persistLocked(ctx, persistence.KeyCivilizations)
}

func (r *Registry) disbandLocked(ctx context.Context, civ *domain.Civilization, reason string) {
	civ.MarkDisbanded(r.clock.Now())
	delete(r.civilizations, civ.ID)
	purged := r.invites.RemoveSource(civ.ID)
	r.persistLocked(ctx, persistence.KeyCivilizations, persistence.KeyCivilizationInvites)

	r.log.Info("civilization disbanded",
		zap.String("civilization_id", civ.ID),
		zap.String("reason", reason),
		zap.Int("invites_purged", purged),
		zap.Time("disbanded_at", *civ.DisbandedAt),
	)
	if reason != disbandRequested {
		r.metrics.RecordAutoDisband(ctx, reason)
	}
}

// refreshLocked recomputes the aggregate count and cached founder. It reports whether either changed.
func (r *Registry) refreshLocked(civ *domain.Civilization) bool {
	total := 0
	for _, id := range civ.ReligionIDs {
		if religion, ok := r.religions.LookupReligion(id); ok {
			total += religion.MemberCount
		}
	}
	founder := civ.FounderPlayerID
	if anchor, ok := r.religions.LookupReligion(civ.AnchorReligionID); ok {
		founder = anchor.FounderID
	}
	changed := total != civ.MemberCount || founder != civ.FounderPlayerID
	civ.MemberCount = total
	civ.FounderPlayerID = founder
	return changed
}

// authorizeLocked resolves the civilization and checks that actorID currently
// founds its anchor religion.
func (r *Registry) authorizeLocked(civID, actorID string) (*domain.Civilization, error) {
	civ, ok := r.civilizations[civID]
	if !ok {
		return nil, domain.ErrCivilizationNotFound
	}
	anchor, ok := r.religions.LookupReligion(civ.AnchorReligionID)
	if !ok {
		return nil, domain.ErrReligionNotFound
	}
	if actorID == "" || anchor.FounderID != actorID {
		return nil, domain.ErrNotAnchorFounder
	}
	return civ, nil
}

func (r *Registry) civilizationForLocked(religionID string) *domain.Civilization {
	if religionID == "" {
		return nil
	}
	for _, civ := range r.civilizations {
		if civ.HasReligion(religionID) {
			return civ
		}
	}
	return nil
}

func (r *Registry) nameTakenLocked(name string) bool {
	key := domain.NameKey(name)
	for _, civ := range r.civilizations {
		if domain.NameKey(civ.Name) == key {
			return true
		}
	}
	return false
}

// slugForLocked derives the route slug for name. An empty slug falls back to the
// id; a slug already held by another civilization gets the id appended.
func (r *Registry) slugForLocked(name, id string) string {
	base := slug.Make(name)
	if base == "" {
		return id
	}
	for otherID, other := range r.civilizations {
		if otherID != id && other.Slug == base {
			return base + "-" + id
		}
	}
	return base
}

// deityTakenLocked reports whether d is already represented in civ.
func (r *Registry) deityTakenLocked(civ *domain.Civilization, d deity.Deity) bool {
	for _, id := range civ.ReligionIDs {
		if religion, ok := r.religions.LookupReligion(id); ok && religion.Deity == d {
			return true
		}
	}
	return false
}

func (r *Registry) minReligions() int {
	return r.governance.Get().CivilizationMinReligions
}

func (r *Registry) maxReligions() int {
	return r.governance.Get().CivilizationMaxReligions
}

func nameRules(cfg config.GovernanceConfig) domain.NameRules {
	return domain.NameRules{
		MinLength: cfg.CivilizationNameMinLength,
		MaxLength: cfg.CivilizationNameMaxLength,
	}
}

func (r *Registry) reject(ctx context.Context, op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("operation", op), zap.Error(err))
	r.log.Debug("civilization operation rejected", fields...)
	r.metrics.RecordOperation(ctx, metrics.RegistryCivilization, op, err)
	return err
}
