// Package invitation implements the time-bounded, deduplicated pending-invite list.
// Religion invites (player targets) and civilization invites (religion targets) are
// two independent Store instances.
package invitation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/invitation/domain"
)

// Store holds pending invites keyed by id. Expiry is evaluated lazily on every read.
type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	window  time.Duration
	invites map[string]domain.Invite
}

func NewStore(clk clock.Clock, window time.Duration) *Store {
	if window <= 0 {
		window = domain.DefaultWindow
	}
	return &Store{
		clock:   clk,
		window:  window,
		invites: make(map[string]domain.Invite),
	}
}

// Window returns the validity window applied to every invite in the store.
func (s *Store) Window() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// SetWindow changes the validity window; existing invites are re-evaluated against it.
func (s *Store) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = window
}

// Add creates an invite from source to target, rejecting a second live invite for the pair.
func (s *Store) Add(sourceID, targetID string) (domain.Invite, error) {
	sourceID = strings.TrimSpace(sourceID)
	targetID = strings.TrimSpace(targetID)
	if sourceID == "" || targetID == "" {
		return domain.Invite{}, domain.ErrInvalidEndpoint
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, inv := range s.invites {
		if inv.SourceID != sourceID || inv.TargetID != targetID {
			continue
		}
		if !domain.IsExpired(inv, now, s.window) {
			return domain.Invite{}, domain.ErrDuplicateInvite
		}
		delete(s.invites, id)
	}

	inv := domain.Invite{
		ID:        ulid.Make().String(),
		SourceID:  sourceID,
		TargetID:  targetID,
		CreatedAt: now,
	}
	s.invites[inv.ID] = inv
	return inv, nil
}

// HasPending reports whether a live invite exists for the pair.
func (s *Store) HasPending(sourceID, targetID string) bool {
	_, ok := s.Find(sourceID, targetID)
	return ok
}

// Find returns the live invite for the pair, if any.
func (s *Store) Find(sourceID, targetID string) (domain.Invite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	for _, inv := range s.invites {
		if inv.SourceID == sourceID && inv.TargetID == targetID && !domain.IsExpired(inv, now, s.window) {
			return inv, true
		}
	}
	return domain.Invite{}, false
}

// Get returns a live invite by id. Expired invites are reported as absent.
func (s *Store) Get(id string) (domain.Invite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invites[id]
	if !ok || domain.IsExpired(inv, s.clock.Now(), s.window) {
		return domain.Invite{}, false
	}
	return inv, true
}

// Remove deletes an invite unconditionally. It reports whether anything was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[id]; !ok {
		return false
	}
	delete(s.invites, id)
	return true
}

// RemoveSource drops every invite issued by sourceID.
func (s *Store) RemoveSource(sourceID string) int {
	return s.removeWhere(func(inv domain.Invite) bool { return inv.SourceID == sourceID })
}

// RemoveTarget drops every invite addressed to targetID.
func (s *Store) RemoveTarget(targetID string) int {
	return s.removeWhere(func(inv domain.Invite) bool { return inv.TargetID == targetID })
}

// CleanupExpired removes every invite whose window has elapsed.
func (s *Store) CleanupExpired() int {
	now := s.clock.Now()
	return s.removeWhere(func(inv domain.Invite) bool {
		return domain.IsExpired(inv, now, s.window)
	})
}

// ListByTarget returns live invites addressed to targetID, oldest first.
func (s *Store) ListByTarget(targetID string) []domain.Invite {
	s.CleanupExpired()
	return s.list(func(inv domain.Invite) bool { return inv.TargetID == targetID })
}

// ListBySource returns live invites issued by sourceID, oldest first.
func (s *Store) ListBySource(sourceID string) []domain.Invite {
	s.CleanupExpired()
	return s.list(func(inv domain.Invite) bool { return inv.SourceID == sourceID })
}

// Snapshot returns every stored invite, including ones that have expired but not been swept.
func (s *Store) Snapshot() []domain.Invite {
	return s.list(func(domain.Invite) bool { return true })
}

// Restore replaces the store content. Expired and malformed invites are dropped.
func (s *Store) Restore(invites []domain.Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.invites = make(map[string]domain.Invite, len(invites))
	for _, inv := range invites {
		if inv.ID == "" || inv.SourceID == "" || inv.TargetID == "" {
			continue
		}
		if domain.IsExpired(inv, now, s.window) {
			continue
		}
		s.invites[inv.ID] = inv
	}
}

// Len returns the number of stored invites.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invites)
}

func (s *Store) removeWhere(match func(domain.Invite) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, inv := range s.invites {
		if match(inv) {
			delete(s.invites, id)
			removed++
		}
	}
	return removed
}

func (s *Store) list(match func(domain.Invite) bool) []domain.Invite {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Invite, 0)
	for _, inv := range s.invites {
		if match(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
