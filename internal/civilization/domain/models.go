// Package domain contains the civilization aggregate.
package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/pantheon/internal/deity"
)

// Civilization is an alliance of religions with pairwise distinct deities.
//
// The anchor religion founded the civilization and is its only authority: whoever
// is the anchor's founder right now manages the alliance. FounderPlayerID is a
// cached copy of that player, refreshed by the registry.
type Civilization struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	AnchorReligionID string     `json:"anchor_religion_id"`
	FounderPlayerID  string     `json:"founder_player_id"`
	ReligionIDs      []string   `json:"religion_ids"`
	MemberCount      int        `json:"member_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DisbandedAt      *time.Time `json:"disbanded_at,omitempty"`
}

// ReligionView is the read-only slice of a religion the civilization rules need.
type ReligionView struct {
	ID          string
	Name        string
	Deity       deity.Deity
	FounderID   string
	MemberCount int
}

// NameRules bounds civilization names.
type NameRules struct {
	MinLength int
	MaxLength int
}

// NewCivilization builds a civilization whose only member is its anchor religion.
func NewCivilization(id, name string, rules NameRules, anchor ReligionView, now time.Time) (*Civilization, error) {
	name, err := NormalizeName(name, rules)
	if err != nil {
		return nil, err
	}
	return &Civilization{
		ID:               id,
		Name:             name,
		Slug:             slug.Make(name),
		AnchorReligionID: anchor.ID,
		FounderPlayerID:  anchor.FounderID,
		ReligionIDs:      []string{anchor.ID},
		MemberCount:      anchor.MemberCount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// NormalizeName trims name and checks its length against rules.
func NormalizeName(name string, rules NameRules) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "name", Err: ErrInvalidName}
	}
	n := len([]rune(name))
	if n < rules.MinLength {
		return "", &ValidationError{Field: "name", Err: ErrNameTooShort}
	}
	if rules.MaxLength > 0 && n > rules.MaxLength {
		return "", &ValidationError{Field: "name", Err: ErrNameTooLong}
	}
	return name, nil
}

func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (c *Civilization) HasReligion(religionID string) bool {
	return slices.Contains(c.ReligionIDs, religionID)
}

func (c *Civilization) IsAnchor(religionID string) bool {
	return religionID != "" && c.AnchorReligionID == religionID
}

func (c *Civilization) ReligionCount() int {
	return len(c.ReligionIDs)
}

// AddReligion appends a member religion. It reports false if it was already present.
func (c *Civilization) AddReligion(religionID string) bool {
	if c.HasReligion(religionID) {
		return false
	}
	c.ReligionIDs = append(c.ReligionIDs, religionID)
	return true
}

func (c *Civilization) RemoveReligion(religionID string) bool {
	if !c.HasReligion(religionID) {
		return false
	}
	c.ReligionIDs = slices.DeleteFunc(c.ReligionIDs, func(id string) bool { return id == religionID })
	return true
}

// MarkDisbanded stamps the terminal disband time.
func (c *Civilization) MarkDisbanded(now time.Time) {
	c.DisbandedAt = &now
	c.UpdatedAt = now
}

func (c *Civilization) Clone() *Civilization {
	if c == nil {
		return nil
	}
	out := *c
	out.ReligionIDs = slices.Clone(c.ReligionIDs)
	if c.DisbandedAt != nil {
		at := *c.DisbandedAt
		out.DisbandedAt = &at
	}
	return &out
}
