package domain

import (
	"slices"
	"strings"
)

// Snapshot is the persisted form of the civilization registry.
type Snapshot struct {
	Civilizations []*Civilization `json:"civilizations"`
}

func SortCivilizations(civs []*Civilization) {
	slices.SortFunc(civs, func(a, b *Civilization) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
