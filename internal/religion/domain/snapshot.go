package domain

import (
	"slices"
	"strings"
)

// Snapshot is the persisted form of the religion registry.
type Snapshot struct {
	Religions []*Religion `json:"religions"`
}

// SortReligions orders religions by creation time, then id.
func SortReligions(religions []*Religion) {
	slices.SortFunc(religions, func(a, b *Religion) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
