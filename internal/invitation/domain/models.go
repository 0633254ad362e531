// Package domain contains the invitation model shared by religion and civilization invites.
package domain

import (
	"errors"
	"time"
)

// DefaultWindow is how long an invitation stays acceptable.
const DefaultWindow = 7 * 24 * time.Hour

// Invite is a pending offer from a group (SourceID) to a target (a player or a religion).
// Validity is derived from CreatedAt and the owning store's window; nothing is cached.
type Invite struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiresAt returns the instant the invite stops being acceptable.
func (i Invite) ExpiresAt(window time.Duration) time.Time {
	return i.CreatedAt.Add(window)
}

// IsExpired reports whether the invite's window has elapsed at now.
func IsExpired(i Invite, now time.Time, window time.Duration) bool {
	return now.Sub(i.CreatedAt) >= window
}

var (
	ErrDuplicateInvite = errors.New("duplicate_invite")
	ErrInvalidEndpoint = errors.New("invalid_invite_endpoint")
)
