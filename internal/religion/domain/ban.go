package domain

import "time"

// BanRecord is one religion's exclusion of one player. A nil ExpiresAt means permanent.
type BanRecord struct {
	PlayerID  string     `json:"player_id"`
	BannedBy  string     `json:"banned_by"`
	Reason    string     `json:"reason"`
	BannedAt  time.Time  `json:"banned_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (b BanRecord) IsPermanent() bool {
	return b.ExpiresAt == nil
}

// IsExpired reports whether the ban has lapsed at now. Expired bans are inert.
func IsExpired(b BanRecord, now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}
