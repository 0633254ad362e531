// Package persistence is the opaque key/value blob store behind the registries.
package persistence

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mock/gateway.go -package=mock github.com/smallbiznis/pantheon/internal/persistence Gateway

// Gateway loads and stores whole registry snapshots by key.
type Gateway interface {
	// Load returns the blob stored under key. ok is false when nothing was stored yet.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Store(ctx context.Context, key string, value []byte) error
}

const (
	KeyReligions           = "religions"
	KeyReligionInvites     = "religion_invites"
	KeyCivilizations       = "civilizations"
	KeyCivilizationInvites = "civilization_invites"
)

var ErrInvalidKey = errors.New("invalid_persistence_key")
