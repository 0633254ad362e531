// Package identity resolves stable player ids to display names.
//
// The game host owns authentication; the governance core only needs a way to
// turn an id into a name at the moment a player joins a religion.
package identity

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/fx"
)

// Resolver is the identity provider consumed by the registries.
type Resolver interface {
	ResolvePlayerName(ctx context.Context, playerID string) (string, bool)
}

// Directory is an in-memory Resolver fed by the host as players connect.
type Directory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewDirectory() *Directory {
	return &Directory{names: make(map[string]string)}
}

// Register records (or refreshes) a player's display name.
func (d *Directory) Register(playerID, name string) {
	playerID = strings.TrimSpace(playerID)
	name = strings.TrimSpace(name)
	if playerID == "" || name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[playerID] = name
}

// Forget removes a player from the directory.
func (d *Directory) Forget(playerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.names, playerID)
}

func (d *Directory) ResolvePlayerName(_ context.Context, playerID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[playerID]
	return name, ok
}

var Module = fx.Module("identity",
	fx.Provide(
		NewDirectory,
		func(d *Directory) Resolver { return d },
	),
)
