// Package settings persists the panel's small key/value settings: the
// favorite preset per camera and the last selected camera.
package settings

import (
	"context"
	"maps"
)

// Fixed keys of the persisted record.
const (
	KeyFavoritePresets = "favoritePresets"
	KeyCurrentAddress  = "currentAddress"
)

// Settings is the persisted record. There is no schema version.
type Settings struct {
	FavoritePresets map[string]int `json:"favoritePresets"`
	CurrentAddress  string         `json:"currentAddress,omitempty"`
}

// Defaults returns an empty record
func Defaults() Settings {
	return Settings{FavoritePresets: make(map[string]int)}
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	out := Settings{CurrentAddress: s.CurrentAddress, FavoritePresets: make(map[string]int, len(s.FavoritePresets))}
	maps.Copy(out.FavoritePresets, s.FavoritePresets)
	return out
}

// Store is the interface for persisting settings.
type Store interface {
	// Load returns the stored record, or Defaults if nothing was stored yet.
	Load(ctx context.Context) (Settings, error)

	// Save replaces the stored record.
	Save(ctx context.Context, s Settings) error

	Close() error
}
