package settings

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const saveTimeout = 2 * time.Second

// Manager caches the record in memory and writes it through to a Store.
// Persistence is best-effort: storage failures are logged and never
// surface to callers.
type Manager struct {
	store Store
	log   *zap.Logger

	mu sync.Mutex
	st Settings

	// saveMu orders writes so the store always ends with the newest record.
	saveMu sync.Mutex
}

// NewManager creates a manager over store. A nil store keeps settings in
// memory only.
func NewManager(store Store, log *zap.Logger) *Manager {
	return &Manager{store: store, log: log.Named("settings"), st: Defaults()}
}

// Load replaces the cache with the stored record.
func (m *Manager) Load(ctx context.Context) {
	if m.store == nil {
		return
	}
	st, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn("settings unavailable, using defaults", zap.Error(err))
	}
	m.mu.Lock()
	m.st = st.Clone()
	m.mu.Unlock()
	m.log.Debug("settings loaded",
		zap.Int("favorites", len(st.FavoritePresets)),
		zap.String("current_address", st.CurrentAddress))
}

// Favorite returns the favorite recorded for address.
func (m *Manager) Favorite(address string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.st.FavoritePresets[address]
	return id, ok
}

// SetFavorite records id for address and persists.
func (m *Manager) SetFavorite(address string, id int) {
	m.UpdateFavorite(address, func(int, bool) (int, bool) { return id, true })
}

// UpdateFavorite applies fn to the favorite of address atomically. fn gets
// the current id and whether one is recorded, and returns the new id and
// whether to store it. The resulting favorite is returned; it is persisted
// only when fn asked for a change.
func (m *Manager) UpdateFavorite(address string, fn func(id int, recorded bool) (int, bool)) (int, bool) {
	m.mu.Lock()
	cur, ok := m.st.FavoritePresets[address]
	next, store := fn(cur, ok)
	if !store {
		m.mu.Unlock()
		return cur, ok
	}
	m.st.FavoritePresets[address] = next
	m.mu.Unlock()
	m.persist()
	return next, true
}

// CurrentAddress returns the last selected camera, or "".
func (m *Manager) CurrentAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CurrentAddress
}

// SetCurrentAddress records the selected camera and persists.
func (m *Manager) SetCurrentAddress(address string) {
	m.mu.Lock()
	if m.st.CurrentAddress == address {
		m.mu.Unlock()
		return
	}
	m.st.CurrentAddress = address
	m.mu.Unlock()
	m.persist()
}

// Snapshot returns a copy of the cached record
func (m *Manager) Snapshot() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

// persist saves the cached record. The snapshot is taken after saveMu is
// held, so a later save never carries an older record than an earlier one.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	st := m.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.store.Save(ctx, st); err != nil {
		m.log.Warn("failed to persist settings", zap.Error(err))
	}
}
