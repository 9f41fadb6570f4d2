// Package preset keeps a camera's preset list in step with the device.
//
// The device is the source of truth: every read is a full snapshot, and a
// create is followed by a fresh list rather than an optimistic insert.
package preset

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ptz-panel/internal/ptz"
)

// Favorites persists the favorite preset per camera address.
type Favorites interface {
	// Favorite returns the stored id and whether one was ever recorded.
	// A recorded ptz.NoPreset means the user cleared it.
	Favorite(address string) (int, bool)
	// UpdateFavorite atomically replaces the favorite with what fn returns,
	// if fn asks to store it, and returns the resulting favorite.
	UpdateFavorite(address string, fn func(id int, recorded bool) (int, bool)) (int, bool)
}

// Snapshot is the repository view after a list.
type Snapshot struct {
	Presets  []ptz.Preset `json:"presets"`
	Favorite int          `json:"favorite"`
	Center   int          `json:"center"`
}

// Repository manages the presets of one camera endpoint.
type Repository struct {
	endpoint ptz.Endpoint
	dev      ptz.Device
	favs     Favorites
	log      *zap.Logger

	mu      sync.Mutex
	loaded  bool
	presets []ptz.Preset
	pool    *IDPool
	center  int
	// reserved holds ids drawn by a Create that no list has shown yet.
	reserved map[int]struct{}
}

// New creates a repository for endpoint
func New(endpoint ptz.Endpoint, dev ptz.Device, favs Favorites, log *zap.Logger) *Repository {
	return &Repository{
		endpoint: endpoint,
		dev:      dev,
		favs:     favs,
		log:      log.Named("preset").With(zap.String("camera", endpoint.Camera)),
		pool:     NewIDPool(nil),
		center:   ptz.NoPreset,
		reserved: make(map[int]struct{}),
	}
}

// Endpoint returns the camera this repository belongs to
func (r *Repository) Endpoint() ptz.Endpoint { return r.endpoint }

// List fetches the full preset list. As a side effect it recomputes the
// free-id pool, points Center at the first preset and, when the camera has
// no favorite recorded yet, records the first preset as favorite.
func (r *Repository) List(ctx context.Context) (Snapshot, error) {
	presets, err := r.dev.Presets(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	presets = append([]ptz.Preset(nil), presets...)
	sort.SliceStable(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })

	r.mu.Lock()
	r.loaded = true
	r.presets = presets
	r.pool = NewIDPool(presets)
	for id := range r.reserved {
		if indexOf(presets, id) >= 0 {
			delete(r.reserved, id)
		} else {
			r.pool.Reserve(id)
		}
	}
	r.center = ptz.NoPreset
	if len(presets) > 0 {
		r.center = presets[0].ID
	}
	r.mu.Unlock()

	if len(presets) > 0 {
		first := presets[0].ID
		r.favs.UpdateFavorite(r.endpoint.Camera, func(id int, recorded bool) (int, bool) {
			if recorded {
				return id, false
			}
			r.log.Info("favorite defaulted to first preset", zap.Int("id", first))
			return first, true
		})
	}
	return r.Snapshot(), nil
}

// Snapshot returns the cached view without touching the device
func (r *Repository) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Repository) snapshotLocked() Snapshot {
	return Snapshot{
		Presets:  append([]ptz.Preset(nil), r.presets...),
		Favorite: r.favoriteLocked(),
		Center:   r.center,
	}
}

func (r *Repository) favoriteLocked() int {
	if id, ok := r.favs.Favorite(r.endpoint.Camera); ok {
		return id
	}
	return ptz.NoPreset
}

// Create saves a new enabled preset at the current pose under the lowest
// free id, then re-lists. It returns the assigned id.
func (r *Repository) Create(ctx context.Context, name string) (int, Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return ptz.NoPreset, Snapshot{}, err
	}

	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if !loaded {
		// Without a snapshot the pool cannot know which ids are taken.
		if _, err := r.List(ctx); err != nil {
			return ptz.NoPreset, Snapshot{}, err
		}
	}

	r.mu.Lock()
	id := r.pool.Next()
	r.reserved[id] = struct{}{}
	r.mu.Unlock()

	if err := r.dev.PutPreset(ctx, ptz.Preset{ID: id, Name: name, Enabled: true}); err != nil {
		r.mu.Lock()
		delete(r.reserved, id)
		r.mu.Unlock()
		return ptz.NoPreset, Snapshot{}, err
	}
	r.log.Info("preset created", zap.Int("id", id), zap.String("name", name))

	snap, err := r.List(ctx)
	if err != nil {
		return id, Snapshot{}, err
	}
	return id, snap, nil
}

// Rename changes the name of preset id. It reports false, without any
// request, when the name is unchanged.
func (r *Repository) Rename(ctx context.Context, id int, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx >= 0 && r.presets[idx].Name == name {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	if err := r.dev.RenamePreset(ctx, id, name); err != nil {
		return false, err
	}

	r.mu.Lock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.presets[idx].Name = name
	}
	r.mu.Unlock()
	return true, nil
}

// Remove deletes preset id permanently. A favorite pointing at it is cleared.
// The id is not handed back to the pool.
func (r *Repository) Remove(ctx context.Context, id int) error {
	if err := r.dev.DeletePreset(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.presets = append(r.presets[:idx], r.presets[idx+1:]...)
	}
	r.mu.Unlock()

	r.favs.UpdateFavorite(r.endpoint.Camera, func(fav int, recorded bool) (int, bool) {
		if !recorded || fav != id {
			return fav, false
		}
		r.log.Info("favorite cleared by delete", zap.Int("id", id))
		return ptz.NoPreset, true
	})
	return nil
}

// Goto moves the camera to preset id without waiting for it to arrive.
func (r *Repository) Goto(ctx context.Context, id int) error {
	return r.dev.GotoPreset(ctx, id)
}

// GotoFavorite moves to the favorite preset. It returns ptz.NoPreset and
// sends nothing when there is none.
func (r *Repository) GotoFavorite(ctx context.Context) (int, error) {
	r.mu.Lock()
	id := r.favoriteLocked()
	r.mu.Unlock()
	return r.gotoSelection(ctx, id)
}

// GotoCenter moves to the first preset of the last list.
func (r *Repository) GotoCenter(ctx context.Context) (int, error) {
	r.mu.Lock()
	id := r.center
	r.mu.Unlock()
	return r.gotoSelection(ctx, id)
}

func (r *Repository) gotoSelection(ctx context.Context, id int) (int, error) {
	if id < 0 {
		return ptz.NoPreset, nil
	}
	if err := r.dev.GotoPreset(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

// Override stores the live camera pose into preset id; the name is kept.
func (r *Repository) Override(ctx context.Context, id int) error {
	return r.dev.SaveCurrentPose(ctx, id)
}

// ToggleFavorite makes id the favorite, or clears it if it already was.
// It returns the new favorite.
func (r *Repository) ToggleFavorite(id int) int {
	next, _ := r.favs.UpdateFavorite(r.endpoint.Camera, func(fav int, recorded bool) (int, bool) {
		if recorded && fav == id {
			return ptz.NoPreset, true
		}
		return id, true
	})
	return next
}

// Favorite returns the favorite for this camera or ptz.NoPreset
func (r *Repository) Favorite() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.favoriteLocked()
}

// Center returns the center selection or ptz.NoPreset
func (r *Repository) Center() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.center
}

// NextID returns the id the next Create would use.
func (r *Repository) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.Peek()
}

func (r *Repository) indexLocked(id int) int {
	return indexOf(r.presets, id)
}

func indexOf(presets []ptz.Preset, id int) int {
	for i, p := range presets {
		if p.ID == id {
			return i
		}
	}
	return -1
}
