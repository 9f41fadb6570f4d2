// Package panel holds the state of one control session: the active camera,
// its motion coordinators and its preset repository.
package panel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ptz-panel/internal/isapi"
	"ptz-panel/internal/motion"
	"ptz-panel/internal/preset"
	"ptz-panel/internal/ptz"
	"ptz-panel/internal/settings"
)

const stopTimeout = 2 * time.Second

// DeviceFactory builds the device client for an endpoint.
type DeviceFactory func(ptz.Endpoint) ptz.Device

// ISAPIFactory returns a DeviceFactory producing ISAPI clients.
func ISAPIFactory(cfg isapi.Config, log *zap.Logger) DeviceFactory {
	return func(e ptz.Endpoint) ptz.Device {
		c := cfg
		c.Endpoint = e
		return isapi.NewClient(c, log)
	}
}

// Config for a Panel
type Config struct {
	Proxy    string
	Cameras  []string
	Rotation motion.RotationConfig
	Zoom     motion.ZoomConfig
}

// Panel is one control session. Only one camera is active at a time;
// results that arrive for a camera that is no longer active are dropped.
type Panel struct {
	cfg      Config
	factory  DeviceFactory
	settings *settings.Manager
	log      *zap.Logger

	rotation *motion.Rotation
	zoom     *motion.Zoom

	mu       sync.RWMutex
	gen      uint64
	endpoint ptz.Endpoint
	dev      ptz.Device
	repo     *preset.Repository
}

// New creates a session. The last selected camera is restored when it is
// still configured, else the first configured camera is used.
func New(cfg Config, factory DeviceFactory, st *settings.Manager, log *zap.Logger) (*Panel, error) {
	if len(cfg.Cameras) == 0 {
		return nil, errors.New("panel: no cameras configured")
	}

	p := &Panel{
		cfg:      cfg,
		factory:  factory,
		settings: st,
		log:      log.Named("panel"),
	}
	p.rotation = motion.NewRotation(cfg.Rotation, p.Device, log)
	p.zoom = motion.NewZoom(cfg.Zoom, p.Device, log)

	address := cfg.Cameras[0]
	if last := st.CurrentAddress(); last != "" {
		if slices.Contains(cfg.Cameras, last) {
			address = last
		} else {
			p.log.Info("last camera no longer configured", zap.String("camera", last))
		}
	}
	p.activate(address)
	return p, nil
}

func (p *Panel) activate(address string) {
	endpoint := ptz.Endpoint{Proxy: p.cfg.Proxy, Camera: address}
	dev := p.factory(endpoint)
	repo := preset.New(endpoint, dev, p.settings, p.log)

	p.mu.Lock()
	p.gen++
	p.endpoint = endpoint
	p.dev = dev
	p.repo = repo
	p.mu.Unlock()

	p.settings.SetCurrentAddress(address)
}

// Cameras returns the configured camera addresses
func (p *Panel) Cameras() []string {
	return slices.Clone(p.cfg.Cameras)
}

// Endpoint returns the active endpoint
func (p *Panel) Endpoint() ptz.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoint
}

// Device returns the active device. Coordinators call this on every send
// so commands always go to the active camera.
func (p *Panel) Device() ptz.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dev
}

// Generation changes every time the active camera does
func (p *Panel) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gen
}

func (p *Panel) Rotation() *motion.Rotation { return p.rotation }
func (p *Panel) Zoom() *motion.Zoom         { return p.zoom }

func (p *Panel) current() (*preset.Repository, ptz.Device, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.repo, p.dev, p.gen
}

func (p *Panel) checkGeneration(gen uint64, endpoint ptz.Endpoint) error {
	if p.Generation() != gen {
		return fmt.Errorf("%w: result for %s discarded", ptz.ErrStaleEndpoint, endpoint)
	}
	return nil
}

// SetCamera makes address the active camera. Motion on the previous camera
// is stopped first. It reports false when address was already active.
func (p *Panel) SetCamera(ctx context.Context, address string) (bool, error) {
	if !slices.Contains(p.cfg.Cameras, address) {
		return false, fmt.Errorf("%w: %s", ptz.ErrUnknownCamera, address)
	}
	old := p.Endpoint()
	if old.Camera == address {
		return false, nil
	}

	// Both stops still resolve to the old device.
	if err := p.rotation.PointerUp(ctx); err != nil {
		p.log.Warn("failed to stop rotation", zap.String("camera", old.Camera), zap.Error(err))
	}
	if err := p.zoom.Stop(ctx); err != nil {
		p.log.Warn("failed to stop zoom", zap.String("camera", old.Camera), zap.Error(err))
	}

	p.activate(address)
	p.log.Info("camera switched", zap.String("from", old.Camera), zap.String("to", address))
	return true, nil
}

// LoadStatus reads the live pose and syncs the zoom slider to it.
func (p *Panel) LoadStatus(ctx context.Context) (ptz.Status, error) {
	repo, dev, gen := p.current()
	st, err := dev.Status(ctx)
	if err != nil {
		return ptz.Status{}, err
	}
	if err := p.syncZoom(gen, repo.Endpoint(), st.AbsoluteZoom); err != nil {
		return ptz.Status{}, err
	}
	return st, nil
}

// syncZoom moves the slider to a read zoom if gen is still active. The
// check and the sync happen under one lock so a switch cannot land between.
func (p *Panel) syncZoom(gen uint64, endpoint ptz.Endpoint, zoom float64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.gen != gen {
		return fmt.Errorf("%w: result for %s discarded", ptz.ErrStaleEndpoint, endpoint)
	}
	p.zoom.Sync(float64(motion.ZoomLevel(zoom)))
	return nil
}

// ListPresets lists the active camera's presets.
func (p *Panel) ListPresets(ctx context.Context) (preset.Snapshot, error) {
	repo, _, gen := p.current()
	snap, err := repo.List(ctx)
	if err != nil {
		return preset.Snapshot{}, err
	}
	if err := p.checkGeneration(gen, repo.Endpoint()); err != nil {
		return preset.Snapshot{}, err
	}
	return snap, nil
}

// CreatePreset stores the current pose as a new preset and re-lists.
func (p *Panel) CreatePreset(ctx context.Context, name string) (int, preset.Snapshot, error) {
	repo, _, gen := p.current()
	id, snap, err := repo.Create(ctx, name)
	if err != nil {
		return id, preset.Snapshot{}, err
	}
	if err := p.checkGeneration(gen, repo.Endpoint()); err != nil {
		return id, preset.Snapshot{}, err
	}
	return id, snap, nil
}

func (p *Panel) RenamePreset(ctx context.Context, id int, name string) (bool, error) {
	repo, _, _ := p.current()
	return repo.Rename(ctx, id, name)
}

func (p *Panel) DeletePreset(ctx context.Context, id int) error {
	repo, _, _ := p.current()
	return repo.Remove(ctx, id)
}

func (p *Panel) GotoPreset(ctx context.Context, id int) error {
	repo, _, _ := p.current()
	return repo.Goto(ctx, id)
}

func (p *Panel) OverridePreset(ctx context.Context, id int) error {
	repo, _, _ := p.current()
	return repo.Override(ctx, id)
}

func (p *Panel) GotoFavorite(ctx context.Context) (int, error) {
	repo, _, _ := p.current()
	return repo.GotoFavorite(ctx)
}

func (p *Panel) GotoCenter(ctx context.Context) (int, error) {
	repo, _, _ := p.current()
	return repo.GotoCenter(ctx)
}

// ToggleFavorite flips the favorite of the active camera and returns it.
func (p *Panel) ToggleFavorite(id int) int {
	repo, _, _ := p.current()
	return repo.ToggleFavorite(id)
}

// Favorite returns the favorite of the active camera
func (p *Panel) Favorite() int {
	repo, _, _ := p.current()
	return repo.Favorite()
}

// Run drives both coordinators until ctx is done. On return any motion
// still in progress is stopped.
func (p *Panel) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.rotation.Run(gctx) })
	g.Go(func() error { return p.zoom.Run(gctx) })
	err := g.Wait()

	if p.rotation.Engaged() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := p.rotation.PointerUp(stopCtx); err != nil {
			p.log.Warn("failed to stop rotation on close", zap.Error(err))
		}
	}
	return err
}
