package motion

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"ptz-panel/internal/ptz"
)

const (
	MinZoom = 0
	MaxZoom = 100

	DefaultZoomInterval = 20 * time.Millisecond
)

// ZoomLevel clamps z to [MinZoom, MaxZoom] and truncates it to an integer.
func ZoomLevel(z float64) int {
	if math.IsNaN(z) {
		return MinZoom
	}
	return int(math.Max(MinZoom, math.Min(MaxZoom, z)))
}

// SetAbsoluteZoom reads the live pose and then sends an absolute command
// that keeps elevation and azimuth and changes only the zoom. The status is
// fetched every time; another operator may have moved the camera.
func SetAbsoluteZoom(ctx context.Context, dev ptz.Device, z float64) error {
	level := ZoomLevel(z)
	st, err := dev.Status(ctx)
	if err != nil {
		return err
	}
	return dev.AbsoluteMove(ctx, ptz.Pose{
		Elevation: st.Elevation,
		Azimuth:   st.Azimuth,
		Zoom:      level,
	})
}

// ZoomConfig for a Zoom coordinator
type ZoomConfig struct {
	Interval time.Duration
}

// Zoom coalesces slider changes into at most one absolute zoom per tick.
type Zoom struct {
	cfg    ZoomConfig
	device DeviceFunc
	log    *zap.Logger

	mu      sync.Mutex
	slider  float64
	pending *float64

	sendMu sync.Mutex
}

// NewZoom creates a zoom coordinator
func NewZoom(cfg ZoomConfig, device DeviceFunc, log *zap.Logger) *Zoom {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultZoomInterval
	}
	return &Zoom{
		cfg:    cfg,
		device: device,
		log:    log.Named("zoom"),
	}
}

// Value is the current slider position
func (z *Zoom) Value() float64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.slider
}

// Set moves the slider and schedules an absolute zoom to it.
func (z *Zoom) Set(v float64) float64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.setLocked(v)
	return z.slider
}

// Nudge moves the slider by delta (the +/- buttons).
func (z *Zoom) Nudge(delta float64) float64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.setLocked(z.slider + delta)
	return z.slider
}

func (z *Zoom) setLocked(v float64) {
	v = clampSlider(v)
	z.slider = v
	z.pending = &v
}

// Sync moves the slider to a freshly read zoom without scheduling a command.
func (z *Zoom) Sync(v float64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.slider = clampSlider(v)
}

// Reset zooms all the way out immediately, dropping anything pending.
func (z *Zoom) Reset(ctx context.Context) error {
	return z.jump(ctx, MinZoom)
}

// Max zooms all the way in immediately, dropping anything pending.
func (z *Zoom) Max(ctx context.Context) error {
	return z.jump(ctx, MaxZoom)
}

func (z *Zoom) jump(ctx context.Context, level float64) error {
	z.sendMu.Lock()
	defer z.sendMu.Unlock()

	z.mu.Lock()
	z.slider = level
	z.pending = nil
	z.mu.Unlock()

	dev := z.device()
	if dev == nil {
		return nil
	}
	return SetAbsoluteZoom(ctx, dev, level)
}

// Stop drops anything pending and halts a continuous zoom.
func (z *Zoom) Stop(ctx context.Context) error {
	z.sendMu.Lock()
	defer z.sendMu.Unlock()

	z.mu.Lock()
	z.pending = nil
	z.mu.Unlock()

	dev := z.device()
	if dev == nil {
		return nil
	}
	return dev.ContinuousZoom(ctx, 0)
}

// Flush sends the pending zoom, if any, and clears it.
func (z *Zoom) Flush(ctx context.Context) error {
	z.sendMu.Lock()
	defer z.sendMu.Unlock()

	z.mu.Lock()
	level := z.pending
	z.pending = nil
	z.mu.Unlock()

	if level == nil {
		return nil
	}
	dev := z.device()
	if dev == nil {
		return nil
	}
	return SetAbsoluteZoom(ctx, dev, *level)
}

// Run flushes on every tick until ctx is done.
func (z *Zoom) Run(ctx context.Context) error {
	ticker := time.NewTicker(z.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := z.Flush(ctx); err != nil && ctx.Err() == nil {
				z.log.Warn("zoom flush failed", zap.Error(err))
			}
		}
	}
}

func clampSlider(v float64) float64 {
	if math.IsNaN(v) {
		return MinZoom
	}
	return math.Max(MinZoom, math.Min(MaxZoom, v))
}
