package motion

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ptz-panel/internal/ptz"
)

const (
	DefaultRotationSpeed    = 0.4
	DefaultRotationInterval = 100 * time.Millisecond
)

// DeviceFunc returns the device commands should go to right now.
type DeviceFunc func() ptz.Device

// ZoneKind selects how the anchor of a drag is chosen.
type ZoneKind string

const (
	// ZoneSwipe anchors on the first touch point (free drag).
	ZoneSwipe ZoneKind = "swipe"
	// ZoneJoystick anchors on the fixed center of the control zone.
	ZoneJoystick ZoneKind = "joystick"
)

// Zone describes where a press landed
type Zone struct {
	Kind   ZoneKind
	Center Point // used by ZoneJoystick
}

// RotationConfig for a Rotation coordinator
type RotationConfig struct {
	Speed    float64
	Interval time.Duration
	InvertX  bool
	InvertY  bool
}

func (c RotationConfig) withDefaults() RotationConfig {
	if c.Speed <= 0 {
		c.Speed = DefaultRotationSpeed
	}
	if c.Interval <= 0 {
		c.Interval = DefaultRotationInterval
	}
	return c
}

// Rotation coalesces pointer samples into at most one pan/tilt command per tick.
type Rotation struct {
	cfg    RotationConfig
	device DeviceFunc
	log    *zap.Logger

	mu      sync.Mutex
	engaged bool
	anchor  Point
	pending *Command

	// sendMu orders flushes against the stop command so a flush that
	// started before pointer-up can never land after the stop.
	sendMu sync.Mutex
}

// NewRotation creates a rotation coordinator
func NewRotation(cfg RotationConfig, device DeviceFunc, log *zap.Logger) *Rotation {
	return &Rotation{
		cfg:    cfg.withDefaults(),
		device: device,
		log:    log.Named("rotation"),
	}
}

// Config returns the effective configuration
func (r *Rotation) Config() RotationConfig { return r.cfg }

// PointerDown engages the coordinator. For a joystick zone a command is
// computed right away from the press position.
func (r *Rotation) PointerDown(p Point, zone Zone) Vector {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.engaged = true
	if zone.Kind == ZoneJoystick {
		r.anchor = zone.Center
		v := Direction(r.anchor, p)
		r.setPending(v)
		return v
	}
	r.anchor = p
	return Vector{}
}

// PointerMove records the latest sample, replacing any unsent one.
// It reports false when no drag is in progress.
func (r *Rotation) PointerMove(p Point) (Vector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.engaged {
		return Vector{}, false
	}
	v := Direction(r.anchor, p)
	r.setPending(v)
	return v, true
}

func (r *Rotation) setPending(v Vector) {
	cmd := v.Command(r.cfg.Speed)
	r.pending = &cmd
}

// PointerUp disengages, drops the pending command and halts the camera.
// The stop is sent even if nothing was pending.
func (r *Rotation) PointerUp(ctx context.Context) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	r.engaged = false
	r.pending = nil
	r.mu.Unlock()

	return r.send(ctx, Command{})
}

// Cancel drops the pending command without touching the device.
func (r *Rotation) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engaged = false
	r.pending = nil
}

// Engaged reports whether a drag is in progress
func (r *Rotation) Engaged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engaged
}

// Flush sends the pending command, if any, and clears it. An idle
// interval sends nothing.
func (r *Rotation) Flush(ctx context.Context) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	cmd := r.pending
	r.pending = nil
	r.mu.Unlock()

	if cmd == nil {
		return nil
	}
	return r.send(ctx, *cmd)
}

func (r *Rotation) send(ctx context.Context, cmd Command) error {
	dev := r.device()
	if dev == nil {
		return nil
	}
	cmd = cmd.inverted(r.cfg.InvertX, r.cfg.InvertY)
	return dev.ContinuousMove(ctx, cmd.Pan, cmd.Tilt)
}

// Run flushes on every tick until ctx is done.
func (r *Rotation) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("rotation flush failed", zap.Error(err))
			}
		}
	}
}
