// Package ptztest provides an in-memory ptz.Device for tests.
package ptztest

import (
	"context"
	"sort"
	"sync"

	"ptz-panel/internal/ptz"
)

// Operation names recorded by Device.
const (
	OpMove     = "continuous_move"
	OpZoom     = "continuous_zoom"
	OpAbsolute = "absolute_move"
	OpStatus   = "status"
	OpPresets  = "presets"
	OpPut      = "put_preset"
	OpRename   = "rename_preset"
	OpDelete   = "delete_preset"
	OpSavePose = "save_current_pose"
	OpGoto     = "goto_preset"
)

// Call is one recorded request.
type Call struct {
	Op     string
	Pan    int
	Tilt   int
	Zoom   int
	Pose   ptz.Pose
	Preset ptz.Preset
	ID     int
	Name   string
}

// Device records every call and keeps a preset table in memory.
type Device struct {
	mu      sync.Mutex
	calls   []Call
	status  ptz.Status
	presets map[int]ptz.Preset
	err     error

	// BeforeStatus, if set, runs inside Status before the pose is read.
	BeforeStatus func()
	// BeforePresets, if set, runs inside Presets before the list is read.
	BeforePresets func()
	// BeforePut, if set, runs inside PutPreset before the preset is stored.
	BeforePut func(ptz.Preset)
}

var _ ptz.Device = (*Device)(nil)

// New returns a device holding the given presets
func New(presets ...ptz.Preset) *Device {
	d := &Device{presets: make(map[int]ptz.Preset)}
	for _, p := range presets {
		d.presets[p.ID] = p
	}
	return d
}

// SetStatus sets the pose returned by Status
func (d *Device) SetStatus(st ptz.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = st
}

// SetErr makes every subsequent call fail with err (nil clears it)
func (d *Device) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Calls returns a copy of the recorded calls
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns recorded calls of one operation
func (d *Device) CallsOf(op string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Stored returns the device-side preset table, sorted by id
func (d *Device) Stored() []ptz.Preset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sorted()
}

func (d *Device) record(c Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
	return d.err
}

func (d *Device) sorted() []ptz.Preset {
	out := make([]ptz.Preset, 0, len(d.presets))
	for _, p := range d.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Device) ContinuousMove(_ context.Context, pan, tilt int) error {
	return d.record(Call{Op: OpMove, Pan: pan, Tilt: tilt})
}

func (d *Device) ContinuousZoom(_ context.Context, zoom int) error {
	return d.record(Call{Op: OpZoom, Zoom: zoom})
}

func (d *Device) AbsoluteMove(_ context.Context, pose ptz.Pose) error {
	return d.record(Call{Op: OpAbsolute, Pose: pose})
}

func (d *Device) Status(_ context.Context) (ptz.Status, error) {
	if d.BeforeStatus != nil {
		d.BeforeStatus()
	}
	if err := d.record(Call{Op: OpStatus}); err != nil {
		return ptz.Status{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, nil
}

func (d *Device) Presets(_ context.Context) ([]ptz.Preset, error) {
	if d.BeforePresets != nil {
		d.BeforePresets()
	}
	if err := d.record(Call{Op: OpPresets}); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sorted(), nil
}

func (d *Device) PutPreset(_ context.Context, p ptz.Preset) error {
	if d.BeforePut != nil {
		d.BeforePut(p)
	}
	if err := d.record(Call{Op: OpPut, Preset: p, ID: p.ID}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presets[p.ID] = p
	return nil
}

func (d *Device) RenamePreset(_ context.Context, id int, name string) error {
	if err := d.record(Call{Op: OpRename, ID: id, Name: name}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.presets[id]; ok {
		p.Name = name
		d.presets[id] = p
	}
	return nil
}

func (d *Device) DeletePreset(_ context.Context, id int) error {
	if err := d.record(Call{Op: OpDelete, ID: id}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.presets, id)
	return nil
}

func (d *Device) SaveCurrentPose(_ context.Context, id int) error {
	return d.record(Call{Op: OpSavePose, ID: id})
}

func (d *Device) GotoPreset(_ context.Context, id int) error {
	return d.record(Call{Op: OpGoto, ID: id})
}
