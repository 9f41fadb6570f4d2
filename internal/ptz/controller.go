package ptz

import (
	"context"
	"fmt"
	"strings"
)

// Device defines the control surface of one PTZ camera.
// Implementations issue exactly one request per call and never retry.
type Device interface {
	// ContinuousMove starts a velocity pan/tilt move. 0,0 stops.
	ContinuousMove(ctx context.Context, pan, tilt int) error

	// ContinuousZoom starts a velocity zoom. 0 stops.
	ContinuousZoom(ctx context.Context, zoom int) error

	// AbsoluteMove drives the camera to the given pose.
	AbsoluteMove(ctx context.Context, pose Pose) error

	// Status reads the current pose
	Status(ctx context.Context) (Status, error)

	// Presets returns the full preset list sorted by id
	Presets(ctx context.Context) ([]Preset, error)

	// PutPreset creates or replaces a preset slot
	PutPreset(ctx context.Context, p Preset) error

	RenamePreset(ctx context.Context, id int, name string) error
	DeletePreset(ctx context.Context, id int) error

	// SaveCurrentPose stores the live pose in an existing preset slot
	SaveCurrentPose(ctx context.Context, id int) error

	// GotoPreset moves the camera to a stored preset pose
	GotoPreset(ctx context.Context, id int) error
}

// Endpoint identifies one camera behind the reverse proxy.
type Endpoint struct {
	Proxy  string // e.g. "10.128.115.10:7070"
	Camera string // e.g. "10.128.115.30"
}

// BaseURL returns the PTZ channel root, always ending in a slash.
func (e Endpoint) BaseURL() string {
	return fmt.Sprintf("http://%s/%s/ISAPI/PTZCtrl/channels/1/",
		strings.TrimSuffix(e.Proxy, "/"), strings.Trim(e.Camera, "/"))
}

func (e Endpoint) String() string { return e.Camera }

// Status is the camera pose as reported by the device.
type Status struct {
	Elevation    float64 `json:"elevation"`
	Azimuth      float64 `json:"azimuth"`
	AbsoluteZoom float64 `json:"absolute_zoom"`
}

// Pose is an absolute target. Zoom is an integer in [0,100].
type Pose struct {
	Elevation float64
	Azimuth   float64
	Zoom      int
}

// Preset is a named, addressable stored pose.
type Preset struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// NoPreset marks an empty favorite or center selection.
const NoPreset = -1
