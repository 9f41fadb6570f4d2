package protocol

import (
	"encoding/json"
	"errors"

	"ptz-panel/internal/preset"
	"ptz-panel/internal/ptz"
)

// Message types, client to server
const (
	TypePing           = "ping"
	TypePointerDown    = "pointer_down"
	TypePointerMove    = "pointer_move"
	TypePointerUp      = "pointer_up"
	TypeZoomSet        = "zoom_set"
	TypeZoomStep       = "zoom_step"
	TypeZoomReset      = "zoom_reset"
	TypeZoomMax        = "zoom_max"
	TypeCameraSelect   = "camera_select"
	TypeStatusGet      = "status_get"
	TypePresetList     = "preset_list"
	TypePresetCreate   = "preset_create"
	TypePresetRename   = "preset_rename"
	TypePresetDelete   = "preset_delete"
	TypePresetGoto     = "preset_goto"
	TypePresetOverride = "preset_override"
	TypePresetFavorite = "preset_favorite"
	TypeGotoFavorite   = "goto_favorite"
	TypeGotoCenter     = "goto_center"
)

// Message types, server to client
const (
	TypePong          = "pong"
	TypeCamera        = "camera"
	TypeStatus        = "status"
	TypeSwipe         = "swipe"
	TypePresets       = "presets"
	TypePresetRenamed = "preset_renamed"
	TypePresetDeleted = "preset_deleted"
	TypeFavorite      = "favorite"
	TypeZoom          = "zoom"
	TypeError         = "error"
)

// Error codes
const (
	ErrValidation     = "VALIDATION_ERROR"
	ErrUnknownCamera  = "UNKNOWN_CAMERA"
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrRateLimited    = "RATE_LIMITED"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// PointerPayload for pointer_down and pointer_move. Zone and the center
// are only read on pointer_down; zone is "swipe" or "joystick".
type PointerPayload struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Zone    string  `json:"zone,omitempty"`
	CenterX float64 `json:"center_x,omitempty"`
	CenterY float64 `json:"center_y,omitempty"`
}

// SwipePayload drives the drag indicator, 0..1
type SwipePayload struct {
	Intensity float64 `json:"intensity"`
}

// ZoomSetPayload for zoom_set
type ZoomSetPayload struct {
	Value float64 `json:"value"`
}

// ZoomStepPayload for zoom_step
type ZoomStepPayload struct {
	Delta float64 `json:"delta"`
}

// ZoomPayload reports the slider position
type ZoomPayload struct {
	Value float64 `json:"value"`
}

// CameraSelectPayload for camera_select
type CameraSelectPayload struct {
	Address string `json:"address"`
}

// CameraPayload reports the active camera and the choices
type CameraPayload struct {
	Address string   `json:"address"`
	Cameras []string `json:"cameras"`
}

// StatusPayload carries the live pose
type StatusPayload = ptz.Status

// PresetsPayload carries a full preset snapshot
type PresetsPayload = preset.Snapshot

// PresetIDPayload for messages naming one preset
type PresetIDPayload struct {
	ID int `json:"id"`
}

// PresetNamePayload for preset_create
type PresetNamePayload struct {
	Name string `json:"name"`
}

// PresetRenamePayload for preset_rename and preset_renamed
type PresetRenamePayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct. An absent
// payload leaves v untouched.
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ErrMissingPayload is returned by RequirePayload for a message without one.
var ErrMissingPayload = errors.New("missing payload")

// RequirePayload is ParsePayload for messages that cannot go without one.
func (m *Message) RequirePayload(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return ErrMissingPayload
	}
	return json.Unmarshal(m.Payload, v)
}
