package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ptz-panel/internal/panel"
	"ptz-panel/internal/protocol"
	"ptz-panel/internal/ptz"
	"ptz-panel/internal/ptz/ptztest"
	"ptz-panel/internal/settings"
)

const (
	camA = "10.128.115.30"
	camB = "10.128.115.31"
)

type harness struct {
	server  *Server
	http    *httptest.Server
	devices map[string]*ptztest.Device
	store   *settings.MemStore
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		devices: map[string]*ptztest.Device{
			camA: ptztest.New(ptz.Preset{ID: 0, Name: "Sofa", Enabled: true}),
			camB: ptztest.New(),
		},
		store: settings.NewMemStore(),
	}
	h.devices[camA].SetStatus(ptz.Status{Elevation: 1, Azimuth: 2, AbsoluteZoom: 25})

	cfg.Panel = panel.Config{Proxy: "10.128.115.10:7070", Cameras: []string{camA, camB}}
	// Sessions log from their own goroutines after a test returns.
	log := zap.NewNop()
	mgr := settings.NewManager(h.store, log)
	factory := func(e ptz.Endpoint) ptz.Device { return h.devices[e.Camera] }

	h.server = New(cfg, factory, mgr, log)
	h.http = httptest.NewServer(h.server.Handler())
	t.Cleanup(func() {
		h.server.Stop()
		h.http.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	var msg *protocol.Message
	if payload == nil {
		msg = &protocol.Message{Type: msgType}
	} else {
		var err error
		msg, err = protocol.NewMessage(msgType, payload)
		require.NoError(t, err)
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Config{})

	req, err := http.NewRequest(http.MethodGet, h.http.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://panel.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCameras(t *testing.T) {
	h := newHarness(t, Config{})

	resp, err := http.Get(h.http.URL + "/api/cameras")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body CamerasResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{camA, camB}, body.Cameras)
	assert.Equal(t, "10.128.115.10:7070", body.Proxy)
}

func TestSession_InitialState(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	msg := readUntil(t, conn, protocol.TypeCamera)
	var cam protocol.CameraPayload
	require.NoError(t, msg.ParsePayload(&cam))
	assert.Equal(t, camA, cam.Address)
	assert.Equal(t, []string{camA, camB}, cam.Cameras)

	msg = readUntil(t, conn, protocol.TypePresets)
	var snap protocol.PresetsPayload
	require.NoError(t, msg.ParsePayload(&snap))
	require.Len(t, snap.Presets, 1)
	assert.Equal(t, "Sofa", snap.Presets[0].Name)
	assert.Equal(t, 0, snap.Favorite)

	assert.Eventually(t, func() bool { return h.server.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSession_Status(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	send(t, conn, protocol.TypeStatusGet, nil)
	msg := readUntil(t, conn, protocol.TypeStatus)
	var st protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&st))
	assert.Equal(t, 25.0, st.AbsoluteZoom)

	msg = readUntil(t, conn, protocol.TypeZoom)
	var z protocol.ZoomPayload
	require.NoError(t, msg.ParsePayload(&z))
	assert.Equal(t, 25.0, z.Value)
}

func TestSession_PingPong(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 1234})
	msg := readUntil(t, conn, protocol.TypePong)

	var pong protocol.PongPayload
	require.NoError(t, msg.ParsePayload(&pong))
	assert.Equal(t, int64(1234), pong.ClientTimestamp)
	assert.NotZero(t, pong.ServerTimestamp)
}

func TestSession_InvalidMessages(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	msg := readUntil(t, conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrInvalidMessage, e.Code)

	send(t, conn, "teleport", nil)
	msg = readUntil(t, conn, protocol.TypeError)
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrInvalidMessage, e.Code)

	// A delete without an id must not fall back to preset 0.
	send(t, conn, protocol.TypePresetDelete, nil)
	msg = readUntil(t, conn, protocol.TypeError)
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrInvalidMessage, e.Code)
	assert.Empty(t, h.devices[camA].CallsOf(ptztest.OpDelete))
}

func TestSession_CreateValidation(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, protocol.TypePresets)

	send(t, conn, protocol.TypePresetCreate, protocol.PresetNamePayload{Name: "   "})
	msg := readUntil(t, conn, protocol.TypeError)

	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrValidation, e.Code)
	assert.Empty(t, h.devices[camA].CallsOf(ptztest.OpPut))
}

func TestSession_CreateAndDelete(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, protocol.TypePresets)

	send(t, conn, protocol.TypePresetCreate, protocol.PresetNamePayload{Name: "Desk"})
	msg := readUntil(t, conn, protocol.TypePresets)
	var snap protocol.PresetsPayload
	require.NoError(t, msg.ParsePayload(&snap))
	require.Len(t, snap.Presets, 2)
	assert.Equal(t, ptz.Preset{ID: 1, Name: "Desk", Enabled: true}, snap.Presets[1])

	send(t, conn, protocol.TypePresetDelete, protocol.PresetIDPayload{ID: 0})
	msg = readUntil(t, conn, protocol.TypePresetDeleted)
	var del protocol.PresetIDPayload
	require.NoError(t, msg.ParsePayload(&del))
	assert.Equal(t, 0, del.ID)

	msg = readUntil(t, conn, protocol.TypeFavorite)
	var fav protocol.PresetIDPayload
	require.NoError(t, msg.ParsePayload(&fav))
	assert.Equal(t, ptz.NoPreset, fav.ID, "deleting the favorite clears it")
}

func TestSession_RenameAndFavorite(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, protocol.TypePresets)

	send(t, conn, protocol.TypePresetRename, protocol.PresetRenamePayload{ID: 0, Name: "Couch"})
	msg := readUntil(t, conn, protocol.TypePresetRenamed)
	var ren protocol.PresetRenamePayload
	require.NoError(t, msg.ParsePayload(&ren))
	assert.Equal(t, protocol.PresetRenamePayload{ID: 0, Name: "Couch"}, ren)

	send(t, conn, protocol.TypePresetFavorite, protocol.PresetIDPayload{ID: 0})
	msg = readUntil(t, conn, protocol.TypeFavorite)
	var fav protocol.PresetIDPayload
	require.NoError(t, msg.ParsePayload(&fav))
	assert.Equal(t, ptz.NoPreset, fav.ID, "0 was already the favorite")
}

func TestSession_CameraSelect(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, protocol.TypeCamera)

	send(t, conn, protocol.TypeCameraSelect, protocol.CameraSelectPayload{Address: "10.0.0.1"})
	msg := readUntil(t, conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrUnknownCamera, e.Code)

	send(t, conn, protocol.TypeCameraSelect, protocol.CameraSelectPayload{Address: camB})
	msg = readUntil(t, conn, protocol.TypeCamera)
	var cam protocol.CameraPayload
	require.NoError(t, msg.ParsePayload(&cam))
	assert.Equal(t, camB, cam.Address)

	assert.Eventually(t, func() bool {
		st, err := h.store.Load(context.Background())
		return err == nil && st.CurrentAddress == camB
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(h.devices[camB].CallsOf(ptztest.OpPresets)) > 0
	}, time.Second, 10*time.Millisecond, "switch reloads presets")
}

func TestSession_DragDrivesCamera(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	dev := h.devices[camA]

	send(t, conn, protocol.TypePointerDown, protocol.PointerPayload{X: 200, Y: 200})
	send(t, conn, protocol.TypePointerMove, protocol.PointerPayload{X: 100, Y: 200})

	msg := readUntil(t, conn, protocol.TypeSwipe)
	var sw protocol.SwipePayload
	require.NoError(t, msg.ParsePayload(&sw))
	assert.Equal(t, 0.0, sw.Intensity, "swipe press has no intensity yet")
	msg = readUntil(t, conn, protocol.TypeSwipe)
	require.NoError(t, msg.ParsePayload(&sw))
	assert.InDelta(t, 0.25, sw.Intensity, 1e-9)

	assert.Eventually(t, func() bool {
		return len(dev.CallsOf(ptztest.OpMove)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	send(t, conn, protocol.TypePointerUp, nil)
	assert.Eventually(t, func() bool {
		moves := dev.CallsOf(ptztest.OpMove)
		last := moves[len(moves)-1]
		return last.Pan == 0 && last.Tilt == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ZoomButtons(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	// The initial status load reports the camera's zoom first.
	msg := readUntil(t, conn, protocol.TypeZoom)
	var z protocol.ZoomPayload
	require.NoError(t, msg.ParsePayload(&z))
	assert.Equal(t, 25.0, z.Value)

	send(t, conn, protocol.TypeZoomMax, nil)
	msg = readUntil(t, conn, protocol.TypeZoom)
	require.NoError(t, msg.ParsePayload(&z))
	assert.Equal(t, 100.0, z.Value)

	abs := h.devices[camA].CallsOf(ptztest.OpAbsolute)
	require.NotEmpty(t, abs)
	assert.Equal(t, ptz.Pose{Elevation: 1, Azimuth: 2, Zoom: 100}, abs[len(abs)-1].Pose)
}

func TestSession_RateLimited(t *testing.T) {
	h := newHarness(t, Config{MessageRate: 0.001, MessageBurst: 1})
	conn := h.dial(t)

	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 1})
	readUntil(t, conn, protocol.TypePong)

	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 2})
	msg := readUntil(t, conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrRateLimited, e.Code)
}

func TestSession_PointerUpStopsAfterFlood(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	dev := h.devices[camA]
	readUntil(t, conn, protocol.TypeCamera)

	send(t, conn, protocol.TypePointerDown, protocol.PointerPayload{X: 0, Y: 0})
	for i := 1; i <= 2*defaultMessageBurst; i++ {
		send(t, conn, protocol.TypePointerMove, protocol.PointerPayload{X: float64(-i), Y: 0})
	}
	send(t, conn, protocol.TypePointerUp, nil)

	stops := func() int {
		n := 0
		for _, c := range dev.CallsOf(ptztest.OpMove) {
			if c.Pan == 0 && c.Tilt == 0 {
				n++
			}
		}
		return n
	}
	assert.Eventually(t, func() bool { return stops() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	moves := dev.CallsOf(ptztest.OpMove)
	require.NotEmpty(t, moves)
	assert.Equal(t, 1, stops())
	assert.Equal(t, ptztest.Call{Op: ptztest.OpMove}, moves[len(moves)-1], "the stop is the last move sent")
}

func TestBypassesLimit(t *testing.T) {
	assert.True(t, bypassesLimit(protocol.TypePointerUp))
	assert.True(t, bypassesLimit(protocol.TypeZoomReset))
	assert.True(t, bypassesLimit(protocol.TypeCameraSelect))
	assert.False(t, bypassesLimit(protocol.TypePointerMove))
	assert.False(t, bypassesLimit(protocol.TypePing))
}

func TestStop_ClosesSessions(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, protocol.TypeCamera)

	h.server.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return h.server.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
