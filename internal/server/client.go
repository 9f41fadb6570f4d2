package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ptz-panel/internal/motion"
	"ptz-panel/internal/panel"
	"ptz-panel/internal/protocol"
	"ptz-panel/internal/ptz"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 65536
)

// Client represents a connected WebSocket client. Each client drives its
// own panel session.
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	panel   *panel.Panel
	limiter *rate.Limiter
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("session", id))

	p, err := panel.New(s.cfg.Panel, s.factory, s.settings, log)
	if err != nil {
		log.Error("failed to create panel session", zap.Error(err))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	client := &Client{
		id:      id,
		conn:    conn,
		server:  s,
		panel:   p,
		limiter: s.newLimiter(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []byte, 256),
	}

	s.register(client)
	log.Info("session opened", zap.String("remote", r.RemoteAddr), zap.String("camera", p.Endpoint().Camera))

	go func() {
		if err := p.Run(ctx); err != nil {
			log.Warn("panel stopped", zap.Error(err))
		}
	}()
	go client.writePump()
	go client.readPump()

	client.sendCamera()
	client.refresh()
}

// sendCamera tells the page which camera is active.
func (c *Client) sendCamera() {
	c.sendMessage(protocol.TypeCamera, protocol.CameraPayload{
		Address: c.panel.Endpoint().Camera,
		Cameras: c.panel.Cameras(),
	})
}

// refresh loads status and presets for the active camera in the background.
func (c *Client) refresh() {
	c.async("status", c.loadStatus)
	c.async("presets", c.loadPresets)
}

func (c *Client) loadStatus(ctx context.Context) error {
	st, err := c.panel.LoadStatus(ctx)
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeStatus, protocol.StatusPayload(st))
	c.sendMessage(protocol.TypeZoom, protocol.ZoomPayload{Value: c.panel.Zoom().Value()})
	return nil
}

func (c *Client) loadPresets(ctx context.Context) error {
	snap, err := c.panel.ListPresets(ctx)
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypePresets, protocol.PresetsPayload(snap))
	return nil
}

// async runs a device operation off the read pump. Its completion message,
// if any, is sent by fn itself.
func (c *Client) async(op string, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(c.ctx); err != nil {
			c.reportError(op, err)
		}
	}()
}

// reportError answers validation failures and logs everything else. A
// failed device operation simply produces no completion message.
func (c *Client) reportError(op string, err error) {
	switch {
	case errors.Is(err, ptz.ErrValidation):
		c.sendError(protocol.ErrValidation, err.Error())
	case errors.Is(err, ptz.ErrUnknownCamera):
		c.sendError(protocol.ErrUnknownCamera, err.Error())
	case errors.Is(err, ptz.ErrStaleEndpoint):
		c.log.Debug("discarded stale result", zap.String("op", op), zap.Error(err))
	case errors.Is(err, context.Canceled) && c.ctx.Err() != nil:
	default:
		c.log.Warn("operation failed", zap.String("op", op), zap.Error(err))
	}
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.log.Error("failed to create message", zap.String("type", msgType), zap.Error(err))
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.String("type", msgType), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping message", zap.String("type", msgType))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "Failed to parse message")
		return
	}

	if !bypassesLimit(msg.Type) && !c.limiter.Allow() {
		// Dropped pointer samples are harmless: only the latest one counts.
		if msg.Type != protocol.TypePointerMove {
			c.sendError(protocol.ErrRateLimited, "Too many messages: "+msg.Type)
		}
		return
	}

	if err := c.dispatch(&msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, msg.Type+": "+err.Error())
	}
}

// bypassesLimit reports message types that halt or redirect the camera.
// They are never dropped, so a flood of samples cannot leave it moving.
func bypassesLimit(msgType string) bool {
	switch msgType {
	case protocol.TypePointerUp, protocol.TypeZoomReset, protocol.TypeCameraSelect:
		return true
	}
	return false
}

// dispatch handles one message. Motion messages are applied inline so
// their order is kept; preset and status operations run in the background.
// The returned error only reports a malformed message.
func (c *Client) dispatch(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return err
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypePointerDown:
		var payload protocol.PointerPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		zone := motion.Zone{Kind: motion.ZoneSwipe}
		if payload.Zone == string(motion.ZoneJoystick) {
			zone = motion.Zone{Kind: motion.ZoneJoystick, Center: motion.Point{X: payload.CenterX, Y: payload.CenterY}}
		}
		v := c.panel.Rotation().PointerDown(motion.Point{X: payload.X, Y: payload.Y}, zone)
		c.sendMessage(protocol.TypeSwipe, protocol.SwipePayload{Intensity: v.Intensity()})

	case protocol.TypePointerMove:
		var payload protocol.PointerPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		if v, ok := c.panel.Rotation().PointerMove(motion.Point{X: payload.X, Y: payload.Y}); ok {
			c.sendMessage(protocol.TypeSwipe, protocol.SwipePayload{Intensity: v.Intensity()})
		}

	case protocol.TypePointerUp:
		if err := c.panel.Rotation().PointerUp(c.ctx); err != nil {
			c.reportError("rotation_stop", err)
		}
		c.sendMessage(protocol.TypeSwipe, protocol.SwipePayload{})

	case protocol.TypeZoomSet:
		var payload protocol.ZoomSetPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		c.panel.Zoom().Set(payload.Value)

	case protocol.TypeZoomStep:
		var payload protocol.ZoomStepPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		v := c.panel.Zoom().Nudge(payload.Delta)
		c.sendMessage(protocol.TypeZoom, protocol.ZoomPayload{Value: v})

	case protocol.TypeZoomReset:
		if err := c.panel.Zoom().Reset(c.ctx); err != nil {
			c.reportError("zoom_reset", err)
		}
		c.sendMessage(protocol.TypeZoom, protocol.ZoomPayload{Value: c.panel.Zoom().Value()})

	case protocol.TypeZoomMax:
		if err := c.panel.Zoom().Max(c.ctx); err != nil {
			c.reportError("zoom_max", err)
		}
		c.sendMessage(protocol.TypeZoom, protocol.ZoomPayload{Value: c.panel.Zoom().Value()})

	case protocol.TypeCameraSelect:
		var payload protocol.CameraSelectPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		changed, err := c.panel.SetCamera(c.ctx, payload.Address)
		if err != nil {
			c.reportError("camera_select", err)
			return nil
		}
		c.sendCamera()
		if changed {
			c.refresh()
		}

	case protocol.TypeStatusGet:
		c.async("status", c.loadStatus)

	case protocol.TypePresetList:
		c.async("presets", c.loadPresets)

	case protocol.TypePresetCreate:
		var payload protocol.PresetNamePayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		c.async("preset_create", func(ctx context.Context) error {
			id, snap, err := c.panel.CreatePreset(ctx, payload.Name)
			if err != nil {
				return err
			}
			c.log.Info("preset created", zap.Int("id", id), zap.String("name", payload.Name))
			c.sendMessage(protocol.TypePresets, protocol.PresetsPayload(snap))
			return nil
		})

	case protocol.TypePresetRename:
		var payload protocol.PresetRenamePayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		c.async("preset_rename", func(ctx context.Context) error {
			changed, err := c.panel.RenamePreset(ctx, payload.ID, payload.Name)
			if err != nil || !changed {
				return err
			}
			c.sendMessage(protocol.TypePresetRenamed, payload)
			return nil
		})

	case protocol.TypePresetDelete:
		var payload protocol.PresetIDPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		c.async("preset_delete", func(ctx context.Context) error {
			if err := c.panel.DeletePreset(ctx, payload.ID); err != nil {
				return err
			}
			c.sendMessage(protocol.TypePresetDeleted, payload)
			c.sendMessage(protocol.TypeFavorite, protocol.PresetIDPayload{ID: c.panel.Favorite()})
			return nil
		})

	case protocol.TypePresetGoto:
		var payload protocol.PresetIDPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		c.async("preset_goto", func(ctx context.Context) error {
			return c.panel.GotoPreset(ctx, payload.ID)
		})

	case protocol.TypePresetOverride:
		var payload protocol.PresetIDPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		c.async("preset_override", func(ctx context.Context) error {
			return c.panel.OverridePreset(ctx, payload.ID)
		})

	case protocol.TypePresetFavorite:
		var payload protocol.PresetIDPayload
		if err := msg.RequirePayload(&payload); err != nil {
			return err
		}
		id := c.panel.ToggleFavorite(payload.ID)
		c.sendMessage(protocol.TypeFavorite, protocol.PresetIDPayload{ID: id})

	case protocol.TypeGotoFavorite:
		c.async("goto_favorite", func(ctx context.Context) error {
			_, err := c.panel.GotoFavorite(ctx)
			return err
		})

	case protocol.TypeGotoCenter:
		c.async("goto_center", func(ctx context.Context) error {
			_, err := c.panel.GotoCenter(ctx)
			return err
		})

	default:
		return errors.New("unknown message type")
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close ends the session. Pending device operations are cancelled and the
// panel stops any motion still in progress.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	close(c.send)
	c.mu.Unlock()

	c.log.Info("session closed")
}
