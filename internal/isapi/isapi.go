// Package isapi talks to Hikvision-style PTZ cameras over the ISAPI HTTP/XML API.
package isapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"ptz-panel/internal/ptz"
)

const (
	xmlHeader      = "<?xml version='1.0' encoding='UTF-8'?>"
	contentType    = "application/xml; charset=UTF-8"
	defaultTimeout = 5 * time.Second
)

// Config for an ISAPI client
type Config struct {
	Endpoint ptz.Endpoint
	Timeout  time.Duration // 0 uses the default
}

// Client issues PTZ requests to a single camera endpoint.
// It performs no retries; every call maps to exactly one HTTP request.
type Client struct {
	endpoint ptz.Endpoint
	baseURL  string
	http     *resty.Client
	log      *zap.Logger
}

var _ ptz.Device = (*Client)(nil)

// NewClient creates a client for the given endpoint
func NewClient(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := resty.New()
	r.SetTimeout(timeout)
	r.SetRetryCount(0)
	r.SetHeader("Accept", "application/xml")

	return &Client{
		endpoint: cfg.Endpoint,
		baseURL:  cfg.Endpoint.BaseURL(),
		http:     r,
		log:      log.Named("isapi").With(zap.String("camera", cfg.Endpoint.Camera)),
	}
}

// Endpoint returns the camera this client is bound to
func (c *Client) Endpoint() ptz.Endpoint { return c.endpoint }

// StatusURL is the read endpoint for the current pose.
func (c *Client) StatusURL() string { return c.baseURL + "status" }

// PresetsURL is the read endpoint for the preset list.
func (c *Client) PresetsURL() string { return c.baseURL + "presets/" }

func (c *Client) continuousURL() string { return c.baseURL + "continuous" }
func (c *Client) absoluteURL() string   { return c.baseURL + "absolute" }

func (c *Client) presetURL(id int) string {
	return c.PresetsURL() + strconv.Itoa(id)
}

// ContinuousMove sends a pan/tilt velocity command
func (c *Client) ContinuousMove(ctx context.Context, pan, tilt int) error {
	body, err := encode(ptzData{Pan: &pan, Tilt: &tilt})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.continuousURL(), body)
	return err
}

// ContinuousZoom sends a zoom velocity command
func (c *Client) ContinuousZoom(ctx context.Context, zoom int) error {
	body, err := encode(ptzData{Zoom: &zoom})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.continuousURL(), body)
	return err
}

// AbsoluteMove sends an absolute pose. Callers must pass the elevation and
// azimuth the camera last reported, otherwise the camera swings to them.
func (c *Client) AbsoluteMove(ctx context.Context, pose ptz.Pose) error {
	body, err := encode(ptzData{AbsoluteHigh: &absoluteHigh{
		Elevation:    pose.Elevation,
		Azimuth:      pose.Azimuth,
		AbsoluteZoom: pose.Zoom,
	}})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.absoluteURL(), body)
	return err
}

// Status fetches the current pose
func (c *Client) Status(ctx context.Context) (ptz.Status, error) {
	data, err := c.do(ctx, http.MethodGet, c.StatusURL(), "")
	if err != nil {
		return ptz.Status{}, err
	}
	return parseStatus(data)
}

// Presets fetches all presets, sorted by id
func (c *Client) Presets(ctx context.Context) ([]ptz.Preset, error) {
	data, err := c.do(ctx, http.MethodGet, c.PresetsURL(), "")
	if err != nil {
		return nil, err
	}
	return parsePresets(data)
}

// PutPreset creates or replaces the preset slot p.ID
func (c *Client) PutPreset(ctx context.Context, p ptz.Preset) error {
	enabled := p.Enabled
	body, err := encode(presetList{Presets: []presetBody{{
		ID:      p.ID,
		Enabled: &enabled,
		Name:    p.Name,
	}}})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.PresetsURL(), body)
	return err
}

// RenamePreset changes the name of an existing preset
func (c *Client) RenamePreset(ctx context.Context, id int, name string) error {
	body, err := encode(presetBody{ID: id, Name: name})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.presetURL(id), body)
	return err
}

// DeletePreset removes a preset. There is no undo.
func (c *Client) DeletePreset(ctx context.Context, id int) error {
	_, err := c.do(ctx, http.MethodDelete, c.presetURL(id), "")
	return err
}

// SaveCurrentPose stores the live pose into slot id, keeping its name
func (c *Client) SaveCurrentPose(ctx context.Context, id int) error {
	body, err := encode(presetBody{ID: id})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.presetURL(id), body)
	return err
}

// GotoPreset moves the camera to preset id
func (c *Client) GotoPreset(ctx context.Context, id int) error {
	_, err := c.do(ctx, http.MethodPut, c.presetURL(id)+"/goto", "")
	return err
}

func (c *Client) do(ctx context.Context, method, url, body string) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if body != "" {
		req.SetHeader("Content-Type", contentType).SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, url)
	if err != nil {
		c.log.Debug("request failed", zap.String("method", method), zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %w", ptz.ErrTransport, method, url, err)
	}

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("rtt", time.Since(start)),
	)

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s %s returned %d", ptz.ErrTransport, method, url, resp.StatusCode())
	}
	return resp.Body(), nil
}

// XML documents

type ptzData struct {
	XMLName      xml.Name      `xml:"PTZData"`
	Pan          *int          `xml:"pan,omitempty"`
	Tilt         *int          `xml:"tilt,omitempty"`
	Zoom         *int          `xml:"zoom,omitempty"`
	AbsoluteHigh *absoluteHigh `xml:"AbsoluteHigh,omitempty"`
}

type absoluteHigh struct {
	Elevation    float64 `xml:"elevation"`
	Azimuth      float64 `xml:"azimuth"`
	AbsoluteZoom int     `xml:"absoluteZoom"`
}

type presetList struct {
	XMLName xml.Name     `xml:"PTZPresetList"`
	Presets []presetBody `xml:"PTZPreset"`
}

type presetBody struct {
	XMLName xml.Name `xml:"PTZPreset"`
	ID      int      `xml:"id"`
	Enabled *bool    `xml:"enabled,omitempty"`
	Name    string   `xml:"presetName,omitempty"`
}

type statusDoc struct {
	AbsoluteHigh *struct {
		Elevation    *string `xml:"elevation"`
		Azimuth      *string `xml:"azimuth"`
		AbsoluteZoom *string `xml:"absoluteZoom"`
	} `xml:"AbsoluteHigh"`
}

type presetListDoc struct {
	Presets []struct {
		ID      string `xml:"id"`
		Enabled string `xml:"enabled"`
		Name    string `xml:"presetName"`
	} `xml:"PTZPreset"`
}

func encode(v any) (string, error) {
	data, err := xml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}
	return xmlHeader + string(data), nil
}

func parseStatus(data []byte) (ptz.Status, error) {
	var doc statusDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return ptz.Status{}, fmt.Errorf("%w: status: %w", ptz.ErrParse, err)
	}
	if doc.AbsoluteHigh == nil {
		return ptz.Status{}, fmt.Errorf("%w: status: missing AbsoluteHigh", ptz.ErrParse)
	}

	var st ptz.Status
	fields := []struct {
		name string
		raw  *string
		dst  *float64
	}{
		{"elevation", doc.AbsoluteHigh.Elevation, &st.Elevation},
		{"azimuth", doc.AbsoluteHigh.Azimuth, &st.Azimuth},
		{"absoluteZoom", doc.AbsoluteHigh.AbsoluteZoom, &st.AbsoluteZoom},
	}
	for _, f := range fields {
		if f.raw == nil {
			return ptz.Status{}, fmt.Errorf("%w: status: missing %s", ptz.ErrParse, f.name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*f.raw), 64)
		if err != nil {
			return ptz.Status{}, fmt.Errorf("%w: status: %s: %w", ptz.ErrParse, f.name, err)
		}
		*f.dst = v
	}
	return st, nil
}

func parsePresets(data []byte) ([]ptz.Preset, error) {
	var doc presetListDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: presets: %w", ptz.ErrParse, err)
	}

	presets := make([]ptz.Preset, 0, len(doc.Presets))
	for _, p := range doc.Presets {
		id, err := strconv.Atoi(strings.TrimSpace(p.ID))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: presets: bad id %q", ptz.ErrParse, p.ID)
		}
		enabled := false
		if s := strings.TrimSpace(p.Enabled); s != "" {
			enabled, err = strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("%w: presets: bad enabled %q for id %d", ptz.ErrParse, p.Enabled, id)
			}
		}
		presets = append(presets, ptz.Preset{ID: id, Name: p.Name, Enabled: enabled})
	}

	// The gap scan downstream relies on ascending ids; don't trust device order.
	sort.Slice(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })
	return presets, nil
}
