// Package bridge adapts the onboard vehicle shim's local HTTP interface to the
// telemetry and capture sources the pipeline consumes. The shim wraps the
// vehicle SDK (camera mode control, flight state) and serves it on loopback.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aeroaid/dronewatch/internal/model"
)

// Client talks to the vehicle bridge. It implements telemetry.Provider and
// capture.Source.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a bridge client for the given address, e.g. "http://127.0.0.1:8070".
func New(addr string) *Client {
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

type telemetryResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float32 `json:"altitude"`
	HasFix    bool    `json:"hasFix"`
}

// Position fetches the current position from the bridge. Any transport or
// decode failure reads as "no fix": telemetry loss is non-fatal by contract.
func (c *Client) Position() (model.Position, bool) {
	resp, err := c.hc.Get(c.baseURL + "/v1/telemetry")
	if err != nil {
		return model.Position{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Position{}, false
	}
	var out telemetryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.HasFix {
		return model.Position{}, false
	}
	return model.Position{
		Latitude:   out.Latitude,
		Longitude:  out.Longitude,
		Altitude:   out.Altitude,
		ObservedAt: time.Now(),
	}, true
}

// Ready reports whether the bridge answers its camera status probe.
func (c *Client) Ready() bool {
	resp, err := c.hc.Get(c.baseURL + "/v1/camera/status")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ShootPhoto commands a single still capture.
func (c *Client) ShootPhoto(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/camera/shoot", nil)
	if err != nil {
		return fmt.Errorf("building shoot request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("shoot photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("shoot photo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Frame fetches the current video frame as JPEG bytes.
func (c *Client) Frame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/camera/frame", nil)
	if err != nil {
		return nil, fmt.Errorf("building frame request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching frame: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching frame: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return b, nil
}
