// Package sdnoverlay is a thin JSON client for the SDN overlay (OVIM)
// control plane that stitches VLAN-tagged ports across compute nodes.
// Calls are serialised behind a package-level lock because the overlay
// client this is modeled on is not safe for concurrent use; a
// connection-pooled, concurrency-safe client could drop the lock without
// any behavioural change (see SPEC_FULL.md §9).
package sdnoverlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
)

var dbLock sync.Mutex

// Config configures one overlay client instance.
type Config struct {
	URL        string
	User       string
	Password   string
	TimeoutSec int
}

// PortSpec describes an external port to bind into the overlay.
type PortSpec struct {
	NetID    string
	PortName string
	Switch   string
	VLAN     int
	MAC      string
}

// Status is the overlay's view of a network or port.
type Status struct {
	Status   string // BUILD | ACTIVE | ERROR
	ErrorMsg string
}

// Client talks to the overlay's REST API.
type Client struct {
	cfg    Config
	client *http.Client
	base   string
}

// New builds an overlay client. A zero TimeoutSec defaults to 10s.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(cfg.URL, "/"),
	}
}

// CreateNetwork mirrors a VIM-side network onto the overlay, returning the
// overlay's own network id.
func (c *Client) CreateNetwork(ctx context.Context, name string, vlan int) (string, error) {
	dbLock.Lock()
	defer dbLock.Unlock()

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/networks", map[string]interface{}{
		"name": name, "vlan": vlan,
	}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeleteNetwork removes an overlay network. NotFound is treated as
// success by callers per the DELETE idempotence convention.
func (c *Client) DeleteNetwork(ctx context.Context, sdnNetID string) error {
	dbLock.Lock()
	defer dbLock.Unlock()

	return c.do(ctx, http.MethodDelete, "/networks/"+sdnNetID, nil, nil)
}

// AddExternalPort binds an external port (compute-node-facing) to an
// overlay network under spec.PortName, in a single request. It does not
// retry under another name; the fallback from the WIM-qualified port name
// to the bare "__WIM" name is made by the caller (Executor.createNetwork).
func (c *Client) AddExternalPort(ctx context.Context, sdnNetID string, spec PortSpec) (string, error) {
	dbLock.Lock()
	defer dbLock.Unlock()

	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/networks/"+sdnNetID+"/ports", map[string]interface{}{
		"name": spec.PortName, "switch": spec.Switch, "vlan": spec.VLAN, "mac": spec.MAC,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeletePort removes an overlay port. NotFound is treated as success.
func (c *Client) DeletePort(ctx context.Context, sdnNetID, portID string) error {
	dbLock.Lock()
	defer dbLock.Unlock()

	return c.do(ctx, http.MethodDelete, "/networks/"+sdnNetID+"/ports/"+portID, nil, nil)
}

// PortInfo is one overlay-side port record as returned by ListPorts.
type PortInfo struct {
	ID   string `json:"uuid"`
	Name string `json:"name"`
}

// ListPorts returns every overlay port of the given name bound to
// sdnNetID, used before a network delete to find the external ports that
// must be unbound first (e.g. ones attached out-of-band via a manual
// vim-net-sdn-attach-equivalent call).
func (c *Client) ListPorts(ctx context.Context, sdnNetID, portName string) ([]PortInfo, error) {
	dbLock.Lock()
	defer dbLock.Unlock()

	var ports []PortInfo
	path := fmt.Sprintf("/networks/%s/ports?name=%s", sdnNetID, portName)
	if err := c.do(ctx, http.MethodGet, path, nil, &ports); err != nil {
		if action.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ports, nil
}

// GetNetworkStatus polls the overlay's view of a network, used by the
// refresh scheduler to combine with the VIM-reported status.
func (c *Client) GetNetworkStatus(ctx context.Context, sdnNetID string) (Status, error) {
	dbLock.Lock()
	defer dbLock.Unlock()

	var st Status
	if err := c.do(ctx, http.MethodGet, "/networks/"+sdnNetID+"/status", nil, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &action.OverlayError{Op: path, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &action.OverlayError{Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &action.OverlayError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &action.NotFoundError{Ref: path}
	}
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return &action.OverlayError{Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(payload))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
