package vimdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nfvorch/vimworker/internal/action"
)

// defaultHTTPTimeout is the per-call timeout used by every HTTP/JSON
// driver variant, mirroring the reference codebase's own explicit
// *http.Client-with-Timeout construction rather than relying on the
// zero-value (no timeout) default client.
const defaultHTTPTimeout = 30 * time.Second

// httpDriver is a generic REST/JSON VIM client shared by the OpenStack,
// OpenVIM, OpenNebula and VMware variants. These backends differ in their
// real wire protocols, but nothing in this spec distinguishes their
// request/response shapes, so one implementation serves all four,
// differentiated only by Type and base URL/credentials.
type httpDriver struct {
	typ     Type
	cfg     Config
	client  *http.Client
	base    string
	limiter *rate.Limiter
}

func newHTTPDriver(typ Type, cfg Config) *httpDriver {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1)
	}
	return &httpDriver{
		typ:     typ,
		cfg:     cfg,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		base:    strings.TrimRight(cfg.URL, "/"),
		limiter: limiter,
	}
}

func init() {
	Register(OpenStack, func(cfg Config) (Driver, error) { return validatedHTTPDriver(OpenStack, cfg) })
	Register(OpenVIM, func(cfg Config) (Driver, error) { return validatedHTTPDriver(OpenVIM, cfg) })
	Register(OpenNebula, func(cfg Config) (Driver, error) { return validatedHTTPDriver(OpenNebula, cfg) })
	Register(VMware, func(cfg Config) (Driver, error) { return validatedHTTPDriver(VMware, cfg) })
}

func validatedHTTPDriver(typ Type, cfg Config) (Driver, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s driver requires a non-empty URL", typ)
	}
	return newHTTPDriver(typ, cfg), nil
}

func (d *httpDriver) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return &action.DriverError{Op: path, Err: err}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &action.DriverError{Op: path, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base+path, reader)
	if err != nil {
		return &action.DriverError{Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.TenantID != "" {
		req.Header.Set("X-Tenant-Id", d.cfg.TenantID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &action.DriverError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &action.NotFoundError{Ref: path}
	}
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return &action.DriverError{Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(payload))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &action.DriverError{Op: path, Err: err}
	}
	return nil
}

type vmCreateRequest struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
	NetIDs map[string]string      `json:"net_ids"`
	Tenant string                 `json:"tenant_id,omitempty"`
}

type vmCreateResponse struct {
	ID           string                 `json:"id"`
	CreatedItems map[string]interface{} `json:"created_items"`
}

func (d *httpDriver) NewVMInstance(ctx context.Context, spec VMSpec) (VMResult, error) {
	var resp vmCreateResponse
	err := d.do(ctx, http.MethodPost, "/servers", vmCreateRequest{
		Name: spec.Name, Params: spec.Params, NetIDs: spec.NetIDs, Tenant: d.cfg.TenantID,
	}, &resp)
	if err != nil {
		return VMResult{}, err
	}
	return VMResult{VIMID: resp.ID, CreatedItems: resp.CreatedItems}, nil
}

func (d *httpDriver) DeleteVMInstance(ctx context.Context, vimID string, createdItems map[string]interface{}) error {
	err := d.do(ctx, http.MethodDelete, "/servers/"+vimID, createdItems, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

type netCreateRequest struct {
	Name   string                 `json:"name"`
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

type netCreateResponse struct {
	ID          string `json:"id"`
	VLANTag     int    `json:"vlan_tag"`
	Segmented   bool   `json:"segmented"`
	CreatedVLAN bool   `json:"created_vlan"`
}

func (d *httpDriver) NewNetwork(ctx context.Context, spec NetSpec) (NetResult, error) {
	var resp netCreateResponse
	err := d.do(ctx, http.MethodPost, "/networks", netCreateRequest{Name: spec.Name, Type: spec.Type, Params: spec.Params}, &resp)
	if err != nil {
		return NetResult{}, err
	}
	return NetResult{VIMID: resp.ID, VLANTag: resp.VLANTag, Segmented: resp.Segmented, CreatedVLAN: resp.CreatedVLAN}, nil
}

func (d *httpDriver) FindNetworks(ctx context.Context, filter NetFilter) ([]NetInfo, error) {
	path := "/networks?name=" + filter.Name
	for k, v := range filter.Fields {
		path += "&" + k + "=" + v
	}
	var resp []NetInfo
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *httpDriver) DeleteNetwork(ctx context.Context, vimID string) error {
	err := d.do(ctx, http.MethodDelete, "/networks/"+vimID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (d *httpDriver) RefreshVMsStatus(ctx context.Context, vimIDs []string) (map[string]VMStatus, error) {
	var resp map[string]VMStatus
	err := d.do(ctx, http.MethodPost, "/servers/status", map[string][]string{"ids": vimIDs}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *httpDriver) RefreshNetsStatus(ctx context.Context, vimIDs []string) (map[string]NetStatus, error) {
	var resp map[string]NetStatus
	err := d.do(ctx, http.MethodPost, "/networks/status", map[string][]string{"ids": vimIDs}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type sfCreateResponse struct {
	ID string `json:"id"`
}

func (d *httpDriver) newSF(ctx context.Context, path string, spec SFSpec) (string, error) {
	var resp sfCreateResponse
	err := d.do(ctx, http.MethodPost, path, spec, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *httpDriver) deleteSF(ctx context.Context, path, vimID string) error {
	err := d.do(ctx, http.MethodDelete, path+"/"+vimID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (d *httpDriver) NewSFI(ctx context.Context, spec SFSpec) (string, error) {
	return d.newSF(ctx, "/sfis", spec)
}
func (d *httpDriver) DeleteSFI(ctx context.Context, vimID string) error { return d.deleteSF(ctx, "/sfis", vimID) }

func (d *httpDriver) NewSF(ctx context.Context, spec SFSpec) (string, error) {
	return d.newSF(ctx, "/sfs", spec)
}
func (d *httpDriver) DeleteSF(ctx context.Context, vimID string) error { return d.deleteSF(ctx, "/sfs", vimID) }

func (d *httpDriver) NewClassification(ctx context.Context, spec SFSpec) (string, error) {
	return d.newSF(ctx, "/classifications", spec)
}
func (d *httpDriver) DeleteClassification(ctx context.Context, vimID string) error {
	return d.deleteSF(ctx, "/classifications", vimID)
}

func (d *httpDriver) NewSFP(ctx context.Context, spec SFSpec) (string, error) {
	return d.newSF(ctx, "/sfps", spec)
}
func (d *httpDriver) DeleteSFP(ctx context.Context, vimID string) error { return d.deleteSF(ctx, "/sfps", vimID) }

func isNotFound(err error) bool {
	var nf *action.NotFoundError
	return errors.As(err, &nf)
}
