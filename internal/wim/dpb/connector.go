// Package dpb implements a WIM connector for DPB-family wide-area network
// controllers, speaking either a framed-JSON-over-SSH protocol or a plain
// HTTP/JSON protocol to the same underlying message vocabulary.
package dpb

import (
	"context"
	"fmt"

	"github.com/nfvorch/vimworker/internal/wim"
)

// Transport selects which wire protocol a Connector speaks to its backend.
type Transport string

const (
	TransportSSH  Transport = "ssh"
	TransportHTTP Transport = "http"
)

// Config configures a Connector's backend connection.
type Config struct {
	Transport      Transport
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string
	KnownHostsPath string
	Network        string
}

// Connector implements wim.Connector against a DPB controller.
type Connector struct {
	cfg Config
	t   transport
}

var _ wim.Connector = (*Connector)(nil)

// New builds a Connector for cfg, selecting the transport named by
// cfg.Transport.
func New(cfg Config) (*Connector, error) {
	var t transport
	switch cfg.Transport {
	case TransportSSH:
		t = newSSHTransport(cfg)
	case TransportHTTP:
		t = newHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("dpb: unknown transport %q", cfg.Transport)
	}
	return &Connector{cfg: cfg, t: t}, nil
}

func (c *Connector) CheckCredentials(ctx context.Context) error {
	_, err := c.t.Call(ctx, "check-credentials", nil)
	return err
}

func (c *Connector) CreateConnectivityService(ctx context.Context, typ wim.ServiceType, endpoints []wim.Endpoint, extra map[string]string) (string, map[string]interface{}, error) {
	created, err := c.t.Call(ctx, "new-service", map[string]interface{}{
		"service-type": string(typ),
	})
	if err != nil {
		return "", nil, fmt.Errorf("dpb new-service: %w", err)
	}

	serviceID, err := serviceIDFromResponse(created)
	if err != nil {
		return "", nil, fmt.Errorf("dpb new-service: %w", err)
	}

	segments := make([]map[string]interface{}, 0, len(endpoints))
	for _, ep := range endpoints {
		segments = append(segments, map[string]interface{}{
			"terminal-name": ep.TerminalName,
			"label":         ep.VLAN,
			"ingress-bw":    ep.IngressBW,
			"egress-bw":     ep.EgressBW,
		})
	}

	if _, err := c.t.Call(ctx, "define-service", map[string]interface{}{
		"service-id": serviceID,
		"segment":    segments,
	}); err != nil {
		return "", nil, fmt.Errorf("dpb define-service %s: %w", serviceID, err)
	}

	if _, err := c.t.Call(ctx, "activate-service", map[string]interface{}{
		"service-id": serviceID,
	}); err != nil {
		return "", nil, fmt.Errorf("dpb activate-service %s: %w", serviceID, err)
	}

	connInfo := map[string]interface{}{"service-id": serviceID}
	return serviceID, connInfo, nil
}

func (c *Connector) GetConnectivityServiceStatus(ctx context.Context, serviceID string) (wim.ServiceStatus, error) {
	resp, err := c.t.Call(ctx, "await-service-status", map[string]interface{}{
		"service-id":     serviceID,
		"timeout-millis": 10000,
		"acceptable":     []string{"ACTIVATING", "ACTIVE", "ACTIVATED", "FAILED"},
	})
	if err != nil {
		return "", fmt.Errorf("dpb await-service-status %s: %w", serviceID, err)
	}

	raw, _ := resp["status"].(string)
	return mapDPBStatus(raw), nil
}

func (c *Connector) DeleteConnectivityService(ctx context.Context, serviceID string, connInfo map[string]interface{}) error {
	_, err := c.t.Call(ctx, "release-service", map[string]interface{}{
		"service-id": serviceID,
	})
	if err != nil {
		return fmt.Errorf("dpb release-service %s: %w", serviceID, err)
	}
	return nil
}

func (c *Connector) EditConnectivityService(ctx context.Context, serviceID string, endpoints []wim.Endpoint) error {
	segments := make([]map[string]interface{}, 0, len(endpoints))
	for _, ep := range endpoints {
		segments = append(segments, map[string]interface{}{
			"terminal-name": ep.TerminalName,
			"label":         ep.VLAN,
			"ingress-bw":    ep.IngressBW,
			"egress-bw":     ep.EgressBW,
		})
	}
	_, err := c.t.Call(ctx, "define-service", map[string]interface{}{
		"service-id": serviceID,
		"segment":    segments,
	})
	if err != nil {
		return fmt.Errorf("dpb define-service (edit) %s: %w", serviceID, err)
	}
	return nil
}

func (c *Connector) ClearAllConnectivityServices(ctx context.Context) error {
	_, err := c.t.Call(ctx, "clear-all-services", nil)
	if err != nil {
		return fmt.Errorf("dpb clear-all-services: %w", err)
	}
	return nil
}

// serviceIDFromResponse extracts the service id DPB hands back from
// new-service, which may decode as either a JSON string or a JSON number.
func serviceIDFromResponse(resp map[string]interface{}) (string, error) {
	raw, ok := resp["service-id"]
	if !ok {
		return "", fmt.Errorf("response missing service-id")
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", fmt.Errorf("unexpected service-id type %T", raw)
	}
}

func mapDPBStatus(raw string) wim.ServiceStatus {
	switch raw {
	case "ACTIVE", "ACTIVATED":
		return wim.StatusActive
	case "FAILED":
		return wim.StatusError
	default:
		return wim.StatusBuild
	}
}
