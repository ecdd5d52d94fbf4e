package dpb

import (
	"context"
	"testing"

	"github.com/nfvorch/vimworker/internal/wim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport replays canned responses keyed by message type, recording
// every call it was given so tests can assert on ordering and payload shape.
type fakeTransport struct {
	responses map[string]map[string]interface{}
	calls     []string
	payloads  []map[string]interface{}
}

func (f *fakeTransport) Call(ctx context.Context, msgType string, payload map[string]interface{}) (map[string]interface{}, error) {
	f.calls = append(f.calls, msgType)
	f.payloads = append(f.payloads, payload)
	return f.responses[msgType], nil
}

func newConnector(ft *fakeTransport) *Connector {
	return &Connector{cfg: Config{Network: "net1"}, t: ft}
}

func TestCreateConnectivityService_FullLifecycle(t *testing.T) {
	ft := &fakeTransport{
		responses: map[string]map[string]interface{}{
			"new-service":      {"service-id": float64(42)},
			"define-service":   {},
			"activate-service": {},
		},
	}
	c := newConnector(ft)

	endpoints := []wim.Endpoint{
		{TerminalName: "term-a", VLAN: 100, IngressBW: 10, EgressBW: 10},
		{TerminalName: "term-b", VLAN: 200, IngressBW: 20, EgressBW: 20},
	}

	serviceID, connInfo, err := c.CreateConnectivityService(context.Background(), wim.ELine, endpoints, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", serviceID)
	assert.Equal(t, "42", connInfo["service-id"])

	require.Equal(t, []string{"new-service", "define-service", "activate-service"}, ft.calls)

	segments, ok := ft.payloads[1]["segment"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, segments, 2)
	assert.Equal(t, "term-a", segments[0]["terminal-name"])
	assert.Equal(t, 100, segments[0]["label"])
}

func TestGetConnectivityServiceStatus_MapsActivated(t *testing.T) {
	ft := &fakeTransport{
		responses: map[string]map[string]interface{}{
			"await-service-status": {"status": "ACTIVATED"},
		},
	}
	c := newConnector(ft)

	status, err := c.GetConnectivityServiceStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, wim.StatusActive, status)
}

func TestGetConnectivityServiceStatus_MapsFailed(t *testing.T) {
	ft := &fakeTransport{
		responses: map[string]map[string]interface{}{
			"await-service-status": {"status": "FAILED"},
		},
	}
	c := newConnector(ft)

	status, err := c.GetConnectivityServiceStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, wim.StatusError, status)
}

func TestGetConnectivityServiceStatus_MapsActivatingToBuild(t *testing.T) {
	ft := &fakeTransport{
		responses: map[string]map[string]interface{}{
			"await-service-status": {"status": "ACTIVATING"},
		},
	}
	c := newConnector(ft)

	status, err := c.GetConnectivityServiceStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, wim.StatusBuild, status)
}

func TestDeleteConnectivityService(t *testing.T) {
	ft := &fakeTransport{responses: map[string]map[string]interface{}{"release-service": {}}}
	c := newConnector(ft)

	err := c.DeleteConnectivityService(context.Background(), "42", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"release-service"}, ft.calls)
	assert.Equal(t, "42", ft.payloads[0]["service-id"])
}

func TestNew_UnknownTransport(t *testing.T) {
	_, err := New(Config{Transport: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNew_HTTPTransport(t *testing.T) {
	c, err := New(Config{Transport: TransportHTTP, Host: "dpb.local", Port: 8080, Network: "net1"})
	require.NoError(t, err)
	_, ok := c.t.(*httpTransport)
	assert.True(t, ok)
}

func TestNew_SSHTransport(t *testing.T) {
	c, err := New(Config{Transport: TransportSSH, Host: "dpb.local", Port: 22, Network: "net1"})
	require.NoError(t, err)
	_, ok := c.t.(*sshTransport)
	assert.True(t, ok)
}
