package sdnoverlay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/networks", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "ovim-net-1"})
	}))
	defer srv.Close()

	client := New(Config{URL: srv.URL})
	id, err := client.CreateNetwork(context.Background(), "net1", 100)
	require.NoError(t, err)
	assert.Equal(t, "ovim-net-1", id)
}

func TestDeleteNetwork_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{URL: srv.URL})
	err := client.DeleteNetwork(context.Background(), "ovim-net-1")
	var notFound *action.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestAddExternalPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/networks/ovim-net-1/ports", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "port-1"})
	}))
	defer srv.Close()

	client := New(Config{URL: srv.URL})
	id, err := client.AddExternalPort(context.Background(), "ovim-net-1", PortSpec{PortName: "__WIM"})
	require.NoError(t, err)
	assert.Equal(t, "port-1", id)
}

func TestListPorts_ReturnsMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/networks/ovim-net-1/ports", r.URL.Path)
		assert.Equal(t, "external_port", r.URL.Query().Get("name"))
		json.NewEncoder(w).Encode([]PortInfo{{ID: "port-1", Name: "external_port"}, {ID: "port-2", Name: "external_port"}})
	}))
	defer srv.Close()

	client := New(Config{URL: srv.URL})
	ports, err := client.ListPorts(context.Background(), "ovim-net-1", "external_port")
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "port-1", ports[0].ID)
}

func TestListPorts_NotFoundReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{URL: srv.URL})
	ports, err := client.ListPorts(context.Background(), "ovim-net-1", "external_port")
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestGetNetworkStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Status{Status: "ACTIVE"})
	}))
	defer srv.Close()

	client := New(Config{URL: srv.URL})
	status, err := client.GetNetworkStatus(context.Background(), "ovim-net-1")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", status.Status)
}

func TestNew_DefaultTimeout(t *testing.T) {
	client := New(Config{URL: "http://example.invalid"})
	assert.Equal(t, 10_000_000_000, int(client.client.Timeout))
}
