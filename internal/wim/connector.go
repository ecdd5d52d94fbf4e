// Package wim defines the WIM connector interface: the driver family for
// wide-area connectivity provisioning, parallel to vimdriver but scoped to
// inter-site service chains rather than compute/network resources.
package wim

import "context"

// ServiceStatus mirrors the vocabulary a WIM connector reports.
type ServiceStatus string

const (
	StatusBuild  ServiceStatus = "BUILD"
	StatusActive ServiceStatus = "ACTIVE"
	StatusError  ServiceStatus = "ERROR"
)

// Endpoint is one segment terminal of a connectivity service: a named
// attachment point, the VLAN label to apply, and its bandwidth budget.
type Endpoint struct {
	TerminalName string
	VLAN         int
	IngressBW    int
	EgressBW     int
}

// ServiceType distinguishes the kind of connectivity service requested.
type ServiceType string

const (
	ELine ServiceType = "ELINE"
	ELan  ServiceType = "ELAN"
)

// Connector is the capability set any WIM backend implements.
type Connector interface {
	CheckCredentials(ctx context.Context) error
	CreateConnectivityService(ctx context.Context, typ ServiceType, endpoints []Endpoint, extra map[string]string) (serviceID string, connInfo map[string]interface{}, err error)
	GetConnectivityServiceStatus(ctx context.Context, serviceID string) (ServiceStatus, error)
	DeleteConnectivityService(ctx context.Context, serviceID string, connInfo map[string]interface{}) error
	EditConnectivityService(ctx context.Context, serviceID string, endpoints []Endpoint) error
	ClearAllConnectivityServices(ctx context.Context) error
}
