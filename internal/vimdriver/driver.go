// Package vimdriver defines the polymorphic port onto a Virtualized
// Infrastructure Manager backend, and the factory that builds one from a
// tenant's configuration tuple.
package vimdriver

import (
	"context"
	"fmt"

	"github.com/nfvorch/vimworker/internal/action"
)

// Type identifies a VIM backend family.
type Type string

const (
	OpenStack  Type = "openstack"
	OpenVIM    Type = "openvim"
	VMware     Type = "vmware"
	OpenNebula Type = "opennebula"
	AWS        Type = "aws"
)

// Config is the construction tuple for any driver variant.
type Config struct {
	Type           Type
	UUID           string
	Name           string
	URL            string
	AdminURL       string
	TenantName     string
	TenantID       string
	User           string
	Password       string
	Extra          map[string]string
	PersistentInfo map[string]interface{}

	// RateLimitPerSec caps outbound calls for HTTP-backed driver variants
	// (OpenStack, OpenVIM, OpenNebula, VMware). Zero means unlimited.
	RateLimitPerSec float64
}

// VMSpec describes a VM to be created. Params carries the driver-specific
// payload (flavor, image, networks); NetIDs are the already-resolved VIM
// network ids for each requested interface, keyed by interface name.
type VMSpec struct {
	Name   string
	Params map[string]interface{}
	NetIDs map[string]string
}

// VMResult is what a successful new_vminstance call returns.
type VMResult struct {
	VIMID        string
	CreatedItems map[string]interface{}
}

// NetSpec describes a network to be created.
type NetSpec struct {
	Name   string
	Type   string // e.g. "bridge", "data", "ptp"
	Params map[string]interface{}
}

// NetResult is what a successful new_network call returns.
type NetResult struct {
	VIMID       string
	VLANTag     int
	Segmented   bool
	CreatedVLAN bool
}

// NetFilter is the query used by FindNetworks.
type NetFilter struct {
	Name   string
	Fields map[string]string
}

// NetInfo is the VIM's description of an existing network.
type NetInfo struct {
	VIMID  string
	Name   string
	Status string
}

// VMStatus is one VM's refreshed state.
type VMStatus struct {
	VIMID      string
	Status     string
	ErrorMsg   string
	Interfaces []action.InterfaceState
	VIMInfo    string
}

// NetStatus is one network's refreshed state.
type NetStatus struct {
	VIMID    string
	Status   string
	ErrorMsg string
	VIMInfo  string
}

// SFSpec is the shared shape for the four service-function creation calls;
// the executor fills in whichever fields the target kind needs.
type SFSpec struct {
	Name       string
	Params     map[string]interface{}
	VIMIDs     []string          // resolved dependency VIM ids (ports, SFIs, SF+classification)
	Attributes map[string]string // flow-classifier match fields, etc.
}

// Driver is the capability set every VIM backend implements. Construction
// happens through the Factory below; a Driver instance is owned by exactly
// one worker for exactly one tenant.
type Driver interface {
	NewVMInstance(ctx context.Context, spec VMSpec) (VMResult, error)
	DeleteVMInstance(ctx context.Context, vimID string, createdItems map[string]interface{}) error

	NewNetwork(ctx context.Context, spec NetSpec) (NetResult, error)
	FindNetworks(ctx context.Context, filter NetFilter) ([]NetInfo, error)
	DeleteNetwork(ctx context.Context, vimID string) error

	RefreshVMsStatus(ctx context.Context, vimIDs []string) (map[string]VMStatus, error)
	RefreshNetsStatus(ctx context.Context, vimIDs []string) (map[string]NetStatus, error)

	NewSFI(ctx context.Context, spec SFSpec) (string, error)
	DeleteSFI(ctx context.Context, vimID string) error
	NewSF(ctx context.Context, spec SFSpec) (string, error)
	DeleteSF(ctx context.Context, vimID string) error
	NewClassification(ctx context.Context, spec SFSpec) (string, error)
	DeleteClassification(ctx context.Context, vimID string) error
	NewSFP(ctx context.Context, spec SFSpec) (string, error)
	DeleteSFP(ctx context.Context, vimID string) error
}

// Factory builds a Driver for the given configuration. Each registered
// Type maps to exactly one constructor.
type Factory func(cfg Config) (Driver, error)

var registry = map[Type]Factory{}

// Register adds a driver constructor to the factory registry. Called from
// each variant's init().
func Register(t Type, f Factory) {
	registry[t] = f
}

// New constructs a driver for the given config's Type, returning an error
// if no such type is registered.
func New(cfg Config) (Driver, error) {
	f, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown VIM driver type %q", cfg.Type)
	}
	return f(cfg)
}
