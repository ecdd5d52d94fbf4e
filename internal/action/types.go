// Package action defines the Action/Task data model shared by the loader,
// resolver, executor and refresh scheduler: a flat, persisted unit of work
// against one VIM tenant, plus the in-memory state attached to it once
// loaded and resolved.
package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ItemKind identifies the category of logical object a task acts on.
type ItemKind string

const (
	ItemVM             ItemKind = "vm"
	ItemNetwork        ItemKind = "net"
	ItemSFI            ItemKind = "sfi"
	ItemSF             ItemKind = "sf"
	ItemClassification ItemKind = "classification"
	ItemSFP            ItemKind = "sfp"
)

// Refreshable reports whether this item kind is polled by the refresh
// scheduler. The four service-function kinds are not.
func (k ItemKind) Refreshable() bool {
	switch k {
	case ItemVM, ItemNetwork:
		return true
	default:
		return false
	}
}

// Verb is the operation a task performs.
type Verb string

const (
	Create Verb = "CREATE"
	Delete Verb = "DELETE"
	Find   Verb = "FIND"
)

// Status is a task's place in its lifecycle.
type Status string

const (
	Scheduled  Status = "SCHEDULED"
	Build      Status = "BUILD"
	Done       Status = "DONE"
	Failed     Status = "FAILED"
	Superseded Status = "SUPERSEDED"
)

// Terminal reports whether the status is absorbing (modulo SUPERSEDED,
// which may overwrite any non-terminal status per the resolver).
func (s Status) Terminal() bool {
	switch s {
	case Done, Failed, Superseded:
		return true
	default:
		return false
	}
}

// NonTerminal reports whether a task in this status counts toward the
// "at most one non-terminal task per (item, item_id)" invariant.
func (s Status) NonTerminal() bool {
	return s == Scheduled || s == Build
}

// GroupKey identifies the logical object a set of tasks contends over.
type GroupKey struct {
	Item   ItemKind
	ItemID string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.Item, k.ItemID)
}

// InterfaceState is the per-NIC sub-state tracked inside a VM or network
// task's Extra payload and mirrored into instance_interfaces.
type InterfaceState struct {
	ItemID         string `yaml:"item_id,omitempty"`
	NetID          string `yaml:"net_id,omitempty"`
	VIMInterfaceID string `yaml:"vim_interface_id,omitempty"`
	MACAddress     string `yaml:"mac_address,omitempty"`
	IPAddress      string `yaml:"ip_address,omitempty"`
	VLAN           int    `yaml:"vlan,omitempty"`
	PCI            string `yaml:"pci,omitempty"`
	SDNPortID      string `yaml:"sdn_port_id,omitempty"`
}

// Extra is the structured payload round-tripped through the action
// table's extra column. It is serialised as YAML (see extra.go) so that
// arbitrary nested params survive a store/load cycle.
type Extra struct {
	Params       map[string]interface{} `yaml:"params,omitempty"`
	Find         map[string]interface{} `yaml:"find,omitempty"`
	DependsOn    []string               `yaml:"depends_on,omitempty"`
	Interfaces   []InterfaceState       `yaml:"interfaces,omitempty"`
	CreatedItems map[string]interface{} `yaml:"created_items,omitempty"`
	Created      bool                   `yaml:"created,omitempty"`
	SDNNetID     string                 `yaml:"sdn_net_id,omitempty"`
	VIMStatus    string                 `yaml:"vim_status,omitempty"`
	Tries        int                    `yaml:"tries,omitempty"`
}

// Task is one persisted action row, plus the in-memory bookkeeping the
// resolver attaches once it is loaded and grouped.
type Task struct {
	InstanceActionID string
	TaskIndex        int
	DatacenterVIMID  string
	Action           Verb
	Item             ItemKind
	ItemID           string
	VIMID            string
	Status           Status
	Extra            Extra
	ErrorMsg         string
	CreatedAt        time.Time
	ModifiedAt       time.Time

	// In-memory only: rebuilt on every load, never persisted.
	Depends       map[string]*Task
	VIMInterfaces []InterfaceState
	VIMInfo       string
}

// Key returns the (item, item_id) group this task contends over.
func (t *Task) Key() GroupKey {
	return GroupKey{Item: t.Item, ItemID: t.ItemID}
}

// RefByIndex formats the local-parent dependency reference for taskIndex.
func RefByIndex(taskIndex int) string {
	return fmt.Sprintf("TASK-%d", taskIndex)
}

// RefByParentIndex formats the qualified dependency reference for a task
// belonging to a different parent instance action.
func RefByParentIndex(parentID string, taskIndex int) string {
	return fmt.Sprintf("TASK-%s.%d", parentID, taskIndex)
}

// Refs returns every form under which other tasks may cite this one:
// its own-parent form, and its fully qualified form.
func (t *Task) Refs() []string {
	return []string{RefByIndex(t.TaskIndex), RefByParentIndex(t.InstanceActionID, t.TaskIndex)}
}

// DependencyRef is a parsed entry from Extra.DependsOn: either a bare
// task index within the same parent, or a "parent.index" pair.
type DependencyRef struct {
	ParentID  string // empty means "same parent as the referencing task"
	TaskIndex int
}

// ParseDependencyRef parses a depends_on entry. Accepted forms are a bare
// integer ("5") and a qualified "parent.index" pair; either may carry the
// "TASK-" prefix used in resolved-reference form.
func ParseDependencyRef(s string) (DependencyRef, error) {
	s = strings.TrimPrefix(s, "TASK-")
	if dot := strings.LastIndex(s, "."); dot >= 0 {
		idx, err := strconv.Atoi(s[dot+1:])
		if err != nil {
			return DependencyRef{}, fmt.Errorf("invalid dependency reference %q: %w", s, err)
		}
		return DependencyRef{ParentID: s[:dot], TaskIndex: idx}, nil
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return DependencyRef{}, fmt.Errorf("invalid dependency reference %q: %w", s, err)
	}
	return DependencyRef{TaskIndex: idx}, nil
}

// Ref renders the reference back in "TASK-..." form, suitable as a map key
// alongside Task.Refs().
func (r DependencyRef) Ref(ownerParentID string) string {
	if r.ParentID == "" {
		return RefByIndex(r.TaskIndex)
	}
	return RefByParentIndex(r.ParentID, r.TaskIndex)
}

// ResolvedParentID returns the parent id to look a reference up under,
// substituting the owning task's parent when the reference is unqualified.
func (r DependencyRef) ResolvedParentID(ownerParentID string) string {
	if r.ParentID == "" {
		return ownerParentID
	}
	return r.ParentID
}
