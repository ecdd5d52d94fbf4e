// Package worker implements the per-tenant action loader, pending-task
// executor and refresh scheduler that together form one VIM worker.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/sdnoverlay"
	"github.com/nfvorch/vimworker/internal/vimdriver"
)

const (
	dataNetworkType  = "data"
	ptpNetworkType   = "ptp"
	wimPortFallback  = "__WIM"
	externalPortName = "external_port"
)

// Executor runs the pending-task dispatch table of one worker pass:
// dependency checks, driver/overlay calls, and persistence.
type Executor struct {
	store     TaskStore
	driver    vimdriver.Driver
	driverErr error
	overlay   *sdnoverlay.Client
	wimName   string
	maxTries  int
	createCap int

	buildInterval  time.Duration
	activeInterval time.Duration
}

// NewExecutor builds an Executor. driverErr, when non-nil, means driver
// construction failed for this tenant; every dispatch then fails fast per
// §4.4 step 2 instead of touching driver/nil. A createCap <= 0 defaults to
// ten, the original hard-coded per-pass CREATE budget.
func NewExecutor(store TaskStore, driver vimdriver.Driver, driverErr error, overlay *sdnoverlay.Client, wimName string, maxTries, createCap int, buildInterval, activeInterval time.Duration) *Executor {
	if createCap <= 0 {
		createCap = 10
	}
	return &Executor{
		store:          store,
		driver:         driver,
		driverErr:      driverErr,
		overlay:        overlay,
		wimName:        wimName,
		maxTries:       maxTries,
		createCap:      createCap,
		buildInterval:  buildInterval,
		activeInterval: activeInterval,
	}
}

// Outcome is what running one pending queue produced, for the worker loop
// to fold into its refresh queue and its closed-group bookkeeping.
type Outcome struct {
	RefreshAdds  []refreshEntry
	ClosedGroups []action.GroupKey
}

// RunPending drains queue front-to-back, stopping once either the queue is
// empty or createCap (default ten) CREATE actions have executed, per §4.4. Tasks whose
// dependencies are not yet ready are re-appended to the back of the queue.
func (e *Executor) RunPending(ctx context.Context, queue []*action.Task) (Outcome, error) {
	var out Outcome
	createCount := 0

	for len(queue) > 0 && createCount < e.createCap {
		t := queue[0]
		queue = queue[1:]

		if t.Status == action.Superseded {
			if err := e.persist(ctx, t); err != nil {
				return out, err
			}
			continue
		}

		ready, err := e.checkDependencies(ctx, t)
		if err != nil {
			return out, err
		}
		if !ready {
			queue = append(queue, t)
			continue
		}

		if t.Action == action.Create {
			createCount++
		}

		if t.Status == action.Failed {
			if err := e.persist(ctx, t); err != nil {
				return out, err
			}
			continue
		}

		if e.driverErr != nil {
			e.failTask(t, fmt.Sprintf("driver unavailable: %v", e.driverErr))
			if err := e.persist(ctx, t); err != nil {
				return out, err
			}
			continue
		}

		if err := e.dispatch(ctx, t); err != nil {
			t.Status = action.Failed
			t.ErrorMsg = err.Error()
		}

		if err := e.persist(ctx, t); err != nil {
			return out, err
		}

		if t.Action == action.Delete && t.Status.Terminal() {
			out.ClosedGroups = append(out.ClosedGroups, t.Key())
			continue
		}

		if (t.Status == action.Done || t.Status == action.Build) && t.Item.Refreshable() {
			readyAt := time.Now().Add(refreshCadence(t.Extra.VIMStatus, e.buildInterval, e.activeInterval))
			out.RefreshAdds = append(out.RefreshAdds, refreshEntry{task: t, modifiedAt: readyAt})
		}
	}

	return out, nil
}

// checkDependencies implements §4.4 step 1. It returns false (not an
// error) when the task should be re-queued for another attempt later.
func (e *Executor) checkDependencies(ctx context.Context, t *action.Task) (bool, error) {
	for _, raw := range t.Extra.DependsOn {
		ref, err := action.ParseDependencyRef(raw)
		if err != nil {
			return false, err
		}
		parentID := ref.ResolvedParentID(t.InstanceActionID)

		dep := t.Depends[ref.Ref(t.InstanceActionID)]
		if dep == nil {
			dep, err = e.store.GetTask(ctx, parentID, ref.TaskIndex)
			if err != nil {
				return false, err
			}
		}

		switch {
		case dep.Status == action.Failed:
			t.Status = action.Failed
			t.ErrorMsg = fmt.Sprintf("dependency %s failed", ref.Ref(t.InstanceActionID))
			return true, nil
		case dep.Status == action.Scheduled || dep.Status == action.Build:
			t.Extra.Tries++
			if t.Extra.Tries > e.maxTries {
				t.Status = action.Failed
				t.ErrorMsg = fmt.Sprintf("timed out waiting on dependency %s", ref.Ref(t.InstanceActionID))
				return true, nil
			}
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) failTask(t *action.Task, msg string) {
	t.Status = action.Failed
	t.ErrorMsg = msg
}

// dispatch routes t to the driver/overlay call its (item, action) pair
// names, per §4.4 step 3.
func (e *Executor) dispatch(ctx context.Context, t *action.Task) error {
	switch t.Item {
	case action.ItemVM:
		return e.dispatchVM(ctx, t)
	case action.ItemNetwork:
		return e.dispatchNetwork(ctx, t)
	case action.ItemSFI, action.ItemSF, action.ItemClassification, action.ItemSFP:
		return e.dispatchServiceFunction(ctx, t)
	default:
		return fmt.Errorf("unknown item kind %q", t.Item)
	}
}

func (e *Executor) dispatchVM(ctx context.Context, t *action.Task) error {
	switch t.Action {
	case action.Create:
		netIDs := resolveNetIDRefs(t)
		result, err := e.driver.NewVMInstance(ctx, vimdriver.VMSpec{Name: t.ItemID, Params: t.Extra.Params, NetIDs: netIDs})
		if err != nil {
			return err
		}
		t.VIMID = result.VIMID
		t.Extra.CreatedItems = result.CreatedItems
		t.Extra.Created = true
		t.Status = action.Build
		t.Extra.VIMStatus = "BUILD"
		if len(t.Extra.Interfaces) == 0 {
			for name, netID := range netIDs {
				t.Extra.Interfaces = append(t.Extra.Interfaces, action.InterfaceState{ItemID: name, NetID: netID})
			}
		}
		return nil

	case action.Delete:
		for _, iface := range t.Extra.Interfaces {
			if e.overlay != nil && iface.SDNPortID != "" {
				_ = e.overlay.DeletePort(ctx, iface.NetID, iface.SDNPortID)
			}
		}
		err := e.driver.DeleteVMInstance(ctx, t.VIMID, t.Extra.CreatedItems)
		if err != nil && !action.IsNotFound(err) {
			return err
		}
		t.Status = action.Done
		return nil

	default:
		return fmt.Errorf("unsupported VM action %q", t.Action)
	}
}

func (e *Executor) dispatchNetwork(ctx context.Context, t *action.Task) error {
	switch t.Action {
	case action.Create:
		return e.createNetwork(ctx, t)
	case action.Find:
		return e.findNetwork(ctx, t)
	case action.Delete:
		return e.deleteNetwork(ctx, t)
	default:
		return fmt.Errorf("unsupported network action %q", t.Action)
	}
}

func (e *Executor) createNetwork(ctx context.Context, t *action.Task) error {
	if len(t.Extra.Find) > 0 {
		hits, err := e.driver.FindNetworks(ctx, filterFromFind(t.Extra.Find))
		if err == nil && len(hits) == 1 {
			t.VIMID = hits[0].VIMID
			t.Extra.Created = false
			t.Status = action.Done
			t.Extra.VIMStatus = hits[0].Status
			return nil
		}
	}

	netType, _ := t.Extra.Params["type"].(string)
	result, err := e.driver.NewNetwork(ctx, vimdriver.NetSpec{Name: t.ItemID, Type: netType, Params: t.Extra.Params})
	if err != nil {
		return err
	}

	t.VIMID = result.VIMID
	t.Extra.Created = true
	t.Status = action.Build
	t.Extra.VIMStatus = "BUILD"

	if e.overlay != nil && (netType == dataNetworkType || netType == ptpNetworkType) {
		if !result.Segmented {
			return fmt.Errorf("vim did not return a vlan segmentation for %s network %s", netType, t.ItemID)
		}
		sdnID, err := e.overlay.CreateNetwork(ctx, t.ItemID, result.VLANTag)
		if err != nil {
			return fmt.Errorf("mirroring network %s onto sdn overlay: %w", t.ItemID, err)
		}
		t.Extra.SDNNetID = sdnID

		if wantsExternalPort(t.Extra.Params) {
			portName := fmt.Sprintf("%s:%s", wimPortFallback, e.wimName)
			_, err := e.overlay.AddExternalPort(ctx, sdnID, sdnoverlay.PortSpec{NetID: sdnID, PortName: portName})
			if action.IsNotFound(err) {
				_, err = e.overlay.AddExternalPort(ctx, sdnID, sdnoverlay.PortSpec{NetID: sdnID, PortName: wimPortFallback})
			}
			if err != nil {
				return fmt.Errorf("adding external port for network %s: %w", t.ItemID, err)
			}
		}
	}
	return nil
}

func (e *Executor) findNetwork(ctx context.Context, t *action.Task) error {
	hits, err := e.driver.FindNetworks(ctx, filterFromFind(t.Extra.Find))
	if err != nil {
		return err
	}
	switch len(hits) {
	case 0:
		return &action.NotFoundError{Item: action.ItemNetwork, Ref: t.ItemID}
	case 1:
		t.VIMID = hits[0].VIMID
		t.Extra.Created = false
		t.Status = action.Done
		t.Extra.VIMStatus = hits[0].Status
		return nil
	default:
		return &action.AmbiguousError{Item: action.ItemNetwork, Count: len(hits)}
	}
}

func (e *Executor) deleteNetwork(ctx context.Context, t *action.Task) error {
	if e.overlay != nil && t.Extra.SDNNetID != "" {
		ports, err := e.overlay.ListPorts(ctx, t.Extra.SDNNetID, externalPortName)
		if err != nil && !action.IsNotFound(err) {
			return fmt.Errorf("listing external ports for network %s: %w", t.ItemID, err)
		}
		for _, port := range ports {
			if err := e.overlay.DeletePort(ctx, t.Extra.SDNNetID, port.ID); err != nil && !action.IsNotFound(err) {
				return fmt.Errorf("deleting external port %s for network %s: %w", port.ID, t.ItemID, err)
			}
		}
		if err := e.overlay.DeleteNetwork(ctx, t.Extra.SDNNetID); err != nil && !action.IsNotFound(err) {
			return err
		}
	}
	if err := e.driver.DeleteNetwork(ctx, t.VIMID); err != nil && !action.IsNotFound(err) {
		return err
	}
	t.Status = action.Done
	return nil
}

func (e *Executor) dispatchServiceFunction(ctx context.Context, t *action.Task) error {
	switch t.Action {
	case action.Create:
		spec, err := buildSFSpec(t)
		if err != nil {
			return err
		}
		create, _ := serviceFunctionMethods(e.driver, t.Item)
		vimID, err := create(ctx, spec)
		if err != nil {
			return err
		}
		t.VIMID = vimID
		t.Extra.Created = true
		t.Status = action.Done
		return nil

	case action.Delete:
		_, del := serviceFunctionMethods(e.driver, t.Item)
		if err := del(ctx, t.VIMID); err != nil && !action.IsNotFound(err) {
			return err
		}
		t.Status = action.Done
		return nil

	default:
		return fmt.Errorf("unsupported service-function action %q", t.Action)
	}
}

// buildSFSpec fills in the VIM-side identifiers a service-function create
// call needs, per dependency kind: an SFI resolves its ingress/egress
// interface params against the dependency VM's own reported interfaces
// (new_sfi, vim_thread.py:1089-1124); a Classification resolves the same
// dependency's first interface into the flow classifier's
// logical_source_port (new_classification, vim_thread.py:1207-1227); SF and
// SFP simply chain their dependencies' own resolved VIM ids in order.
func buildSFSpec(t *action.Task) (vimdriver.SFSpec, error) {
	spec := vimdriver.SFSpec{Name: t.ItemID, Params: t.Extra.Params}

	switch t.Item {
	case action.ItemSFI:
		ingress, egress, err := resolveSFIInterfaces(t)
		if err != nil {
			return spec, err
		}
		spec.VIMIDs = []string{ingress, egress}
	case action.ItemClassification:
		port, err := resolveClassificationSourcePort(t)
		if err != nil {
			return spec, err
		}
		spec.Attributes = map[string]string{"logical_source_port": port}
	default:
		spec.VIMIDs = dependencyVIMIDs(t)
	}
	return spec, nil
}

// firstDependency returns the task named by this task's first depends_on
// entry, matching new_sfi/new_classification's "TASK-<depends_on[0]>" shape.
func firstDependency(t *action.Task) *action.Task {
	if len(t.Extra.DependsOn) == 0 {
		return nil
	}
	ref, err := action.ParseDependencyRef(t.Extra.DependsOn[0])
	if err != nil {
		return nil
	}
	return t.Depends[ref.Ref(t.InstanceActionID)]
}

// lookupVIMInterfaceID finds the VIM-side port id for the interface named
// interfaceID (Extra.Interfaces[].ItemID) on the dependency task dep, as
// reported back by a prior refresh (Executor.applyVMInterfaces).
func lookupVIMInterfaceID(dep *action.Task, interfaceID string) (string, bool) {
	if dep == nil {
		return "", false
	}
	for _, iface := range dep.Extra.Interfaces {
		if iface.ItemID == interfaceID {
			return iface.VIMInterfaceID, true
		}
	}
	return "", false
}

func resolveSFIInterfaces(t *action.Task) (ingress, egress string, err error) {
	dep := firstDependency(t)
	ingressID, _ := t.Extra.Params["ingress_interface_id"].(string)
	egressID, _ := t.Extra.Params["egress_interface_id"].(string)

	ingress, ok := lookupVIMInterfaceID(dep, ingressID)
	if !ok {
		return "", "", fmt.Errorf("resolving ingress interface %q for sfi %s", ingressID, t.ItemID)
	}
	if egressID == ingressID {
		return ingress, ingress, nil
	}
	egress, ok = lookupVIMInterfaceID(dep, egressID)
	if !ok {
		return "", "", fmt.Errorf("resolving egress interface %q for sfi %s", egressID, t.ItemID)
	}
	return ingress, egress, nil
}

func resolveClassificationSourcePort(t *action.Task) (string, error) {
	dep := firstDependency(t)
	if dep == nil || len(dep.Extra.Interfaces) == 0 {
		return "", fmt.Errorf("resolving logical source port for classification %s: dependency has no interfaces", t.ItemID)
	}
	return dep.Extra.Interfaces[0].VIMInterfaceID, nil
}

func serviceFunctionMethods(d vimdriver.Driver, item action.ItemKind) (
	create func(context.Context, vimdriver.SFSpec) (string, error),
	del func(context.Context, string) error,
) {
	switch item {
	case action.ItemSFI:
		return d.NewSFI, d.DeleteSFI
	case action.ItemSF:
		return d.NewSF, d.DeleteSF
	case action.ItemClassification:
		return d.NewClassification, d.DeleteClassification
	default:
		return d.NewSFP, d.DeleteSFP
	}
}

// dependencyVIMIDs collects the VIM ids of every resolved dependency, in
// depends_on order, for the service-function family's spec.VIMIDs.
func dependencyVIMIDs(t *action.Task) []string {
	var ids []string
	for _, raw := range t.Extra.DependsOn {
		ref, err := action.ParseDependencyRef(raw)
		if err != nil {
			continue
		}
		if dep := t.Depends[ref.Ref(t.InstanceActionID)]; dep != nil && dep.VIMID != "" {
			ids = append(ids, dep.VIMID)
		}
	}
	return ids
}

// resolveNetIDRefs replaces any dependency reference found under
// params["networks"][*]["net_id"] with the resolved dependency's VIMID,
// returning the resolved id set keyed by interface name.
func resolveNetIDRefs(t *action.Task) map[string]string {
	netIDs := map[string]string{}
	nets, _ := t.Extra.Params["networks"].([]interface{})
	for _, raw := range nets {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		netRef, _ := entry["net_id"].(string)

		resolved := netRef
		if ref, err := action.ParseDependencyRef(netRef); err == nil {
			if dep := t.Depends[ref.Ref(t.InstanceActionID)]; dep != nil {
				resolved = dep.VIMID
				entry["net_id"] = resolved
			}
		}
		if name != "" {
			netIDs[name] = resolved
		}
	}
	return netIDs
}

func filterFromFind(find map[string]interface{}) vimdriver.NetFilter {
	filter := vimdriver.NetFilter{Fields: map[string]string{}}
	for k, v := range find {
		s := fmt.Sprintf("%v", v)
		if k == "name" {
			filter.Name = s
		}
		filter.Fields[k] = s
	}
	return filter
}

func wantsExternalPort(params map[string]interface{}) bool {
	v, ok := params["external_port"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// persist implements §4.4 step 4: write the task row back, adjust the
// parent's aggregate counters on a terminal transition, and update the
// item's own table.
func (e *Executor) persist(ctx context.Context, t *action.Task) error {
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	switch t.Status {
	case action.Done:
		if err := e.store.IncrementParentCounts(ctx, t.InstanceActionID, 1, 0); err != nil {
			return err
		}
	case action.Failed:
		if err := e.store.IncrementParentCounts(ctx, t.InstanceActionID, 0, 1); err != nil {
			return err
		}
	}

	st := action.ItemState{
		ItemID:   t.ItemID,
		VIMID:    t.VIMID,
		SDNNetID: t.Extra.SDNNetID,
		Status:   string(t.Status),
		ErrorMsg: t.ErrorMsg,
		VIMInfo:  t.VIMInfo,
		Created:  t.Extra.Created,
	}

	switch t.Item {
	case action.ItemVM:
		return e.store.UpsertVMState(ctx, st)
	case action.ItemNetwork:
		return e.store.UpsertNetState(ctx, st)
	case action.ItemSFI, action.ItemSF, action.ItemClassification, action.ItemSFP:
		return e.store.UpsertServiceFunctionState(ctx, t.Item, st)
	default:
		return nil
	}
}
