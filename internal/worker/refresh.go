package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/sdnoverlay"
)

// RunRefresh implements §4.5: pop up to cap ready entries, batch by item
// kind, query the driver, fold SDN overlay state into network results, and
// re-insert every task at the cadence its new VIM status implies.
func (e *Executor) RunRefresh(ctx context.Context, queue *refreshQueue, cap int) (int, error) {
	ready := queue.PopReady(time.Now(), cap)
	if len(ready) == 0 {
		return 0, nil
	}

	var vms, nets []*action.Task
	for _, t := range ready {
		switch t.Item {
		case action.ItemVM:
			vms = append(vms, t)
		case action.ItemNetwork:
			nets = append(nets, t)
		}
	}

	if len(vms) > 0 {
		if err := e.refreshVMs(ctx, vms, queue); err != nil {
			return len(ready), err
		}
	}
	if len(nets) > 0 {
		if err := e.refreshNets(ctx, nets, queue); err != nil {
			return len(ready), err
		}
	}
	return len(ready), nil
}

func (e *Executor) refreshVMs(ctx context.Context, tasks []*action.Task, queue *refreshQueue) error {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.VIMID
	}

	statuses, err := e.driver.RefreshVMsStatus(ctx, ids)
	if err != nil {
		for _, t := range tasks {
			e.markRefreshError(t, err)
			if perr := e.persistRefresh(ctx, t); perr != nil {
				return perr
			}
			queue.Insert(t, time.Now().Add(e.buildInterval))
		}
		return nil
	}

	for _, t := range tasks {
		st, ok := statuses[t.VIMID]
		if !ok {
			queue.Insert(t, time.Now().Add(e.buildInterval))
			continue
		}

		changed := t.Extra.VIMStatus != st.Status || t.ErrorMsg != st.ErrorMsg
		e.applyVMInterfaces(ctx, t, st.Interfaces)

		t.Extra.VIMStatus = st.Status
		t.VIMInfo = st.VIMInfo
		t.ErrorMsg = st.ErrorMsg
		if st.Status == "ACTIVE" {
			t.Status = action.Done
		} else if st.Status == "ERROR" {
			t.Status = action.Failed
		} else {
			t.Status = action.Build
		}

		if changed {
			if err := e.persistRefresh(ctx, t); err != nil {
				return err
			}
		}
		queue.Insert(t, time.Now().Add(refreshCadence(st.Status, e.buildInterval, e.activeInterval)))
	}
	return nil
}

// applyVMInterfaces writes back each VIM-reported interface that matches an
// entry of t.Extra.Interfaces by VIM interface id, tearing down and
// recreating the SDN external port when the snapshot moved to a new compute
// node (detected via PCI address). Reported interfaces with no matching
// entry are skipped.
func (e *Executor) applyVMInterfaces(ctx context.Context, t *action.Task, reported []action.InterfaceState) {
	byVIMID := make(map[string]*action.InterfaceState, len(t.Extra.Interfaces))
	for i := range t.Extra.Interfaces {
		iface := &t.Extra.Interfaces[i]
		if iface.VIMInterfaceID != "" {
			byVIMID[iface.VIMInterfaceID] = iface
		}
	}

	for _, r := range reported {
		local, ok := byVIMID[r.VIMInterfaceID]
		if !ok {
			continue
		}

		if e.overlay != nil && local.PCI != r.PCI && r.PCI != "" {
			if local.SDNPortID != "" {
				_ = e.overlay.DeletePort(ctx, local.NetID, local.SDNPortID)
			}
			portID, err := e.overlay.AddExternalPort(ctx, local.NetID, sdnPortSpecFor(r))
			if err == nil {
				r.SDNPortID = portID
			}
		} else {
			r.SDNPortID = local.SDNPortID
		}

		*local = r
		_ = e.store.UpsertInterface(ctx, *local)
	}
}

func (e *Executor) refreshNets(ctx context.Context, tasks []*action.Task, queue *refreshQueue) error {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.VIMID
	}

	statuses, err := e.driver.RefreshNetsStatus(ctx, ids)
	if err != nil {
		for _, t := range tasks {
			e.markRefreshError(t, err)
			if perr := e.persistRefresh(ctx, t); perr != nil {
				return perr
			}
			queue.Insert(t, time.Now().Add(e.buildInterval))
		}
		return nil
	}

	for _, t := range tasks {
		st, ok := statuses[t.VIMID]
		if !ok {
			queue.Insert(t, time.Now().Add(e.buildInterval))
			continue
		}

		combined, combinedMsg := e.combineWithOverlay(ctx, t, st.Status, st.ErrorMsg)
		changed := t.Extra.VIMStatus != combined || t.ErrorMsg != combinedMsg

		t.Extra.VIMStatus = combined
		t.VIMInfo = st.VIMInfo
		t.ErrorMsg = combinedMsg
		switch combined {
		case "ACTIVE":
			t.Status = action.Done
		case "ERROR":
			t.Status = action.Failed
		default:
			t.Status = action.Build
		}

		if changed {
			if err := e.persistRefresh(ctx, t); err != nil {
				return err
			}
		}
		queue.Insert(t, time.Now().Add(refreshCadence(combined, e.buildInterval, e.activeInterval)))
	}
	return nil
}

// combineWithOverlay folds the SDN overlay's view of a network into the
// VIM-reported status: any overlay ERROR elevates the result to ERROR with
// a concatenated message; overlay BUILD downgrades an ACTIVE result to
// BUILD.
func (e *Executor) combineWithOverlay(ctx context.Context, t *action.Task, vimStatus, vimMsg string) (string, string) {
	if e.overlay == nil || t.Extra.SDNNetID == "" {
		return vimStatus, vimMsg
	}

	sdnStatus, err := e.overlay.GetNetworkStatus(ctx, t.Extra.SDNNetID)
	if err != nil {
		return vimStatus, vimMsg
	}

	switch sdnStatus.Status {
	case "ERROR":
		msg := vimMsg
		if sdnStatus.ErrorMsg != "" {
			if msg != "" {
				msg = msg + "; " + sdnStatus.ErrorMsg
			} else {
				msg = sdnStatus.ErrorMsg
			}
		}
		return "ERROR", msg
	case "BUILD":
		if vimStatus == "ACTIVE" {
			return "BUILD", vimMsg
		}
		return vimStatus, vimMsg
	default:
		return vimStatus, vimMsg
	}
}

func (e *Executor) markRefreshError(t *action.Task, err error) {
	t.Status = action.Build
	t.Extra.VIMStatus = "VIM_ERROR"
	t.ErrorMsg = fmt.Sprintf("refresh failed: %v", err)
}

func (e *Executor) persistRefresh(ctx context.Context, t *action.Task) error {
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	st := action.ItemState{
		ItemID:   t.ItemID,
		VIMID:    t.VIMID,
		SDNNetID: t.Extra.SDNNetID,
		Status:   t.Extra.VIMStatus,
		ErrorMsg: t.ErrorMsg,
		VIMInfo:  t.VIMInfo,
		Created:  t.Extra.Created,
	}
	switch t.Item {
	case action.ItemVM:
		return e.store.UpsertVMState(ctx, st)
	case action.ItemNetwork:
		return e.store.UpsertNetState(ctx, st)
	default:
		return nil
	}
}

func sdnPortSpecFor(iface action.InterfaceState) sdnoverlay.PortSpec {
	return sdnoverlay.PortSpec{
		NetID: iface.NetID,
		MAC:   iface.MACAddress,
		VLAN:  iface.VLAN,
	}
}
