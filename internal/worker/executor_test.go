package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/sdnoverlay"
	"github.com/nfvorch/vimworker/internal/vimdriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(store *fakeStore, driver *fakeDriver, driverErr error) *Executor {
	return NewExecutor(store, driver, driverErr, nil, "", 3, 10, 5*time.Second, 60*time.Second)
}

func TestRunPending_VMCreate_EnqueuesRefresh(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{
		newVMInstanceFn: func(ctx context.Context, spec vimdriver.VMSpec) (vimdriver.VMResult, error) {
			return vimdriver.VMResult{VIMID: "vm-123"}, nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}

	outcome, err := executor.RunPending(context.Background(), []*action.Task{vm})
	require.NoError(t, err)

	assert.Equal(t, action.Build, vm.Status)
	assert.Equal(t, "vm-123", vm.VIMID)
	require.Len(t, outcome.RefreshAdds, 1)
	require.Len(t, store.vmState, 1)
	assert.Equal(t, "vm-123", store.vmState[0].VIMID)
}

func TestDeleteNetwork_RemovesBoundExternalPortsBeforeNetworkDelete(t *testing.T) {
	var deletedPorts []string
	var deletedNetwork bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/networks/sdn-net-1/ports":
			assert.Equal(t, "external_port", r.URL.Query().Get("name"))
			json.NewEncoder(w).Encode([]sdnoverlay.PortInfo{{ID: "port-1"}, {ID: "port-2"}})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/networks/sdn-net-1/ports/"):
			deletedPorts = append(deletedPorts, strings.TrimPrefix(r.URL.Path, "/networks/sdn-net-1/ports/"))
		case r.Method == http.MethodDelete && r.URL.Path == "/networks/sdn-net-1":
			deletedNetwork = true
		}
	}))
	defer srv.Close()

	overlay := sdnoverlay.New(sdnoverlay.Config{URL: srv.URL})
	executor := NewExecutor(&fakeStore{tasks: map[string]*action.Task{}}, &fakeDriver{}, nil, overlay, "", 3, 10, 5*time.Second, 60*time.Second)

	net := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemNetwork, ItemID: "net-1", VIMID: "net-1", Action: action.Delete, Status: action.Scheduled}
	net.Extra.SDNNetID = "sdn-net-1"

	err := executor.deleteNetwork(context.Background(), net)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"port-1", "port-2"}, deletedPorts)
	assert.True(t, deletedNetwork)
	assert.Equal(t, action.Done, net.Status)
}

func TestDeleteNetwork_NoExternalPortsStillDeletesNetwork(t *testing.T) {
	var deletedNetwork bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]sdnoverlay.PortInfo{})
		case r.Method == http.MethodDelete && r.URL.Path == "/networks/sdn-net-1":
			deletedNetwork = true
		}
	}))
	defer srv.Close()

	overlay := sdnoverlay.New(sdnoverlay.Config{URL: srv.URL})
	executor := NewExecutor(&fakeStore{tasks: map[string]*action.Task{}}, &fakeDriver{}, nil, overlay, "", 3, 10, 5*time.Second, 60*time.Second)

	net := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemNetwork, ItemID: "net-1", VIMID: "net-1", Action: action.Delete, Status: action.Scheduled}
	net.Extra.SDNNetID = "sdn-net-1"

	err := executor.deleteNetwork(context.Background(), net)
	require.NoError(t, err)
	assert.True(t, deletedNetwork)
}

func TestRunPending_DriverUnavailable_FailsTask(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{}
	executor := newTestExecutor(store, driver, assert.AnError)

	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}

	_, err := executor.RunPending(context.Background(), []*action.Task{vm})
	require.NoError(t, err)
	assert.Equal(t, action.Failed, vm.Status)
	assert.Contains(t, vm.ErrorMsg, "driver unavailable")
}

func TestCheckDependencies_NotReady_IncrementsTriesAndDoesNotFail(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	executor := newTestExecutor(store, &fakeDriver{}, nil)

	netTask := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemNetwork, ItemID: "net-1", Action: action.Create, Status: action.Build}
	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	vm.Extra.DependsOn = []string{"0"}
	vm.Depends = map[string]*action.Task{
		action.RefByIndex(0):             netTask,
		action.RefByParentIndex("p1", 0): netTask,
	}

	ready, err := executor.checkDependencies(context.Background(), vm)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, 1, vm.Extra.Tries)
	assert.Equal(t, action.Scheduled, vm.Status, "task re-queued, not failed, while dependency still pending")
}

func TestRunPending_DependencyResolvesWithinSamePass(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{
		findNetworksFn: func(ctx context.Context, filter vimdriver.NetFilter) ([]vimdriver.NetInfo, error) {
			return []vimdriver.NetInfo{{VIMID: "net-vim-1", Status: "ACTIVE"}}, nil
		},
		newVMInstanceFn: func(ctx context.Context, spec vimdriver.VMSpec) (vimdriver.VMResult, error) {
			return vimdriver.VMResult{VIMID: "vm-123"}, nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	netTask := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemNetwork, ItemID: "net-1", Action: action.Find, Status: action.Scheduled}
	netTask.Extra.Find = map[string]interface{}{"name": "net-1"}
	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	vm.Extra.DependsOn = []string{"0"}
	vm.Depends = map[string]*action.Task{
		action.RefByIndex(0):             netTask,
		action.RefByParentIndex("p1", 0): netTask,
	}

	_, err := executor.RunPending(context.Background(), []*action.Task{vm, netTask})
	require.NoError(t, err)
	assert.Equal(t, action.Done, netTask.Status)
	assert.Equal(t, action.Build, vm.Status, "vm dispatched once its FIND dependency resolved within the same pass")
	assert.Equal(t, 1, vm.Extra.Tries, "one requeue before the dependency resolved")
}

func TestRunPending_DependencyNeverResolves_TimesOut(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	executor := newTestExecutor(store, &fakeDriver{}, nil)
	executor.maxTries = 2

	netTask := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Build}
	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	vm.Extra.DependsOn = []string{"0"}
	vm.Depends = map[string]*action.Task{
		action.RefByIndex(0):             netTask,
		action.RefByParentIndex("p1", 0): netTask,
	}

	_, err := executor.RunPending(context.Background(), []*action.Task{vm})
	require.NoError(t, err)
	assert.Equal(t, action.Failed, vm.Status)
	assert.Contains(t, vm.ErrorMsg, "timed out")
}

func TestRunPending_DependencyFailed_FailsImmediately(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	executor := newTestExecutor(store, &fakeDriver{}, nil)

	dep := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Failed}
	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	vm.Extra.DependsOn = []string{"0"}
	vm.Depends = map[string]*action.Task{action.RefByIndex(0): dep, action.RefByParentIndex("p1", 0): dep}

	_, err := executor.RunPending(context.Background(), []*action.Task{vm})
	require.NoError(t, err)
	assert.Equal(t, action.Failed, vm.Status)
	assert.Contains(t, vm.ErrorMsg, "dependency")
}

func TestRunPending_DependencyTimeout_AfterMaxTries(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	executor := newTestExecutor(store, &fakeDriver{}, nil)
	executor.maxTries = 1

	dep := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Build}
	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	vm.Extra.DependsOn = []string{"0"}
	vm.Extra.Tries = 1
	vm.Depends = map[string]*action.Task{action.RefByIndex(0): dep, action.RefByParentIndex("p1", 0): dep}

	_, err := executor.RunPending(context.Background(), []*action.Task{vm})
	require.NoError(t, err)
	assert.Equal(t, action.Failed, vm.Status)
	assert.Contains(t, vm.ErrorMsg, "timed out")
}

func TestRunPending_NetworkDelete_NotFoundIsSuccess(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{
		deleteNetworkFn: func(ctx context.Context, vimID string) error {
			return &action.NotFoundError{Item: action.ItemNetwork, Ref: vimID}
		},
	}
	executor := newTestExecutor(store, driver, nil)

	del := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemNetwork, ItemID: "net-1", Action: action.Delete, Status: action.Scheduled, VIMID: "vim-net-1"}

	outcome, err := executor.RunPending(context.Background(), []*action.Task{del})
	require.NoError(t, err)
	assert.Equal(t, action.Done, del.Status)
	require.Len(t, outcome.ClosedGroups, 1)
	assert.Equal(t, del.Key(), outcome.ClosedGroups[0])
}

func TestRunPending_NetworkFind_Ambiguous(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{
		findNetworksFn: func(ctx context.Context, filter vimdriver.NetFilter) ([]vimdriver.NetInfo, error) {
			return []vimdriver.NetInfo{{VIMID: "a"}, {VIMID: "b"}}, nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	find := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemNetwork, ItemID: "net-1", Action: action.Find, Status: action.Scheduled}
	find.Extra.Find = map[string]interface{}{"name": "net-1"}

	_, err := executor.RunPending(context.Background(), []*action.Task{find})
	require.NoError(t, err)
	assert.Equal(t, action.Failed, find.Status)
	assert.Contains(t, find.ErrorMsg, "expected exactly one")
}

func TestRunPending_CreateBatchCapStopsAtTen(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{
		newVMInstanceFn: func(ctx context.Context, spec vimdriver.VMSpec) (vimdriver.VMResult, error) {
			return vimdriver.VMResult{VIMID: "vm"}, nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	var queue []*action.Task
	for i := 0; i < 15; i++ {
		queue = append(queue, &action.Task{InstanceActionID: "p1", TaskIndex: i, Item: action.ItemVM, ItemID: "vm", Action: action.Create, Status: action.Scheduled})
	}

	outcome, err := executor.RunPending(context.Background(), queue)
	require.NoError(t, err)
	assert.Len(t, outcome.RefreshAdds, 10, "only ten CREATE-class actions run per pass")
}

func TestRunPending_ServiceFunctionProduct_ChainsDependencyVIMIDs(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	var capturedVIMIDs []string
	driver := &fakeDriver{
		newSFPFn: func(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
			capturedVIMIDs = spec.VIMIDs
			return "sfp-1", nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	sf := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Done, VIMID: "sf-a"}
	sfp := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemSFP, ItemID: "sfp-1", Action: action.Create, Status: action.Scheduled}
	sfp.Extra.DependsOn = []string{"0"}
	sfp.Depends = map[string]*action.Task{action.RefByIndex(0): sf, action.RefByParentIndex("p1", 0): sf}

	_, err := executor.RunPending(context.Background(), []*action.Task{sfp})
	require.NoError(t, err)
	assert.Equal(t, action.Done, sfp.Status)
	assert.Equal(t, []string{"sf-a"}, capturedVIMIDs)
}

func TestRunPending_SFICreate_ResolvesIngressEgressFromDependencyInterfaces(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	var capturedVIMIDs []string
	driver := &fakeDriver{
		newSFIFn: func(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
			capturedVIMIDs = spec.VIMIDs
			return "sfi-1", nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Done, VIMID: "vm-a"}
	vm.Extra.Interfaces = []action.InterfaceState{
		{ItemID: "eth0", VIMInterfaceID: "vim-port-0"},
		{ItemID: "eth1", VIMInterfaceID: "vim-port-1"},
	}

	sfi := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemSFI, ItemID: "sfi-1", Action: action.Create, Status: action.Scheduled}
	sfi.Extra.DependsOn = []string{"0"}
	sfi.Extra.Params = map[string]interface{}{"ingress_interface_id": "eth0", "egress_interface_id": "eth1"}
	sfi.Depends = map[string]*action.Task{action.RefByIndex(0): vm, action.RefByParentIndex("p1", 0): vm}

	_, err := executor.RunPending(context.Background(), []*action.Task{sfi})
	require.NoError(t, err)
	assert.Equal(t, action.Done, sfi.Status)
	assert.Equal(t, []string{"vim-port-0", "vim-port-1"}, capturedVIMIDs)
}

func TestRunPending_SFICreate_SameIngressEgressInterfaceReusesPort(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	var capturedVIMIDs []string
	driver := &fakeDriver{
		newSFIFn: func(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
			capturedVIMIDs = spec.VIMIDs
			return "sfi-1", nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Done, VIMID: "vm-a"}
	vm.Extra.Interfaces = []action.InterfaceState{{ItemID: "eth0", VIMInterfaceID: "vim-port-0"}}

	sfi := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemSFI, ItemID: "sfi-1", Action: action.Create, Status: action.Scheduled}
	sfi.Extra.DependsOn = []string{"0"}
	sfi.Extra.Params = map[string]interface{}{"ingress_interface_id": "eth0", "egress_interface_id": "eth0"}
	sfi.Depends = map[string]*action.Task{action.RefByIndex(0): vm, action.RefByParentIndex("p1", 0): vm}

	_, err := executor.RunPending(context.Background(), []*action.Task{sfi})
	require.NoError(t, err)
	assert.Equal(t, []string{"vim-port-0", "vim-port-0"}, capturedVIMIDs)
}

func TestRunPending_SFICreate_UnresolvedInterfaceFails(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	driver := &fakeDriver{
		newSFIFn: func(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
			t.Fatal("driver should not be called when interface resolution fails")
			return "", nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Done, VIMID: "vm-a"}
	sfi := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemSFI, ItemID: "sfi-1", Action: action.Create, Status: action.Scheduled}
	sfi.Extra.DependsOn = []string{"0"}
	sfi.Extra.Params = map[string]interface{}{"ingress_interface_id": "eth0", "egress_interface_id": "eth0"}
	sfi.Depends = map[string]*action.Task{action.RefByIndex(0): vm, action.RefByParentIndex("p1", 0): vm}

	outcome, err := executor.RunPending(context.Background(), []*action.Task{sfi})
	require.NoError(t, err)
	assert.Equal(t, action.Failed, sfi.Status)
	assert.NotEmpty(t, sfi.ErrorMsg)
	assert.Empty(t, outcome.RefreshAdds)
}

func TestRunPending_ClassificationCreate_SetsLogicalSourcePortAttribute(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	var capturedAttrs map[string]string
	driver := &fakeDriver{
		newClassificationFn: func(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
			capturedAttrs = spec.Attributes
			return "classification-1", nil
		},
	}
	executor := newTestExecutor(store, driver, nil)

	vm := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Status: action.Done, VIMID: "vm-a"}
	vm.Extra.Interfaces = []action.InterfaceState{{ItemID: "eth0", VIMInterfaceID: "vim-port-0"}}

	classification := &action.Task{InstanceActionID: "p1", TaskIndex: 1, Item: action.ItemClassification, ItemID: "class-1", Action: action.Create, Status: action.Scheduled}
	classification.Extra.DependsOn = []string{"0"}
	classification.Depends = map[string]*action.Task{action.RefByIndex(0): vm, action.RefByParentIndex("p1", 0): vm}

	_, err := executor.RunPending(context.Background(), []*action.Task{classification})
	require.NoError(t, err)
	assert.Equal(t, action.Done, classification.Status)
	assert.Equal(t, "vim-port-0", capturedAttrs["logical_source_port"])
}
