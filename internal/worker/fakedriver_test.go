package worker

import (
	"context"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/vimdriver"
)

// fakeDriver is a scriptable vimdriver.Driver for executor tests: each
// method defers to an optional function field, falling back to a zero
// value when unset.
type fakeDriver struct {
	newVMInstanceFn    func(ctx context.Context, spec vimdriver.VMSpec) (vimdriver.VMResult, error)
	deleteVMInstanceFn func(ctx context.Context, vimID string, createdItems map[string]interface{}) error
	newNetworkFn       func(ctx context.Context, spec vimdriver.NetSpec) (vimdriver.NetResult, error)
	findNetworksFn     func(ctx context.Context, filter vimdriver.NetFilter) ([]vimdriver.NetInfo, error)
	deleteNetworkFn    func(ctx context.Context, vimID string) error
	refreshVMsFn       func(ctx context.Context, vimIDs []string) (map[string]vimdriver.VMStatus, error)
	refreshNetsFn      func(ctx context.Context, vimIDs []string) (map[string]vimdriver.NetStatus, error)

	newSFIFn            func(ctx context.Context, spec vimdriver.SFSpec) (string, error)
	newSFFn             func(ctx context.Context, spec vimdriver.SFSpec) (string, error)
	newClassificationFn func(ctx context.Context, spec vimdriver.SFSpec) (string, error)
	newSFPFn            func(ctx context.Context, spec vimdriver.SFSpec) (string, error)
}

func (f *fakeDriver) NewVMInstance(ctx context.Context, spec vimdriver.VMSpec) (vimdriver.VMResult, error) {
	if f.newVMInstanceFn != nil {
		return f.newVMInstanceFn(ctx, spec)
	}
	return vimdriver.VMResult{}, nil
}

func (f *fakeDriver) DeleteVMInstance(ctx context.Context, vimID string, createdItems map[string]interface{}) error {
	if f.deleteVMInstanceFn != nil {
		return f.deleteVMInstanceFn(ctx, vimID, createdItems)
	}
	return nil
}

func (f *fakeDriver) NewNetwork(ctx context.Context, spec vimdriver.NetSpec) (vimdriver.NetResult, error) {
	if f.newNetworkFn != nil {
		return f.newNetworkFn(ctx, spec)
	}
	return vimdriver.NetResult{}, nil
}

func (f *fakeDriver) FindNetworks(ctx context.Context, filter vimdriver.NetFilter) ([]vimdriver.NetInfo, error) {
	if f.findNetworksFn != nil {
		return f.findNetworksFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeDriver) DeleteNetwork(ctx context.Context, vimID string) error {
	if f.deleteNetworkFn != nil {
		return f.deleteNetworkFn(ctx, vimID)
	}
	return nil
}

func (f *fakeDriver) RefreshVMsStatus(ctx context.Context, vimIDs []string) (map[string]vimdriver.VMStatus, error) {
	if f.refreshVMsFn != nil {
		return f.refreshVMsFn(ctx, vimIDs)
	}
	return nil, nil
}

func (f *fakeDriver) RefreshNetsStatus(ctx context.Context, vimIDs []string) (map[string]vimdriver.NetStatus, error) {
	if f.refreshNetsFn != nil {
		return f.refreshNetsFn(ctx, vimIDs)
	}
	return nil, nil
}

func (f *fakeDriver) NewSFI(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
	if f.newSFIFn != nil {
		return f.newSFIFn(ctx, spec)
	}
	return "", nil
}
func (f *fakeDriver) DeleteSFI(ctx context.Context, vimID string) error { return nil }

func (f *fakeDriver) NewSF(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
	if f.newSFFn != nil {
		return f.newSFFn(ctx, spec)
	}
	return "", nil
}
func (f *fakeDriver) DeleteSF(ctx context.Context, vimID string) error { return nil }

func (f *fakeDriver) NewClassification(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
	if f.newClassificationFn != nil {
		return f.newClassificationFn(ctx, spec)
	}
	return "", nil
}
func (f *fakeDriver) DeleteClassification(ctx context.Context, vimID string) error { return nil }

func (f *fakeDriver) NewSFP(ctx context.Context, spec vimdriver.SFSpec) (string, error) {
	if f.newSFPFn != nil {
		return f.newSFPFn(ctx, spec)
	}
	return "", nil
}
func (f *fakeDriver) DeleteSFP(ctx context.Context, vimID string) error { return nil }

var _ vimdriver.Driver = (*fakeDriver)(nil)

// fakeStore is an in-memory TaskStore double for executor/loader tests
// that don't need real SQL shape assertions.
type fakeStore struct {
	tasks    map[string]*action.Task
	pages    [][]*action.Task
	vmState  []action.ItemState
	netState []action.ItemState
	sfState  []action.ItemState
	ifaces   []action.InterfaceState
	updated  []*action.Task
}

func (f *fakeStore) GetTask(ctx context.Context, instanceActionID string, taskIndex int) (*action.Task, error) {
	key := action.RefByParentIndex(instanceActionID, taskIndex)
	if t, ok := f.tasks[key]; ok {
		return t, nil
	}
	return nil, &action.NotFoundError{Item: "task", Ref: key}
}

func (f *fakeStore) LoadPage(ctx context.Context, datacenterVIMID string, after *action.Cursor, limit int) ([]*action.Task, error) {
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t *action.Task) error {
	f.updated = append(f.updated, t)
	return nil
}

func (f *fakeStore) IncrementParentCounts(ctx context.Context, instanceActionID string, doneDelta, failedDelta int) error {
	return nil
}

func (f *fakeStore) UpsertVMState(ctx context.Context, st action.ItemState) error {
	f.vmState = append(f.vmState, st)
	return nil
}

func (f *fakeStore) UpsertNetState(ctx context.Context, st action.ItemState) error {
	f.netState = append(f.netState, st)
	return nil
}

func (f *fakeStore) UpsertInterface(ctx context.Context, iface action.InterfaceState) error {
	f.ifaces = append(f.ifaces, iface)
	return nil
}

func (f *fakeStore) UpsertServiceFunctionState(ctx context.Context, item action.ItemKind, st action.ItemState) error {
	f.sfState = append(f.sfState, st)
	return nil
}

var _ TaskStore = (*fakeStore)(nil)
