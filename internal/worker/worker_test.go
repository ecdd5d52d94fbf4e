package worker

import (
	"context"
	"testing"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/config"
	"github.com/nfvorch/vimworker/internal/event"
	"github.com/nfvorch/vimworker/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(store TaskStore) (*Worker, *event.EventBus) {
	tenant := config.TenantConfig{
		DatacenterTenantID: "tenant-1",
		VIMType:            "unknown-for-tests",
	}
	cfg := config.WorkerConfig{IdleSleepMillis: 5, InboxSize: 4}
	bus := event.NewEventBus(false)
	log := logging.NewLogger(logging.ERROR)
	return NewWorker(tenant, cfg, store, bus, log), bus
}

func TestWorker_ConstructRecordsDriverError_DoesNotPanic(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	w.construct(context.Background())
	require.Error(t, w.driverErr)
	assert.Nil(t, w.driver)
}

func TestWorker_Run_ExitsOnControlExit(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	w.Inbox() <- ControlExit

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after ControlExit")
	}
}

func TestWorker_Run_ExitsOnContextCancel(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after context cancellation")
	}
}

func TestWorker_HandleControl_NewBatchEnqueuesWithoutReload(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	batch := []*action.Task{
		{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled},
	}

	exit := w.handleControl(context.Background(), NewBatchMessage(batch))
	assert.False(t, exit)
	require.Len(t, w.pending, 1)
	assert.Equal(t, "vm-1", w.pending[0].ItemID)
	assert.Empty(t, store.pages, "new-batch path must not trigger a full reload read")
}

func TestWorker_CancelTask_SupersedesScheduledPendingTask(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	task := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	w.pending = []*action.Task{task}

	found := w.cancelTask("p1", 0)
	assert.True(t, found)
	assert.Equal(t, action.Superseded, task.Status)
}

func TestWorker_CancelTask_AlreadyBuildingTaskIsNotCancellable(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	task := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Build}
	w.pending = []*action.Task{task}

	found := w.cancelTask("p1", 0)
	assert.False(t, found)
	assert.Equal(t, action.Build, task.Status, "a task no longer SCHEDULED is not touched")
}

func TestWorker_CancelTask_UnknownTaskReturnsFalse(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	found := w.cancelTask("nonexistent", 0)
	assert.False(t, found)
}

func TestWorker_HandleControl_CancelTaskReportsResultOnChannel(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)

	task := &action.Task{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled}
	w.pending = []*action.Task{task}

	msg, result := NewCancelTaskMessage("p1", 0)
	exit := w.handleControl(context.Background(), msg)
	assert.False(t, exit)

	select {
	case found := <-result:
		assert.True(t, found)
	default:
		t.Fatal("expected a result on the cancel channel")
	}
}

func TestWorker_RunPass_NoPendingOrRefresh_ReportsNoWork(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)
	w.construct(context.Background())

	didWork, err := w.runPass(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
}

func TestWorker_RunPass_PendingTaskDrivesWork(t *testing.T) {
	store := &fakeStore{tasks: map[string]*action.Task{}}
	w, _ := newTestWorker(store)
	w.construct(context.Background())

	w.pending = []*action.Task{
		{InstanceActionID: "p1", TaskIndex: 0, Item: action.ItemVM, ItemID: "vm-1", Action: action.Create, Status: action.Scheduled},
	}

	didWork, err := w.runPass(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)
	assert.Empty(t, w.pending, "pending queue is drained by the pass")
}
