package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/config"
	"github.com/nfvorch/vimworker/internal/event"
	"github.com/nfvorch/vimworker/internal/logging"
	"github.com/nfvorch/vimworker/internal/redis"
	"github.com/nfvorch/vimworker/internal/sdnoverlay"
	"github.com/nfvorch/vimworker/internal/vimdriver"
)

// ControlKind identifies which of the three control-inbox signals a
// ControlMessage carries: reload (full re-read of the action table),
// exit, or a lightweight new-batch push.
type ControlKind int

const (
	KindReload ControlKind = iota
	KindExit
	KindNewBatch
	// KindCancelTask is not one of the three named control-inbox signals;
	// it carries the task_lock-coordinated external-cancellation request
	// (the del_task contract) over the same inbox for goroutine safety.
	KindCancelTask
)

// CancelTaskRequest asks a worker to supersede one still-SCHEDULED task,
// reporting on Result whether a matching, still-cancellable task was found.
// Result is nil-checked before use so a caller that doesn't care about the
// outcome can omit it.
type CancelTaskRequest struct {
	InstanceActionID string
	TaskIndex        int
	Result           chan<- bool
}

// ControlMessage is sent on a Worker's inbox to interrupt its idle sleep.
// Only KindNewBatch and KindCancelTask carry a payload.
type ControlMessage struct {
	Kind   ControlKind
	Batch  []*action.Task
	Cancel CancelTaskRequest
}

var (
	ControlReload = ControlMessage{Kind: KindReload}
	ControlExit   = ControlMessage{Kind: KindExit}
)

// NewBatchMessage wraps rows an external producer has already inserted into
// storage so a worker can resolve and enqueue them directly, without
// re-reading the whole action table the way ControlReload does.
func NewBatchMessage(rows []*action.Task) ControlMessage {
	return ControlMessage{Kind: KindNewBatch, Batch: rows}
}

// NewCancelTaskMessage builds a cancellation request for the task at
// (instanceActionID, taskIndex), along with the channel its result arrives
// on. Mirrors the original engine's del_task: only a task still SCHEDULED
// (not yet picked up by the executor) can actually be cancelled this way.
func NewCancelTaskMessage(instanceActionID string, taskIndex int) (ControlMessage, <-chan bool) {
	result := make(chan bool, 1)
	return ControlMessage{
		Kind: KindCancelTask,
		Cancel: CancelTaskRequest{
			InstanceActionID: instanceActionID,
			TaskIndex:        taskIndex,
			Result:           result,
		},
	}, result
}

// Worker runs the full lifecycle for exactly one VIM tenant: load, resolve,
// execute, refresh, repeat, per §4.1.
type Worker struct {
	id     string
	tenant config.TenantConfig
	cfg    config.WorkerConfig
	store  TaskStore
	bus    *event.EventBus
	log    *logging.Logger

	inbox chan ControlMessage

	driver    vimdriver.Driver
	driverErr error
	overlay   *sdnoverlay.Client
	cache     *redis.Client

	pending  []*action.Task
	refreshQ *refreshQueue
}

// SetCache attaches an optional Redis cache-aside layer in front of the
// loader's dependency-resolution storage fallback. Passing nil disables it;
// a disabled *redis.Client is already a safe no-op on its own, so this is
// only worth calling with a non-nil, enabled client.
func (w *Worker) SetCache(cache *redis.Client) {
	w.cache = cache
}

// NewWorker builds a Worker for one configured tenant. The inbox is sized
// from cfg.InboxSize so a burst of reload requests never blocks a sender.
func NewWorker(tenant config.TenantConfig, cfg config.WorkerConfig, store TaskStore, bus *event.EventBus, log *logging.Logger) *Worker {
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 16
	}
	return &Worker{
		id:       uuid.NewString(),
		tenant:   tenant,
		cfg:      cfg,
		store:    store,
		bus:      bus,
		log:      log,
		inbox:    make(chan ControlMessage, inboxSize),
		refreshQ: newRefreshQueue(),
	}
}

// Inbox returns the channel callers use to send reload/exit control
// messages to this worker.
func (w *Worker) Inbox() chan<- ControlMessage {
	return w.inbox
}

// Run is the worker's main phase loop. It blocks until ctx is cancelled or
// an exit control message is received.
func (w *Worker) Run(ctx context.Context) {
	w.construct(ctx)
	if err := w.reload(ctx); err != nil {
		w.log.Error("worker %s: initial load failed for tenant %s: %v", w.id, w.tenant.DatacenterTenantID, err)
	}

	w.publish(ctx, event.EventWorkerStarted, "")

	idle := time.Duration(w.cfg.IdleSleepMillis) * time.Millisecond
	if idle <= 0 {
		idle = time.Second
	}

	for {
		if stop := w.drainInbox(ctx); stop {
			w.publish(ctx, event.EventWorkerStopped, "")
			return
		}

		select {
		case <-ctx.Done():
			w.publish(ctx, event.EventWorkerStopped, "")
			return
		default:
		}

		didWork, err := w.runPass(ctx)
		if err != nil {
			w.log.Error("worker %s: pass failed for tenant %s: %v", w.id, w.tenant.DatacenterTenantID, err)
			w.publish(ctx, event.EventWorkerError, err.Error())
		}

		if !didWork {
			select {
			case <-ctx.Done():
				w.publish(ctx, event.EventWorkerStopped, "")
				return
			case msg := <-w.inbox:
				if w.handleControl(ctx, msg) {
					w.publish(ctx, event.EventWorkerStopped, "")
					return
				}
			case <-time.After(idle):
			}
		}
	}
}

// drainInbox processes every control message currently queued without
// blocking, returning true if an exit message was among them.
func (w *Worker) drainInbox(ctx context.Context) bool {
	for {
		select {
		case msg := <-w.inbox:
			if w.handleControl(ctx, msg) {
				return true
			}
		default:
			return false
		}
	}
}

func (w *Worker) handleControl(ctx context.Context, msg ControlMessage) (exit bool) {
	switch msg.Kind {
	case KindExit:
		return true
	case KindReload:
		w.construct(ctx)
		if err := w.reload(ctx); err != nil {
			w.log.Error("worker %s: reload failed for tenant %s: %v", w.id, w.tenant.DatacenterTenantID, err)
		}
		w.publish(ctx, event.EventWorkerReloaded, "")
	case KindNewBatch:
		if err := w.applyBatch(ctx, msg.Batch); err != nil {
			w.log.Error("worker %s: applying new batch failed for tenant %s: %v", w.id, w.tenant.DatacenterTenantID, err)
		}
	case KindCancelTask:
		found := w.cancelTask(msg.Cancel.InstanceActionID, msg.Cancel.TaskIndex)
		if msg.Cancel.Result != nil {
			msg.Cancel.Result <- found
		}
	}
	return false
}

// cancelTask marks the task at (instanceActionID, taskIndex) as SUPERSEDED
// so the executor and refresh scheduler both skip it on their next pass. A
// task in the pending queue is cancelled only while still SCHEDULED; one
// that has left SCHEDULED is not touched. A task not in the pending queue is
// looked up in the refresh queue, where a matching entry is superseded
// whatever its status. Returns whether a task was superseded.
func (w *Worker) cancelTask(instanceActionID string, taskIndex int) bool {
	for _, t := range w.pending {
		if t.InstanceActionID == instanceActionID && t.TaskIndex == taskIndex {
			if t.Status != action.Scheduled {
				return false
			}
			t.Status = action.Superseded
			return true
		}
	}
	return w.refreshQ.Supersede(instanceActionID, taskIndex)
}

// construct (re)builds the VIM driver and SDN overlay client for this
// tenant, recording any construction failure instead of returning it: a
// tenant with a broken driver still runs, failing every task it touches.
func (w *Worker) construct(ctx context.Context) {
	driverCfg := vimdriver.Config{
		Type:           vimdriver.Type(w.tenant.VIMType),
		UUID:           w.tenant.DatacenterTenantID,
		Name:           w.tenant.TenantName,
		URL:            w.tenant.VIMURL,
		AdminURL:       w.tenant.VIMAdminURL,
		TenantName:     w.tenant.TenantName,
		TenantID:       w.tenant.TenantID,
		User:           w.tenant.User,
		Password:       w.tenant.Password,
		Extra:           w.tenant.Extra,
		PersistentInfo:  map[string]interface{}{},
		RateLimitPerSec: w.tenant.RateLimitPerSec,
	}

	driver, err := vimdriver.New(driverCfg)
	w.driver = driver
	w.driverErr = err
	if err != nil {
		w.log.Error("worker %s: driver construction failed for tenant %s: %v", w.id, w.tenant.DatacenterTenantID, err)
	}

	if w.tenant.SDNOverlay != nil && w.tenant.SDNOverlay.Enabled {
		w.overlay = sdnoverlay.New(sdnoverlay.Config{
			URL:        w.tenant.SDNOverlay.URL,
			User:       w.tenant.SDNOverlay.User,
			Password:   w.tenant.SDNOverlay.Password,
			TimeoutSec: w.tenant.SDNOverlay.TimeoutSec,
		})
	} else {
		w.overlay = nil
	}
}

// reload runs the action loader against the tenant's persisted table and
// replaces this worker's in-memory pending/refresh state with the result.
func (w *Worker) reload(ctx context.Context) error {
	loader := NewLoader(w.store, w.tenant.DatacenterTenantID, w.cfg.LoaderPageSize)
	if w.cache != nil {
		loader.WithCache(w.cache, 30*time.Second)
	}
	result, err := loader.Reload(ctx)
	if err != nil {
		return fmt.Errorf("loading actions for tenant %s: %w", w.tenant.DatacenterTenantID, err)
	}

	w.pending = result.Pending
	w.refreshQ = newRefreshQueue()
	now := time.Now()
	for _, t := range result.Refresh {
		w.refreshQ.Insert(t, now)
	}
	return nil
}

// applyBatch resolves rows an external producer has already written to
// storage, via the loader's grouping/resolution logic, and merges the
// result into this worker's in-memory state without re-scanning the
// tenant's whole action table. This is the lightweight "new batch" signal
// distinct from a full reload.
func (w *Worker) applyBatch(ctx context.Context, rows []*action.Task) error {
	loader := NewLoader(w.store, w.tenant.DatacenterTenantID, w.cfg.LoaderPageSize)
	if w.cache != nil {
		loader.WithCache(w.cache, 30*time.Second)
	}
	result, err := loader.LoadBatch(ctx, rows)
	if err != nil {
		return fmt.Errorf("resolving new batch for tenant %s: %w", w.tenant.DatacenterTenantID, err)
	}

	w.pending = append(w.pending, result.Pending...)
	now := time.Now()
	for _, t := range result.Refresh {
		w.refreshQ.Insert(t, now)
	}
	return nil
}

// runPass runs one pass each of the pending-task executor and the refresh
// scheduler, reporting whether either did any work.
func (w *Worker) runPass(ctx context.Context) (bool, error) {
	buildInterval := time.Duration(w.cfg.RefreshBuildSecs) * time.Second
	activeInterval := time.Duration(w.cfg.RefreshActiveSecs) * time.Second
	maxTries := w.cfg.MaxDependencyTries

	wimName := ""
	if w.tenant.WIMAccount != nil {
		wimName = w.tenant.WIMAccount.Name
	}

	executor := NewExecutor(w.store, w.driver, w.driverErr, w.overlay, wimName, maxTries, w.cfg.CreateBatchCap, buildInterval, activeInterval)

	didWork := false

	if len(w.pending) > 0 {
		didWork = true
		queue := w.pending
		w.pending = nil

		outcome, err := executor.RunPending(ctx, queue)
		if err != nil {
			w.pending = queue
			return didWork, err
		}
		for _, entry := range outcome.RefreshAdds {
			w.refreshQ.Insert(entry.task, entry.modifiedAt)
		}
	}

	refreshCap := w.cfg.RefreshBatchCap
	if refreshCap <= 0 {
		refreshCap = 10
	}
	if w.refreshQ.Len() > 0 {
		processed, err := executor.RunRefresh(ctx, w.refreshQ, refreshCap)
		if err != nil {
			return didWork, err
		}
		if processed > 0 {
			didWork = true
		}
	}

	return didWork, nil
}

func (w *Worker) publish(ctx context.Context, eventType event.EventType, errMsg string) {
	if w.bus == nil {
		return
	}
	severity := event.SeverityInfo
	if errMsg != "" {
		severity = event.SeverityError
	}
	_ = w.bus.Publish(ctx, event.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    "vimworker",
		Severity:  severity,
		TenantID:  w.tenant.DatacenterTenantID,
		WorkerID:  w.id,
		Data:      map[string]interface{}{"error": errMsg},
	})
}
