// Package supervisor owns one worker goroutine per configured VIM tenant
// and routes reload/exit control messages to the right one by tenant id.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/config"
	"github.com/nfvorch/vimworker/internal/event"
	"github.com/nfvorch/vimworker/internal/logging"
	"github.com/nfvorch/vimworker/internal/redis"
	"github.com/nfvorch/vimworker/internal/worker"
)

// tenantHandle is everything the supervisor tracks about one running
// tenant worker.
type tenantHandle struct {
	worker *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs every configured tenant's Worker concurrently against a
// shared store, keyed by datacenter_tenant_id so a reload or exit request
// reaches the right goroutine.
type Supervisor struct {
	mu      sync.RWMutex
	tenants map[string]*tenantHandle

	store worker.TaskStore
	cfg   config.WorkerConfig
	bus   *event.EventBus
	log   *logging.Logger
	cache *redis.Client
}

// SetCache attaches a Redis cache-aside layer that every tenant worker
// started from this point on (via AddTenant or Start) will use in front of
// its dependency-resolution storage fallback. Existing workers are
// unaffected until their next AddTenant replacement.
func (s *Supervisor) SetCache(cache *redis.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = cache
}

// New builds a Supervisor. The store is shared read-write across every
// tenant worker; each worker's own queries scope themselves by
// datacenter_tenant_id.
func New(cfg config.WorkerConfig, store worker.TaskStore, bus *event.EventBus, log *logging.Logger) *Supervisor {
	return &Supervisor{
		tenants: make(map[string]*tenantHandle),
		store:   store,
		cfg:     cfg,
		bus:     bus,
		log:     log,
	}
}

// Start launches one worker goroutine per tenant in cfgs. It does not
// block; call Shutdown to stop every tenant and wait for them to exit.
func (s *Supervisor) Start(ctx context.Context, cfgs []config.TenantConfig) {
	for _, tenant := range cfgs {
		s.AddTenant(ctx, tenant)
	}
}

// AddTenant starts a worker for one tenant. If a worker already runs under
// this tenant id, it is stopped first and replaced.
func (s *Supervisor) AddTenant(ctx context.Context, tenant config.TenantConfig) {
	s.RemoveTenant(tenant.DatacenterTenantID)

	tenantCtx, cancel := context.WithCancel(ctx)
	w := worker.NewWorker(tenant, s.cfg, s.store, s.bus, s.log)
	handle := &tenantHandle{worker: w, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.cache != nil {
		w.SetCache(s.cache)
	}
	s.tenants[tenant.DatacenterTenantID] = handle
	s.mu.Unlock()

	go func() {
		defer close(handle.done)
		w.Run(tenantCtx)
	}()

	s.log.Info("supervisor: started worker for tenant %s", tenant.DatacenterTenantID)
}

// RemoveTenant stops the worker for tenantID, if one is running, and waits
// for its goroutine to exit. It is a no-op if tenantID is not known.
func (s *Supervisor) RemoveTenant(tenantID string) {
	s.mu.Lock()
	handle, ok := s.tenants[tenantID]
	if ok {
		delete(s.tenants, tenantID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	select {
	case handle.worker.Inbox() <- worker.ControlExit:
	default:
		handle.cancel()
	}
	<-handle.done
}

// Reload sends a reload control message to the named tenant's worker,
// which will reconstruct its driver and re-run the action loader. Returns
// an error if no worker runs under tenantID, or if its inbox is full.
func (s *Supervisor) Reload(tenantID string) error {
	s.mu.RLock()
	handle, ok := s.tenants[tenantID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no worker running for tenant %s", tenantID)
	}

	select {
	case handle.worker.Inbox() <- worker.ControlReload:
		return nil
	default:
		return fmt.Errorf("inbox full for tenant %s, reload dropped", tenantID)
	}
}

// PushBatch hands rows an external producer has already inserted into
// storage to the named tenant's worker, which resolves and enqueues them
// directly via the loader's grouping logic without re-reading the whole
// action table. Returns an error if no worker runs under tenantID, or if
// its inbox is full.
func (s *Supervisor) PushBatch(tenantID string, rows []*action.Task) error {
	s.mu.RLock()
	handle, ok := s.tenants[tenantID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no worker running for tenant %s", tenantID)
	}

	select {
	case handle.worker.Inbox() <- worker.NewBatchMessage(rows):
		return nil
	default:
		return fmt.Errorf("inbox full for tenant %s, new batch dropped", tenantID)
	}
}

// CancelTask asks the named tenant's worker to supersede one still-SCHEDULED
// task, mirroring the original engine's del_task external-cancellation
// contract. Returns whether a matching, still-cancellable task was found.
func (s *Supervisor) CancelTask(tenantID, instanceActionID string, taskIndex int) (bool, error) {
	s.mu.RLock()
	handle, ok := s.tenants[tenantID]
	s.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("no worker running for tenant %s", tenantID)
	}

	msg, result := worker.NewCancelTaskMessage(instanceActionID, taskIndex)
	select {
	case handle.worker.Inbox() <- msg:
	default:
		return false, fmt.Errorf("inbox full for tenant %s, cancel dropped", tenantID)
	}

	select {
	case found := <-result:
		return found, nil
	case <-time.After(5 * time.Second):
		return false, fmt.Errorf("timed out waiting for cancel response from tenant %s", tenantID)
	}
}

// TenantIDs returns every tenant id currently running a worker.
func (s *Supervisor) TenantIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every running tenant worker and waits for all of them to
// exit. Cancelling ctx before every worker drains is the caller's escape
// hatch; Shutdown itself does not enforce a timeout.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	handles := make([]*tenantHandle, 0, len(s.tenants))
	for id, h := range s.tenants {
		handles = append(handles, h)
		delete(s.tenants, id)
	}
	s.mu.Unlock()

	for _, h := range handles {
		select {
		case h.worker.Inbox() <- worker.ControlExit:
		default:
			h.cancel()
		}
	}

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
		}
	}
}
