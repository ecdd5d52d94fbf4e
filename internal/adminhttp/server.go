// Package adminhttp exposes the small operator-facing HTTP surface each
// vimworkerd process runs alongside its tenant workers: a health check, a
// per-tenant status listing, and reload/exit control endpoints. It is
// deliberately thin compared to a full API gateway — there is no auth layer,
// no websockets, no templating — since the only clients are the operator and
// whatever orchestrates this process (systemd, Kubernetes liveness probes).
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nfvorch/vimworker/internal/config"
	"github.com/nfvorch/vimworker/internal/logging"
	"github.com/nfvorch/vimworker/internal/supervisor"
)

// Supervisor is the subset of *supervisor.Supervisor this package depends
// on, so tests can exercise the handlers against a fake.
type Supervisor interface {
	TenantIDs() []string
	Reload(tenantID string) error
	RemoveTenant(tenantID string)
}

var _ Supervisor = (*supervisor.Supervisor)(nil)

// Server is the admin HTTP listener for one vimworkerd process.
type Server struct {
	httpServer *http.Server
	sup        Supervisor
	log        *logging.Logger
}

// New builds a Server bound to addr (host:port), routing reload/exit/status
// requests to sup.
func New(cfg config.ServerConfig, sup Supervisor, log *logging.Logger) *Server {
	s := &Server{sup: sup, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/tenants", s.handleListTenants).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{id}/reload", s.handleReload).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{id}/exit", s.handleExit).Methods(http.MethodPost)

	host := cfg.Address
	if host == "" {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  durationOrDefault(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOrDefault(cfg.WriteTimeout, 10*time.Second),
	}
	return s
}

func durationOrDefault(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Start runs the HTTP server until Shutdown is called or it fails to bind.
// It blocks, matching http.Server.ListenAndServe's contract, so callers run
// it in its own goroutine.
func (s *Server) Start() error {
	s.log.Info("adminhttp: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight requests
// to finish or ctx to expire, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string   `json:"status"`
	Tenants []string `json:"tenants"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Tenants: s.sup.TenantIDs(),
	})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tenants": s.sup.TenantIDs()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	if err := s.sup.Reload(tenantID); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload signaled", "tenant": tenantID})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	s.sup.RemoveTenant(tenantID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopped", "tenant": tenantID})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
