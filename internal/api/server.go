// Package api exposes the deployment orchestration core over HTTP: a
// gorilla/mux router carrying the deployment CRUD/control surface, a
// websocket-upgradeable log tail, and the webhook receiver, grounded on
// the teacher's APIServer (internal/api/server.go) and PaaS API server
// (internal/paas/api_server.go) route/middleware conventions.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"forge/internal/logbus"
	"forge/internal/logging"
	"forge/internal/monitoring"
	"forge/internal/orchestrator"
	"forge/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the deployment orchestration core's HTTP surface.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	logs         logbus.LogBus
	webhook      *webhook.Handler
	audit        *logging.AuditLogger
	monitor      *monitoring.Monitor

	router     *mux.Router
	httpServer *http.Server
	addr       string
	startTime  time.Time
}

// New wires a Server from its collaborators. webhook and monitor may be
// nil; their routes are simply omitted.
func New(addr string, orch *orchestrator.Orchestrator, logs logbus.LogBus, wh *webhook.Handler, audit *logging.AuditLogger, monitor *monitoring.Monitor) *Server {
	s := &Server{
		orchestrator: orch,
		logs:         logs,
		webhook:      wh,
		audit:        audit,
		monitor:      monitor,
		router:       mux.NewRouter(),
		addr:         addr,
		startTime:    time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/deployments", s.handleCreateDeployment).Methods(http.MethodPost)
	v1.HandleFunc("/deployments", s.handleListDeployments).Methods(http.MethodGet)
	v1.HandleFunc("/deployments/{id}", s.handleGetDeployment).Methods(http.MethodGet)
	v1.HandleFunc("/deployments/{id}/cancel", s.handleCancelDeployment).Methods(http.MethodPost)
	v1.HandleFunc("/deployments/{id}/redeploy", s.handleRedeployDeployment).Methods(http.MethodPost)
	v1.HandleFunc("/deployments/{id}/logs", s.handleDeploymentLogs).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.monitor != nil {
		s.router.Handle("/metrics", s.monitor.MetricsHandler()).Methods(http.MethodGet)
	}
	if s.webhook != nil {
		s.router.Handle("/webhooks/github", s.webhook).Methods(http.MethodPost)
	}

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// Start begins serving in the background; it returns once the listener is
// scheduled, not once it has accepted a connection.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming log responses outlive the default write timeout
		IdleTimeout:  60 * time.Second,
	}

	logrus.Infof("api: listening on %s", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("api: server error: %v", err)
		}
	}()

	if s.audit != nil {
		s.audit.LogEvent("API_SERVER_STARTED", map[string]interface{}{"address": s.addr})
	}
	return nil
}

// Stop gracefully drains in-flight requests before closing the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	if s.audit != nil {
		s.audit.LogEvent("API_SERVER_STOPPED", map[string]interface{}{})
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapture{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.status,
			"duration": duration,
		}).Info("http request")

		if s.monitor != nil {
			s.monitor.RecordAPIRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", wrapped.status), duration)
		}
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Hub-Signature-256, X-GitHub-Event")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (w *statusCapture) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
