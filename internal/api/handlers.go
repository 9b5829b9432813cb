package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"forge/internal/domain"
	"forge/internal/logbus"
	"forge/internal/store"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// DeploymentResponse is the wire shape for a Deployment; it flattens the
// domain type and formats timestamps as RFC3339 for client consumption.
type DeploymentResponse struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	Status           string `json:"status"`
	Environment      string `json:"environment"`
	Branch           string `json:"branch"`
	CommitSha        string `json:"commit_sha,omitempty"`
	CommitMessage    string `json:"commit_message,omitempty"`
	CommitAuthor     string `json:"commit_author,omitempty"`
	ImageRef         string `json:"image_ref,omitempty"`
	ExternalURL      string `json:"external_url,omitempty"`
	ErrorKind        string `json:"error_kind,omitempty"`
	ErrorDetail      string `json:"error_detail,omitempty"`
	Force            bool   `json:"force"`
	Simulate         bool   `json:"simulate"`
	CreatedAt        string `json:"created_at"`
	StartedAt        string `json:"started_at,omitempty"`
	FinishedAt       string `json:"finished_at,omitempty"`
	BuildDurationMs  int64  `json:"build_duration_ms,omitempty"`
	DeployDurationMs int64  `json:"deploy_duration_ms,omitempty"`
}

func toDeploymentResponse(d *domain.Deployment) DeploymentResponse {
	resp := DeploymentResponse{
		ID:               d.ID,
		ProjectID:        d.ProjectID,
		Status:           string(d.Status),
		Environment:      string(d.Environment),
		Branch:           d.Branch,
		CommitSha:        d.CommitSha,
		CommitMessage:    d.CommitMessage,
		CommitAuthor:     d.CommitAuthor,
		ImageRef:         d.ImageRef,
		ExternalURL:      d.ExternalURL,
		ErrorKind:        string(d.ErrorKind),
		ErrorDetail:      d.ErrorDetail,
		Force:            d.Force,
		Simulate:         d.Simulate,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
		BuildDurationMs:  d.BuildDurationMs,
		DeployDurationMs: d.DeployDurationMs,
	}
	if !d.StartedAt.IsZero() {
		resp.StartedAt = d.StartedAt.Format(time.RFC3339)
	}
	if !d.FinishedAt.IsZero() {
		resp.FinishedAt = d.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

type createDeploymentRequest struct {
	ProjectID   string `json:"project_id"`
	Environment string `json:"environment"`
	Branch      string `json:"branch"`
	Force       bool   `json:"force"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps the orchestrator's sentinel error types onto HTTP
// status codes; anything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *domain.ConflictError
	var alreadyDone *domain.AlreadyCompletedError
	var notFound *domain.NotFoundError

	switch {
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &alreadyDone):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	env := domain.Environment(req.Environment)
	if env == "" {
		env = domain.EnvProduction
	}

	dep, err := s.orchestrator.Submit(r.Context(), req.ProjectID, env, req.Branch, req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toDeploymentResponse(dep))
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		ProjectID:   r.URL.Query().Get("project_id"),
		Status:      domain.Status(r.URL.Query().Get("status")),
		Environment: domain.Environment(r.URL.Query().Get("environment")),
	}
	page := store.Page{Limit: 50}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		page.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset >= 0 {
		page.Offset = offset
	}

	deployments, err := s.orchestrator.List(r.Context(), filter, page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]DeploymentResponse, 0, len(deployments))
	for _, d := range deployments {
		resp = append(resp, toDeploymentResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dep, err := s.orchestrator.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentResponse(dep))
}

func (s *Server) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orchestrator.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleRedeployDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dep, err := s.orchestrator.Redeploy(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toDeploymentResponse(dep))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	if s.monitor != nil {
		healthy = s.monitor.IsHealthy()
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": map[bool]string{true: "ok", false: "degraded"}[healthy],
		"uptime": time.Since(s.startTime).String(),
	})
}

var logUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleDeploymentLogs replays retained log history and, when
// ?follow=true is set, upgrades to a websocket and streams subsequent
// lines until the subscription overflows or a write to the client fails.
// The stream does not end when the deployment reaches a terminal status,
// and a client disconnect is only noticed on the next write.
func (s *Server) handleDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	follow := r.URL.Query().Get("follow") == "true"

	ch, cancel, err := s.logs.SubscribeLogs(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer cancel()

	if !follow {
		entries := drainHistory(ch)
		writeJSON(w, http.StatusOK, entries)
		return
	}

	conn, err := logUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for msg := range ch {
		if msg.Overflow != nil {
			_ = conn.WriteJSON(map[string]string{"error": msg.Overflow.Error()})
			return
		}
		if msg.Entry == nil {
			continue
		}
		if err := conn.WriteJSON(msg.Entry); err != nil {
			return
		}
	}
}

// drainHistory collects the immediately-available replayed history without
// blocking for messages that would only arrive from live publishing.
func drainHistory(ch <-chan logbus.LogMessage) []*domain.LogEntry {
	entries := make([]*domain.LogEntry, 0)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return entries
			}
			if msg.Entry != nil {
				entries = append(entries, msg.Entry)
			}
		default:
			return entries
		}
	}
}
