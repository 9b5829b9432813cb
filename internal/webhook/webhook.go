// Package webhook verifies inbound Git-provider webhooks and translates
// recognized events into deployment submissions.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"forge/internal/domain"

	"github.com/sirupsen/logrus"
)

// ErrSignatureMismatch is returned when a webhook's HMAC signature doesn't
// match the project's configured secret.
var ErrSignatureMismatch = errors.New("webhook signature mismatch")

// Submitter is the subset of the orchestrator a webhook handler needs.
type Submitter interface {
	Submit(ctx context.Context, projectID string, environment domain.Environment, branch string, force bool) (*domain.Deployment, error)
}

// ProjectLookup resolves the project a webhook targets from its repository
// URL, so the handler can find the right webhook secret and auto-deploy flag.
type ProjectLookup interface {
	FindByRepoURL(ctx context.Context, repoURL string) (*domain.Project, error)
}

// Handler is an http.Handler for a single Git-provider webhook endpoint.
type Handler struct {
	projects  ProjectLookup
	submitter Submitter
}

// New builds a webhook Handler.
func New(projects ProjectLookup, submitter Submitter) *Handler {
	return &Handler{projects: projects, submitter: submitter}
}

// githubPushPayload is the subset of a GitHub push/pull_request payload the
// handler inspects to decide whether (and how) to submit a deployment.
type githubPushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Action string `json:"action"`
}

// ServeHTTP verifies the request's HMAC-SHA256 signature against the
// target project's webhook secret, then dispatches on X-GitHub-Event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload githubPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed webhook payload", http.StatusBadRequest)
		return
	}

	repoURL := payload.Repository.CloneURL
	if repoURL == "" {
		repoURL = payload.Repository.SSHURL
	}

	project, err := h.projects.FindByRepoURL(r.Context(), repoURL)
	if err != nil {
		http.Error(w, "unknown repository", http.StatusNotFound)
		return
	}

	if err := verifySignature(r.Header.Get("X-Hub-Signature-256"), body, project.WebhookSecret); err != nil {
		logrus.Warnf("webhook: rejected delivery for project %s: %v", project.ID, err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "push":
		h.handlePush(w, r, project, payload)
	case "pull_request":
		h.handlePullRequest(w, r, project, payload)
	case "ping":
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request, project *domain.Project, payload githubPushPayload) {
	if !project.AutoDeploy {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch != project.DefaultBranch {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	dep, err := h.submitter.Submit(r.Context(), project.ID, domain.EnvProduction, branch, false)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	h.writeAccepted(w, dep)
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, r *http.Request, project *domain.Project, payload githubPushPayload) {
	switch payload.Action {
	case "opened", "synchronize", "reopened":
	default:
		w.WriteHeader(http.StatusAccepted)
		return
	}

	branch := payload.PullRequest.Head.Ref
	dep, err := h.submitter.Submit(r.Context(), project.ID, domain.EnvPreview, branch, false)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	h.writeAccepted(w, dep)
}

func (h *Handler) writeAccepted(w http.ResponseWriter, dep *domain.Deployment) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"deploymentId": dep.ID, "status": string(dep.Status)})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// verifySignature checks header ("sha256=<hex>") against an HMAC-SHA256 of
// body keyed by secret, using a constant-time comparison.
func verifySignature(header string, body []byte, secret string) error {
	if secret == "" {
		return fmt.Errorf("project has no webhook secret configured")
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return ErrSignatureMismatch
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
