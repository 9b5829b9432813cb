package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forge/internal/domain"
	"forge/internal/eventbus"
	"forge/internal/gitadapter"
	"forge/internal/logbus"
	"forge/internal/orchestrator"
	"forge/internal/store"
)

type stubProjects struct{ byID map[string]*domain.Project }

func (s *stubProjects) FindByID(_ context.Context, id string) (*domain.Project, error) {
	if p, ok := s.byID[id]; ok {
		return p, nil
	}
	return nil, &domain.NotFoundError{Kind: "project", ID: id}
}

func (s *stubProjects) FindBySlug(_ context.Context, slug string) (*domain.Project, error) {
	for _, p := range s.byID {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "project", ID: slug}
}

type stubGit struct{}

func (stubGit) Clone(_ context.Context, _, branch, workDir string, _ gitadapter.AuthToken, _ string) (*gitadapter.CloneResult, error) {
	return &gitadapter.CloneResult{Path: workDir, CommitHash: "abc123", Branch: branch}, nil
}
func (stubGit) Cleanup(string) error { return nil }

type stubDetector struct{}

func (stubDetector) Detect(string) domain.BuildProfile {
	return domain.BuildProfile{Framework: "node", ProjectType: domain.ProjectBackend, ListenPort: 3000}
}

type stubBuilder struct{}

func (stubBuilder) Tag(projectID, deploymentID string) domain.ImageRef {
	return domain.ImageRef{Repository: projectID, Tag: deploymentID}
}
func (stubBuilder) Build(_ context.Context, plan orchestrator.BuildPlan, _ logbus.LogBus) (domain.ImageRef, error) {
	return domain.ImageRef{Repository: plan.ProjectID, Tag: plan.DeploymentID}, nil
}
func (stubBuilder) Push(context.Context, domain.ImageRef, string, logbus.LogBus) error { return nil }

type stubRuntime struct{}

func (stubRuntime) EnsureNetwork(context.Context) error { return nil }
func (stubRuntime) Deploy(_ context.Context, spec orchestrator.ContainerSpec) (domain.ContainerRef, error) {
	return domain.ContainerRef{ID: "c1", Name: "zyphron-" + spec.ProjectSlug, AssignedHostPort: 20001}, nil
}
func (stubRuntime) Remove(context.Context, string, string, string) error { return nil }
func (stubRuntime) CleanupOldForProject(context.Context, string, int) ([]string, error) {
	return nil, nil
}

type stubRouter struct{}

func (stubRouter) Publish(projectSlug, _, _ string, _ int, _ domain.Environment) (string, error) {
	return "https://" + projectSlug + ".zyphron.app", nil
}
func (stubRouter) Unpublish(string, string) error { return nil }

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	project := &domain.Project{ID: "proj-1", Slug: "demo", RepoURL: "https://example.com/demo.git", DefaultBranch: "main", AutoDeploy: true}

	orch := orchestrator.New(
		orchestrator.Config{
			MaxConcurrentPipelines: 2,
			MaxConcurrentBuilds:    2,
			CloneTimeout:           2 * time.Second,
			BuildTimeout:           2 * time.Second,
			DeployTimeout:          2 * time.Second,
			VerifyTimeout:          2 * time.Second,
		},
		store.NewMemoryStore(),
		&stubProjects{byID: map[string]*domain.Project{"proj-1": project}},
		stubGit{},
		stubDetector{},
		stubBuilder{},
		stubRuntime{},
		stubRouter{},
		eventbus.NewInMemory(),
		logbus.NewInMemory(),
	)

	s := New("127.0.0.1:0", orch, logbus.NewInMemory(), nil, nil, nil)
	return s, orch
}

func waitTerminal(t *testing.T, orch *orchestrator.Orchestrator, id string) *domain.Deployment {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		dep, err := orch.Get(context.Background(), id)
		if err == nil && dep.Status.Terminal() {
			return dep
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deployment %s did not reach terminal status in time", id)
	return nil
}

func TestCreateDeployment_ReturnsAccepted(t *testing.T) {
	s, orch := newTestServer(t)

	body := `{"project_id":"proj-1","environment":"production","branch":"main"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp DeploymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ProjectID != "proj-1" {
		t.Fatalf("expected project_id proj-1, got %q", resp.ProjectID)
	}

	waitTerminal(t, orch, resp.ID)
}

func TestCreateDeployment_MissingProjectIDIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetDeployment_UnknownIDIsNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deployments/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateThenGetThenList_RoundTrips(t *testing.T) {
	s, orch := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(`{"project_id":"proj-1"}`))
	createRec := httptest.NewRecorder()
	s.router.ServeHTTP(createRec, createReq)

	var created DeploymentResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	waitTerminal(t, orch, created.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/deployments/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	s.router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/deployments?project_id=proj-1", nil)
	listRec := httptest.NewRecorder()
	s.router.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var list []DeploymentResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(list))
	}
}

func TestCancelDeployment_AlreadyTerminalIsConflict(t *testing.T) {
	s, orch := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(`{"project_id":"proj-1"}`))
	createRec := httptest.NewRecorder()
	s.router.ServeHTTP(createRec, createReq)
	var created DeploymentResponse
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)
	waitTerminal(t, orch, created.ID)

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/v1/deployments/"+created.ID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	s.router.ServeHTTP(cancelRec, cancelReq)

	if cancelRec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", cancelRec.Code, cancelRec.Body.String())
	}
}

func TestHealth_ReportsOKWithoutMonitor(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard CORS header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
