package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forge/internal/domain"
	"forge/internal/eventbus"
	"forge/internal/gitadapter"
	"forge/internal/logbus"
	"forge/internal/store"
)

// fakeProjects is a minimal store.ProjectStore fixture keyed by ID.
type fakeProjects struct {
	byID map[string]*domain.Project
}

func newFakeProjects(projects ...*domain.Project) *fakeProjects {
	f := &fakeProjects{byID: make(map[string]*domain.Project)}
	for _, p := range projects {
		f.byID[p.ID] = p
	}
	return f
}

func (f *fakeProjects) FindByID(_ context.Context, id string) (*domain.Project, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "project", ID: id}
	}
	return p, nil
}

func (f *fakeProjects) FindBySlug(_ context.Context, slug string) (*domain.Project, error) {
	for _, p := range f.byID {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "project", ID: slug}
}

// fakeGit never touches disk; it hands back a canned CloneResult or error.
type fakeGit struct {
	result *gitadapter.CloneResult
	err    error
}

func (g *fakeGit) Clone(ctx context.Context, repoURL, branch, workDir string, auth gitadapter.AuthToken, rootDirectory string) (*gitadapter.CloneResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *fakeGit) Cleanup(workDir string) error { return nil }

type fakeDetector struct {
	profile domain.BuildProfile
}

func (d *fakeDetector) Detect(root string) domain.BuildProfile { return d.profile }

type fakeBuilder struct {
	mu         sync.Mutex
	buildCalls int
	buildErr   error
	pushErr    error
	blockBuild bool
}

func (b *fakeBuilder) Tag(projectID, deploymentID string) domain.ImageRef {
	return domain.ImageRef{Registry: "registry.test", Repository: projectID, Tag: deploymentID}
}

func (b *fakeBuilder) Build(ctx context.Context, plan BuildPlan, logs logbus.LogBus) (domain.ImageRef, error) {
	b.mu.Lock()
	b.buildCalls++
	block := b.blockBuild
	b.mu.Unlock()
	if block {
		<-ctx.Done()
		return domain.ImageRef{}, domain.NewStepError(domain.ErrCancelled, "build cancelled", ctx.Err())
	}
	if b.buildErr != nil {
		return domain.ImageRef{}, b.buildErr
	}
	return b.Tag(plan.ProjectID, plan.DeploymentID), nil
}

func (b *fakeBuilder) Push(ctx context.Context, ref domain.ImageRef, auth string, logs logbus.LogBus) error {
	return b.pushErr
}

type fakeRuntime struct {
	deployErr error
	cleaned   []string
}

func (r *fakeRuntime) EnsureNetwork(ctx context.Context) error { return nil }

func (r *fakeRuntime) Deploy(ctx context.Context, spec ContainerSpec) (domain.ContainerRef, error) {
	if r.deployErr != nil {
		return domain.ContainerRef{}, r.deployErr
	}
	return domain.ContainerRef{ID: "c1", Name: "zyphron-" + spec.ProjectSlug, AssignedHostPort: 20001}, nil
}

func (r *fakeRuntime) Remove(ctx context.Context, projectSlug, deploymentID, containerID string) error {
	return nil
}

func (r *fakeRuntime) CleanupOldForProject(ctx context.Context, projectID string, keepLast int) ([]string, error) {
	return r.cleaned, nil
}

type fakeRouter struct {
	publishErr error
}

func (r *fakeRouter) Publish(projectSlug, deploymentID, containerName string, port int, env domain.Environment) (string, error) {
	if r.publishErr != nil {
		return "", r.publishErr
	}
	return "https://" + projectSlug + ".zyphron.app", nil
}

func (r *fakeRouter) Unpublish(projectSlug, deploymentID string) error { return nil }

func testProject() *domain.Project {
	return &domain.Project{
		ID:            "proj-1",
		Slug:          "demo",
		RepoURL:       "https://example.com/demo.git",
		DefaultBranch: "main",
		AutoDeploy:    true,
	}
}

func testHarness(t *testing.T, configure func(*Config)) (*Orchestrator, *store.MemoryStore, *fakeBuilder, *fakeRuntime, *fakeRouter) {
	t.Helper()
	deployments := store.NewMemoryStore()
	projects := newFakeProjects(testProject())
	git := &fakeGit{result: &gitadapter.CloneResult{
		Path:          t.TempDir(),
		CommitHash:    "abc123",
		CommitMessage: "init",
		CommitAuthor:  "dev",
		Branch:        "main",
	}}
	detector := &fakeDetector{profile: domain.BuildProfile{Framework: "node", Language: "javascript", ListenPort: 3000, Confidence: 80}}
	builder := &fakeBuilder{}
	runtime := &fakeRuntime{}
	router := &fakeRouter{}

	cfg := Config{
		MaxConcurrentPipelines: 2,
		MaxConcurrentBuilds:    2,
		WorkDir:                t.TempDir(),
		CloneTimeout:           2 * time.Second,
		BuildTimeout:           2 * time.Second,
		DeployTimeout:          2 * time.Second,
		VerifyTimeout:          2 * time.Second,
	}
	if configure != nil {
		configure(&cfg)
	}

	o := New(cfg, deployments, projects, git, detector, builder, runtime, router,
		eventbus.NewInMemory(), logbus.NewInMemory())
	return o, deployments, builder, runtime, router
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *domain.Deployment {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		dep, err := o.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if dep.Status.Terminal() {
			return dep
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deployment %s never reached a terminal status", id)
	return nil
}

func TestSubmit_SuccessReachesLive(t *testing.T) {
	o, _, builder, runtime, _ := testHarness(t, nil)

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusLive {
		t.Fatalf("expected LIVE, got %s (%s: %s)", final.Status, final.ErrorKind, final.ErrorDetail)
	}
	if final.ExternalURL == "" {
		t.Error("expected an external URL to be published")
	}
	if builder.buildCalls != 1 {
		t.Errorf("expected exactly one build call, got %d", builder.buildCalls)
	}
	if final.ContainerRef == "" {
		t.Error("expected a container ref to be recorded")
	}
	_ = runtime
	o.Wait()
}

func TestSubmit_SimulateSkipsBuildAndDeploy(t *testing.T) {
	o, _, builder, _, _ := testHarness(t, nil)

	dep, err := o.submit(context.Background(), "proj-1", domain.EnvPreview, "", false, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusLive {
		t.Fatalf("expected simulated deployment to finish LIVE, got %s", final.Status)
	}
	if builder.buildCalls != 0 {
		t.Errorf("simulate should skip build, got %d build calls", builder.buildCalls)
	}
	o.Wait()
}

func TestSubmit_ConflictWhenActiveDeploymentExists(t *testing.T) {
	o, deployments, _, _, _ := testHarness(t, nil)

	active := &domain.Deployment{ID: "dep_active", ProjectID: "proj-1", Status: domain.StatusBuilding}
	if err := deployments.Create(context.Background(), active); err != nil {
		t.Fatalf("seed active deployment: %v", err)
	}

	_, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ActiveDeploymentID != "dep_active" {
		t.Errorf("expected conflict to reference dep_active, got %s", conflict.ActiveDeploymentID)
	}
}

func TestSubmit_ForceBypassesConflict(t *testing.T) {
	o, deployments, _, _, _ := testHarness(t, nil)

	active := &domain.Deployment{ID: "dep_active", ProjectID: "proj-1", Status: domain.StatusBuilding}
	if err := deployments.Create(context.Background(), active); err != nil {
		t.Fatalf("seed active deployment: %v", err)
	}

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", true)
	if err != nil {
		t.Fatalf("forced submit should bypass conflict: %v", err)
	}
	waitTerminal(t, o, dep.ID)
	o.Wait()
}

func TestSubmit_ForceCancelsAndAwaitsPriorRun(t *testing.T) {
	o, _, builder, _, _ := testHarness(t, func(cfg *Config) {
		cfg.BuildTimeout = 5 * time.Second
	})
	builder.blockBuild = true

	first, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	// Give the pipeline time to reach the blocked build step before the
	// forced redeploy tries to cancel it out from under itself.
	time.Sleep(20 * time.Millisecond)

	// The first run is now parked inside Build on <-ctx.Done(); unblock the
	// second run's own Build call so it can actually reach LIVE.
	builder.mu.Lock()
	builder.blockBuild = false
	builder.mu.Unlock()

	second, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", true)
	if err != nil {
		t.Fatalf("forced submit should bypass conflict: %v", err)
	}

	firstFinal := waitTerminal(t, o, first.ID)
	if firstFinal.Status != domain.StatusCancelled {
		t.Fatalf("expected prior run to be CANCELLED by the forced submit, got %s", firstFinal.Status)
	}

	secondFinal := waitTerminal(t, o, second.ID)
	if secondFinal.Status != domain.StatusLive {
		t.Fatalf("expected forced submit to reach LIVE, got %s (%s: %s)", secondFinal.Status, secondFinal.ErrorKind, secondFinal.ErrorDetail)
	}
	o.Wait()
}

func TestCancel_MidPipelineMarksCancelled(t *testing.T) {
	o, _, builder, _, _ := testHarness(t, func(cfg *Config) {
		cfg.BuildTimeout = 5 * time.Second
	})
	builder.blockBuild = true

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Give the pipeline time to reach the blocked build step before cancelling.
	time.Sleep(20 * time.Millisecond)
	if err := o.Cancel(context.Background(), dep.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s (%s: %s)", final.Status, final.ErrorKind, final.ErrorDetail)
	}
	o.Wait()
}

func TestCancel_AlreadyTerminalReturnsError(t *testing.T) {
	o, _, _, _, _ := testHarness(t, nil)

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, o, dep.ID)
	o.Wait()

	err = o.Cancel(context.Background(), dep.ID)
	var already *domain.AlreadyCompletedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyCompletedError, got %v", err)
	}
}

func TestPipeline_CloneFailureMarksFailed(t *testing.T) {
	deployments := store.NewMemoryStore()
	projects := newFakeProjects(testProject())
	git := &fakeGit{err: domain.NewStepError(domain.ErrCloneFailed, "repository not found", nil)}
	detector := &fakeDetector{profile: domain.BuildProfile{Framework: "node", ListenPort: 3000}}
	o := New(Config{WorkDir: t.TempDir()}, deployments, projects, git, detector,
		&fakeBuilder{}, &fakeRuntime{}, &fakeRouter{}, eventbus.NewInMemory(), logbus.NewInMemory())

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if final.ErrorKind != domain.ErrCloneFailed {
		t.Errorf("expected ErrCloneFailed, got %s", final.ErrorKind)
	}
	o.Wait()
}

func TestPipeline_DetectionFailureMarksFailed(t *testing.T) {
	deployments := store.NewMemoryStore()
	projects := newFakeProjects(testProject())
	git := &fakeGit{result: &gitadapter.CloneResult{Path: t.TempDir(), CommitHash: "abc"}}
	detector := &fakeDetector{profile: domain.BuildProfile{}} // empty Framework signals no match
	o := New(Config{WorkDir: t.TempDir()}, deployments, projects, git, detector,
		&fakeBuilder{}, &fakeRuntime{}, &fakeRouter{}, eventbus.NewInMemory(), logbus.NewInMemory())

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusFailed || final.ErrorKind != domain.ErrDetectionFailed {
		t.Fatalf("expected DETECTION_FAILED, got %s/%s", final.Status, final.ErrorKind)
	}
	o.Wait()
}

func TestPipeline_BuildFailureMarksFailed(t *testing.T) {
	o, _, builder, _, _ := testHarness(t, nil)
	builder.buildErr = errors.New("dockerfile syntax error")

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusFailed || final.ErrorKind != domain.ErrBuildFailed {
		t.Fatalf("expected BUILD_FAILED, got %s/%s", final.Status, final.ErrorKind)
	}
	o.Wait()
}

func TestPipeline_PushFailureIsNonFatal(t *testing.T) {
	o, _, builder, _, _ := testHarness(t, nil)
	builder.pushErr = errors.New("registry unreachable")

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusLive {
		t.Fatalf("expected push failure to fall back to the local image and reach LIVE, got %s/%s: %s", final.Status, final.ErrorKind, final.ErrorDetail)
	}
	o.Wait()
}

func TestPipeline_DeployFailureMarksFailed(t *testing.T) {
	o, _, _, runtime, _ := testHarness(t, nil)
	runtime.deployErr = domain.NewStepError(domain.ErrHealthCheckTimeout, "container never became healthy", nil)

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusFailed || final.ErrorKind != domain.ErrHealthCheckTimeout {
		t.Fatalf("expected HEALTH_CHECK_TIMEOUT, got %s/%s", final.Status, final.ErrorKind)
	}
	o.Wait()
}

func TestPipeline_VerifyFailureMarksFailed(t *testing.T) {
	o, _, _, _, router := testHarness(t, nil)
	router.publishErr = errors.New("no available dynamic config slot")

	dep, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, o, dep.ID)
	if final.Status != domain.StatusFailed || final.ErrorKind != domain.ErrDeployFailed {
		t.Fatalf("expected DEPLOY_FAILED (routing), got %s/%s", final.Status, final.ErrorKind)
	}
	o.Wait()
}

func TestRedeploy_ResubmitsTerminalDeployment(t *testing.T) {
	o, _, _, _, _ := testHarness(t, nil)

	first, err := o.Submit(context.Background(), "proj-1", domain.EnvProduction, "", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, o, first.ID)

	second, err := o.Redeploy(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if second.ID == first.ID {
		t.Error("redeploy should mint a fresh deployment ID")
	}
	final := waitTerminal(t, o, second.ID)
	if final.Status != domain.StatusLive {
		t.Fatalf("expected redeployed run to reach LIVE, got %s", final.Status)
	}
	o.Wait()
}
