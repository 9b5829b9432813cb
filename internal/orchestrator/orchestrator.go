// Package orchestrator is the deployment orchestration core: it accepts
// submissions, runs each one through the clone/detect/build/push/deploy/
// verify pipeline under bounded concurrency, and exposes cancel, redeploy,
// and subscription operations against the resulting Deployment records.
//
// It generalizes the teacher's DeploymentEngine (one unconditional goroutine
// per Deploy call, no concurrency cap) into a semaphore-gated worker pool
// with per-step timeouts and cancellation propagated at every I/O boundary.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"forge/internal/domain"
	"forge/internal/eventbus"
	"forge/internal/gitadapter"
	"forge/internal/logbus"
	"forge/internal/store"
)

// GitAdapter clones a project's source tree ahead of detection.
type GitAdapter interface {
	Clone(ctx context.Context, repoURL, branch, workDir string, auth gitadapter.AuthToken, rootDirectory string) (*gitadapter.CloneResult, error)
	Cleanup(workDir string) error
}

// Detector classifies a cloned source tree into a BuildProfile.
type Detector interface {
	Detect(root string) domain.BuildProfile
}

// ImageBuilder builds and pushes the image for a deployment.
type ImageBuilder interface {
	Tag(projectID, deploymentID string) domain.ImageRef
	Build(ctx context.Context, plan BuildPlan, logs logbus.LogBus) (domain.ImageRef, error)
	Push(ctx context.Context, ref domain.ImageRef, auth string, logs logbus.LogBus) error
}

// BuildPlan is the subset of builder.Plan the orchestrator assembles; kept
// as a local alias so this package doesn't need to import the build-context
// tarring internals, only the fields it populates.
type BuildPlan struct {
	SourceDir    string
	Profile      domain.BuildProfile
	ProjectID    string
	DeploymentID string
	Env          map[string]string
}

// ContainerRuntime runs a built image as a managed container.
type ContainerRuntime interface {
	EnsureNetwork(ctx context.Context) error
	Deploy(ctx context.Context, spec ContainerSpec) (domain.ContainerRef, error)
	Remove(ctx context.Context, projectSlug, deploymentID, containerID string) error
	CleanupOldForProject(ctx context.Context, projectID string, keepLast int) ([]string, error)
}

// ContainerSpec mirrors lifecycle.Spec; kept local for the same reason as
// BuildPlan mirrors builder.Plan.
type ContainerSpec struct {
	ProjectID    string
	ProjectSlug  string
	DeploymentID string
	Image        string
	ListenPort   int
	Env          map[string]string
	MemoryLimit  string
	CPULimit     string
	HealthCheck  domain.HealthCheckConfig
}

// Router publishes a deployment's route once its container is live.
type Router interface {
	Publish(projectSlug, deploymentID, containerName string, port int, env domain.Environment) (string, error)
	Unpublish(projectSlug, deploymentID string) error
}

// Metrics receives the fleet-wide observability signals the orchestrator
// produces as a side effect of running pipelines; nil is a valid Orchestrator
// state (metrics are best-effort, never load-bearing for correctness).
type Metrics interface {
	RecordDeploymentStatus(deploymentID, status string)
	SetPipelineQueueDepth(depth int)
	RecordBuildDuration(seconds float64)
	RecordGitOperation(operation, status string)
	RecordDockerOperation(operation, status string)
	UpdateActiveDeployments(count int)
}

// RegistryCredentials supplies the registry auth value presented on image
// push, refreshing it out from under a long-running orchestrator as
// needed. If unset, the orchestrator falls back to Config.RegistryAuth.
type RegistryCredentials interface {
	Credential(ctx context.Context) (string, error)
}

// Config bounds the orchestrator's concurrency and per-step timeouts.
type Config struct {
	MaxConcurrentPipelines int
	MaxConcurrentBuilds    int
	WorkDir                string
	RegistryAuth           string
	KeepLastDeployments    int
	CloneTimeout           time.Duration
	BuildTimeout           time.Duration
	DeployTimeout          time.Duration
	VerifyTimeout          time.Duration // not applied: health checks run under DeployTimeout
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPipelines <= 0 {
		c.MaxConcurrentPipelines = 5
	}
	if c.MaxConcurrentBuilds <= 0 {
		c.MaxConcurrentBuilds = 5
	}
	if c.KeepLastDeployments <= 0 {
		c.KeepLastDeployments = 3
	}
	if c.CloneTimeout <= 0 {
		c.CloneTimeout = 2 * time.Minute
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 10 * time.Minute
	}
	if c.DeployTimeout <= 0 {
		c.DeployTimeout = 2 * time.Minute
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 90 * time.Second
	}
	if c.WorkDir == "" {
		c.WorkDir = "/tmp/zyphron-builds"
	}
	return c
}

// Orchestrator is the deployment orchestration core.
type Orchestrator struct {
	cfg Config

	deployments store.DeploymentStore
	projects    store.ProjectStore
	git         GitAdapter
	detector    Detector
	builder     ImageBuilder
	runtime     ContainerRuntime
	router      Router
	events      eventbus.EventBus
	logs        logbus.LogBus

	pipelineSem chan struct{}
	buildSem    chan struct{}
	credentials RegistryCredentials
	metrics     Metrics
	queueDepth  int64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
	wg      sync.WaitGroup
}

// SetRegistryCredentials wires a dynamic registry credential source; when
// unset the orchestrator pushes with the static Config.RegistryAuth value.
func (o *Orchestrator) SetRegistryCredentials(c RegistryCredentials) {
	o.credentials = c
}

// SetMetrics wires the Prometheus observer for deployment status, pipeline
// queue depth, build duration, and git/docker operation counts. Unwired by
// default: a nil Metrics means every recordXxx call below is a no-op.
func (o *Orchestrator) SetMetrics(m Metrics) {
	o.metrics = m
}

func (o *Orchestrator) recordStatus(dep *domain.Deployment, status domain.Status) {
	if o.metrics != nil {
		o.metrics.RecordDeploymentStatus(dep.ID, string(status))
	}
}

// enterQueue/leaveQueue bracket the time a submitted deployment spends
// waiting for a free pipelineSem slot, reported as forge_pipeline_queue_depth.
func (o *Orchestrator) enterQueue() {
	depth := atomic.AddInt64(&o.queueDepth, 1)
	if o.metrics != nil {
		o.metrics.SetPipelineQueueDepth(int(depth))
	}
}

func (o *Orchestrator) leaveQueue() {
	depth := atomic.AddInt64(&o.queueDepth, -1)
	if o.metrics != nil {
		o.metrics.SetPipelineQueueDepth(int(depth))
	}
}

// registryAuth resolves the auth value for the next push, preferring the
// dynamic credential source when one is wired.
func (o *Orchestrator) registryAuth(ctx context.Context) (string, error) {
	if o.credentials == nil {
		return o.cfg.RegistryAuth, nil
	}
	return o.credentials.Credential(ctx)
}

// New wires an Orchestrator from its collaborators.
func New(
	cfg Config,
	deployments store.DeploymentStore,
	projects store.ProjectStore,
	git GitAdapter,
	detector Detector,
	builder ImageBuilder,
	runtime ContainerRuntime,
	router Router,
	events eventbus.EventBus,
	logs logbus.LogBus,
) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:         cfg,
		deployments: deployments,
		projects:    projects,
		git:         git,
		detector:    detector,
		builder:     builder,
		runtime:     runtime,
		router:      router,
		events:      events,
		logs:        logs,
		pipelineSem: make(chan struct{}, cfg.MaxConcurrentPipelines),
		buildSem:    make(chan struct{}, cfg.MaxConcurrentBuilds),
		cancels:     make(map[string]context.CancelFunc),
		done:        make(map[string]chan struct{}),
	}
}

// Submit validates that no active (non-terminal) deployment exists for the
// project — unless force is set — creates a PENDING Deployment record, and
// starts its pipeline asynchronously.
func (o *Orchestrator) Submit(ctx context.Context, projectID string, environment domain.Environment, branch string, force bool) (*domain.Deployment, error) {
	return o.submit(ctx, projectID, environment, branch, force, false)
}

func (o *Orchestrator) submit(ctx context.Context, projectID string, environment domain.Environment, branch string, force, simulate bool) (*domain.Deployment, error) {
	project, err := o.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("looking up project %s: %w", projectID, err)
	}

	active, err := o.deployments.FindActiveByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("checking active deployment: %w", err)
	}
	if active != nil {
		if !force {
			return nil, &domain.ConflictError{ActiveDeploymentID: active.ID}
		}
		// force=true: cancel the prior in-flight pipeline for this project and
		// await its cleanup (workdir removal, finishCancel) before starting
		// the new one, so the two never run concurrently against the same
		// project's containers and routes.
		if err := o.cancelAndAwait(ctx, active.ID); err != nil {
			return nil, fmt.Errorf("cancelling prior deployment %s: %w", active.ID, err)
		}
	}

	if branch == "" {
		branch = project.DefaultBranch
	}

	now := time.Now().UTC()
	dep := &domain.Deployment{
		ID:          newDeploymentID(),
		ProjectID:   projectID,
		Status:      domain.StatusPending,
		Environment: environment,
		Branch:      branch,
		Force:       force,
		Simulate:    simulate,
		CreatedAt:   now,
		StartedAt:   now,
	}

	if err := o.deployments.Create(ctx, dep); err != nil {
		return nil, fmt.Errorf("persisting deployment: %w", err)
	}

	o.events.Publish(ctx, domain.Event{
		ID: newDeploymentID(), Type: domain.EventDeploymentCreated,
		DeploymentID: dep.ID, ProjectID: projectID, Ts: now,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[dep.ID] = cancel
	o.done[dep.ID] = make(chan struct{})
	activeCount := len(o.cancels)
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.UpdateActiveDeployments(activeCount)
	}

	o.wg.Add(1)
	go o.run(runCtx, dep, project)

	return dep, nil
}

// cancelAndAwait cancels the in-flight pipeline for deploymentID and blocks
// until it has finished cleaning up, or ctx is itself cancelled first.
func (o *Orchestrator) cancelAndAwait(ctx context.Context, deploymentID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[deploymentID]
	done := o.done[deploymentID]
	o.mu.Unlock()
	if !ok {
		// Already finished between FindActiveByProject and here; nothing to await.
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Redeploy resubmits a terminal deployment's project/branch/environment as
// a fresh deployment, forcing past any active-deployment conflict check
// since the caller is explicitly asking to re-run.
func (o *Orchestrator) Redeploy(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	prior, err := o.deployments.FindByID(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("looking up deployment %s: %w", deploymentID, err)
	}
	return o.submit(ctx, prior.ProjectID, prior.Environment, prior.Branch, true, prior.Simulate)
}

// Cancel requests termination of an in-flight deployment. It is a no-op
// error (AlreadyCompletedError) against a deployment that already reached
// a terminal status.
func (o *Orchestrator) Cancel(ctx context.Context, deploymentID string) error {
	dep, err := o.deployments.FindByID(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("looking up deployment %s: %w", deploymentID, err)
	}
	if dep.Status.Terminal() {
		return &domain.AlreadyCompletedError{DeploymentID: deploymentID}
	}

	o.mu.Lock()
	cancel, ok := o.cancels[deploymentID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Get returns a single deployment by ID.
func (o *Orchestrator) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return o.deployments.FindByID(ctx, deploymentID)
}

// List returns deployments matching filter, newest first.
func (o *Orchestrator) List(ctx context.Context, filter store.ListFilter, page store.Page) ([]*domain.Deployment, error) {
	return o.deployments.List(ctx, filter, page)
}

// Wait blocks until every in-flight pipeline this process started has
// returned; intended for graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) finishCancel(deploymentID string) {
	o.mu.Lock()
	delete(o.cancels, deploymentID)
	if done, ok := o.done[deploymentID]; ok {
		close(done)
		delete(o.done, deploymentID)
	}
	activeCount := len(o.cancels)
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.UpdateActiveDeployments(activeCount)
	}
}

func newDeploymentID() string {
	return fmt.Sprintf("dep_%d_%d", time.Now().UnixNano(), randSuffix())
}

var randCounter uint64
var randMu sync.Mutex

// randSuffix avoids math/rand's global seed churn under concurrent
// submissions; it only needs to disambiguate IDs minted in the same
// nanosecond, not resist prediction.
func randSuffix() uint64 {
	randMu.Lock()
	defer randMu.Unlock()
	randCounter++
	return randCounter
}
