package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"forge/internal/domain"
	"forge/internal/gitadapter"

	"github.com/sirupsen/logrus"
)

// run executes the full pipeline for dep: Clone -> Detect -> Build -> Push
// -> Deploy -> Verify -> Finalize. Every step shares runCtx, which Cancel
// cancels. Clone, Build (together with Push) and Deploy (which includes the
// container health check) each wrap runCtx in their own timeout; Detect and
// route publishing have no timeout of their own, and Push has none apart
// from Build's.
func (o *Orchestrator) run(runCtx context.Context, dep *domain.Deployment, project *domain.Project) {
	defer o.wg.Done()
	defer o.finishCancel(dep.ID)

	o.enterQueue()
	select {
	case o.pipelineSem <- struct{}{}:
		o.leaveQueue()
		defer func() { <-o.pipelineSem }()
	case <-runCtx.Done():
		o.leaveQueue()
		o.fail(runCtx, dep, domain.NewStepError(domain.ErrCancelled, "cancelled before scheduling", runCtx.Err()))
		return
	}

	o.events.Publish(runCtx, domain.Event{
		Type: domain.EventDeploymentStarted, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
	})

	workDir := filepath.Join(o.cfg.WorkDir, dep.ID)
	defer o.git.Cleanup(workDir)

	clone, err := o.stepClone(runCtx, dep, project, workDir)
	if err != nil {
		o.fail(runCtx, dep, err)
		return
	}
	dep.CommitSha = clone.CommitHash
	dep.CommitMessage = clone.CommitMessage
	dep.CommitAuthor = clone.CommitAuthor

	profile, err := o.stepDetect(runCtx, dep, clone.Path)
	if err != nil {
		o.fail(runCtx, dep, err)
		return
	}

	if dep.Simulate {
		o.finalizeSimulated(runCtx, dep)
		return
	}

	o.setStatus(runCtx, dep, domain.StatusBuilding)
	o.events.Publish(runCtx, domain.Event{
		Type: domain.EventBuildStarted, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
	})

	imageRef, err := o.stepBuildAndPush(runCtx, dep, project, clone.Path, profile)
	if err != nil {
		o.fail(runCtx, dep, err)
		return
	}
	dep.ImageRef = imageRef.String()
	o.events.Publish(runCtx, domain.Event{
		Type: domain.EventBuildCompleted, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
	})

	o.setStatus(runCtx, dep, domain.StatusDeploying)

	containerRef, err := o.stepDeploy(runCtx, dep, project, imageRef, profile)
	if err != nil {
		o.fail(runCtx, dep, err)
		return
	}
	dep.ContainerRef = containerRef.Name

	externalURL, err := o.stepVerifyAndRoute(runCtx, dep, project, containerRef, profile)
	if err != nil {
		o.fail(runCtx, dep, err)
		return
	}
	dep.ExternalURL = externalURL

	o.finalizeLive(runCtx, dep)
}

func (o *Orchestrator) stepClone(ctx context.Context, dep *domain.Deployment, project *domain.Project, workDir string) (*gitadapter.CloneResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.CloneTimeout)
	defer cancel()

	o.log(ctx, dep.ID, domain.StepClone, fmt.Sprintf("cloning %s@%s", project.RepoURL, dep.Branch))

	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return nil, domain.NewStepError(domain.ErrCloneFailed, "preparing work directory", err)
	}

	result, err := o.git.Clone(stepCtx, project.RepoURL, dep.Branch, workDir, gitadapter.AuthToken{}, project.RootDirectory)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordGitOperation("clone", "failed")
		}
		var stepErr *domain.StepError
		if errors.As(err, &stepErr) {
			return nil, stepErr
		}
		return nil, domain.NewStepError(domain.ErrCloneFailed, "clone", err)
	}
	if o.metrics != nil {
		o.metrics.RecordGitOperation("clone", "success")
	}
	o.log(ctx, dep.ID, domain.StepClone, fmt.Sprintf("checked out %s (%s)", result.CommitHash, result.CommitMessage))
	return result, nil
}

func (o *Orchestrator) stepDetect(ctx context.Context, dep *domain.Deployment, sourceDir string) (domain.BuildProfile, error) {
	profile := o.detector.Detect(sourceDir)
	if profile.Framework == "" {
		return profile, domain.NewStepError(domain.ErrDetectionFailed, "no framework detected", nil)
	}
	o.log(ctx, dep.ID, domain.StepDetect, fmt.Sprintf("detected framework=%s confidence=%d", profile.Framework, profile.Confidence))
	return profile, nil
}

func (o *Orchestrator) stepBuildAndPush(ctx context.Context, dep *domain.Deployment, project *domain.Project, sourceDir string, profile domain.BuildProfile) (domain.ImageRef, error) {
	select {
	case o.buildSem <- struct{}{}:
		defer func() { <-o.buildSem }()
	case <-ctx.Done():
		return domain.ImageRef{}, domain.NewStepError(domain.ErrCancelled, "cancelled waiting for build slot", ctx.Err())
	}

	buildCtx, cancel := context.WithTimeout(ctx, o.cfg.BuildTimeout)
	defer cancel()

	env := envMap(project.EnvVariables, dep.Environment)

	buildStart := time.Now()
	ref, err := o.builder.Build(buildCtx, BuildPlan{
		SourceDir:    sourceDir,
		Profile:      profile,
		ProjectID:    dep.ProjectID,
		DeploymentID: dep.ID,
		Env:          env,
	}, o.logs)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordDockerOperation("build", "failed")
		}
		var stepErr *domain.StepError
		if errors.As(err, &stepErr) {
			return domain.ImageRef{}, stepErr
		}
		return domain.ImageRef{}, domain.NewStepError(domain.ErrBuildFailed, "build", err)
	}
	if o.metrics != nil {
		o.metrics.RecordDockerOperation("build", "success")
		o.metrics.RecordBuildDuration(time.Since(buildStart).Seconds())
	}

	auth, err := o.registryAuth(buildCtx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ImageRef{}, domain.NewStepError(domain.ErrCancelled, "resolving registry credential", ctx.Err())
		}
		o.pushWarning(ctx, dep, fmt.Sprintf("resolving registry credential: %v", err))
		return ref, nil
	}

	// Push is non-fatal: on single-node runtimes the image the builder
	// just produced is already loaded in the local Docker daemon, so
	// Deploy can proceed against it even when the registry is unreachable.
	// A cancellation is the one push failure that still ends the
	// deployment, since continuing to Deploy after the caller asked to
	// cancel would violate the cancellation contract.
	if err := o.builder.Push(buildCtx, ref, auth, o.logs); err != nil {
		if ctx.Err() != nil {
			return domain.ImageRef{}, domain.NewStepError(domain.ErrCancelled, "push", ctx.Err())
		}
		o.pushWarning(ctx, dep, err.Error())
		return ref, nil
	}

	return ref, nil
}

// pushWarning records a non-fatal push failure as a log line and a
// PUSH_WARNING event, falling back to the already-built local image.
func (o *Orchestrator) pushWarning(ctx context.Context, dep *domain.Deployment, detail string) {
	o.log(ctx, dep.ID, domain.StepPush, fmt.Sprintf("push failed, continuing with local image: %s", detail))
	o.events.Publish(ctx, domain.Event{
		Type: domain.EventPushWarning, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
		Payload: map[string]interface{}{"errorKind": string(domain.ErrPushFailed), "errorDetail": detail},
	})
}

func (o *Orchestrator) stepDeploy(ctx context.Context, dep *domain.Deployment, project *domain.Project, image domain.ImageRef, profile domain.BuildProfile) (domain.ContainerRef, error) {
	deployCtx, cancel := context.WithTimeout(ctx, o.cfg.DeployTimeout)
	defer cancel()

	if err := o.runtime.EnsureNetwork(deployCtx); err != nil {
		return domain.ContainerRef{}, domain.NewStepError(domain.ErrDeployFailed, "ensuring network", err)
	}

	spec := ContainerSpec{
		ProjectID:    dep.ProjectID,
		ProjectSlug:  project.Slug,
		DeploymentID: dep.ID,
		Image:        image.String(),
		ListenPort:   profile.ListenPort,
		Env:          envMap(project.EnvVariables, dep.Environment),
		HealthCheck: domain.HealthCheckConfig{
			Path:        "/",
			Interval:    2 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     5,
			StartPeriod: 3 * time.Second,
		},
	}

	ref, err := o.runtime.Deploy(deployCtx, spec)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordDockerOperation("deploy", "failed")
		}
		var stepErr *domain.StepError
		if errors.As(err, &stepErr) {
			return ref, stepErr
		}
		return ref, domain.NewStepError(domain.ErrDeployFailed, "deploy", err)
	}
	if o.metrics != nil {
		o.metrics.RecordDockerOperation("deploy", "success")
	}
	o.log(ctx, dep.ID, domain.StepDeploy, fmt.Sprintf("container %s started on host port %d", ref.Name, ref.AssignedHostPort))
	return ref, nil
}

// stepVerifyAndRoute publishes the route once the container is live; health
// verification itself already happened inside runtime.Deploy.
func (o *Orchestrator) stepVerifyAndRoute(ctx context.Context, dep *domain.Deployment, project *domain.Project, container domain.ContainerRef, profile domain.BuildProfile) (string, error) {
	url, err := o.router.Publish(project.Slug, dep.ID, container.Name, profile.ListenPort, dep.Environment)
	if err != nil {
		return "", domain.NewStepError(domain.ErrDeployFailed, "publishing route", err)
	}
	o.log(ctx, dep.ID, domain.StepVerify, fmt.Sprintf("routed to %s", url))
	return url, nil
}

func (o *Orchestrator) finalizeLive(ctx context.Context, dep *domain.Deployment) {
	dep.FinishedAt = time.Now().UTC()
	dep.BuildDurationMs = dep.FinishedAt.Sub(dep.StartedAt).Milliseconds()
	o.setStatus(ctx, dep, domain.StatusLive)
	if err := o.deployments.UpdateMetadata(ctx, dep); err != nil {
		logrus.Warnf("orchestrator: failed to persist final metadata for %s: %v", dep.ID, err)
	}
	o.events.Publish(ctx, domain.Event{
		Type: domain.EventDeploymentLive, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
	})

	if removed, err := o.runtime.CleanupOldForProject(ctx, dep.ProjectID, o.cfg.KeepLastDeployments); err != nil {
		logrus.Warnf("orchestrator: cleanup for project %s failed: %v", dep.ProjectID, err)
	} else if len(removed) > 0 {
		o.log(ctx, dep.ID, domain.StepSummary, fmt.Sprintf("garbage collected %d old container(s)", len(removed)))
	}
}

// finalizeSimulated short-circuits a Simulate deployment straight to LIVE
// after detection, skipping build/push/deploy/verify entirely.
func (o *Orchestrator) finalizeSimulated(ctx context.Context, dep *domain.Deployment) {
	dep.FinishedAt = time.Now().UTC()
	o.log(ctx, dep.ID, domain.StepSummary, "simulate: skipped build/deploy steps")
	o.setStatus(ctx, dep, domain.StatusLive)
	o.deployments.UpdateMetadata(ctx, dep)
	o.events.Publish(ctx, domain.Event{
		Type: domain.EventDeploymentLive, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
	})
}

func (o *Orchestrator) fail(ctx context.Context, dep *domain.Deployment, err error) {
	dep.FinishedAt = time.Now().UTC()

	var stepErr *domain.StepError
	kind := domain.ErrInternal
	detail := err.Error()
	if errors.As(err, &stepErr) {
		kind = stepErr.Kind
		detail = stepErr.Detail
		if stepErr.Err != nil {
			detail = fmt.Sprintf("%s: %v", stepErr.Detail, stepErr.Err)
		}
	}

	status := domain.StatusFailed
	eventType := domain.EventDeploymentFailed
	if kind == domain.ErrCancelled {
		status = domain.StatusCancelled
		eventType = domain.EventDeploymentCancelled
	}

	dep.Status = status
	dep.ErrorKind = kind
	dep.ErrorDetail = detail
	o.recordStatus(dep, status)

	if uErr := o.deployments.UpdateStatus(ctx, dep.ID, status, kind, detail); uErr != nil {
		logrus.Errorf("orchestrator: failed to persist failure for %s: %v", dep.ID, uErr)
	}
	o.log(context.Background(), dep.ID, domain.StepSummary, fmt.Sprintf("%s: %s", kind, detail))
	o.events.Publish(context.Background(), domain.Event{
		Type: eventType, DeploymentID: dep.ID, ProjectID: dep.ProjectID, Ts: time.Now().UTC(),
		Payload: map[string]interface{}{"errorKind": string(kind), "errorDetail": detail},
	})
}

func (o *Orchestrator) setStatus(ctx context.Context, dep *domain.Deployment, status domain.Status) {
	dep.Status = status
	if err := o.deployments.UpdateStatus(ctx, dep.ID, status, "", ""); err != nil {
		logrus.Warnf("orchestrator: failed to persist status %s for %s: %v", status, dep.ID, err)
	}
	o.logs.PublishStatus(ctx, dep.ID, *dep)
	o.recordStatus(dep, status)
}

func (o *Orchestrator) log(ctx context.Context, deploymentID, step, line string) {
	o.logs.PublishLog(ctx, deploymentID, domain.LogEntry{
		DeploymentID: deploymentID,
		Ts:           time.Now().UTC(),
		Level:        "info",
		Step:         step,
		Line:         line,
	})
}

func envMap(vars []domain.EnvVar, env domain.Environment) map[string]string {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		if v.Environment == env || v.Environment == "" {
			out[v.Key] = v.Value
		}
	}
	return out
}
