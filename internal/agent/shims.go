package agent

import (
	"context"

	"forge/internal/builder"
	"forge/internal/config"
	"forge/internal/domain"
	"forge/internal/lifecycle"
	"forge/internal/logbus"
	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/storage"
)

// builderShim adapts *builder.Builder to orchestrator.ImageBuilder; the
// two packages' plan types carry identical fields but are intentionally
// distinct named types so neither package needs to import the other's
// internals, so wiring them together is a field-for-field copy.
type builderShim struct {
	b *builder.Builder
}

func (s builderShim) Tag(projectID, deploymentID string) domain.ImageRef {
	return s.b.Tag(projectID, deploymentID)
}

func (s builderShim) Build(ctx context.Context, plan orchestrator.BuildPlan, logs logbus.LogBus) (domain.ImageRef, error) {
	return s.b.Build(ctx, builder.Plan{
		SourceDir:    plan.SourceDir,
		Profile:      plan.Profile,
		ProjectID:    plan.ProjectID,
		DeploymentID: plan.DeploymentID,
		Env:          plan.Env,
	}, logs)
}

func (s builderShim) Push(ctx context.Context, ref domain.ImageRef, auth string, logs logbus.LogBus) error {
	return s.b.Push(ctx, ref, auth, logs)
}

// runtimeShim adapts *lifecycle.Manager to orchestrator.ContainerRuntime
// for the same reason builderShim adapts *builder.Builder.
type runtimeShim struct {
	m *lifecycle.Manager
}

func (s runtimeShim) EnsureNetwork(ctx context.Context) error {
	return s.m.EnsureNetwork(ctx)
}

func (s runtimeShim) Deploy(ctx context.Context, spec orchestrator.ContainerSpec) (domain.ContainerRef, error) {
	return s.m.Deploy(ctx, lifecycle.Spec{
		ProjectID:    spec.ProjectID,
		ProjectSlug:  spec.ProjectSlug,
		DeploymentID: spec.DeploymentID,
		Image:        spec.Image,
		ListenPort:   spec.ListenPort,
		Env:          spec.Env,
		MemoryLimit:  spec.MemoryLimit,
		CPULimit:     spec.CPULimit,
		HealthCheck:  spec.HealthCheck,
	})
}

func (s runtimeShim) Remove(ctx context.Context, projectSlug, deploymentID, containerID string) error {
	return s.m.Remove(ctx, projectSlug, deploymentID, containerID)
}

func (s runtimeShim) CleanupOldForProject(ctx context.Context, projectID string, keepLast int) ([]string, error) {
	return s.m.CleanupOldForProject(ctx, projectID, keepLast)
}

// storageSecureStore opens the encrypted local store used to persist the
// registry credential manager's state, deriving its key from the
// configured encryption key the way the teacher's SecureStore always has.
func storageSecureStore(cfg *config.Config, auditLogger *logging.AuditLogger) (*storage.SecureStore, error) {
	path := cfg.Agent.DataDir + "/registry_credentials.enc"
	return storage.NewSecureStore(path, cfg.Security.EncryptionKey, auditLogger)
}
