// Package agent is the composition root: it wires storage, the
// clone/detect/build/deploy/route collaborators, the orchestrator, and
// the HTTP/webhook surface into one process with a single Start/Shutdown
// lifecycle, in the same role the teacher's Agent played for its
// backend-polling command loop.
package agent

import (
	"context"
	"fmt"
	"time"

	"forge/internal/api"
	"forge/internal/auth"
	"forge/internal/builder"
	"forge/internal/config"
	"forge/internal/detector"
	"forge/internal/eventbus"
	"forge/internal/gitadapter"
	"forge/internal/lifecycle"
	"forge/internal/logbus"
	"forge/internal/logging"
	"forge/internal/monitoring"
	"forge/internal/orchestrator"
	"forge/internal/router"
	"forge/internal/store"
	"forge/internal/webhook"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// Agent owns every long-lived component of the deployment orchestration
// core and their startup/shutdown order.
type Agent struct {
	config       *config.Config
	auditLogger  *logging.AuditLogger
	monitor      *monitoring.Monitor
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	credentials  *auth.RegistryCredentialManager
	docker       *client.Client

	startTime time.Time
}

// New wires an Agent from its configuration. Docker connectivity,
// storage paths, and the registry credential source are all resolved
// here so Start only has to begin serving.
func New(cfg *config.Config, auditLogger *logging.AuditLogger) (*Agent, error) {
	logrus.Info("assembling deployment orchestration core")

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	deployments, err := store.NewFileStore(cfg.Agent.DataDir + "/deployments.json")
	if err != nil {
		return nil, fmt.Errorf("open deployment store: %w", err)
	}
	projects, err := store.NewFileProjectStore(cfg.Agent.DataDir + "/projects.json")
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}

	events := eventbus.NewInMemory()
	logs := logbus.NewInMemory()

	git := gitadapter.New()
	detectorRegistry := detector.NewRegistry()
	imageBuilder := builder.New(dockerClient, cfg.Orchestrator.ContainerRegistry)
	ports := lifecycle.NewPortAllocator(cfg.Orchestrator.PortBase)
	runtime := lifecycle.New(dockerClient, ports)
	rtr := router.New(cfg.Router.DynamicConfigDir, cfg.Router.BaseDomain)

	orch := orchestrator.New(
		orchestrator.Config{
			MaxConcurrentPipelines: cfg.Orchestrator.MaxConcurrentPipelines,
			MaxConcurrentBuilds:    cfg.Orchestrator.MaxConcurrentBuilds,
			WorkDir:                cfg.Orchestrator.ProjectsDir,
			RegistryAuth:           cfg.Orchestrator.RegistryAuth,
			KeepLastDeployments:    cfg.Orchestrator.KeepLastDeployments,
			CloneTimeout:           cfg.Orchestrator.CloneTimeout,
			BuildTimeout:           cfg.Orchestrator.BuildTimeout,
			DeployTimeout:          cfg.Orchestrator.DeployTimeout,
			VerifyTimeout:          cfg.Orchestrator.VerifyTimeout,
		},
		deployments,
		projects,
		git,
		detectorRegistry,
		builderShim{imageBuilder},
		runtimeShim{runtime},
		rtr,
		events,
		logs,
	)

	// When an encryption key is configured, route registry auth through
	// the credential manager so it's persisted encrypted and refreshed on
	// a schedule rather than held only as a static config string.
	var credentials *auth.RegistryCredentialManager
	if cfg.Security.EncryptionKey != "" {
		secureStore, err := storageSecureStore(cfg, auditLogger)
		if err != nil {
			logrus.Warnf("registry credential manager disabled: %v", err)
		} else {
			credentials = auth.NewRegistryCredentialManager(secureStore, auditLogger, auth.StaticIssuer{
				Secret: cfg.Orchestrator.RegistryAuth,
				TTL:    24 * time.Hour,
			})
			orch.SetRegistryCredentials(credentials)
		}
	}

	monitor := monitoring.NewMonitor(auditLogger, cfg.GetMetricsPort())
	orch.SetMetrics(monitor)

	webhookHandler := webhook.New(projects, orch)

	apiServer := api.New(
		fmt.Sprintf(":%d", cfg.GetAPIPort()),
		orch,
		logs,
		webhookHandler,
		auditLogger,
		monitor,
	)

	return &Agent{
		config:       cfg,
		auditLogger:  auditLogger,
		monitor:      monitor,
		orchestrator: orch,
		apiServer:    apiServer,
		credentials:  credentials,
		docker:       dockerClient,
		startTime:    time.Now(),
	}, nil
}

// Start brings up monitoring and the HTTP surface, then blocks until ctx
// is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	logrus.Info("starting deployment orchestration core")

	if err := a.monitor.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	if a.credentials != nil {
		if err := a.credentials.Start(ctx); err != nil {
			return fmt.Errorf("start registry credential manager: %w", err)
		}
	}

	if err := a.apiServer.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	a.auditLogger.LogEvent("AGENT_STARTED", map[string]interface{}{
		"start_time": a.startTime,
		"agent_id":   a.config.Agent.ID,
	})
	logrus.Info("deployment orchestration core started successfully")

	<-ctx.Done()
	return nil
}

// Shutdown gracefully stops every component in reverse startup order.
func (a *Agent) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down deployment orchestration core")

	if err := a.apiServer.Stop(ctx); err != nil {
		logrus.Errorf("failed to stop api server: %v", err)
	}

	if a.credentials != nil {
		a.credentials.Stop()
	}

	a.orchestrator.Wait()

	if err := a.monitor.Stop(); err != nil {
		logrus.Errorf("failed to stop monitor: %v", err)
	}

	if err := a.docker.Close(); err != nil {
		logrus.Errorf("failed to close docker client: %v", err)
	}

	a.auditLogger.LogEvent("AGENT_SHUTDOWN", map[string]interface{}{
		"uptime": time.Since(a.startTime),
	})
	logrus.Info("deployment orchestration core shutdown completed")
	return nil
}

// Orchestrator exposes the wired orchestrator for callers (e.g. the CLI)
// that need to submit deployments without going through the HTTP API.
func (a *Agent) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}
