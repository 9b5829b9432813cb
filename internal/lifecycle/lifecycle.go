// Package lifecycle drives container create/start/stop/remove and health
// verification through the Docker SDK, replacing the teacher's split
// ContainerManager/LifecycleManager/ResourceManager trio with a single
// Docker-SDK-native manager scoped to the orchestration core's domain.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"forge/internal/domain"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

const (
	networkName      = "zyphron-network"
	stopTimeoutSecs  = 30
	labelManaged     = "zyphron.managed"
	labelProjectID   = "zyphron.project.id"
	labelProjectSlug = "zyphron.project.slug"
	labelDeployID    = "zyphron.deployment.id"
)

// Spec is the fully resolved input to Deploy: an image ready to run plus
// the runtime constraints it should run under.
type Spec struct {
	ProjectID     string
	ProjectSlug   string
	DeploymentID  string
	Image         string
	ListenPort    int
	Env           map[string]string
	MemoryLimit   string // human string, e.g. "512m"
	CPULimit      string // human string, e.g. "0.5"
	HealthCheck   domain.HealthCheckConfig
}

// Manager owns container lifecycle operations for every deployment on this
// host, plus the shared bridge network and host port bookkeeping they need.
type Manager struct {
	docker *client.Client
	ports  *PortAllocator
}

// New wraps an existing Docker SDK client and port allocator. The caller
// owns the client's lifecycle.
func New(docker *client.Client, ports *PortAllocator) *Manager {
	return &Manager{docker: docker, ports: ports}
}

// EnsureNetwork creates the shared bridge network used by every managed
// container, if it doesn't already exist.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	list, err := m.docker.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range list {
		if n.Name == networkName {
			return nil
		}
	}
	_, err = m.docker.NetworkCreate(ctx, networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{labelManaged: "true"},
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", networkName, err)
	}
	return nil
}

// Deploy creates, starts, and health-checks a container for spec, returning
// its ContainerRef once healthy. The caller is responsible for tearing
// down any prior container for the same deployment slot.
func (m *Manager) Deploy(ctx context.Context, spec Spec) (domain.ContainerRef, error) {
	hostPort, err := m.ports.Allocate(spec.ProjectSlug, spec.DeploymentID)
	if err != nil {
		return domain.ContainerRef{}, domain.NewStepError(domain.ErrDeployFailed, "allocating host port", err)
	}

	memBytes, err := parseMemory(spec.MemoryLimit)
	if err != nil {
		return domain.ContainerRef{}, domain.NewStepError(domain.ErrDeployFailed, "parsing memory limit", err)
	}
	cpu, err := parseCPU(spec.CPULimit)
	if err != nil {
		return domain.ContainerRef{}, domain.NewStepError(domain.ErrDeployFailed, "parsing cpu limit", err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.ListenPort))
	exposedPorts := nat.PortSet{containerPort: struct{}{}}
	portBindings := nat.PortMap{
		containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
	}

	name := fmt.Sprintf("zyphron-%s-%s", spec.ProjectSlug, shortID(spec.DeploymentID))

	resources := container.Resources{}
	if memBytes > 0 {
		resources.Memory = memBytes
	}
	if cpu > 0 {
		resources.NanoCPUs = int64(cpu * 1e9)
	}

	resp, err := m.docker.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			labelManaged:     "true",
			labelProjectID:   spec.ProjectID,
			labelProjectSlug: spec.ProjectSlug,
			labelDeployID:    spec.DeploymentID,
		},
	}, &container.HostConfig{
		PortBindings: portBindings,
		Resources:    resources,
		RestartPolicy: container.RestartPolicy{
			Name: "unless-stopped",
		},
		NetworkMode: container.NetworkMode(networkName),
	}, &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			networkName: {},
		},
	}, nil, name)
	if err != nil {
		m.ports.Release(spec.ProjectSlug, spec.DeploymentID)
		return domain.ContainerRef{}, domain.NewStepError(domain.ErrDeployFailed, "creating container", err)
	}

	if err := m.docker.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		m.docker.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		m.ports.Release(spec.ProjectSlug, spec.DeploymentID)
		return domain.ContainerRef{}, domain.NewStepError(domain.ErrDeployFailed, "starting container", err)
	}

	ref := domain.ContainerRef{ID: resp.ID, Name: name, AssignedHostPort: hostPort}

	if err := WaitHealthy(ctx, spec.HealthCheck, hostPort); err != nil {
		logrus.Warnf("container %s failed health checks: %v", resp.ID, err)
		if ctx.Err() != nil {
			// Cancellation during the health-check window: spec.md §5 requires
			// the just-started container to be removed rather than left running
			// behind a deployment that reports CANCELLED.
			if removeErr := m.Remove(context.Background(), spec.ProjectSlug, spec.DeploymentID, resp.ID); removeErr != nil {
				logrus.Warnf("container %s: cleanup after cancellation failed: %v", resp.ID, removeErr)
			}
			return domain.ContainerRef{}, err
		}
		return ref, err
	}

	return ref, nil
}

// Stop gracefully stops a container, tolerating an already-stopped one.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs * time.Second
	if err := m.docker.ContainerStop(ctx, containerID, &timeout); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// Remove stops (if needed) and removes a container plus its volumes, then
// releases its host port assignment.
func (m *Manager) Remove(ctx context.Context, projectSlug, deploymentID, containerID string) error {
	if err := m.docker.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	m.ports.Release(projectSlug, deploymentID)
	return nil
}

// Restart restarts a running container in place.
func (m *Manager) Restart(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs * time.Second
	if err := m.docker.ContainerRestart(ctx, containerID, &timeout); err != nil {
		return fmt.Errorf("restart container %s: %w", containerID, err)
	}
	return nil
}

// Logs returns a stream of the container's combined stdout/stderr.
func (m *Manager) Logs(ctx context.Context, containerID string, follow bool) (io.ReadCloser, error) {
	return m.docker.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Timestamps: false,
	})
}

// projectContainer pairs a container summary with its parsed creation time,
// for age-ordered garbage collection.
type projectContainer struct {
	ID        string
	CreatedAt time.Time
}

// CleanupOldForProject removes every managed container for projectID beyond
// the keepLast most recently created, returning the IDs it removed.
func (m *Manager) CleanupOldForProject(ctx context.Context, projectID string, keepLast int) ([]string, error) {
	list, err := m.docker.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelProjectID+"="+projectID)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers for project %s: %w", projectID, err)
	}

	containers := make([]projectContainer, 0, len(list))
	for _, c := range list {
		containers = append(containers, projectContainer{ID: c.ID, CreatedAt: time.Unix(c.Created, 0)})
	}
	sort.Slice(containers, func(i, j int) bool {
		return containers[i].CreatedAt.After(containers[j].CreatedAt)
	})

	if len(containers) <= keepLast {
		return nil, nil
	}

	var removed []string
	for _, c := range containers[keepLast:] {
		if err := m.docker.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			logrus.Warnf("cleanup: failed to remove container %s: %v", c.ID, err)
			continue
		}
		removed = append(removed, c.ID)
	}
	return removed, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
