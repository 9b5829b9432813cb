// Package domain holds the core data model shared by every subsystem of
// the deployment orchestration core: deployments, projects, build
// profiles, and the lifecycle events and logs they produce.
package domain

import "time"

// Status is a Deployment's position in the pipeline DAG.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusBuilding  Status = "BUILDING"
	StatusDeploying Status = "DEPLOYING"
	StatusLive      Status = "LIVE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether status can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusLive || s == StatusFailed || s == StatusCancelled
}

// Environment is the target tier for a deployment.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvPreview    Environment = "preview"
	EnvStaging    Environment = "staging"
)

// ErrorKind classifies why a deployment ended in FAILED.
type ErrorKind string

const (
	ErrCloneFailed          ErrorKind = "CLONE_FAILED"
	ErrCloneAuthFailed      ErrorKind = "CLONE_AUTH_FAILED"
	ErrDetectionFailed      ErrorKind = "DETECTION_FAILED"
	ErrDockerfileSynthesis  ErrorKind = "DOCKERFILE_SYNTHESIS_FAILED"
	ErrBuildFailed          ErrorKind = "BUILD_FAILED"
	ErrPushFailed           ErrorKind = "PUSH_FAILED"
	ErrDeployFailed         ErrorKind = "DEPLOY_FAILED"
	ErrHealthCheckTimeout   ErrorKind = "HEALTH_CHECK_TIMEOUT"
	ErrStepTimeout          ErrorKind = "STEP_TIMEOUT"
	ErrCancelled            ErrorKind = "CANCELLED"
	ErrConflict             ErrorKind = "CONFLICT"
	ErrInternal             ErrorKind = "INTERNAL"
)

// Deployment is one end-to-end attempt to take a project's commit to a
// running container. Once Status is terminal the record is immutable.
type Deployment struct {
	ID              string
	ProjectID       string
	Status          Status
	Environment     Environment
	Branch          string
	CommitSha       string
	CommitMessage   string
	CommitAuthor    string
	ImageRef        string
	ContainerRef    string
	ExternalURL     string
	StartedAt       time.Time
	FinishedAt      time.Time
	BuildDurationMs int64
	DeployDurationMs int64
	ErrorKind       ErrorKind
	ErrorDetail     string
	CreatedAt       time.Time
	Force           bool
	Simulate        bool
}

// EnvVar is a single environment variable scoped to a project and tier.
type EnvVar struct {
	Key         string
	Value       string
	Environment Environment
	IsSecret    bool
}

// Project is read-only from the orchestration core's perspective; it is
// owned by an external collaborator reachable only through DeploymentStore.
type Project struct {
	ID             string
	Slug           string
	RepoURL        string
	DefaultBranch  string
	AutoDeploy     bool
	RootDirectory  string
	CustomDomain   string
	WebhookSecret  string
	EnvVariables   []EnvVar
}

// ProjectType buckets a BuildProfile by the shape of its runtime.
type ProjectType string

const (
	ProjectStatic     ProjectType = "static"
	ProjectFrontend   ProjectType = "frontend"
	ProjectBackend    ProjectType = "backend"
	ProjectFullstack  ProjectType = "fullstack"
	ProjectUnknown    ProjectType = "unknown"
)

// BuildProfile is the detector's verdict on a source tree; never persisted.
type BuildProfile struct {
	Framework        string
	Language         string
	PackageManager   string
	ProjectType      ProjectType
	InstallCmd       string
	BuildCmd         string
	StartCmd         string
	OutputDir        string
	RuntimeVersion   string
	ListenPort       int
	EnvAdditions     map[string]string
	HasUserDockerfile bool
	Confidence       int
}

// ImageRef identifies a built, tagged container image.
type ImageRef struct {
	Registry   string
	Repository string
	Tag        string
}

// String renders the fully qualified image reference.
func (r ImageRef) String() string {
	if r.Registry == "" {
		return r.Repository + ":" + r.Tag
	}
	return r.Registry + "/" + r.Repository + ":" + r.Tag
}

// ContainerRef identifies a running container on the shared runtime.
type ContainerRef struct {
	ID               string
	Name             string
	AssignedHostPort int
}

// LogEntry is one line of build or deploy output, ordered per deployment.
type LogEntry struct {
	DeploymentID string
	Ts           time.Time
	Level        string
	Step         string
	Line         string
	Progress     int
}

// Log steps, matching the pipeline stages that can emit output.
const (
	StepClone   = "clone"
	StepDetect  = "detect"
	StepBuild   = "build"
	StepPush    = "push"
	StepDeploy  = "deploy"
	StepVerify  = "verify"
	StepSummary = "summary"
)

// EventType enumerates the lifecycle transitions published on the event bus.
type EventType string

const (
	EventDeploymentCreated   EventType = "DEPLOYMENT_CREATED"
	EventDeploymentStarted   EventType = "DEPLOYMENT_STARTED"
	EventBuildStarted        EventType = "BUILD_STARTED"
	EventBuildCompleted      EventType = "BUILD_COMPLETED"
	EventPushWarning         EventType = "PUSH_WARNING"
	EventDeploymentLive      EventType = "DEPLOYMENT_LIVE"
	EventDeploymentFailed    EventType = "DEPLOYMENT_FAILED"
	EventDeploymentCancelled EventType = "DEPLOYMENT_CANCELLED"
)

// Event is a durable, partitioned lifecycle notification.
type Event struct {
	ID           string
	Type         EventType
	DeploymentID string
	ProjectID    string
	Ts           time.Time
	Payload      map[string]interface{}
}

// HealthCheckConfig describes how the lifecycle manager verifies a container.
type HealthCheckConfig struct {
	Path        string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
	Kind        string // http, tcp, cmd
	Command     []string
}

// PortAllocation records the host port a deployment was bound to, so a
// restart of the lifecycle manager process can continue reasoning about it.
type PortAllocation struct {
	ProjectSlug  string
	DeploymentID string
	HostPort     int
}
