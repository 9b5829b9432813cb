// Package builder synthesizes Dockerfiles from a BuildProfile and drives
// image builds and registry pushes through the Docker SDK, replacing the
// teacher's exec.Command("docker", "build") wrapper with direct API calls
// per the re-architecture guidance against shelling out to the CLI.
package builder

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"forge/internal/domain"
	"forge/internal/logbus"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

const (
	syntheticDockerfileName = "Dockerfile.synthetic"

	defaultMemoryLimit = 2 * 1024 * 1024 * 1024 // 2GiB
	defaultCPUQuota    = 200000                 // 2 CPUs at 100000 period
	defaultCPUPeriod   = 100000

	pushMaxAttempts = 4 // one initial attempt plus up to three retries
	pushBaseDelay   = 250 * time.Millisecond
)

// Builder turns a cloned source tree plus its detected BuildProfile into a
// pushed, taggable image.
type Builder struct {
	docker   *client.Client
	registry string // e.g. "registry.zyphron.dev"
}

// New wraps an existing Docker SDK client. The caller owns the client's
// lifecycle (Close).
func New(docker *client.Client, registry string) *Builder {
	return &Builder{docker: docker, registry: registry}
}

// Plan is the resolved set of inputs to a single build.
type Plan struct {
	SourceDir    string
	Profile      domain.BuildProfile
	ProjectID    string
	DeploymentID string
	Env          map[string]string
}

// Tag computes the image reference for a deployment: registry/zyphron/{projectId}:{deploymentId[:8]}.
// No "latest" alias tag is created.
func (b *Builder) Tag(projectID, deploymentID string) domain.ImageRef {
	short := deploymentID
	if len(short) > 8 {
		short = short[:8]
	}
	return domain.ImageRef{
		Registry:   b.registry,
		Repository: fmt.Sprintf("zyphron/%s", projectID),
		Tag:        short,
	}
}

// Build prepares the build context (writing a synthetic Dockerfile and
// .dockerignore when the project didn't ship its own) and streams the
// image build through the Docker SDK, tagging per Tag. Build-log lines are
// forwarded to logs as step=build entries; build failures never retry.
func (b *Builder) Build(ctx context.Context, plan Plan, logs logbus.LogBus) (domain.ImageRef, error) {
	ref := b.Tag(plan.ProjectID, plan.DeploymentID)

	dockerfilePath, err := ensureDockerfile(plan.SourceDir, plan.Profile)
	if err != nil {
		return domain.ImageRef{}, domain.NewStepError(domain.ErrDockerfileSynthesis, "writing synthetic Dockerfile", err)
	}
	if err := ensureDockerignore(plan.SourceDir); err != nil {
		return domain.ImageRef{}, domain.NewStepError(domain.ErrDockerfileSynthesis, "writing .dockerignore", err)
	}

	buildCtx, err := tarDirectory(plan.SourceDir)
	if err != nil {
		return domain.ImageRef{}, domain.NewStepError(domain.ErrBuildFailed, "packing build context", err)
	}

	buildArgs := make(map[string]*string, len(plan.Env))
	for k, v := range plan.Env {
		val := v
		buildArgs[k] = &val
	}

	relDockerfile, err := filepath.Rel(plan.SourceDir, dockerfilePath)
	if err != nil {
		relDockerfile = filepath.Base(dockerfilePath)
	}

	resp, err := b.docker.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Dockerfile: relDockerfile,
		Tags:       []string{ref.String()},
		BuildArgs:  buildArgs,
		Remove:     true,
		Memory:     defaultMemoryLimit,
		CPUQuota:   defaultCPUQuota,
		CPUPeriod:  defaultCPUPeriod,
		Labels: map[string]string{
			"managed":        "true",
			"project.id":     plan.ProjectID,
			"deployment.id":  plan.DeploymentID,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.ImageRef{}, domain.NewStepError(domain.ErrCancelled, "starting image build", ctx.Err())
		}
		return domain.ImageRef{}, domain.NewStepError(domain.ErrBuildFailed, "starting image build", err)
	}
	defer resp.Body.Close()

	if err := streamBuildLog(ctx, resp.Body, plan.DeploymentID, logs); err != nil {
		if ctx.Err() != nil {
			return domain.ImageRef{}, domain.NewStepError(domain.ErrCancelled, "image build", ctx.Err())
		}
		return domain.ImageRef{}, domain.NewStepError(domain.ErrBuildFailed, "image build", err)
	}

	return ref, nil
}

// buildLogLine mirrors the JSON stream the Docker daemon emits during
// ImageBuild: either a "stream" chunk or a terminal "errorDetail".
type buildLogLine struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func streamBuildLog(ctx context.Context, r io.Reader, deploymentID string, logs logbus.LogBus) error {
	dec := json.NewDecoder(r)
	for {
		var line buildLogLine
		if err := dec.Decode(&line); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if line.Error != "" {
			return fmt.Errorf("%s", line.Error)
		}
		text := strings.TrimRight(line.Stream, "\n")
		if text == "" {
			continue
		}
		if logs != nil {
			logs.PublishLog(ctx, deploymentID, domain.LogEntry{
				DeploymentID: deploymentID,
				Step:         domain.StepBuild,
				Level:        "info",
				Line:         text,
			})
		}
	}
}

// Push uploads ref to its registry with exponential backoff: after a failed
// first attempt it retries up to three times, waiting 250ms, 1s, then 4s.
func (b *Builder) Push(ctx context.Context, ref domain.ImageRef, auth string, logs logbus.LogBus) error {
	var lastErr error
	delay := pushBaseDelay
	for attempt := 1; attempt <= pushMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return domain.NewStepError(domain.ErrPushFailed, "context cancelled before retry", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 4
		}

		rc, err := b.docker.ImagePush(ctx, ref.String(), types.ImagePushOptions{RegistryAuth: auth})
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = streamBuildLog(ctx, rc, "", logs)
		rc.Close()
		if lastErr == nil {
			return nil
		}
		logrus.Warnf("push attempt %d/%d for %s failed: %v", attempt, pushMaxAttempts, ref.String(), lastErr)
	}
	return domain.NewStepError(domain.ErrPushFailed, fmt.Sprintf("push %s after %d attempts", ref.String(), pushMaxAttempts), lastErr)
}

func ensureDockerfile(sourceDir string, profile domain.BuildProfile) (string, error) {
	userDockerfile := filepath.Join(sourceDir, "Dockerfile")
	if profile.HasUserDockerfile {
		if _, err := os.Stat(userDockerfile); err == nil {
			return userDockerfile, nil
		}
	}

	synthetic := synthesizeDockerfile(profile)
	path := filepath.Join(sourceDir, syntheticDockerfileName)
	if err := os.WriteFile(path, []byte(synthetic), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func ensureDockerignore(sourceDir string) error {
	path := filepath.Join(sourceDir, ".dockerignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(defaultDockerignore), 0o644)
}

// tarDirectory packs sourceDir into a tar stream suitable for ImageBuild's
// build context, preserving relative paths.
func tarDirectory(sourceDir string) (io.Reader, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, bufio.NewReader(f))
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}
