package builder

import (
	"strings"
	"testing"

	"forge/internal/domain"
)

func TestSynthesizeDockerfile_Next(t *testing.T) {
	profile := domain.BuildProfile{
		Framework:      "next",
		PackageManager: "pnpm",
		InstallCmd:     "pnpm install",
		BuildCmd:       "pnpm run build",
		ListenPort:     3000,
		RuntimeVersion: "20",
	}
	out := synthesizeDockerfile(profile)
	if !strings.Contains(out, "FROM node:20-alpine AS builder") {
		t.Errorf("expected node builder stage, got:\n%s", out)
	}
	if !strings.Contains(out, "pnpm-lock.yaml") {
		t.Errorf("expected pnpm lockfile copy, got:\n%s", out)
	}
	if !strings.Contains(out, "EXPOSE 3000") {
		t.Errorf("expected EXPOSE 3000, got:\n%s", out)
	}
}

func TestSynthesizeDockerfile_Go(t *testing.T) {
	profile := domain.BuildProfile{Framework: "go", ListenPort: 8080}
	out := synthesizeDockerfile(profile)
	if !strings.Contains(out, "FROM golang:1.22-alpine AS builder") {
		t.Errorf("expected go builder stage, got:\n%s", out)
	}
	if !strings.Contains(out, "FROM alpine:3.19") {
		t.Errorf("expected alpine runtime stage, got:\n%s", out)
	}
}

func TestSynthesizeDockerfile_StaticFrontend(t *testing.T) {
	profile := domain.BuildProfile{
		Framework:      "react",
		PackageManager: "npm",
		InstallCmd:     "npm install",
		BuildCmd:       "npm run build",
		OutputDir:      "dist",
	}
	out := synthesizeDockerfile(profile)
	if !strings.Contains(out, "FROM nginx:stable-alpine") {
		t.Errorf("expected nginx runtime stage, got:\n%s", out)
	}
	if !strings.Contains(out, "/app/dist /usr/share/nginx/html") {
		t.Errorf("expected dist copy into nginx html root, got:\n%s", out)
	}
}

func TestSynthesizeDockerfile_Unknown(t *testing.T) {
	profile := domain.BuildProfile{Framework: "unknown"}
	out := synthesizeDockerfile(profile)
	if !strings.Contains(out, "FROM nginx:stable-alpine") {
		t.Errorf("expected unknown framework to fall back to static nginx, got:\n%s", out)
	}
}

func TestBuilder_Tag(t *testing.T) {
	b := New(nil, "registry.zyphron.dev")
	ref := b.Tag("proj-123", "deploy-abcdefgh1234")
	if ref.Tag != "deploy-a" {
		t.Errorf("expected 8-char short tag, got %q", ref.Tag)
	}
	want := "registry.zyphron.dev/zyphron/proj-123:deploy-a"
	if ref.String() != want {
		t.Errorf("String() = %q, want %q", ref.String(), want)
	}
}
