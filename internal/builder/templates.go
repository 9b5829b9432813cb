package builder

import (
	"fmt"
	"strings"

	"forge/internal/domain"
)

// synthesizeDockerfile renders a Dockerfile for profile. Callers must never
// invoke this when profile.HasUserDockerfile is true — a user-authored
// Dockerfile always wins.
func synthesizeDockerfile(profile domain.BuildProfile) string {
	switch profile.Framework {
	case "next":
		return nodeMultiStage(profile, "node "+nextStartScript(profile))
	case "nuxt":
		return nodeMultiStage(profile, "node .output/server/index.mjs")
	case "react", "vue":
		return staticMultiStage(profile)
	case "express":
		return nodeSingleStage(profile)
	case "django":
		return djangoStage(profile)
	case "fastapi":
		return pythonStage(profile, "uvicorn main:app --host 0.0.0.0 --port 8000")
	case "flask":
		return pythonStage(profile, "flask run --host=0.0.0.0 --port=5000")
	case "go":
		return goMultiStage(profile)
	default:
		return staticNginxStage(profile)
	}
}

func nextStartScript(profile domain.BuildProfile) string {
	return "node_modules/.bin/next start -p " + portString(profile)
}

func portString(profile domain.BuildProfile) string {
	if profile.ListenPort == 0 {
		return "3000"
	}
	return fmt.Sprintf("%d", profile.ListenPort)
}

func nodeMultiStage(profile domain.BuildProfile, runCmd string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM node:%s AS builder\n", nodeTag(profile))
	b.WriteString("WORKDIR /app\n")
	b.WriteString(copyLockfiles(profile))
	fmt.Fprintf(&b, "RUN %s\n", profile.InstallCmd)
	b.WriteString("COPY . .\n")
	if profile.BuildCmd != "" {
		fmt.Fprintf(&b, "RUN %s\n", profile.BuildCmd)
	}
	fmt.Fprintf(&b, "\nFROM node:%s-slim\n", nodeTag(profile))
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY --from=builder /app .\n")
	fmt.Fprintf(&b, "EXPOSE %d\n", profile.ListenPort)
	fmt.Fprintf(&b, "CMD [\"%s\"]\n", runCmd)
	return b.String()
}

func nodeSingleStage(profile domain.BuildProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM node:%s-slim\n", nodeTag(profile))
	b.WriteString("WORKDIR /app\n")
	b.WriteString(copyLockfiles(profile))
	fmt.Fprintf(&b, "RUN %s\n", profile.InstallCmd)
	b.WriteString("COPY . .\n")
	fmt.Fprintf(&b, "EXPOSE %d\n", profile.ListenPort)
	fmt.Fprintf(&b, "CMD %s\n", dockerCmdSplit(profile.StartCmd))
	return b.String()
}

func staticMultiStage(profile domain.BuildProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM node:%s AS builder\n", nodeTag(profile))
	b.WriteString("WORKDIR /app\n")
	b.WriteString(copyLockfiles(profile))
	fmt.Fprintf(&b, "RUN %s\n", profile.InstallCmd)
	b.WriteString("COPY . .\n")
	if profile.BuildCmd != "" {
		fmt.Fprintf(&b, "RUN %s\n", profile.BuildCmd)
	}
	b.WriteString("\nFROM nginx:stable-alpine\n")
	outDir := profile.OutputDir
	if outDir == "" {
		outDir = "dist"
	}
	fmt.Fprintf(&b, "COPY --from=builder /app/%s /usr/share/nginx/html\n", outDir)
	b.WriteString("EXPOSE 80\n")
	b.WriteString("CMD [\"nginx\", \"-g\", \"daemon off;\"]\n")
	return b.String()
}

func staticNginxStage(profile domain.BuildProfile) string {
	var b strings.Builder
	b.WriteString("FROM nginx:stable-alpine\n")
	b.WriteString("COPY . /usr/share/nginx/html\n")
	b.WriteString("EXPOSE 80\n")
	b.WriteString("CMD [\"nginx\", \"-g\", \"daemon off;\"]\n")
	return b.String()
}

func djangoStage(profile domain.BuildProfile) string {
	var b strings.Builder
	b.WriteString("FROM python:3.12-slim\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("ENV PYTHONUNBUFFERED=1\n")
	b.WriteString("COPY requirements.txt* pyproject.toml* poetry.lock* ./\n")
	fmt.Fprintf(&b, "RUN %s\n", profile.InstallCmd)
	b.WriteString("COPY . .\n")
	b.WriteString("EXPOSE 8000\n")
	b.WriteString("CMD [\"python\", \"manage.py\", \"runserver\", \"0.0.0.0:8000\"]\n")
	return b.String()
}

func pythonStage(profile domain.BuildProfile, runCmd string) string {
	var b strings.Builder
	b.WriteString("FROM python:3.12-slim\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("ENV PYTHONUNBUFFERED=1\n")
	b.WriteString("COPY requirements.txt* pyproject.toml* poetry.lock* ./\n")
	fmt.Fprintf(&b, "RUN %s\n", profile.InstallCmd)
	b.WriteString("COPY . .\n")
	fmt.Fprintf(&b, "EXPOSE %d\n", profile.ListenPort)
	fmt.Fprintf(&b, "CMD %s\n", dockerCmdSplit(runCmd))
	return b.String()
}

func goMultiStage(profile domain.BuildProfile) string {
	var b strings.Builder
	b.WriteString("FROM golang:1.22-alpine AS builder\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY go.mod go.sum* ./\n")
	b.WriteString("RUN go mod download\n")
	b.WriteString("COPY . .\n")
	b.WriteString("RUN CGO_ENABLED=0 go build -o /app/bin/app .\n")
	b.WriteString("\nFROM alpine:3.19\n")
	b.WriteString("RUN apk add --no-cache ca-certificates\n")
	b.WriteString("COPY --from=builder /app/bin/app /app/app\n")
	fmt.Fprintf(&b, "EXPOSE %d\n", profile.ListenPort)
	b.WriteString("CMD [\"/app/app\"]\n")
	return b.String()
}

func nodeTag(profile domain.BuildProfile) string {
	v := profile.RuntimeVersion
	if v == "" || v == "lts" {
		return "20-alpine"
	}
	return strings.TrimPrefix(v, "v") + "-alpine"
}

func copyLockfiles(profile domain.BuildProfile) string {
	switch profile.PackageManager {
	case "bun":
		return "COPY package.json bun.lockb* ./\n"
	case "pnpm":
		return "COPY package.json pnpm-lock.yaml* ./\n"
	case "yarn":
		return "COPY package.json yarn.lock* ./\n"
	default:
		return "COPY package.json package-lock.json* ./\n"
	}
}

// dockerCmdSplit prepares a command string for a shell-form CMD line: an
// empty command becomes "true", otherwise the command is returned whole
// with its double quotes backslash-escaped. It does not split the command.
func dockerCmdSplit(cmd string) string {
	if cmd == "" {
		return "true"
	}
	return strings.ReplaceAll(cmd, `"`, `\"`)
}

// defaultDockerignore is written alongside the synthetic Dockerfile unless
// the project already carries one.
const defaultDockerignore = `.git
node_modules
dist
.next
.nuxt
__pycache__
*.pyc
.venv
.env
.DS_Store
`
