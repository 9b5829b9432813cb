package detector

import (
	"os"
	"path/filepath"
	"strings"

	"forge/internal/domain"
)

// dockerfileDetector short-circuits every other detector: a user-authored
// Dockerfile always wins, with confidence=100, per spec.md §4.2.
type dockerfileDetector struct{}

func (dockerfileDetector) Name() string  { return "docker" }
func (dockerfileDetector) Priority() int { return 1000 }
func (dockerfileDetector) Match(root string) bool {
	return fileExists(filepath.Join(root, "Dockerfile"))
}
func (dockerfileDetector) Infer(root string) domain.BuildProfile {
	port := parseDockerfileExposePort(filepath.Join(root, "Dockerfile"))
	if port == 0 {
		port = 3000
	}
	return domain.BuildProfile{
		Framework:         "docker",
		ProjectType:       domain.ProjectFullstack,
		ListenPort:        port,
		HasUserDockerfile: true,
		Confidence:        100,
	}
}

type nextDetector struct{}

func (nextDetector) Name() string  { return "next" }
func (nextDetector) Priority() int { return 90 }
func (nextDetector) Match(root string) bool {
	pkg, ok := readPackageJSON(root)
	return ok && pkg.hasDep("next")
}
func (nextDetector) Infer(root string) domain.BuildProfile {
	pkg, _ := readPackageJSON(root)
	pm := jsPackageManager(root)
	return domain.BuildProfile{
		Framework:      "next",
		Language:       "javascript",
		PackageManager: pm,
		ProjectType:    domain.ProjectFullstack,
		InstallCmd:     installCmdFor(pm),
		BuildCmd:       runCmdFor(pm, "build"),
		StartCmd:       runCmdFor(pm, "start"),
		RuntimeVersion: nodeRuntimeVersion(pkg),
		ListenPort:     3000,
		Confidence:     90,
	}
}

type nuxtDetector struct{}

func (nuxtDetector) Name() string  { return "nuxt" }
func (nuxtDetector) Priority() int { return 89 }
func (nuxtDetector) Match(root string) bool {
	pkg, ok := readPackageJSON(root)
	return ok && pkg.hasDep("nuxt")
}
func (nuxtDetector) Infer(root string) domain.BuildProfile {
	pkg, _ := readPackageJSON(root)
	pm := jsPackageManager(root)
	return domain.BuildProfile{
		Framework:      "nuxt",
		Language:       "javascript",
		PackageManager: pm,
		ProjectType:    domain.ProjectFullstack,
		InstallCmd:     installCmdFor(pm),
		BuildCmd:       runCmdFor(pm, "build"),
		StartCmd:       runCmdFor(pm, "start"),
		RuntimeVersion: nodeRuntimeVersion(pkg),
		ListenPort:     3000,
		Confidence:     90,
	}
}

// reactViteDetector covers Vite-built SPAs (React, Vue, plain Vite) that
// ship a static bundle served behind a static file server.
type reactViteDetector struct{}

func (reactViteDetector) Name() string  { return "react-vite" }
func (reactViteDetector) Priority() int { return 80 }
func (reactViteDetector) Match(root string) bool {
	pkg, ok := readPackageJSON(root)
	if !ok {
		return false
	}
	return pkg.hasDep("vite") || pkg.hasDep("react-scripts") || pkg.hasDep("react")
}
func (reactViteDetector) Infer(root string) domain.BuildProfile {
	pkg, _ := readPackageJSON(root)
	pm := jsPackageManager(root)
	framework := "react"
	if pkg.hasDep("vue") {
		framework = "vue"
	}
	buildCmd := ""
	if _, ok := pkg.Scripts["build"]; ok {
		buildCmd = runCmdFor(pm, "build")
	}
	return domain.BuildProfile{
		Framework:      framework,
		Language:       "javascript",
		PackageManager: pm,
		ProjectType:    domain.ProjectFrontend,
		InstallCmd:     installCmdFor(pm),
		BuildCmd:       buildCmd,
		OutputDir:      "dist",
		RuntimeVersion: nodeRuntimeVersion(pkg),
		ListenPort:     80,
		Confidence:     80,
	}
}

type expressDetector struct{}

func (expressDetector) Name() string  { return "express" }
func (expressDetector) Priority() int { return 70 }
func (expressDetector) Match(root string) bool {
	pkg, ok := readPackageJSON(root)
	return ok && pkg.hasDep("express")
}
func (expressDetector) Infer(root string) domain.BuildProfile {
	pkg, _ := readPackageJSON(root)
	pm := jsPackageManager(root)
	start := "node index.js"
	if s, ok := pkg.Scripts["start"]; ok && s != "" {
		start = runCmdFor(pm, "start")
	}
	return domain.BuildProfile{
		Framework:      "express",
		Language:       "javascript",
		PackageManager: pm,
		ProjectType:    domain.ProjectBackend,
		InstallCmd:     installCmdFor(pm),
		StartCmd:       start,
		RuntimeVersion: nodeRuntimeVersion(pkg),
		ListenPort:     3000,
		Confidence:     75,
	}
}

type djangoDetector struct{}

func (djangoDetector) Name() string  { return "django" }
func (djangoDetector) Priority() int { return 60 }
func (djangoDetector) Match(root string) bool {
	return fileExists(filepath.Join(root, "manage.py"))
}
func (djangoDetector) Infer(root string) domain.BuildProfile {
	return domain.BuildProfile{
		Framework:      "django",
		Language:       "python",
		PackageManager: pythonPackageManager(root),
		ProjectType:    domain.ProjectBackend,
		InstallCmd:     pythonInstallCmd(root),
		StartCmd:       "python manage.py runserver 0.0.0.0:8000",
		ListenPort:     8000,
		Confidence:     85,
	}
}

type fastapiDetector struct{}

func (fastapiDetector) Name() string  { return "fastapi" }
func (fastapiDetector) Priority() int { return 59 }
func (fastapiDetector) Match(root string) bool {
	return pythonRequirementContains(root, "fastapi")
}
func (fastapiDetector) Infer(root string) domain.BuildProfile {
	return domain.BuildProfile{
		Framework:      "fastapi",
		Language:       "python",
		PackageManager: pythonPackageManager(root),
		ProjectType:    domain.ProjectBackend,
		InstallCmd:     pythonInstallCmd(root),
		StartCmd:       "uvicorn main:app --host 0.0.0.0 --port 8000",
		ListenPort:     8000,
		Confidence:     80,
	}
}

type flaskDetector struct{}

func (flaskDetector) Name() string  { return "flask" }
func (flaskDetector) Priority() int { return 58 }
func (flaskDetector) Match(root string) bool {
	return pythonRequirementContains(root, "flask")
}
func (flaskDetector) Infer(root string) domain.BuildProfile {
	return domain.BuildProfile{
		Framework:      "flask",
		Language:       "python",
		PackageManager: pythonPackageManager(root),
		ProjectType:    domain.ProjectBackend,
		InstallCmd:     pythonInstallCmd(root),
		StartCmd:       "flask run --host=0.0.0.0 --port=5000",
		ListenPort:     5000,
		Confidence:     75,
	}
}

type goDetector struct{}

func (goDetector) Name() string  { return "go" }
func (goDetector) Priority() int { return 50 }
func (goDetector) Match(root string) bool {
	return fileExists(filepath.Join(root, "go.mod"))
}
func (goDetector) Infer(root string) domain.BuildProfile {
	return domain.BuildProfile{
		Framework:   "go",
		Language:    "go",
		ProjectType: domain.ProjectBackend,
		InstallCmd:  "go mod download",
		BuildCmd:    "go build -o app .",
		StartCmd:    "./app",
		ListenPort:  8080,
		Confidence:  85,
	}
}

type staticDetector struct{}

func (staticDetector) Name() string  { return "static" }
func (staticDetector) Priority() int { return 10 }
func (staticDetector) Match(root string) bool {
	return fileExists(filepath.Join(root, "index.html"))
}
func (staticDetector) Infer(root string) domain.BuildProfile {
	return domain.BuildProfile{
		Framework:   "static",
		ProjectType: domain.ProjectStatic,
		OutputDir:   ".",
		ListenPort:  80,
		Confidence:  65,
	}
}

func pythonPackageManager(root string) string {
	if fileExists(filepath.Join(root, "pyproject.toml")) {
		return "poetry"
	}
	return "pip"
}

func pythonInstallCmd(root string) string {
	if fileExists(filepath.Join(root, "pyproject.toml")) {
		return "poetry install"
	}
	return "pip install -r requirements.txt"
}

func pythonRequirementContains(root, dep string) bool {
	for _, name := range []string{"requirements.txt", "pyproject.toml"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(data)), dep) {
			return true
		}
	}
	return false
}
