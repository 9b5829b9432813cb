// Package detector classifies a source tree into a BuildProfile using a
// priority-ordered registry of framework detectors, generalizing the
// teacher's single-purpose npm/pnpm auto-build sniffing into a full
// detection pipeline.
package detector

import (
	"os"
	"path/filepath"
	"sort"

	"forge/internal/domain"
)

// Detector inspects a source tree and, if it matches, infers a BuildProfile.
type Detector interface {
	Name() string
	Priority() int
	Match(root string) bool
	Infer(root string) domain.BuildProfile
}

// Registry holds every registered detector, consulted in descending
// priority order; ties break by registration order.
type Registry struct {
	detectors []Detector
}

// NewRegistry builds the default registry: Dockerfile first (it short-
// circuits everything else), then the framework-specific detectors in
// the priority order spec.md §4.2 implies (more specific frameworks before
// generic language fallbacks).
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(dockerfileDetector{})
	r.Register(nextDetector{})
	r.Register(nuxtDetector{})
	r.Register(reactViteDetector{})
	r.Register(expressDetector{})
	r.Register(djangoDetector{})
	r.Register(fastapiDetector{})
	r.Register(flaskDetector{})
	r.Register(goDetector{})
	r.Register(staticDetector{})
	return r
}

// Register adds a detector to the registry.
func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Detect never fails. A tree that no registered detector matches gets
// framework=static (confidence 60) when index.html or public/index.html
// exists, and framework=unknown (confidence 10) otherwise; the unknown
// profile carries no install, build or start command, and no manifest is
// read to infer one.
func (r *Registry) Detect(root string) domain.BuildProfile {
	ordered := append([]Detector(nil), r.detectors...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})

	for _, d := range ordered {
		if d.Match(root) {
			return d.Infer(root)
		}
	}

	return fallbackProfile(root)
}

func fallbackProfile(root string) domain.BuildProfile {
	if fileExists(filepath.Join(root, "index.html")) || fileExists(filepath.Join(root, "public", "index.html")) {
		return domain.BuildProfile{
			Framework:   "static",
			ProjectType: domain.ProjectStatic,
			ListenPort:  80,
			Confidence:  60,
		}
	}
	return domain.BuildProfile{
		Framework:   "unknown",
		ProjectType: domain.ProjectUnknown,
		ListenPort:  8080,
		Confidence:  10,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
