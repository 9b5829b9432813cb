// Package router generates the file-provider dynamic configuration that
// points the shared reverse proxy at a deployment's container, replacing
// the teacher's TraefikManager shell-installer with a pure config-writer
// scoped to routing only (install/lifecycle of the proxy itself is outside
// this package's concern).
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forge/internal/domain"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Router writes per-deployment dynamic proxy config files under dynamicDir,
// one per deployment, named "<slug>-<first 8 chars of deploymentID>.yml".
type Router struct {
	dynamicDir string
	baseDomain string
}

// New builds a Router writing config under dynamicDir for domains under
// baseDomain.
func New(dynamicDir, baseDomain string) *Router {
	return &Router{dynamicDir: dynamicDir, baseDomain: baseDomain}
}

// Host computes the public hostname for a deployment: "<slug>.<baseDomain>"
// in production, "<slug>-<shortid>.<baseDomain>" otherwise, so preview and
// staging deployments never collide with the production route.
func (r *Router) Host(slug string, env domain.Environment, deploymentID string) string {
	clean := cleanSubdomain(slug)
	if env == domain.EnvProduction {
		return fmt.Sprintf("%s.%s", clean, r.baseDomain)
	}
	short := deploymentID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s.%s", clean, short, r.baseDomain)
}

// dynamicConfig mirrors the subset of the file provider's dynamic
// configuration schema this package emits.
type dynamicConfig struct {
	HTTP struct {
		Routers  map[string]routerEntry  `yaml:"routers"`
		Services map[string]serviceEntry `yaml:"services"`
	} `yaml:"http"`
}

type routerEntry struct {
	Rule    string   `yaml:"rule"`
	Service string   `yaml:"service"`
	TLS     *tlsEntry `yaml:"tls,omitempty"`
}

type tlsEntry struct {
	CertResolver string `yaml:"certResolver"`
}

type serviceEntry struct {
	LoadBalancer loadBalancerEntry `yaml:"loadBalancer"`
}

type loadBalancerEntry struct {
	Servers []serverEntry `yaml:"servers"`
}

type serverEntry struct {
	URL string `yaml:"url"`
}

// Publish writes (or overwrites) the dynamic route for deploymentID,
// pointing host at containerName:port over the shared bridge network.
func (r *Router) Publish(projectSlug, deploymentID, containerName string, port int, env domain.Environment) (string, error) {
	host := r.Host(projectSlug, env, deploymentID)
	routeName := fmt.Sprintf("%s-%s", projectSlug, shortID(deploymentID))

	cfg := dynamicConfig{}
	cfg.HTTP.Routers = map[string]routerEntry{
		routeName: {
			Rule:    fmt.Sprintf("Host(`%s`)", host),
			Service: routeName,
			TLS:     &tlsEntry{CertResolver: "letsencrypt"},
		},
	}
	cfg.HTTP.Services = map[string]serviceEntry{
		routeName: {
			LoadBalancer: loadBalancerEntry{
				Servers: []serverEntry{{URL: fmt.Sprintf("http://%s:%d", containerName, port)}},
			},
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal route config for %s: %w", routeName, err)
	}

	if err := os.MkdirAll(r.dynamicDir, 0o755); err != nil {
		return "", fmt.Errorf("create dynamic config dir: %w", err)
	}

	path := filepath.Join(r.dynamicDir, routeName+".yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write route config %s: %w", path, err)
	}

	logrus.Infof("router: published route %s -> https://%s", routeName, host)
	return fmt.Sprintf("https://%s", host), nil
}

// Unpublish removes a deployment's dynamic route file, tolerating one that
// was never written (e.g. a failed deploy that never reached routing).
func (r *Router) Unpublish(projectSlug, deploymentID string) error {
	routeName := fmt.Sprintf("%s-%s", projectSlug, shortID(deploymentID))
	path := filepath.Join(r.dynamicDir, routeName+".yml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove route config %s: %w", path, err)
	}
	return nil
}

func cleanSubdomain(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
