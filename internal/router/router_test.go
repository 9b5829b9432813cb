package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forge/internal/domain"
)

func TestHost_Production(t *testing.T) {
	r := New(t.TempDir(), "zyphron.app")
	got := r.Host("my_app", domain.EnvProduction, "deployment-123")
	if got != "my-app.zyphron.app" {
		t.Errorf("got %q, want %q", got, "my-app.zyphron.app")
	}
}

func TestHost_Preview(t *testing.T) {
	r := New(t.TempDir(), "zyphron.app")
	got := r.Host("my-app", domain.EnvPreview, "deployment-123")
	if got != "my-app-deployme.zyphron.app" {
		t.Errorf("got %q, want %q", got, "my-app-deployme.zyphron.app")
	}
}

func TestPublishWritesRouteFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "zyphron.app")
	url, err := r.Publish("my-app", "deploy1234", "zyphron-my-app-deploy123", 8080, domain.EnvProduction)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.HasPrefix(url, "https://my-app.zyphron.app") {
		t.Errorf("unexpected url: %s", url)
	}
	path := filepath.Join(dir, "my-app-deploy12.yml")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected route file at %s: %v", path, err)
	}
}

func TestUnpublishToleratesMissing(t *testing.T) {
	r := New(t.TempDir(), "zyphron.app")
	if err := r.Unpublish("my-app", "deploy1234"); err != nil {
		t.Errorf("expected no error unpublishing missing route, got %v", err)
	}
}
