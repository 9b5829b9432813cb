package store

import (
	"context"
	"path/filepath"
	"testing"

	"forge/internal/domain"
)

func newTestProjectStore(t *testing.T) *FileProjectStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.json")
	s, err := NewFileProjectStore(path)
	if err != nil {
		t.Fatalf("NewFileProjectStore: %v", err)
	}
	return s
}

func TestFileProjectStore_PutFindByID(t *testing.T) {
	s := newTestProjectStore(t)
	ctx := context.Background()

	p := &domain.Project{ID: "proj-1", Slug: "demo", RepoURL: "https://example.com/demo.git"}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.FindByID(ctx, "proj-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Slug != "demo" {
		t.Fatalf("expected slug demo, got %q", got.Slug)
	}
}

func TestFileProjectStore_FindByID_NotFound(t *testing.T) {
	s := newTestProjectStore(t)
	if _, err := s.FindByID(context.Background(), "nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFileProjectStore_FindBySlug(t *testing.T) {
	s := newTestProjectStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, &domain.Project{ID: "proj-1", Slug: "demo", RepoURL: "https://example.com/demo.git"})

	got, err := s.FindBySlug(ctx, "demo")
	if err != nil {
		t.Fatalf("FindBySlug: %v", err)
	}
	if got.ID != "proj-1" {
		t.Fatalf("expected proj-1, got %q", got.ID)
	}

	if _, err := s.FindBySlug(ctx, "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFileProjectStore_FindByRepoURL(t *testing.T) {
	s := newTestProjectStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, &domain.Project{ID: "proj-1", Slug: "demo", RepoURL: "https://example.com/demo.git"})

	got, err := s.FindByRepoURL(ctx, "https://example.com/demo.git")
	if err != nil {
		t.Fatalf("FindByRepoURL: %v", err)
	}
	if got.ID != "proj-1" {
		t.Fatalf("expected proj-1, got %q", got.ID)
	}

	if _, err := s.FindByRepoURL(ctx, "https://example.com/other.git"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFileProjectStore_DeleteAndList(t *testing.T) {
	s := newTestProjectStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, &domain.Project{ID: "proj-1", Slug: "demo"})
	_ = s.Put(ctx, &domain.Project{ID: "proj-2", Slug: "other"})

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(all))
	}

	if err := s.Delete(ctx, "proj-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	remaining, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "proj-2" {
		t.Fatalf("expected only proj-2 to remain, got %+v", remaining)
	}
}

func TestFileProjectStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	s1, err := NewFileProjectStore(path)
	if err != nil {
		t.Fatalf("NewFileProjectStore: %v", err)
	}
	if err := s1.Put(context.Background(), &domain.Project{ID: "proj-1", Slug: "demo"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2, err := NewFileProjectStore(path)
	if err != nil {
		t.Fatalf("reopen NewFileProjectStore: %v", err)
	}
	got, err := s2.FindByID(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("FindByID after reopen: %v", err)
	}
	if got.Slug != "demo" {
		t.Fatalf("expected slug demo, got %q", got.Slug)
	}
}
