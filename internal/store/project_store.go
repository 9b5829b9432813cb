package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"forge/internal/domain"
)

// projectSnapshot is the on-disk representation of the known projects,
// written with the same atomic write-temp/rename discipline as
// fileSnapshot so a crash mid-write never corrupts the catalog.
type projectSnapshot struct {
	Version   int                       `json:"version"`
	Timestamp time.Time                 `json:"timestamp"`
	Projects  map[string]*domain.Project `json:"projects"`
}

// FileProjectStore is a JSON file-backed project catalog. It satisfies
// both ProjectStore (FindByID/FindBySlug) and webhook.ProjectLookup
// (FindByRepoURL), so one store serves both the orchestrator and the
// inbound webhook receiver.
type FileProjectStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileProjectStore opens (or initializes) a file-backed project catalog.
func NewFileProjectStore(path string) (*FileProjectStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create project store directory: %w", err)
	}

	s := &FileProjectStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&projectSnapshot{Version: 1, Projects: map[string]*domain.Project{}}); err != nil {
			return nil, fmt.Errorf("initialize project store: %w", err)
		}
	}
	return s, nil
}

func (s *FileProjectStore) load() (*projectSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read project store file: %w", err)
	}
	var snap projectSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode project store file: %w", err)
	}
	if snap.Projects == nil {
		snap.Projects = map[string]*domain.Project{}
	}
	return &snap, nil
}

func (s *FileProjectStore) save(snap *projectSnapshot) error {
	snap.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project store file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp project store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename project store file: %w", err)
	}
	return nil
}

// FindByID looks up a project by its stable identifier.
func (s *FileProjectStore) FindByID(_ context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	p, ok := snap.Projects[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "project", ID: id}
	}
	cp := *p
	return &cp, nil
}

// FindBySlug looks up a project by its route-facing slug.
func (s *FileProjectStore) FindBySlug(_ context.Context, slug string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, p := range snap.Projects {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "project", ID: slug}
}

// FindByRepoURL looks up a project by its source repository URL, the
// lookup path an inbound webhook delivery uses.
func (s *FileProjectStore) FindByRepoURL(_ context.Context, repoURL string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, p := range snap.Projects {
		if p.RepoURL == repoURL {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "project", ID: repoURL}
}

// Put creates or replaces a project record, keyed by ID.
func (s *FileProjectStore) Put(_ context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	cp := *p
	snap.Projects[p.ID] = &cp
	return s.save(snap)
}

// Delete removes a project record by ID.
func (s *FileProjectStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	delete(snap.Projects, id)
	return s.save(snap)
}

// List returns every known project, unordered.
func (s *FileProjectStore) List(_ context.Context) ([]*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Project, 0, len(snap.Projects))
	for _, p := range snap.Projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
