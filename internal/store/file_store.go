package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"forge/internal/domain"

	"github.com/sirupsen/logrus"
)

// fileSnapshot is the on-disk representation of every known deployment,
// written atomically (write-temp, fsync, rename) so a crash mid-write
// never leaves a torn file behind.
type fileSnapshot struct {
	Version     int                          `json:"version"`
	Timestamp   time.Time                    `json:"timestamp"`
	Deployments map[string]*domain.Deployment `json:"deployments"`
}

// FileStore is a JSON file-backed DeploymentStore for single-node
// deployments that want durability across agent restarts without a
// relational database.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore opens (or initializes) a file-backed deployment store.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	fs := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.save(&fileSnapshot{Version: 1, Deployments: map[string]*domain.Deployment{}}); err != nil {
			return nil, fmt.Errorf("initialize store: %w", err)
		}
	}
	return fs, nil
}

func (s *FileStore) load() (*fileSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	if snap.Deployments == nil {
		snap.Deployments = map[string]*domain.Deployment{}
	}
	return &snap, nil
}

func (s *FileStore) save(snap *fileSnapshot) error {
	snap.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write temp store file: %w", err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}

func (s *FileStore) FindByID(_ context.Context, id string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	d, ok := snap.Deployments[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "deployment", ID: id}
	}
	cp := *d
	return &cp, nil
}

func (s *FileStore) FindActiveByProject(_ context.Context, projectID string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, d := range snap.Deployments {
		if d.ProjectID == projectID && !d.Status.Terminal() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *FileStore) Create(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	snap.Deployments[d.ID] = &cp

	if err := s.save(snap); err != nil {
		logrus.WithError(err).Error("failed to persist new deployment")
		return err
	}
	return nil
}

func (s *FileStore) UpdateStatus(_ context.Context, id string, status domain.Status, errKind domain.ErrorKind, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	d, ok := snap.Deployments[id]
	if !ok {
		return &domain.NotFoundError{Kind: "deployment", ID: id}
	}
	d.Status = status
	d.ErrorKind = errKind
	d.ErrorDetail = errDetail
	if status.Terminal() {
		d.FinishedAt = time.Now().UTC()
	}
	return s.save(snap)
}

func (s *FileStore) UpdateMetadata(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := snap.Deployments[d.ID]; !ok {
		return &domain.NotFoundError{Kind: "deployment", ID: d.ID}
	}
	cp := *d
	snap.Deployments[d.ID] = &cp
	return s.save(snap)
}

func (s *FileStore) List(_ context.Context, filter ListFilter, page Page) ([]*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}

	var matched []*domain.Deployment
	for _, d := range snap.Deployments {
		if filter.ProjectID != "" && d.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Environment != "" && d.Environment != filter.Environment {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if page.Limit <= 0 {
		return matched, nil
	}
	start := page.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}
