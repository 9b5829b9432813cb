package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"forge/internal/domain"
)

// MemoryStore is an in-process DeploymentStore, used by tests and by
// single-node deployments that don't need a relational backend.
type MemoryStore struct {
	mu          sync.RWMutex
	deployments map[string]*domain.Deployment
}

// NewMemoryStore creates an empty in-memory deployment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deployments: make(map[string]*domain.Deployment)}
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "deployment", ID: id}
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) FindActiveByProject(_ context.Context, projectID string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.deployments {
		if d.ProjectID == projectID && !d.Status.Terminal() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Create(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status domain.Status, errKind domain.ErrorKind, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok {
		return &domain.NotFoundError{Kind: "deployment", ID: id}
	}
	d.Status = status
	d.ErrorKind = errKind
	d.ErrorDetail = errDetail
	if status.Terminal() {
		d.FinishedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deployments[d.ID]; !ok {
		return &domain.NotFoundError{Kind: "deployment", ID: d.ID}
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter, page Page) ([]*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Deployment
	for _, d := range s.deployments {
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
