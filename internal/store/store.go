// Package store defines the DeploymentStore interface the orchestrator
// depends on for persistence, and ships an in-memory reference
// implementation plus a file-backed one. Concrete relational persistence
// is an external collaborator's concern; this package only owns the
// contract and the fixtures needed to run the core without one.
package store

import (
	"context"

	"forge/internal/domain"
)

// ListFilter narrows DeploymentStore.List results.
type ListFilter struct {
	ProjectID   string
	Status      domain.Status
	Environment domain.Environment
}

// Page requests a bounded slice of a List call.
type Page struct {
	Offset int
	Limit  int
}

// DeploymentStore is the external persistence contract. The orchestration
// core depends only on this interface; schema and engine are out of scope.
type DeploymentStore interface {
	FindByID(ctx context.Context, id string) (*domain.Deployment, error)
	FindActiveByProject(ctx context.Context, projectID string) (*domain.Deployment, error)
	Create(ctx context.Context, d *domain.Deployment) error
	UpdateStatus(ctx context.Context, id string, status domain.Status, errKind domain.ErrorKind, errDetail string) error
	UpdateMetadata(ctx context.Context, d *domain.Deployment) error
	List(ctx context.Context, filter ListFilter, page Page) ([]*domain.Deployment, error)
}

// ProjectStore is the read-only project lookup the webhook and orchestrator
// need; owned by the same external collaborator as DeploymentStore.
type ProjectStore interface {
	FindByID(ctx context.Context, id string) (*domain.Project, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Project, error)
}
