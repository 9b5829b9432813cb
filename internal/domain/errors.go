package domain

import "fmt"

// StepError is the structured outcome a pipeline step returns on failure;
// the orchestrator maps it to a terminal FAILED deployment.
type StepError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError builds a StepError, wrapping an underlying cause if present.
func NewStepError(kind ErrorKind, detail string, cause error) *StepError {
	return &StepError{Kind: kind, Detail: detail, Err: cause}
}

// ConflictError reports that a project already has a non-terminal deployment.
type ConflictError struct {
	ActiveDeploymentID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("deployment %s already in progress", e.ActiveDeploymentID)
}

// AlreadyCompletedError reports a cancel() call against a terminal deployment.
type AlreadyCompletedError struct {
	DeploymentID string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("deployment %s already completed", e.DeploymentID)
}

// NotFoundError reports a lookup miss in the store.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
