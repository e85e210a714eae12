package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ultraimage/ultraimage/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrInvalidTransition is returned when a status change does not follow
// uploaded -> processing -> {completed, failed}, or targets a terminal job.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All job state goes through here; no
// component mutates job fields behind it.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// Transition atomically moves a job to the given status. The update is a
	// compare-and-set keyed on the expected current status, so of two
	// concurrent claimers exactly one succeeds and the other observes
	// ErrInvalidTransition.
	Transition(ctx context.Context, id uuid.UUID, toStatus string, opts ...TransitionOption) error
}

// expectedStatus returns the only status a job may be in before moving to
// toStatus. Each target in the state machine has exactly one source:
// uploaded -> processing -> {completed, failed}.
func expectedStatus(toStatus string) (string, bool) {
	switch toStatus {
	case models.JobStatusProcessing:
		return models.JobStatusUploaded, true
	case models.JobStatusCompleted, models.JobStatusFailed:
		return models.JobStatusProcessing, true
	default:
		return "", false
	}
}

type transitionParams struct {
	OutputPath  *string
	ErrorDetail *string
}

type TransitionOption func(*transitionParams)

func WithOutputPath(path string) TransitionOption {
	return func(p *transitionParams) {
		p.OutputPath = &path
	}
}

func WithErrorDetail(detail string) TransitionOption {
	return func(p *transitionParams) {
		p.ErrorDetail = &detail
	}
}
