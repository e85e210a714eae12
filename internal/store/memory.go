package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ultraimage/ultraimage/pkg/models"
)

// MemoryStore implements the Store interface with an in-process map. It
// carries no durability beyond the process lifetime and exists for dev mode
// and tests; the transition contract is identical to the Postgres backend.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job: duplicate id %s", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

// Transition holds the store lock across the check-and-set, giving the same
// at-most-one-claimer guarantee as the conditional UPDATE in Postgres.
func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, toStatus string, opts ...TransitionOption) error {
	expected, ok := expectedStatus(toStatus)
	if !ok {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, toStatus)
	}

	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, found := s.jobs[id]
	if !found {
		return ErrNotFound
	}
	if job.Status != expected {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, toStatus)
	}

	now := time.Now().UTC()
	job.Status = toStatus
	job.UpdatedAt = now
	if toStatus == models.JobStatusProcessing {
		job.StartedAt = &now
	}
	if toStatus == models.JobStatusCompleted || toStatus == models.JobStatusFailed {
		job.CompletedAt = &now
	}
	if params.OutputPath != nil {
		job.OutputPath = params.OutputPath
	}
	if params.ErrorDetail != nil {
		job.ErrorDetail = params.ErrorDetail
	}
	return nil
}
