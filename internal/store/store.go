package store

import (
	"context"
	"errors"

	"github.com/aimovie/api/internal/model"
)

// ErrNotFound is returned when no job exists under the requested id.
var ErrNotFound = errors.New("job not found")

// JobStore persists job records. Each job has a single writer (the
// orchestrator that owns it); Get serves any number of concurrent pollers
// and must return a snapshot that later writes cannot tear.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)

	// Update applies mutate to the stored record and persists the result.
	// The job passed to mutate is the store's current copy; UpdatedAt is
	// refreshed by the store.
	Update(ctx context.Context, id string, mutate func(*model.Job)) (*model.Job, error)
}
