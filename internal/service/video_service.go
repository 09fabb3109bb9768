package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aimovie/api/internal/model"
	"github.com/aimovie/api/internal/pipeline"
	"github.com/aimovie/api/internal/store"
)

// ErrAlreadyFinished is returned when cancelling a job that has settled.
var ErrAlreadyFinished = errors.New("job already finished")

// VideoService owns the submit/status/cancel lifecycle around the pipeline.
type VideoService struct {
	store      store.JobStore
	dispatcher Dispatcher
	orch       *pipeline.Orchestrator
	workRoot   string
}

func NewVideoService(st store.JobStore, dispatcher Dispatcher, orch *pipeline.Orchestrator, workRoot string) *VideoService {
	return &VideoService{
		store:      st,
		dispatcher: dispatcher,
		orch:       orch,
		workRoot:   workRoot,
	}
}

// Submit creates the queued job record and hands the work to the
// dispatcher. The api key rides only in the dispatch payload; the stored
// record never contains it.
func (s *VideoService) Submit(ctx context.Context, in *model.SubmitInput) (string, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:             jobID,
		InputText:      in.Description,
		GenerationType: in.GenerationType,
		ImagePath:      in.ImagePath,
		Status:         model.JobStatusQueued,
		Progress:       0,
		Message:        "Video generation task queued",
		StageResults:   map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	payload := model.GenerationPayload{
		JobID:          jobID,
		InputText:      in.Description,
		GenerationType: in.GenerationType,
		ImagePath:      in.ImagePath,
		APIKey:         in.APIKey,
		WorkDir:        filepath.Join(s.workRoot, jobID),
	}
	if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
		_, _ = s.store.Update(ctx, jobID, func(j *model.Job) {
			j.Status = model.JobStatusFailed
			j.Message = "Failed to queue video generation"
			errMsg := err.Error()
			j.Error = &errMsg
		})
		return "", fmt.Errorf("failed to dispatch job: %w", err)
	}

	log.Printf("[VideoService] Job %s queued (type=%s)", jobID, in.GenerationType)
	return jobID, nil
}

// Status returns the current job record.
func (s *VideoService) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Cancel aborts a queued or running job. Settled jobs are left alone.
func (s *VideoService) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, ErrAlreadyFinished
	}

	if s.orch != nil && s.orch.Cancel(jobID) {
		log.Printf("[VideoService] Job %s cancellation requested", jobID)
		return s.store.Get(ctx, jobID)
	}

	// Not running in this process (still queued, or owned by a worker that
	// died); settle the record directly.
	job, err = s.store.Update(ctx, jobID, func(j *model.Job) {
		if j.Status.IsTerminal() {
			return
		}
		j.Status = model.JobStatusFailed
		j.Message = "Video generation cancelled"
		now := time.Now()
		j.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[VideoService] Job %s cancelled before execution", jobID)
	return job, nil
}
