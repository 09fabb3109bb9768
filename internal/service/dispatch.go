package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aimovie/api/internal/model"
	"github.com/aimovie/api/internal/pipeline"
)

// TaskTypeGenerate is the asynq task type for video generation.
const TaskTypeGenerate = "video:generate"

// QueueVideo is the asynq queue video generation tasks land on.
const QueueVideo = "video"

// Dispatcher hands a generation payload to whatever executes pipelines.
type Dispatcher interface {
	Dispatch(ctx context.Context, p model.GenerationPayload) error
}

// AsynqDispatcher enqueues generation tasks on redis. MaxRetry is zero on
// purpose: the pipeline owns all retrying, a redelivered task would rerun
// a job that already settled.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, p model.GenerationPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeGenerate, payload)
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueVideo),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[Dispatch] Enqueued %s for job %s (task=%s)", TaskTypeGenerate, p.JobID, info.ID)
	return nil
}

// GoDispatcher runs the pipeline in-process. Used when redis is not
// available, and in tests.
type GoDispatcher struct {
	orch *pipeline.Orchestrator
}

func NewGoDispatcher(orch *pipeline.Orchestrator) *GoDispatcher {
	return &GoDispatcher{orch: orch}
}

func (d *GoDispatcher) Dispatch(ctx context.Context, p model.GenerationPayload) error {
	go func() {
		// Detached from the request context: the submit response returns
		// immediately while the pipeline keeps running.
		_ = d.orch.Run(context.Background(), p)
	}()
	return nil
}

// NewGenerateTaskHandler adapts the orchestrator to asynq's handler shape.
func NewGenerateTaskHandler(orch *pipeline.Orchestrator) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p model.GenerationPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to unmarshal %s payload: %w", TaskTypeGenerate, err)
		}
		return orch.Run(ctx, p)
	}
}
