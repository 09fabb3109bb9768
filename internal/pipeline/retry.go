package pipeline

import (
	"context"
	"time"
)

// RetryPolicy bounds how often the pipeline re-attempts transient
// failures. Scenes get more headroom than the cheaper one-shot stages.
type RetryPolicy struct {
	StageRetries int
	SceneRetries int
	Backoff      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		StageRetries: 1,
		SceneRetries: 2,
		Backoff:      2 * time.Second,
	}
}

// sleep waits attempt*Backoff before the next try, bailing out early if
// ctx dies.
func (p RetryPolicy) sleep(ctx context.Context, attempt int) error {
	d := p.Backoff * time.Duration(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
