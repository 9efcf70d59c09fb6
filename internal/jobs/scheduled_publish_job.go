package job

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/maheshrc27/crosspost/internal/service"
)

// ScheduledPublishJob runs the scheduled sweep. A tick that fires while the
// previous sweep is still running is dropped.
type ScheduledPublishJob struct {
	publisher service.PublisherService
	running   atomic.Bool
}

func NewScheduledPublishJob(publisher service.PublisherService) *ScheduledPublishJob {
	return &ScheduledPublishJob{publisher: publisher}
}

// Sweep reports false when another sweep was in progress.
func (j *ScheduledPublishJob) Sweep(ctx context.Context) (int, bool, error) {
	if !j.running.CompareAndSwap(false, true) {
		return 0, false, nil
	}
	defer j.running.Store(false)

	n, err := j.publisher.PublishScheduledPosts(ctx)
	return n, true, err
}

func (j *ScheduledPublishJob) Run() {
	n, ran, err := j.Sweep(context.Background())
	switch {
	case !ran:
		slog.Warn("scheduled sweep still running, skipping tick")
	case err != nil:
		slog.Error("scheduled sweep failed", "error", err)
	case n > 0:
		slog.Info("scheduled publications published", "count", n)
	}
}
