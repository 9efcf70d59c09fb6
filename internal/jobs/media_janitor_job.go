package job

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper deletes temporary media older than the cutoff.
type Sweeper interface {
	SweepTemporary(ctx context.Context, cutoff time.Time) (int, error)
}

type MediaJanitorJob struct {
	sweeper Sweeper
	ttl     time.Duration
	now     func() time.Time
}

func NewMediaJanitorJob(sweeper Sweeper, ttl time.Duration) *MediaJanitorJob {
	return &MediaJanitorJob{sweeper: sweeper, ttl: ttl, now: time.Now}
}

func (j *MediaJanitorJob) Sweep(ctx context.Context) (int, error) {
	return j.sweeper.SweepTemporary(ctx, j.now().Add(-j.ttl))
}

func (j *MediaJanitorJob) Run() {
	n, err := j.Sweep(context.Background())
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if n > 0 {
		slog.Info("temporary media removed", "count", n)
	}
}
