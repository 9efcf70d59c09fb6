package job

import (
	"fmt"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/robfig/cron"
)

// Start registers the jobs on a cron runner and starts it. Nil jobs are
// skipped.
func Start(cfg config.Scheduler, sweep *ScheduledPublishJob, refresh *TokenRefreshJob, janitor *MediaJanitorJob) (*cron.Cron, error) {
	c := cron.New()
	entries := []struct {
		spec string
		job  cron.Job
		ok   bool
	}{
		{cfg.SweepSpec, sweep, sweep != nil},
		{cfg.RefreshSpec, refresh, refresh != nil},
		{cfg.JanitorSpec, janitor, janitor != nil},
	}
	for _, e := range entries {
		if !e.ok {
			continue
		}
		if err := c.AddJob(e.spec, e.job); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.spec, err)
		}
	}
	c.Start()
	return c, nil
}
