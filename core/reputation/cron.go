package reputation

import (
	"time"

	gocron "github.com/go-co-op/gocron/v2"
)

// CronService drives Manager.HourlyCron on a schedule, the same
// gocron.Scheduler pattern the rest of this codebase uses for periodic
// maintenance work. The default period is hourly; setReputationCron (the
// Execution Manager's §4.8 knob) can narrow or widen it at runtime.
type CronService struct {
	manager   *Manager
	scheduler gocron.Scheduler
	job       gocron.Job
}

func NewCronService(manager *Manager) (*CronService, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &CronService{manager: manager, scheduler: scheduler}, nil
}

// Start registers the hourly decay job and begins running it.
func (c *CronService) Start() error {
	return c.Reschedule(time.Hour)
}

// Reschedule replaces the decay job with one running every d, removing the
// prior job first so repeated calls don't leak scheduler goroutines.
func (c *CronService) Reschedule(d time.Duration) error {
	if c.job != nil {
		if err := c.scheduler.RemoveJob(c.job.ID()); err != nil {
			return err
		}
		c.job = nil
	}
	job, err := c.scheduler.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(func() {
			if err := c.manager.HourlyCron(); err != nil {
				c.manager.log.Error("reputation hourly decay failed", "err", err)
			}
		}),
	)
	if err != nil {
		return err
	}
	c.job = job
	c.scheduler.Start()
	return nil
}

func (c *CronService) Stop() error {
	return c.scheduler.Shutdown()
}
