// workers/scheduler.go
package workers

import (
	"fmt"

	"bounty-settlement-system/logger"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// Job is a periodic task the scheduler owns.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Execute()
}

type Scheduler struct {
	sched gocron.Scheduler
	log   *logrus.Entry
}

func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{sched: s, log: logger.NewSublogger("scheduler")}, nil
}

// runsOnStart is implemented by jobs that also fire when the scheduler starts.
type runsOnStart interface {
	RunOnStart() bool
}

// Register adds a job. A run that is still going when the next tick fires is skipped.
func (s *Scheduler) Register(job Job) error {
	opts := []gocron.JobOption{
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if j, ok := job.(runsOnStart); ok && j.RunOnStart() {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	_, err := s.sched.NewJob(job.Schedule(), gocron.NewTask(job.Execute), opts...)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}
	s.log.WithField("job", job.Name()).Info("🗓️ [SCHEDULER] job registered")
	return nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Stop() {
	if err := s.sched.Shutdown(); err != nil {
		s.log.WithError(err).Error("❌ [SCHEDULER] shutdown failed")
		return
	}
	s.log.Info("⏹️ [SCHEDULER] stopped")
}
