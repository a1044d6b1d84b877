package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	cronSpec       string
	log            *slog.Logger
}

// NewScheduler builds the periodic task registrar. cronSpec drives the rig
// sync cadence.
func NewScheduler(redisOpt asynq.RedisConnOpt, cronSpec string, log *slog.Logger) Scheduler {
	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		cronSpec:       cronSpec,
		log:            log,
	}
}

func (s *scheduler) RegisterTasks() error {
	task, err := NewRigSyncTask(TriggerScheduled)
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register(s.cronSpec, task); err != nil {
		return err
	}

	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: registered rig sync task", slog.String("cron", s.cronSpec))
	}

	return nil
}

func (s *scheduler) Run() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	go func() {
		if err := s.asynqScheduler.Run(); err != nil && s.log != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
