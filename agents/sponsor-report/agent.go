package sponsorreport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/monitoring"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/scheduler"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/storage"
)

// Runner executes one analysis run.
type Runner interface {
	Run(ctx context.Context, schedule models.Schedule) models.RunSummary
}

// Service ties the schedule store, the trigger registry and the pipeline
// together. Triggers look the schedule up at fire time, so a paused or
// deleted schedule never reaches the pipeline.
type Service struct {
	store    *storage.ScheduleStore
	registry *scheduler.Registry
	runner   Runner
	monitor  *monitoring.Monitor
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func NewService(runner Runner, monitor *monitoring.Monitor, loc *time.Location, logger zerolog.Logger) *Service {
	svc := &Service{
		runner:  runner,
		monitor: monitor,
		logger:  logger.With().Str("component", "service").Logger(),
	}
	svc.registry = scheduler.NewRegistry(loc, svc.fire, logger)
	svc.store = storage.NewScheduleStore(svc.registry)
	return svc
}

func (s *Service) Name() string {
	return "Sponsor Report"
}

func (s *Service) Registry() *scheduler.Registry { return s.registry }

func (s *Service) Create(in models.ScheduleInput) (models.Schedule, error) {
	sched, err := s.store.Create(in)
	if err != nil {
		return models.Schedule{}, err
	}
	s.monitor.SetActiveTriggers(s.registry.Len())

	logEvent := s.logger.Info().Str("schedule_id", sched.ID).Str("schedule", sched.Name)
	if next, ok := s.registry.Next(sched.ID); ok {
		logEvent = logEvent.Time("next_run", next)
	}
	logEvent.Msg("schedule created")
	return sched, nil
}

func (s *Service) Get(id string) (models.Schedule, error) {
	return s.store.Get(id)
}

func (s *Service) List() []models.Schedule {
	return s.store.List()
}

func (s *Service) UpdateChannels(id string, channels []string) (models.Schedule, error) {
	return s.store.UpdateChannels(id, channels)
}

func (s *Service) UpdateCadence(id string, frequency models.Frequency, sendTime string) (models.Schedule, error) {
	return s.store.UpdateCadence(id, frequency, sendTime)
}

// SetActive only gates runs; the trigger stays installed.
func (s *Service) SetActive(id string, active bool) (models.Schedule, error) {
	sched, err := s.store.SetActive(id, active)
	if err != nil {
		return models.Schedule{}, err
	}
	s.logger.Info().Str("schedule_id", id).Bool("active", active).Msg("schedule toggled")
	return sched, nil
}

func (s *Service) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.monitor.Forget(id)
	s.monitor.SetActiveTriggers(s.registry.Len())
	s.logger.Info().Str("schedule_id", id).Msg("schedule deleted")
	return nil
}

// RunNow starts an immediate run in the background regardless of the
// schedule's active flag.
func (s *Service) RunNow(id string) error {
	sched, err := s.store.Get(id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("schedule_id", id).Msg("manual run requested")
	s.RunAsync(sched)
	return nil
}

// RunSync runs the schedule on the calling goroutine and records the outcome.
func (s *Service) RunSync(ctx context.Context, sched models.Schedule) models.RunSummary {
	summary := s.runner.Run(ctx, sched)
	s.monitor.Record(summary)
	return summary
}

// RunAsync runs the schedule on its own goroutine. Runs outlive the caller's
// request; Wait blocks until they finish.
func (s *Service) RunAsync(sched models.Schedule) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.monitor.Record(models.RunSummary{
					ScheduleID:   sched.ID,
					ScheduleName: sched.Name,
					StartedAt:    time.Now(),
					Err:          fmt.Errorf("run panicked: %v", r),
				})
			}
		}()
		s.RunSync(context.Background(), sched)
	}()
}

// Wait blocks until every run started by RunAsync has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops the trigger loop and waits for in-flight runs or ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.registry.Stop(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) fire(id string) {
	sched, err := s.store.Get(id)
	if err != nil {
		s.logger.Warn().Str("schedule_id", id).Msg("trigger fired for unknown schedule")
		return
	}
	if !sched.Active {
		s.logger.Info().Str("schedule_id", id).Str("schedule", sched.Name).Msg("schedule paused, skipping run")
		return
	}
	s.logger.Info().Str("schedule_id", id).Str("schedule", sched.Name).Msg("⏰ trigger fired")
	s.RunAsync(sched)
}
