package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

// FireFunc is invoked with the schedule id each time a trigger fires.
type FireFunc func(scheduleID string)

type binding struct {
	entryID cron.EntryID
	spec    string
}

// Registry keeps at most one recurring cron entry per schedule id. All
// cadences are evaluated in the registry's location.
type Registry struct {
	mu       sync.Mutex
	cron     *cron.Cron
	bindings map[string]binding
	fire     FireFunc
	loc      *time.Location
	logger   zerolog.Logger
}

func NewRegistry(loc *time.Location, fire FireFunc, logger zerolog.Logger) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With().Str("component", "scheduler").Logger()

	return &Registry{
		// Recover keeps a panicking run from taking down the cron loop.
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		bindings: make(map[string]binding),
		fire:     fire,
		loc:      loc,
		logger:   logger,
	}
}

// CronSpec maps a frequency and HH:MM send time to a five-field cron spec.
// Unknown frequencies fall back to weekly.
func CronSpec(frequency models.Frequency, sendTime string) (string, error) {
	if sendTime == "" {
		sendTime = models.DefaultSendTime
	}
	hour, minute, err := parseSendTime(sendTime)
	if err != nil {
		return "", err
	}

	switch frequency {
	case models.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case models.FrequencyMonthly:
		return fmt.Sprintf("%d %d 1 * *", minute, hour), nil
	default:
		// weekly, and anything unrecognised: Mondays
		return fmt.Sprintf("%d %d * * 1", minute, hour), nil
	}
}

// Install replaces any existing trigger for the schedule with a fresh one.
func (r *Registry) Install(s models.Schedule) error {
	spec, err := CronSpec(s.Frequency, s.SendTime)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", s.ID, err)
	}

	id := s.ID
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.bindings[id]; ok {
		r.cron.Remove(old.entryID)
		delete(r.bindings, id)
	}

	entryID, err := r.cron.AddFunc(spec, func() { r.fire(id) })
	if err != nil {
		return fmt.Errorf("failed to add cron job for %s: %w", id, err)
	}
	r.bindings[id] = binding{entryID: entryID, spec: spec}

	r.logger.Info().
		Str("schedule_id", id).
		Str("schedule", s.Name).
		Str("spec", spec).
		Str("timezone", r.loc.String()).
		Msg("trigger installed")
	return nil
}

// Cancel removes the schedule's trigger. Unknown ids are ignored.
func (r *Registry) Cancel(scheduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[scheduleID]
	if !ok {
		return
	}
	r.cron.Remove(b.entryID)
	delete(r.bindings, scheduleID)
	r.logger.Info().Str("schedule_id", scheduleID).Msg("trigger cancelled")
}

// Fire runs the bound callback now, as the cron loop would. It reports false
// when no trigger is installed for the id.
func (r *Registry) Fire(scheduleID string) bool {
	r.mu.Lock()
	_, ok := r.bindings[scheduleID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.fire(scheduleID)
	return true
}

// Spec returns the cron spec bound to a schedule id.
func (r *Registry) Spec(scheduleID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[scheduleID]
	return b.spec, ok
}

// Next returns the next fire time of a schedule's trigger.
func (r *Registry) Next(scheduleID string) (time.Time, bool) {
	r.mu.Lock()
	b, ok := r.bindings[scheduleID]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	entry := r.cron.Entry(b.entryID)
	if entry.Schedule == nil {
		return time.Time{}, false
	}
	if !entry.Next.IsZero() {
		return entry.Next, true
	}
	// not started yet: compute from the schedule itself
	return entry.Schedule.Next(time.Now().In(r.loc)), true
}

// Len returns the number of live triggers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

func (r *Registry) Start() {
	r.cron.Start()
	r.logger.Info().Int("triggers", r.Len()).Str("timezone", r.loc.String()).Msg("scheduler started")
}

// Stop halts the cron loop and waits for running jobs to return or ctx to end.
func (r *Registry) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseSendTime(sendTime string) (int, int, error) {
	h, m, ok := strings.Cut(sendTime, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid send time %q: want HH:MM", sendTime)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid send time %q: bad hour", sendTime)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid send time %q: bad minute", sendTime)
	}
	return hour, minute, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
