package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

// RunStatus is the last recorded outcome for one schedule.
type RunStatus struct {
	ScheduleID   string        `json:"schedule_id"`
	ScheduleName string        `json:"schedule_name"`
	Outcome      string        `json:"outcome"`
	Count        int           `json:"count"`
	Error        string        `json:"error,omitempty"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration"`
}

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Monitor records run outcomes for health reporting. Safe for concurrent use.
type Monitor struct {
	mu             sync.RWMutex
	lastRunSuccess bool
	lastRunTime    time.Time
	runs           map[string]RunStatus
	metrics        *Metrics
	logger         zerolog.Logger
}

func NewMonitor(metrics *Metrics, logger zerolog.Logger) *Monitor {
	return &Monitor{
		runs:    make(map[string]RunStatus),
		metrics: metrics,
		logger:  logger.With().Str("component", "monitor").Logger(),
	}
}

// Record classifies a finished run and updates health state, logs and metrics.
func (m *Monitor) Record(summary models.RunSummary) RunStatus {
	status := RunStatus{
		ScheduleID:   summary.ScheduleID,
		ScheduleName: summary.ScheduleName,
		Count:        summary.Count,
		FinishedAt:   summary.StartedAt.Add(summary.Duration),
		Duration:     summary.Duration,
	}

	switch {
	case summary.Err != nil:
		status.Outcome = OutcomeFailed
		status.Error = summary.Err.Error()
		m.logger.Error().
			Err(summary.Err).
			Str("schedule_id", summary.ScheduleID).
			Str("schedule", summary.ScheduleName).
			Dur("duration", summary.Duration).
			Msg("🚨 run failed")
	case summary.Partial():
		status.Outcome = OutcomePartial
		status.Error = fmt.Sprintf("channels failed: %s", strings.Join(summary.FailedChannels, ", "))
		m.logger.Warn().
			Str("schedule_id", summary.ScheduleID).
			Str("schedule", summary.ScheduleName).
			Strs("failed_channels", summary.FailedChannels).
			Int("count", summary.Count).
			Dur("duration", summary.Duration).
			Msg("⚠️ run completed with channel failures")
	default:
		status.Outcome = OutcomeSuccess
		m.logger.Info().
			Str("schedule_id", summary.ScheduleID).
			Str("schedule", summary.ScheduleName).
			Int("count", summary.Count).
			Dur("duration", summary.Duration).
			Msg("✅ run completed")
	}

	m.mu.Lock()
	m.runs[summary.ScheduleID] = status
	// partial failures do not change health
	if status.Outcome != OutcomePartial {
		m.lastRunSuccess = status.Outcome == OutcomeSuccess
		m.lastRunTime = status.FinishedAt
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveRun(status.Outcome, summary)
	}
	return status
}

// Forget drops the status of a deleted schedule.
func (m *Monitor) Forget(scheduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, scheduleID)
}

func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastRunTime.IsZero() {
		return true // no runs yet
	}
	return m.lastRunSuccess
}

// Runs returns the last status of every schedule that has run, by name.
func (m *Monitor) Runs() []RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RunStatus, 0, len(m.runs))
	for _, s := range m.runs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduleName != out[j].ScheduleName {
			return out[i].ScheduleName < out[j].ScheduleName
		}
		return out[i].ScheduleID < out[j].ScheduleID
	})
	return out
}

func (m *Monitor) GetStatusSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastRunTime.IsZero() {
		return "No runs yet"
	}

	if m.lastRunSuccess {
		return fmt.Sprintf("✅ Last run: %s", m.lastRunTime.Format("Jan 2 15:04"))
	}
	return fmt.Sprintf("❌ Last run failed: %s", m.lastRunTime.Format("Jan 2 15:04"))
}

// SetActiveTriggers publishes the number of installed triggers.
func (m *Monitor) SetActiveTriggers(n int) {
	if m.metrics != nil {
		m.metrics.SetActiveTriggers(n)
	}
}
