package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

// ErrNotFound is returned for an unknown schedule id.
var ErrNotFound = errors.New("schedule not found")

// ValidationError reports a missing or malformed schedule field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}

// Triggers is the part of the trigger registry the store drives.
type Triggers interface {
	Install(schedule models.Schedule) error
	Cancel(scheduleID string)
}

// ScheduleStore is the in-memory registry of schedules. It lives for the
// lifetime of the process; nothing is persisted.
type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]*models.Schedule
	order     []string
	triggers  Triggers
	clock     func() time.Time
	newID     func() string
}

func NewScheduleStore(triggers Triggers) *ScheduleStore {
	return &ScheduleStore{
		schedules: make(map[string]*models.Schedule),
		triggers:  triggers,
		clock:     time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Create validates input, stores a new active schedule and installs its
// trigger. The schedule is not kept if the trigger cannot be installed.
func (s *ScheduleStore) Create(in models.ScheduleInput) (models.Schedule, error) {
	if err := validateInput(in); err != nil {
		return models.Schedule{}, err
	}

	sched := models.Schedule{
		ID:        s.newID(),
		Name:      in.Name,
		APIKey:    in.APIKey,
		Channels:  append([]string(nil), in.Channels...),
		Weeks:     in.Weeks,
		Frequency: in.Frequency,
		SendTime:  in.SendTime,
		Emails:    append([]string(nil), in.Emails...),
		Active:    true,
		CreatedAt: s.clock(),
	}
	if sched.Weeks <= 0 {
		sched.Weeks = models.DefaultWeeks
	}
	if sched.SendTime == "" {
		sched.SendTime = models.DefaultSendTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.ID]; exists {
		return models.Schedule{}, fmt.Errorf("duplicate schedule id %s", sched.ID)
	}
	if err := s.triggers.Install(sched); err != nil {
		return models.Schedule{}, fmt.Errorf("failed to install trigger: %w", err)
	}

	stored := sched.Clone()
	s.schedules[sched.ID] = &stored
	s.order = append(s.order, sched.ID)
	return sched, nil
}

// Get returns a snapshot of the schedule.
func (s *ScheduleStore) Get(id string) (models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	return sched.Clone(), nil
}

// List returns snapshots in creation order.
func (s *ScheduleStore) List() []models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Schedule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.schedules[id].Clone())
	}
	return out
}

// UpdateChannels replaces the channel list. The trigger is left untouched;
// the next run reads the new list.
func (s *ScheduleStore) UpdateChannels(id string, channels []string) (models.Schedule, error) {
	return s.update(id, func(sched *models.Schedule) error {
		sched.Channels = append([]string(nil), channels...)
		return nil
	})
}

// SetActive flips the active flag. The trigger keeps running and checks the
// flag when it fires.
func (s *ScheduleStore) SetActive(id string, active bool) (models.Schedule, error) {
	return s.update(id, func(sched *models.Schedule) error {
		sched.Active = active
		return nil
	})
}

// UpdateCadence changes frequency and send time and replaces the trigger.
func (s *ScheduleStore) UpdateCadence(id string, frequency models.Frequency, sendTime string) (models.Schedule, error) {
	if sendTime == "" {
		sendTime = models.DefaultSendTime
	}
	if err := validateSendTime(sendTime); err != nil {
		return models.Schedule{}, err
	}

	return s.update(id, func(sched *models.Schedule) error {
		next := sched.Clone()
		next.Frequency = frequency
		next.SendTime = sendTime
		if err := s.triggers.Install(next); err != nil {
			return fmt.Errorf("failed to replace trigger: %w", err)
		}
		sched.Frequency = frequency
		sched.SendTime = sendTime
		return nil
	})
}

// Delete cancels the schedule's trigger, then removes the record.
func (s *ScheduleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}

	s.triggers.Cancel(id)
	delete(s.schedules, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored schedules.
func (s *ScheduleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schedules)
}

func (s *ScheduleStore) update(id string, fn func(*models.Schedule) error) (models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	if err := fn(sched); err != nil {
		return models.Schedule{}, err
	}
	return sched.Clone(), nil
}

func validateInput(in models.ScheduleInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return &ValidationError{Field: "apiKey", Reason: "is required"}
	}
	if len(in.Channels) == 0 {
		return &ValidationError{Field: "channels", Reason: "must not be empty"}
	}
	if len(in.Emails) == 0 {
		return &ValidationError{Field: "emails", Reason: "must not be empty"}
	}
	if in.Weeks < 0 {
		return &ValidationError{Field: "weeks", Reason: "must be positive"}
	}
	if in.SendTime != "" {
		return validateSendTime(in.SendTime)
	}
	return nil
}

func validateSendTime(sendTime string) error {
	hour, minute, ok := strings.Cut(sendTime, ":")
	if !ok {
		return &ValidationError{Field: "sendTime", Reason: "must be HH:MM"}
	}
	h, errH := strconv.Atoi(hour)
	m, errM := strconv.Atoi(minute)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return &ValidationError{Field: "sendTime", Reason: "must be HH:MM"}
	}
	return nil
}
