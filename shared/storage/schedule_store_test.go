package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

type fakeTriggers struct {
	mu        sync.Mutex
	installed map[string]models.Schedule
	installs  int
	cancels   []string
	failNext  error
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{installed: make(map[string]models.Schedule)}
}

func (f *fakeTriggers) Install(s models.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.installs++
	f.installed[s.ID] = s
	return nil
}

func (f *fakeTriggers) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	delete(f.installed, id)
}

func validInput() models.ScheduleInput {
	return models.ScheduleInput{
		Name:      "Tech reviews",
		APIKey:    "key",
		Channels:  []string{"MKBHD", "LinusTechTips"},
		Frequency: models.FrequencyWeekly,
		Emails:    []string{"ops@example.com"},
	}
}

func TestCreateAppliesDefaultsAndInstallsTrigger(t *testing.T) {
	triggers := newFakeTriggers()
	store := NewScheduleStore(triggers)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	sched, err := store.Create(validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, sched.ID)
	assert.Equal(t, 4, sched.Weeks)
	assert.Equal(t, "09:00", sched.SendTime)
	assert.True(t, sched.Active)
	assert.Equal(t, now, sched.CreatedAt)
	assert.Contains(t, triggers.installed, sched.ID)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ScheduleInput)
		field  string
	}{
		{"missing name", func(in *models.ScheduleInput) { in.Name = "" }, "name"},
		{"blank name", func(in *models.ScheduleInput) { in.Name = "   " }, "name"},
		{"missing api key", func(in *models.ScheduleInput) { in.APIKey = "" }, "apiKey"},
		{"no channels", func(in *models.ScheduleInput) { in.Channels = nil }, "channels"},
		{"no emails", func(in *models.ScheduleInput) { in.Emails = []string{} }, "emails"},
		{"negative weeks", func(in *models.ScheduleInput) { in.Weeks = -1 }, "weeks"},
		{"bad send time", func(in *models.ScheduleInput) { in.SendTime = "25:00" }, "sendTime"},
		{"garbled send time", func(in *models.ScheduleInput) { in.SendTime = "nine" }, "sendTime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triggers := newFakeTriggers()
			store := NewScheduleStore(triggers)
			in := validInput()
			tt.mutate(&in)

			_, err := store.Create(in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, store.Len())
			assert.Zero(t, triggers.installs)
		})
	}
}

func TestCreateDropsScheduleWhenTriggerFails(t *testing.T) {
	triggers := newFakeTriggers()
	triggers.failNext = errors.New("boom")
	store := NewScheduleStore(triggers)

	_, err := store.Create(validInput())
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	store := NewScheduleStore(newFakeTriggers())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := store.Create(validInput())
		require.NoError(t, err)
		require.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	store := NewScheduleStore(newFakeTriggers())
	store.newID = func() string { return "fixed" }

	_, err := store.Create(validInput())
	require.NoError(t, err)
	_, err = store.Create(validInput())
	require.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewScheduleStore(newFakeTriggers())
	created, err := store.Create(validInput())
	require.NoError(t, err)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	got.Channels[0] = "mutated"

	again, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "MKBHD", again.Channels[0])
}

func TestNotFound(t *testing.T) {
	store := NewScheduleStore(newFakeTriggers())

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.UpdateChannels("missing", []string{"a"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.SetActive("missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.UpdateCadence("missing", models.FrequencyDaily, "10:00")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("missing"), ErrNotFound)
}

func TestListPreservesCreationOrder(t *testing.T) {
	store := NewScheduleStore(newFakeTriggers())
	var ids []string
	for i := 0; i < 3; i++ {
		in := validInput()
		in.Name = fmt.Sprintf("schedule-%d", i)
		s, err := store.Create(in)
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	require.NoError(t, store.Delete(ids[1]))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
}

func TestUpdateChannelsLeavesTriggerAlone(t *testing.T) {
	triggers := newFakeTriggers()
	store := NewScheduleStore(triggers)
	s, err := store.Create(validInput())
	require.NoError(t, err)

	updated, err := store.UpdateChannels(s.ID, []string{"Veritasium"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Veritasium"}, updated.Channels)
	assert.Equal(t, 1, triggers.installs)
	assert.Empty(t, triggers.cancels)
}

func TestSetActiveKeepsTrigger(t *testing.T) {
	triggers := newFakeTriggers()
	store := NewScheduleStore(triggers)
	s, err := store.Create(validInput())
	require.NoError(t, err)

	paused, err := store.SetActive(s.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	resumed, err := store.SetActive(s.ID, true)
	require.NoError(t, err)
	assert.True(t, resumed.Active)

	assert.Equal(t, 1, triggers.installs)
	assert.Empty(t, triggers.cancels)
	assert.Contains(t, triggers.installed, s.ID)
}

func TestUpdateCadenceReplacesTrigger(t *testing.T) {
	triggers := newFakeTriggers()
	store := NewScheduleStore(triggers)
	s, err := store.Create(validInput())
	require.NoError(t, err)

	updated, err := store.UpdateCadence(s.ID, models.FrequencyDaily, "07:15")
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyDaily, updated.Frequency)
	assert.Equal(t, "07:15", updated.SendTime)
	assert.Equal(t, 2, triggers.installs)
	assert.Equal(t, "07:15", triggers.installed[s.ID].SendTime)

	_, err = store.UpdateCadence(s.ID, models.FrequencyDaily, "7pm")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUpdateCadenceKeepsOldValuesWhenInstallFails(t *testing.T) {
	triggers := newFakeTriggers()
	store := NewScheduleStore(triggers)
	s, err := store.Create(validInput())
	require.NoError(t, err)

	triggers.failNext = errors.New("boom")
	_, err = store.UpdateCadence(s.ID, models.FrequencyMonthly, "10:00")
	require.Error(t, err)

	got, err := store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyWeekly, got.Frequency)
	assert.Equal(t, "09:00", got.SendTime)
}

func TestDeleteCancelsTrigger(t *testing.T) {
	triggers := newFakeTriggers()
	store := NewScheduleStore(triggers)
	s, err := store.Create(validInput())
	require.NoError(t, err)

	require.NoError(t, store.Delete(s.ID))

	assert.Equal(t, []string{s.ID}, triggers.cancels)
	assert.NotContains(t, triggers.installed, s.ID)
	_, err = store.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	store := NewScheduleStore(newFakeTriggers())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := store.Create(validInput())
			if err != nil {
				return
			}
			_, _ = store.SetActive(s.ID, false)
			_ = store.List()
			_ = store.Delete(s.ID)
		}()
	}
	wg.Wait()
	assert.Zero(t, store.Len())
}
