package models

import "time"

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

const (
	DefaultWeeks    = 4
	DefaultSendTime = "09:00"
)

// Schedule is a named monitoring configuration.
type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"apiKey"`
	Channels  []string  `json:"channels"`
	Weeks     int       `json:"weeks"`
	Frequency Frequency `json:"frequency"`
	SendTime  string    `json:"sendTime"`
	Emails    []string  `json:"emails"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a copy that shares no slices with s.
func (s Schedule) Clone() Schedule {
	c := s
	c.Channels = append([]string(nil), s.Channels...)
	c.Emails = append([]string(nil), s.Emails...)
	return c
}

// Lookback returns the rolling window covered by a run.
func (s Schedule) Lookback() time.Duration {
	weeks := s.Weeks
	if weeks <= 0 {
		weeks = DefaultWeeks
	}
	return time.Duration(weeks) * 7 * 24 * time.Hour
}

// ScheduleInput carries the caller-supplied fields of a new schedule.
type ScheduleInput struct {
	Name      string    `json:"name" yaml:"name"`
	APIKey    string    `json:"apiKey" yaml:"api_key"`
	Channels  []string  `json:"channels" yaml:"channels"`
	Weeks     int       `json:"weeks" yaml:"weeks"`
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	SendTime  string    `json:"sendTime" yaml:"send_time"`
	Emails    []string  `json:"emails" yaml:"emails"`
}
