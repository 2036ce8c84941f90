package models

import "time"

// Video is one search result returned by a video source.
type Video struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
}

// URL returns the public watch link for the video.
func (v Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

// VideoQuery describes a channel's recent-uploads lookup.
type VideoQuery struct {
	ChannelID string
	APIKey    string
	After     time.Time
	Limit     int64
	Order     string // "date" sorts newest first
}

// DetectionResult is one sponsored video found during a run.
type DetectionResult struct {
	Channel     string    `json:"channel"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Links       []string  `json:"links"`
	VideoURL    string    `json:"video_url"`
}

// RunSummary is the outcome of one pipeline run. Err is set only when the
// report could not be delivered; per-channel failures are listed separately.
type RunSummary struct {
	ScheduleID      string        `json:"schedule_id"`
	ScheduleName    string        `json:"schedule_name"`
	Count           int           `json:"count"`
	FailedChannels  []string      `json:"failed_channels,omitempty"`
	MissingChannels []string      `json:"missing_channels,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Err             error         `json:"-"`
}

// Partial reports whether some channels failed while the run itself completed.
func (s RunSummary) Partial() bool {
	return s.Err == nil && len(s.FailedChannels) > 0
}
