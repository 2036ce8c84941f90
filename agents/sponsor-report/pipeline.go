package sponsorreport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ujujhuang-cpu/youtube-scheduler/agents/sponsor-report/sponsor"
	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

// VideoSource looks up channels and their recent uploads.
type VideoSource interface {
	// ResolveChannel returns "" with a nil error when no channel matches.
	ResolveChannel(ctx context.Context, name, apiKey string) (string, error)
	ListRecentVideos(ctx context.Context, q models.VideoQuery) ([]models.Video, error)
}

// Notifier delivers a finished report to a schedule's recipients.
type Notifier interface {
	Send(ctx context.Context, schedule models.Schedule, report []byte, count int) error
}

const (
	StageResolve = "resolve"
	StageFetch   = "fetch"
)

// ChannelError is a failure confined to one channel of a run.
type ChannelError struct {
	Channel string
	Stage   string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %q %s failed: %v", e.Channel, e.Stage, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// DeliveryError means the report was built but could not be sent.
type DeliveryError struct {
	ScheduleID string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery for schedule %s failed: %v", e.ScheduleID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type PipelineConfig struct {
	// CallTimeout bounds each video source request. Zero means no bound.
	CallTimeout time.Duration
	MaxResults  int64
	Location    *time.Location
}

// Pipeline runs fetch, classify, export and notify for one schedule.
type Pipeline struct {
	source   VideoSource
	notifier Notifier
	config   PipelineConfig
	clock    func() time.Time
	logger   zerolog.Logger
}

func NewPipeline(source VideoSource, notifier Notifier, cfg PipelineConfig, logger zerolog.Logger) *Pipeline {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Pipeline{
		source:   source,
		notifier: notifier,
		config:   cfg,
		clock:    time.Now,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run analyses every channel of the schedule and sends the report. Channel
// failures are logged and listed in the summary; only a delivery failure sets
// summary.Err.
func (p *Pipeline) Run(ctx context.Context, schedule models.Schedule) models.RunSummary {
	start := p.clock()
	logger := p.logger.With().Str("schedule_id", schedule.ID).Str("schedule", schedule.Name).Logger()
	logger.Info().Strs("channels", schedule.Channels).Int("weeks", schedule.Weeks).Msg("starting analysis")

	summary := models.RunSummary{
		ScheduleID:   schedule.ID,
		ScheduleName: schedule.Name,
		StartedAt:    start,
	}

	cutoff := start.Add(-schedule.Lookback())
	var results []models.DetectionResult

	for _, channel := range schedule.Channels {
		found, err := p.processChannel(ctx, schedule, channel, cutoff)
		if err != nil {
			logger.Error().Err(err).Str("channel", channel).Msg("channel analysis failed")
			summary.FailedChannels = append(summary.FailedChannels, channel)
			continue
		}
		if found == nil {
			logger.Warn().Str("channel", channel).Msg("channel not found, skipping")
			summary.MissingChannels = append(summary.MissingChannels, channel)
			continue
		}
		logger.Debug().Str("channel", channel).Int("sponsored", len(found)).Msg("channel analysed")
		results = append(results, found...)
	}

	summary.Count = len(results)
	report := sponsor.FormatCSV(results, p.config.Location)

	if err := p.notifier.Send(ctx, schedule, report, summary.Count); err != nil {
		summary.Err = &DeliveryError{ScheduleID: schedule.ID, Err: err}
	}

	summary.Duration = p.clock().Sub(start)
	if summary.Err == nil {
		logger.Info().Int("count", summary.Count).Dur("duration", summary.Duration).Msg("analysis finished")
	}
	return summary
}

// processChannel returns nil results with a nil error when the channel name
// does not resolve. Panics are contained to the channel.
func (p *Pipeline) processChannel(ctx context.Context, schedule models.Schedule, channel string, cutoff time.Time) (found []models.DetectionResult, err error) {
	stage := StageResolve
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = &ChannelError{Channel: channel, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	channelID, err := p.resolve(ctx, channel, schedule.APIKey)
	if err != nil {
		return nil, &ChannelError{Channel: channel, Stage: stage, Err: err}
	}
	if channelID == "" {
		return nil, nil
	}

	stage = StageFetch
	videos, err := p.fetch(ctx, models.VideoQuery{
		ChannelID: channelID,
		APIKey:    schedule.APIKey,
		After:     cutoff,
		Limit:     p.config.MaxResults,
		Order:     "date",
	})
	if err != nil {
		return nil, &ChannelError{Channel: channel, Stage: stage, Err: err}
	}

	found = []models.DetectionResult{}
	for _, video := range videos {
		verdict := sponsor.Classify(video.Title, video.Description)
		if !verdict.IsSponsor {
			continue
		}
		found = append(found, models.DetectionResult{
			Channel:     channel,
			Title:       video.Title,
			PublishedAt: video.PublishedAt,
			Links:       verdict.Links,
			VideoURL:    video.URL(),
		})
	}
	return found, nil
}

func (p *Pipeline) resolve(ctx context.Context, channel, apiKey string) (string, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	id, err := p.source.ResolveChannel(ctx, channel, apiKey)
	return id, timeoutAware(ctx, err)
}

func (p *Pipeline) fetch(ctx context.Context, q models.VideoQuery) ([]models.Video, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	videos, err := p.source.ListRecentVideos(ctx, q)
	return videos, timeoutAware(ctx, err)
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.CallTimeout)
}

// ErrCallTimeout marks a video source call that exceeded CallTimeout.
var ErrCallTimeout = errors.New("video source call timed out")

func timeoutAware(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCallTimeout, err)
	}
	return err
}
