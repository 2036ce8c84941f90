package youtube

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

// Client searches YouTube with per-schedule API keys. One service is built per
// key and reused.
type Client struct {
	mu       sync.Mutex
	services map[string]*youtube.Service
	opts     []option.ClientOption
	logger   zerolog.Logger
}

// NewClient accepts extra client options (endpoint, HTTP client) applied after
// the API key.
func NewClient(logger zerolog.Logger, opts ...option.ClientOption) *Client {
	return &Client{
		services: make(map[string]*youtube.Service),
		opts:     opts,
		logger:   logger.With().Str("component", "youtube").Logger(),
	}
}

func (c *Client) service(ctx context.Context, apiKey string) (*youtube.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[apiKey]; ok {
		return svc, nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, c.opts...)
	// the service outlives the call that created it
	svc, err := youtube.NewService(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	c.services[apiKey] = svc
	return svc, nil
}

// ResolveChannel returns the id of the top channel search hit for name, or ""
// when nothing matches.
func (c *Client) ResolveChannel(ctx context.Context, name, apiKey string) (string, error) {
	svc, err := c.service(ctx, apiKey)
	if err != nil {
		return "", err
	}

	resp, err := svc.Search.List([]string{"snippet"}).
		Q(name).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("channel search %q: %w", name, describe(err))
	}

	if len(resp.Items) == 0 || resp.Items[0].Id == nil {
		return "", nil
	}
	return resp.Items[0].Id.ChannelId, nil
}

// ListRecentVideos returns up to q.Limit videos of a channel published after
// q.After, in the order requested.
func (c *Client) ListRecentVideos(ctx context.Context, q models.VideoQuery) ([]models.Video, error) {
	svc, err := c.service(ctx, q.APIKey)
	if err != nil {
		return nil, err
	}

	order := q.Order
	if order == "" {
		order = "date"
	}

	resp, err := svc.Search.List([]string{"snippet"}).
		ChannelId(q.ChannelID).
		Type("video").
		PublishedAfter(q.After.UTC().Format(time.RFC3339)).
		MaxResults(q.Limit).
		Order(order).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("video search for channel %s: %w", q.ChannelID, describe(err))
	}

	videos := make([]models.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Snippet == nil {
			continue
		}
		video := models.Video{
			ID:          item.Id.VideoId,
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
		}
		if publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			video.PublishedAt = publishedAt
		} else {
			c.logger.Debug().Str("video_id", video.ID).Str("published_at", item.Snippet.PublishedAt).Msg("unparseable publish time")
		}
		videos = append(videos, video)
	}

	return videos, nil
}

// VerifyKey runs a minimal search to check that apiKey is accepted.
func (c *Client) VerifyKey(ctx context.Context, apiKey string) error {
	svc, err := c.service(ctx, apiKey)
	if err != nil {
		return err
	}

	_, err = svc.Search.List([]string{"snippet"}).
		Q("test").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		c.mu.Lock()
		delete(c.services, apiKey)
		c.mu.Unlock()
		return describe(err)
	}
	return nil
}

// describe unwraps googleapi errors to the provider's message.
func describe(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Errorf("youtube api %d: %s", apiErr.Code, apiErr.Message)
	}
	return err
}
