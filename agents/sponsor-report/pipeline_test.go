package sponsorreport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ujujhuang-cpu/youtube-scheduler/agents/sponsor-report/sponsor"
	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

type fakeSource struct {
	mu         sync.Mutex
	ids        map[string]string
	resolveErr map[string]error
	videos     map[string][]models.Video
	fetchErr   map[string]error
	panicOn    string
	block      bool

	resolved []string
	queries  []models.VideoQuery
}

func (f *fakeSource) ResolveChannel(ctx context.Context, name, apiKey string) (string, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, name)
	block := f.block
	f.mu.Unlock()

	if name == f.panicOn {
		panic("malformed response")
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := f.resolveErr[name]; err != nil {
		return "", err
	}
	return f.ids[name], nil
}

func (f *fakeSource) ListRecentVideos(ctx context.Context, q models.VideoQuery) ([]models.Video, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if err := f.fetchErr[q.ChannelID]; err != nil {
		return nil, err
	}
	return f.videos[q.ChannelID], nil
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolved) + len(f.queries)
}

type sentReport struct {
	schedule models.Schedule
	report   string
	count    int
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	sends []sentReport
}

func (n *fakeNotifier) Send(_ context.Context, schedule models.Schedule, report []byte, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sentReport{schedule: schedule, report: string(report), count: count})
	return n.err
}

func (n *fakeNotifier) sent() []sentReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentReport(nil), n.sends...)
}

var testNow = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

func newTestPipeline(source VideoSource, notifier Notifier, cfg PipelineConfig) *Pipeline {
	p := NewPipeline(source, notifier, cfg, zerolog.Nop())
	p.clock = func() time.Time { return testNow }
	return p
}

func testSchedule(channels ...string) models.Schedule {
	return models.Schedule{
		ID:        "sched-1",
		Name:      "週報",
		APIKey:    "key-1",
		Channels:  channels,
		Weeks:     2,
		Frequency: models.FrequencyWeekly,
		SendTime:  "09:00",
		Emails:    []string{"ops@example.com"},
		Active:    true,
	}
}

func TestPipelineRunCollectsSponsoredVideosInChannelOrder(t *testing.T) {
	published := time.Date(2026, 2, 25, 20, 0, 0, 0, time.UTC)
	source := &fakeSource{
		ids: map[string]string{"Alpha": "UC-a", "Beta": "UC-b"},
		videos: map[string][]models.Video{
			"UC-a": {
				{ID: "a1", Title: "開箱 業配", Description: "買這裡 https://shop.example/a", PublishedAt: published},
				{ID: "a2", Title: "日常 vlog", Description: "no links", PublishedAt: published},
			},
			"UC-b": {
				{ID: "b1", Title: "Review", Description: "This video is SPONSORED by X", PublishedAt: published},
			},
		},
	}
	notifier := &fakeNotifier{}
	p := newTestPipeline(source, notifier, PipelineConfig{MaxResults: 25, Location: time.FixedZone("CST", 8*3600)})

	summary := p.Run(context.Background(), testSchedule("Alpha", "Beta"))

	require.NoError(t, summary.Err)
	assert.Equal(t, 2, summary.Count)
	assert.Empty(t, summary.FailedChannels)
	assert.Empty(t, summary.MissingChannels)
	assert.Equal(t, "sched-1", summary.ScheduleID)

	require.Len(t, source.queries, 2)
	q := source.queries[0]
	assert.Equal(t, "UC-a", q.ChannelID)
	assert.Equal(t, "key-1", q.APIKey)
	assert.Equal(t, int64(25), q.Limit)
	assert.Equal(t, "date", q.Order)
	assert.True(t, testNow.Add(-14*24*time.Hour).Equal(q.After))

	sends := notifier.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, 2, sends[0].count)

	lines := strings.Split(sends[0].report, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "\uFEFF"+sponsor.Header, lines[0])
	assert.Equal(t, `"Alpha","開箱 業配","2026/2/26","https://shop.example/a","https://www.youtube.com/watch?v=a1"`, lines[1])
	assert.Equal(t, `"Beta","Review","2026/2/26","（無連結）","https://www.youtube.com/watch?v=b1"`, lines[2])
}

func TestPipelineChannelFailureIsIsolated(t *testing.T) {
	source := &fakeSource{
		ids:        map[string]string{"Beta": "UC-b"},
		resolveErr: map[string]error{"Alpha": errors.New("quota exceeded")},
		videos: map[string][]models.Video{
			"UC-b": {{ID: "b1", Title: "#ad new phone"}},
		},
	}
	notifier := &fakeNotifier{}
	p := newTestPipeline(source, notifier, PipelineConfig{})

	summary := p.Run(context.Background(), testSchedule("Alpha", "Beta"))

	require.NoError(t, summary.Err)
	assert.True(t, summary.Partial())
	assert.Equal(t, []string{"Alpha"}, summary.FailedChannels)
	assert.Equal(t, 1, summary.Count)
	require.Len(t, notifier.sent(), 1)
	assert.Contains(t, notifier.sent()[0].report, `"Beta","#ad new phone"`)
}

func TestPipelineSkipsUnresolvedChannel(t *testing.T) {
	source := &fakeSource{ids: map[string]string{}}
	notifier := &fakeNotifier{}
	p := newTestPipeline(source, notifier, PipelineConfig{})

	summary := p.Run(context.Background(), testSchedule("Nobody"))

	require.NoError(t, summary.Err)
	assert.False(t, summary.Partial())
	assert.Equal(t, []string{"Nobody"}, summary.MissingChannels)
	assert.Empty(t, source.queries)

	// the report is sent even when empty
	sends := notifier.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, 0, sends[0].count)
	assert.Equal(t, "\uFEFF"+sponsor.Header+"\n", sends[0].report)
}

func TestPipelineDeliveryFailure(t *testing.T) {
	smtpErr := errors.New("535 authentication failed")
	source := &fakeSource{ids: map[string]string{}}
	p := newTestPipeline(source, &fakeNotifier{err: smtpErr}, PipelineConfig{})

	summary := p.Run(context.Background(), testSchedule("Alpha"))

	var delivery *DeliveryError
	require.ErrorAs(t, summary.Err, &delivery)
	assert.Equal(t, "sched-1", delivery.ScheduleID)
	assert.ErrorIs(t, summary.Err, smtpErr)
}

func TestProcessChannelStages(t *testing.T) {
	fetchErr := errors.New("backend error")
	source := &fakeSource{
		ids:      map[string]string{"Alpha": "UC-a"},
		fetchErr: map[string]error{"UC-a": fetchErr},
		panicOn:  "Broken",
	}
	p := newTestPipeline(source, &fakeNotifier{}, PipelineConfig{})
	sched := testSchedule()

	_, err := p.processChannel(context.Background(), sched, "Alpha", testNow)
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, StageFetch, chErr.Stage)
	assert.Equal(t, "Alpha", chErr.Channel)
	assert.ErrorIs(t, err, fetchErr)

	_, err = p.processChannel(context.Background(), sched, "Broken", testNow)
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, StageResolve, chErr.Stage)
	assert.Contains(t, err.Error(), "malformed response")
}

func TestProcessChannelCallTimeout(t *testing.T) {
	source := &fakeSource{block: true}
	p := newTestPipeline(source, &fakeNotifier{}, PipelineConfig{CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := p.processChannel(context.Background(), testSchedule(), "Slow", testNow)

	assert.ErrorIs(t, err, ErrCallTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
