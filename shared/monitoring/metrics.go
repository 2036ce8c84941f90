package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

// Metrics holds the Prometheus collectors for analysis runs.
type Metrics struct {
	runsTotal            *prometheus.CounterVec
	runDuration          prometheus.Histogram
	sponsoredVideosTotal prometheus.Counter
	channelFailuresTotal prometheus.Counter
	missingChannelsTotal prometheus.Counter
	activeTriggers       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sponsor_report_runs_total",
			Help: "Completed analysis runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sponsor_report_run_duration_seconds",
			Help:    "Wall time of one analysis run including delivery.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		sponsoredVideosTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sponsor_report_sponsored_videos_total",
			Help: "Sponsored videos detected across all runs.",
		}),
		channelFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sponsor_report_channel_failures_total",
			Help: "Channels skipped because resolution or fetch failed.",
		}),
		missingChannelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sponsor_report_missing_channels_total",
			Help: "Channel names that resolved to no channel.",
		}),
		activeTriggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sponsor_report_active_triggers",
			Help: "Installed schedule triggers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.sponsoredVideosTotal,
			m.channelFailuresTotal,
			m.missingChannelsTotal,
			m.activeTriggers,
		)
	}
	return m
}

func (m *Metrics) ObserveRun(outcome string, summary models.RunSummary) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(summary.Duration.Seconds())
	m.sponsoredVideosTotal.Add(float64(summary.Count))
	m.channelFailuresTotal.Add(float64(len(summary.FailedChannels)))
	m.missingChannelsTotal.Add(float64(len(summary.MissingChannels)))
}

func (m *Metrics) SetActiveTriggers(n int) {
	m.activeTriggers.Set(float64(n))
}
