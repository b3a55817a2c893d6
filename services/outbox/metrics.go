package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives delivery measurements from the worker.
type MetricsCollector interface {
	RecordDelivery(eventName string, result Status, duration time.Duration)
	RecordTick(claimed, reclaimed int, duration time.Duration)
}

type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordDelivery(string, Status, time.Duration) {}
func (NoOpMetricsCollector) RecordTick(int, int, time.Duration)           {}

type PrometheusMetrics struct {
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	claimed          prometheus.Histogram
	reclaimed        prometheus.Counter
	tickDuration     prometheus.Histogram
}

func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kudos",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts by event name and resulting status.",
		}, []string{"event_name", "result"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kudos",
			Subsystem: "outbox",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent emitting one outbox entry to lifecycle listeners.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_name"}),
		claimed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kudos",
			Subsystem: "outbox",
			Name:      "claimed_batch_size",
			Help:      "Entries claimed per worker tick.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kudos",
			Subsystem: "outbox",
			Name:      "reclaimed_total",
			Help:      "Entries returned from a stale processing state.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kudos",
			Subsystem: "outbox",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one worker tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.deliveries, m.deliveryDuration, m.claimed, m.reclaimed, m.tickDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordDelivery(eventName string, result Status, duration time.Duration) {
	m.deliveries.WithLabelValues(eventName, string(result)).Inc()
	m.deliveryDuration.WithLabelValues(eventName).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTick(claimed, reclaimed int, duration time.Duration) {
	m.claimed.Observe(float64(claimed))
	if reclaimed > 0 {
		m.reclaimed.Add(float64(reclaimed))
	}
	m.tickDuration.Observe(duration.Seconds())
}

type statusCounter interface {
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// StatusCollector reports the number of entries per status at scrape time.
type StatusCollector struct {
	store   statusCounter
	timeout time.Duration
	desc    *prometheus.Desc
}

func NewStatusCollector(store statusCounter) *StatusCollector {
	return &StatusCollector{
		store:   store,
		timeout: 2 * time.Second,
		desc: prometheus.NewDesc(
			"kudos_outbox_entries",
			"Outbox entries by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusFailed, StatusDelivered, StatusDead} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[s]), string(s))
	}
}
