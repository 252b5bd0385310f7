// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesSeen      prometheus.Counter
	MessagesDropped   prometheus.Counter
	PatternMatches    prometheus.Counter
	Violations        prometheus.Counter
	MutesApplied      prometheus.Counter
	MutesFailed       prometheus.Counter
	Unmutes           prometheus.Counter
	UnmutesFailed     prometheus.Counter
	SweepCycles       prometheus.Counter
	AnnouncementsSent prometheus.Counter
	PersistFailures   prometheus.Counter

	// Histograms (seconds)
	SweepDuration prometheus.Observer

	// Gauges
	EventQueueDepth  prometheus.Gauge
	ActiveMutesGauge prometheus.Gauge
	TrackedUsers     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_messages_seen_total", Help: "Number of chat messages consumed from the event queue"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_messages_dropped_total", Help: "Number of chat messages dropped because the event queue was full"})
		PatternMatches = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_pattern_matches_total", Help: "Number of messages that matched a trigger phrase"})
		Violations = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_violations_total", Help: "Number of sliding-window threshold breaches"})
		MutesApplied = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_mutes_applied_total", Help: "Number of mutes applied successfully"})
		MutesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_mutes_failed_total", Help: "Number of mute API calls that failed"})
		Unmutes = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_unmutes_total", Help: "Number of mutes lifted (sweep or manual)"})
		UnmutesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_unmutes_failed_total", Help: "Number of unmute API calls that failed"})
		SweepCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_sweep_cycles_total", Help: "Number of expiry sweep passes"})
		AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_announcements_sent_total", Help: "Number of broadcast announcements sent"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_persist_failures_total", Help: "Number of durable write failures (retried before the next mutation)"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "warden_sweep_duration_seconds", Help: "Expiry sweep duration seconds", Buckets: prometheus.DefBuckets})
		EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "warden_event_queue_depth", Help: "Current number of buffered inbound chat events"})
		ActiveMutesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "warden_active_mutes", Help: "Current number of active mutes"})
		TrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{Name: "warden_tracked_users", Help: "Current number of identities with rate-tracking state"})
	})
}

// SetActiveMutes records the current active-mute count.
func SetActiveMutes(n int) {
	if ActiveMutesGauge != nil {
		ActiveMutesGauge.Set(float64(n))
	}
}

// SetQueueDepth records the current event queue depth.
func SetQueueDepth(n int) {
	if EventQueueDepth != nil {
		EventQueueDepth.Set(float64(n))
	}
}

// SetTrackedUsers records the number of identities the rate tracker holds.
func SetTrackedUsers(n int) {
	if TrackedUsers != nil {
		TrackedUsers.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
