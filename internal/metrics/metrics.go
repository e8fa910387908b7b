// Package metrics exposes Prometheus collectors for the quest engine, its
// timers and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "questbot"

type Metrics struct {
	registry *prometheus.Registry

	QuestsStarted   prometheus.Counter
	QuestsFinished  prometheus.Counter
	QuestDuration   prometheus.Histogram
	Answers         *prometheus.CounterVec
	ConflictRetries prometheus.Counter

	TimersScheduled *prometheus.CounterVec
	TimersFired     *prometheus.CounterVec
	TimersCancelled *prometheus.CounterVec

	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QuestsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "started_total",
			Help:      "Quests started.",
		}),
		QuestsFinished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "finished_total",
			Help:      "Quests finished.",
		}),
		QuestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "duration_seconds",
			Help:      "Time from quest start to finish.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "answers_total",
			Help:      "Answers submitted, by outcome.",
		}, []string{"outcome"}),
		ConflictRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "state_conflict_retries_total",
			Help:      "State updates retried after a version conflict.",
		}),
		TimersScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "scheduled_total",
			Help:      "Timers scheduled, by kind.",
		}, []string{"kind"}),
		TimersFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "fired_total",
			Help:      "Timers that ran to completion, by kind.",
		}, []string{"kind"}),
		TimersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "cancelled_total",
			Help:      "Timers cancelled before firing, by kind.",
		}, []string{"kind"}),
		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) QuestStarted() { m.QuestsStarted.Inc() }

func (m *Metrics) QuestFinished(elapsed time.Duration) {
	m.QuestsFinished.Inc()
	m.QuestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AnswerRecorded(outcome string) { m.Answers.WithLabelValues(outcome).Inc() }
func (m *Metrics) ConflictRetried()              { m.ConflictRetries.Inc() }

func (m *Metrics) TimerScheduled(kind string) { m.TimersScheduled.WithLabelValues(kind).Inc() }
func (m *Metrics) TimerFired(kind string)     { m.TimersFired.WithLabelValues(kind).Inc() }
func (m *Metrics) TimerCancelled(kind string) { m.TimersCancelled.WithLabelValues(kind).Inc() }

// WatchPendingTimers exposes the number of armed timers, sampled on scrape.
func (m *Metrics) WatchPendingTimers(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "timer",
		Name:      "pending",
		Help:      "Timers currently armed.",
	}, func() float64 { return float64(count()) })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts and times requests by their chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
