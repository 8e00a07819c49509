// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"freespace-backend/internal/classify"
	"freespace-backend/internal/llm"
	"freespace-backend/internal/session"
	"freespace-backend/internal/voice"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "freespace_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_turns_total",
			Help: "Chat turns by persona, category and outcome",
		},
		[]string{"persona", "category", "outcome"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freespace_turn_duration_seconds",
			Help:    "End-to-end chat turn latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"persona"},
	)

	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_generation_attempts_total",
			Help: "Calls to the generation service",
		},
		[]string{"generator", "result"},
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freespace_generation_latency_seconds",
			Help:    "Generation call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"generator"},
	)

	PipelineStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_pipeline_state_transitions_total",
			Help: "Pipeline state transitions by persona and state",
		},
		[]string{"persona", "state"},
	)

	VoiceDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_voice_deliveries_total",
			Help: "Voice deliveries by mode (audio or browser)",
		},
		[]string{"mode"},
	)

	SpeakJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_speak_jobs_total",
			Help: "Background speak job transitions",
		},
		[]string{"status"},
	)

	SpeechInputs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freespace_speech_inputs_total",
			Help: "Speech-to-text requests by result",
		},
		[]string{"persona", "result"},
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "freespace_active_sessions",
			Help: "Number of live sessions",
		},
		[]string{"persona"},
	)

	EvictedSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "freespace_evicted_sessions_total",
			Help: "Sessions removed for inactivity",
		},
	)
)

// PipelineObserver feeds pipeline events into the collectors.
type PipelineObserver struct{}

func (PipelineObserver) StateChanged(persona string, st session.State) {
	PipelineStates.WithLabelValues(persona, string(st)).Inc()
}

func (PipelineObserver) Attempt(generator string, _ int, err error, took time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, llm.ErrUnavailable):
		result = "unavailable"
	case errors.Is(err, llm.ErrEmptyResponse):
		result = "empty"
	default:
		result = "error"
	}
	GenerationAttempts.WithLabelValues(generator, result).Inc()
	GenerationLatency.WithLabelValues(generator).Observe(took.Seconds())
}

func (PipelineObserver) TurnFinished(persona string, category classify.Category, outcome string, took time.Duration) {
	Turns.WithLabelValues(persona, string(category), outcome).Inc()
	TurnDuration.WithLabelValues(persona).Observe(took.Seconds())
}

// ObserveVoice counts a voice delivery mode.
func ObserveVoice(mode string) { VoiceDeliveries.WithLabelValues(mode).Inc() }

// ObserveSpeakJob counts a speak job transition.
func ObserveSpeakJob(s voice.JobStatus) { SpeakJobs.WithLabelValues(string(s)).Inc() }

// SetActiveSessions replaces the per-persona session gauge.
func SetActiveSessions(counts map[string]int, personas []string) {
	for _, p := range personas {
		ActiveSessions.WithLabelValues(p).Set(float64(counts[p]))
	}
}

// Middleware records request counts and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
