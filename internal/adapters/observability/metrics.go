package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "cm"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound feed requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound feed request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	MergeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "merge_runs_total", Help: "Merge cycles by result."},
		[]string{"result"}, // ok|error
	)
	MergeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "merge_duration_seconds",
			Help:    "Merge cycle duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	MergeSegments = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "merge_segments",
			Help:    "Segments per merge cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind"}, // in|out|dropped_soft|duplicates
	)
	AutopilotDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "autopilot_decisions_total", Help: "Autopilot decisions by reason."},
		[]string{"reason"},
	)
	UnitLockEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "unit_lock_events_total", Help: "Unit lock acquire/busy/release."},
		[]string{"event"}, // acquired|busy|missing|released
	)
)

// Serve exposes /metrics on addr in the background; empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		MergeRuns, MergeLatency, MergeSegments, AutopilotDecisions, UnitLockEvents,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveMerge(err error, in, out, droppedSoft, duplicates int, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	MergeRuns.WithLabelValues(result).Inc()
	MergeLatency.Observe(dur.Seconds())
	if err == nil {
		MergeSegments.WithLabelValues("in").Observe(float64(in))
		MergeSegments.WithLabelValues("out").Observe(float64(out))
		MergeSegments.WithLabelValues("dropped_soft").Observe(float64(droppedSoft))
		MergeSegments.WithLabelValues("duplicates").Observe(float64(duplicates))
	}
}

func ObserveDecision(reason string) {
	AutopilotDecisions.WithLabelValues(reason).Inc()
}

func ObserveLock(event string) { // event: acquired|busy|missing|released
	UnitLockEvents.WithLabelValues(event).Inc()
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
