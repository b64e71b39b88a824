package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviews_app", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviews_app", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "cache_events_total", Help: "Cache hits/misses/puts/deletes."},
		[]string{"cache", "event"}, // event: hit|miss|put|delete
	)
	InterceptDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "intercept_decisions_total", Help: "Interception policy outcomes."},
		[]string{"policy", "source"}, // source: cache|network|placeholder|error
	)
	FallbackReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "fallback_reads_total", Help: "Reads answered from the local store after a network failure."},
		[]string{"resource", "outcome"}, // outcome: hit|empty
	)
	SeedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "seed_records_total", Help: "Records written by the seeder."},
		[]string{"kind", "outcome"}, // kind: listing|review, outcome: ok|failed
	)
	OutboxReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews_app", Name: "outbox_replays_total", Help: "Pending review replays."},
		[]string{"outcome"}, // outcome: confirmed|failed
	)
)

// Serve exposes reg on addr in the background, for binaries without an
// HTTP router of their own. Empty addr disables it.
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
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency,
		CacheEvents, InterceptDecisions, FallbackReads, OutboxReplays, SeedRecords)
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

func ObserveCache(cache, event string) { // event: hit|miss|put|delete
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveIntercept(policy, source string) {
	InterceptDecisions.WithLabelValues(policy, source).Inc()
}

func ObserveFallback(resource string, hit bool) {
	outcome := "empty"
	if hit {
		outcome = "hit"
	}
	FallbackReads.WithLabelValues(resource, outcome).Inc()
}

func ObserveReplay(confirmed bool) {
	outcome := "failed"
	if confirmed {
		outcome = "confirmed"
	}
	OutboxReplays.WithLabelValues(outcome).Inc()
}

func ObserveSeed(kind string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	SeedRecords.WithLabelValues(kind, outcome).Inc()
}
