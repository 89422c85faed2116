package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the ledger.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	xpCredited           *prometheus.CounterVec
	xpDebited            *prometheus.CounterVec
	requestsSubmitted    prometheus.Counter
	requestsDecided      *prometheus.CounterVec
	storeConflicts       prometheus.Counter
	badgesUnlocked       *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	auditInconsistencies prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	xpCredited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xp_credited_total",
		Help: "XP appended to the history log by reason",
	}, []string{"reason"})

	xpDebited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xp_debited_total",
		Help: "XP removed from the history log by correcting entries",
	}, []string{"reason"})

	requestsSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xp_requests_submitted_total",
		Help: "XP requests created",
	})

	requestsDecided := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xp_requests_decided_total",
		Help: "XP request decisions by outcome",
	}, []string{"decision"})

	storeConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_store_conflicts_total",
		Help: "Per-user transactions retried after a store conflict",
	})

	badgesUnlocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "badges_unlocked_total",
		Help: "Badge unlocks by badge id",
	}, []string{"badge"})

	notificationsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Ledger events that could not be delivered",
	})

	auditInconsistencies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_inconsistencies_total",
		Help: "Users whose audit reported an invariant violation",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		xpCredited, xpDebited, requestsSubmitted, requestsDecided, storeConflicts, badgesUnlocked,
		notificationsDropped, auditInconsistencies, goroutines,
	)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		xpCredited:           xpCredited,
		xpDebited:            xpDebited,
		requestsSubmitted:    requestsSubmitted,
		requestsDecided:      requestsDecided,
		storeConflicts:       storeConflicts,
		badgesUnlocked:       badgesUnlocked,
		notificationsDropped: notificationsDropped,
		auditInconsistencies: auditInconsistencies,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordCredit counts XP appended to the history log. Corrections count as debits.
func (m *MetricsService) RecordCredit(reason models.XPReason, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		m.xpDebited.WithLabelValues(string(reason)).Add(float64(-amount))
		return
	}
	m.xpCredited.WithLabelValues(string(reason)).Add(float64(amount))
}

// RecordSubmission counts a new XP request.
func (m *MetricsService) RecordSubmission() {
	if m == nil {
		return
	}
	m.requestsSubmitted.Inc()
}

// RecordDecision counts an effective decision.
func (m *MetricsService) RecordDecision(decision models.Decision) {
	if m == nil {
		return
	}
	m.requestsDecided.WithLabelValues(string(decision)).Inc()
}

// RecordStoreConflict counts a retried per-user transaction.
func (m *MetricsService) RecordStoreConflict() {
	if m == nil {
		return
	}
	m.storeConflicts.Inc()
}

// RecordBadgeUnlock counts an unlocked badge.
func (m *MetricsService) RecordBadgeUnlock(badgeID string) {
	if m == nil {
		return
	}
	m.badgesUnlocked.WithLabelValues(badgeID).Inc()
}

// RecordNotificationDropped counts an undeliverable event.
func (m *MetricsService) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

// RecordAuditInconsistency counts a failed audit.
func (m *MetricsService) RecordAuditInconsistency() {
	if m == nil {
		return
	}
	m.auditInconsistencies.Inc()
}
