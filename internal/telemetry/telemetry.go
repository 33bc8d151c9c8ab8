// Package telemetry exposes Prometheus metrics for the discovery pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_fetch_attempts_total",
			Help: "Total fetch attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	fetchGateDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadharvest_fetch_gate_delay_seconds",
			Help:    "Time spent waiting on the global request spacing gate.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	pagesCrawledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_pages_crawled_total",
			Help: "Result pages crawled, labeled empty or non-empty.",
		},
		[]string{"result"},
	)

	businessesResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_businesses_resolved_total",
			Help: "Listings resolved into canonical identities, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	contactsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_contacts_extracted_total",
			Help: "Contact candidates extracted, labeled by source type.",
		},
		[]string{"type"},
	)

	jobEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_job_events_total",
			Help: "Job lifecycle events, labeled by event name.",
		},
		[]string{"event"},
	)
)

// CountFetchAttempt records one fetch attempt outcome
// (ok, retryable, terminal, challenge, timeout).
func CountFetchAttempt(outcome string) {
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGateDelay records time spent waiting on the spacing gate.
func ObserveGateDelay(d time.Duration) {
	if d > time.Millisecond {
		fetchGateDelaySeconds.Observe(d.Seconds())
	}
}

// CountPageCrawled records one crawled result page.
func CountPageCrawled(empty bool) {
	result := "listings"
	if empty {
		result = "empty"
	}
	pagesCrawledTotal.WithLabelValues(result).Inc()
}

// CountBusinessResolved records one resolver outcome (new, updated, unchanged).
func CountBusinessResolved(outcome string) {
	businessesResolvedTotal.WithLabelValues(outcome).Inc()
}

// CountContactExtracted records one extracted candidate by type.
func CountContactExtracted(contactType string) {
	contactsExtractedTotal.WithLabelValues(contactType).Inc()
}

// CountJobEvent records a queue lifecycle event
// (claimed, completed, failed, retried, cancelled).
func CountJobEvent(event string) {
	jobEventsTotal.WithLabelValues(event).Inc()
}
