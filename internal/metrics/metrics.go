package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanTotal counts scan outcomes by result (bill_form or a rejection
	// reason code).
	ScanTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemption_scan_total",
			Help: "Scan attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ConfirmDuration tracks commit latency by status.
	ConfirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "redemption_confirm_duration_seconds",
			Help: "Duration of redemption commits in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"status"}, // success, conflict or error
	)

	// TokensIssued counts signed tokens handed to presenting clients.
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemption_tokens_issued_total",
			Help: "Signed tokens issued, by venue",
		},
		[]string{"venue_id"},
	)
)

// RecordScan records one scan outcome.
func RecordScan(outcome string) {
	ScanTotal.WithLabelValues(outcome).Inc()
}

// RecordConfirm records the duration of a commit attempt.
func RecordConfirm(status string, duration float64) {
	ConfirmDuration.WithLabelValues(status).Observe(duration)
}

// RecordTokenIssued records a token issuance for a venue.
func RecordTokenIssued(venueID string) {
	TokensIssued.WithLabelValues(venueID).Inc()
}
