package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConfirmDuration tracks the latency of confirmation attempts
	ConfirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vaxmatch_confirm_duration_seconds",
			Help: "Duration of match confirmation attempts in seconds",
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
				5.0,   // 5s
			},
		},
		[]string{"outcome"},
	)

	// ConfirmOutcomes counts confirmation attempts by outcome
	ConfirmOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxmatch_confirm_outcomes_total",
			Help: "Confirmation attempts by outcome (confirmed, already_confirmed_by_you, rejection reason, error)",
		},
		[]string{"outcome"},
	)

	// ProjectedConfirmations is the latest projection per campaign
	ProjectedConfirmations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaxmatch_projected_confirmations",
			Help: "Projected eventual confirmations per running campaign",
		},
		[]string{"campaign_id"},
	)

	// RemainingDoses is the latest remaining dose count per campaign
	RemainingDoses = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaxmatch_remaining_doses",
			Help: "Remaining doses per running campaign",
		},
		[]string{"campaign_id"},
	)

	// CampaignTransitions counts campaign lifecycle transitions
	CampaignTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxmatch_campaign_transitions_total",
			Help: "Campaign lifecycle transitions (created, canceled, completed)",
		},
		[]string{"status"},
	)
)

// RecordConfirm records the duration and outcome of a confirmation attempt
func RecordConfirm(outcome string, duration float64) {
	ConfirmDuration.WithLabelValues(outcome).Observe(duration)
	ConfirmOutcomes.WithLabelValues(outcome).Inc()
}

// SetProjection records the latest forecast of a campaign
func SetProjection(campaignID int64, projected float64, remaining int) {
	id := strconv.FormatInt(campaignID, 10)
	ProjectedConfirmations.WithLabelValues(id).Set(projected)
	RemainingDoses.WithLabelValues(id).Set(float64(remaining))
}

// ForgetCampaign drops the gauges of a campaign that stopped running
func ForgetCampaign(campaignID int64) {
	id := strconv.FormatInt(campaignID, 10)
	ProjectedConfirmations.DeleteLabelValues(id)
	RemainingDoses.DeleteLabelValues(id)
}

// IncCampaignTransition counts a campaign lifecycle transition
func IncCampaignTransition(status string) {
	CampaignTransitions.WithLabelValues(status).Inc()
}
