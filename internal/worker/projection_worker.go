package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/metrics"
	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// CampaignLister lists the campaigns still accepting matches.
type CampaignLister interface {
	RunningCampaigns(ctx context.Context) ([]model.Campaign, error)
}

// Forecaster projects the eventual confirmations of one campaign.
type Forecaster interface {
	Project(ctx context.Context, campaignID int64) (allocation.Projection, error)
}

// ProjectionWorker periodically refreshes the projection gauges of running
// campaigns. A failing campaign is logged and skipped.
type ProjectionWorker struct {
	interval  time.Duration
	campaigns CampaignLister
	projector Forecaster
	log       *zerolog.Logger
}

func NewProjectionWorker(interval time.Duration, campaigns CampaignLister, projector Forecaster, logger *zerolog.Logger) *ProjectionWorker {
	projLog := logger.With().Str("component", "ProjectionWorker").Logger()
	return &ProjectionWorker{
		interval:  interval,
		campaigns: campaigns,
		projector: projector,
		log:       &projLog,
	}
}

func (w *ProjectionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting projection worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping projection worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("projection worker error")
			}
		}
	}
}

// RunOnce refreshes every running campaign and returns how many were
// projected.
func (w *ProjectionWorker) RunOnce(ctx context.Context) (int, error) {
	running, err := w.campaigns.RunningCampaigns(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range running {
		c := &running[i]
		p, err := w.projector.Project(ctx, c.ID)
		if err != nil {
			w.log.Warn().Err(err).Int64("campaign_id", c.ID).Msg("projection failed")
			continue
		}

		remaining := allocation.Ledger{AvailableDoses: p.AvailableDoses, ConfirmedCount: p.Confirmed}.RemainingDoses()
		metrics.SetProjection(c.ID, p.Projected, remaining)
		refreshed++

		if p.NeedsMoreTargets {
			w.log.Debug().
				Int64("campaign_id", c.ID).
				Float64("projected", p.Projected).
				Int("remaining_doses", remaining).
				Msg("campaign needs more targets")
		}
	}
	return refreshed, nil
}
