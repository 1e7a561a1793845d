package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/config"
	"github.com/kkkkikiki/vaxmatch/internal/repository"
)

// Projector forecasts confirmations. Its output is advisory and is never
// consulted by the Coordinator.
type Projector struct {
	store repository.Store
	curve allocation.Curve
	now   func() time.Time
}

// NewProjector creates a new Projector instance
func NewProjector(store repository.Store, policy config.ProjectionPolicy, opts ...Option) *Projector {
	o := buildOptions(opts)
	return &Projector{store: store, curve: allocation.NewCurve(policy), now: o.now}
}

// Project forecasts the eventual confirmations of one campaign.
func (p *Projector) Project(ctx context.Context, campaignID int64) (allocation.Projection, error) {
	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return allocation.Projection{}, err
	}

	matches, err := p.store.ListMatches(ctx, campaignID)
	if err != nil {
		return allocation.Projection{}, fmt.Errorf("failed to list matches: %w", err)
	}

	return p.curve.Forecast(campaign, matches, p.now()), nil
}
