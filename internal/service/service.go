// Package service implements campaign creation and cancellation, candidate
// targeting, race-safe confirmation and projection on top of a
// repository.Store.
package service

import (
	"context"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// FlagSource supplies the feature flags read once, when a campaign is created.
type FlagSource interface {
	AlgoV3Enabled(ctx context.Context) (bool, error)
	RankingV2Enabled(ctx context.Context) (bool, error)
}

// Notifier is told about new campaigns. Its result never affects creation.
type Notifier interface {
	CampaignCreated(ctx context.Context, c *model.Campaign) error
}

// Option configures a service.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
