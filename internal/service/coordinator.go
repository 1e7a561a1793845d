package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/metrics"
	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/repository"
	"github.com/kkkkikiki/vaxmatch/internal/tracing"
)

// Outcome is the successful result of a confirmation attempt.
type Outcome string

const (
	OutcomeConfirmed             Outcome = "confirmed"
	OutcomeAlreadyConfirmedByYou Outcome = "already_confirmed_by_you"
)

// Confirmation is returned when a match holds a dose.
type Confirmation struct {
	Match   *model.Match
	Outcome Outcome
}

// Coordinator decides confirmation attempts. Rejections are returned as the
// model.Err* sentinels; any other error is an infrastructure failure.
type Coordinator struct {
	store repository.Store
	log   *zerolog.Logger
	now   func() time.Time
}

// NewCoordinator creates a new Coordinator instance
func NewCoordinator(store repository.Store, logger *zerolog.Logger, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	l := logger.With().Str("component", "Coordinator").Logger()
	return &Coordinator{store: store, log: &l, now: o.now}
}

// Confirm claims a dose for the match behind token.
func (c *Coordinator) Confirm(ctx context.Context, token string) (conf *Confirmation, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "Coordinator.Confirm")
	defer func() {
		outcome := outcomeLabel(conf, err)
		metrics.RecordConfirm(outcome, time.Since(start).Seconds())
		span.SetAttributes(attribute.String("outcome", outcome))
		if model.IsRejection(err) {
			tracing.EndSpan(span, nil)
		} else {
			tracing.EndSpan(span, err)
		}
	}()

	match, err := c.store.GetMatchByToken(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrInvalidToken) {
			return nil, model.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	span.SetAttributes(
		attribute.Int64("campaign_id", match.CampaignID),
		attribute.Int64("match_id", match.ID),
	)

	if match.IsConfirmed() {
		return &Confirmation{Match: match, Outcome: OutcomeAlreadyConfirmedByYou}, nil
	}

	now := c.now()
	if match.IsExpired(now) {
		return c.reject(ctx, match, model.ErrExpired)
	}

	campaign, err := c.store.GetCampaign(ctx, match.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign.IsCanceled() {
		return c.reject(ctx, match, model.ErrCampaignCanceled)
	}

	stats, err := c.store.CampaignStats(ctx, campaign.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}
	if !allocation.NewLedger(campaign, stats.Confirmed).HasRemainingDoses() {
		return c.reject(ctx, match, model.ErrNoRemainingDoses)
	}

	return c.claim(ctx, match, now)
}

// claim runs the count check and the conditional write as one unit inside
// the campaign critical section.
func (c *Coordinator) claim(ctx context.Context, match *model.Match, now time.Time) (*Confirmation, error) {
	var (
		conf      *Confirmation
		rejection error
	)

	err := c.store.WithCampaignLock(ctx, match.CampaignID, func(tx repository.CampaignTx) error {
		campaign := tx.Campaign()
		if campaign.IsCanceled() {
			rejection = model.ErrCampaignCanceled
			return tx.RecordFailure(ctx, match.ID, model.ReasonCampaignCanceled)
		}

		confirmed, err := tx.ConfirmedCount(ctx)
		if err != nil {
			return err
		}
		if !allocation.NewLedger(campaign, confirmed).HasRemainingDoses() {
			rejection = model.ErrAlreadyConfirmed
			return tx.RecordFailure(ctx, match.ID, model.ReasonAlreadyConfirmed)
		}

		ok, err := tx.ConfirmMatch(ctx, match.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			rejection = model.ErrAlreadyConfirmed
			return tx.RecordFailure(ctx, match.ID, model.ReasonAlreadyConfirmed)
		}

		confirmedAt := now
		match.ConfirmedAt = &confirmedAt
		match.ConfirmationFailedReason = nil
		conf = &Confirmation{Match: match, Outcome: OutcomeConfirmed}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm match: %w", err)
	}

	if errors.Is(rejection, model.ErrAlreadyConfirmed) {
		if conf := c.confirmedMeanwhile(ctx, match); conf != nil {
			return conf, nil
		}
	}

	if rejection != nil {
		c.log.Info().
			Int64("campaign_id", match.CampaignID).
			Int64("match_id", match.ID).
			Err(rejection).
			Msg("confirmation lost")
		return nil, rejection
	}

	c.log.Info().
		Int64("campaign_id", match.CampaignID).
		Int64("match_id", match.ID).
		Str("user_id", match.UserID).
		Msg("match confirmed")
	return conf, nil
}

// confirmedMeanwhile re-reads the match and reports a success read when a
// duplicate request for the same token confirmed it after our snapshot.
func (c *Coordinator) confirmedMeanwhile(ctx context.Context, match *model.Match) *Confirmation {
	current, err := c.store.GetMatchByToken(ctx, match.ConfirmationToken)
	if err != nil || !current.IsConfirmed() {
		return nil
	}
	return &Confirmation{Match: current, Outcome: OutcomeAlreadyConfirmedByYou}
}

// reject records the reason on the match. Recording is best effort: the
// rejection is returned even if the write fails. A match confirmed by a
// duplicate request in the meantime is reported as already confirmed instead.
func (c *Coordinator) reject(ctx context.Context, match *model.Match, rejection error) (*Confirmation, error) {
	if conf := c.confirmedMeanwhile(ctx, match); conf != nil {
		return conf, nil
	}
	if reason, ok := model.ReasonFor(rejection); ok {
		if err := c.store.RecordFailure(ctx, match.ID, reason); err != nil {
			c.log.Warn().Err(err).Int64("match_id", match.ID).Msg("failed to record confirmation failure")
		}
	}
	c.log.Debug().
		Int64("campaign_id", match.CampaignID).
		Int64("match_id", match.ID).
		Err(rejection).
		Msg("confirmation rejected")
	return nil, rejection
}

func outcomeLabel(conf *Confirmation, err error) string {
	if err == nil && conf != nil {
		return string(conf.Outcome)
	}
	if errors.Is(err, model.ErrInvalidToken) {
		return "invalid_token"
	}
	if reason, ok := model.ReasonFor(err); ok {
		return string(reason)
	}
	return "error"
}
