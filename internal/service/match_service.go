package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/repository"
)

// ErrCampaignNotRunning is returned when matches are added to a campaign
// that is canceled, completed or past its end.
var ErrCampaignNotRunning = errors.New("campaign is not running")

// MatchService turns the external selector's candidates into pending matches
// and records what the outreach collaborator did with them.
type MatchService struct {
	store    repository.Store
	matchTTL time.Duration
	log      *zerolog.Logger
	now      func() time.Time
}

// NewMatchService creates a new MatchService instance
func NewMatchService(store repository.Store, matchTTL time.Duration, logger *zerolog.Logger, opts ...Option) *MatchService {
	o := buildOptions(opts)
	l := logger.With().Str("component", "MatchService").Logger()
	return &MatchService{store: store, matchTTL: matchTTL, log: &l, now: o.now}
}

// Plan returns how many candidates the selector should provide right now.
func (s *MatchService) Plan(ctx context.Context, campaignID int64) (allocation.Plan, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return allocation.Plan{}, err
	}
	stats, err := s.store.CampaignStats(ctx, campaignID, s.now())
	if err != nil {
		return allocation.Plan{}, fmt.Errorf("failed to count matches: %w", err)
	}
	return planFor(campaign, allocation.NewLedger(campaign, stats.Confirmed), stats), nil
}

// AddMatches creates pending matches for the given users. At most
// Plan.ToSelect users are taken, in the order given; users already matched
// to the campaign are skipped. The cap is advisory: concurrent callers may
// each see the same plan.
func (s *MatchService) AddMatches(ctx context.Context, campaignID int64, userIDs []string) ([]*model.Match, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !campaign.IsRunning() || !now.Before(campaign.EndsAt) {
		return nil, ErrCampaignNotRunning
	}

	plan, err := s.Plan(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.matchTTL)
	if expiresAt.After(campaign.EndsAt) {
		expiresAt = campaign.EndsAt
	}

	seen := make(map[string]bool, len(userIDs))
	matches := make([]*model.Match, 0, min(len(userIDs), plan.ToSelect))
	for _, userID := range userIDs {
		if len(matches) >= plan.ToSelect {
			break
		}
		userID = strings.TrimSpace(userID)
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		matches = append(matches, &model.Match{
			CampaignID:        campaignID,
			UserID:            userID,
			ConfirmationToken: uuid.NewString(),
			ExpiresAt:         expiresAt,
			CreatedAt:         now,
		})
	}
	if len(matches) == 0 {
		return []*model.Match{}, nil
	}

	created, err := s.store.CreateMatches(ctx, matches)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("campaign_id", campaignID).
		Int("requested", len(userIDs)).
		Int("created", len(created)).
		Int("to_select", plan.ToSelect).
		Msg("matches created")
	return created, nil
}

// RecordOutreach stores when a candidate was contacted.
func (s *MatchService) RecordOutreach(ctx context.Context, token string, channel model.OutreachChannel) (*model.Match, error) {
	return s.store.RecordOutreach(ctx, token, channel, s.now())
}

// ListConfirmed returns confirmed matches ordered by confirmation time, ties
// broken by match id.
func (s *MatchService) ListConfirmed(ctx context.Context, campaignID int64) ([]model.Match, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListConfirmedMatches(ctx, campaignID)
}
