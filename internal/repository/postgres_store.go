package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// PostgresStore implements Store on PostgreSQL. The campaign critical section
// is a transaction holding the campaign row lock (SELECT ... FOR UPDATE).
type PostgresStore struct {
	postgres     *sqlx.DB
	campaignRepo *CampaignRepository
	matchRepo    *MatchRepository
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(postgres *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		postgres:     postgres,
		campaignRepo: NewCampaignRepository(),
		matchRepo:    NewMatchRepository(),
	}
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	return s.campaignRepo.CreateCampaign(ctx, s.postgres, c)
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.campaignRepo.GetCampaign(ctx, s.postgres, id)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	return s.campaignRepo.ListCampaigns(ctx, s.postgres, status)
}

func (s *PostgresStore) CompleteCampaign(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.campaignRepo.CompleteCampaign(ctx, s.postgres, id, at)
}

func (s *PostgresStore) CampaignStats(ctx context.Context, id int64, now time.Time) (model.CampaignStats, error) {
	return s.matchRepo.CampaignStats(ctx, s.postgres, id, now)
}

func (s *PostgresStore) CreateMatches(ctx context.Context, matches []*model.Match) ([]*model.Match, error) {
	tx, err := s.postgres.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created, err := s.matchRepo.CreateMatches(ctx, tx, matches)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetMatchByToken(ctx context.Context, token string) (*model.Match, error) {
	return s.matchRepo.GetMatchByToken(ctx, s.postgres, token)
}

func (s *PostgresStore) ListMatches(ctx context.Context, campaignID int64) ([]model.Match, error) {
	return s.matchRepo.ListMatches(ctx, s.postgres, campaignID)
}

func (s *PostgresStore) ListConfirmedMatches(ctx context.Context, campaignID int64) ([]model.Match, error) {
	return s.matchRepo.ListConfirmedMatches(ctx, s.postgres, campaignID)
}

func (s *PostgresStore) RecordOutreach(ctx context.Context, token string, channel model.OutreachChannel, at time.Time) (*model.Match, error) {
	if err := s.matchRepo.RecordOutreach(ctx, s.postgres, token, channel, at); err != nil {
		return nil, err
	}
	return s.matchRepo.GetMatchByToken(ctx, s.postgres, token)
}

func (s *PostgresStore) RecordFailure(ctx context.Context, matchID int64, reason model.FailureReason) error {
	return s.matchRepo.RecordFailure(ctx, s.postgres, matchID, reason)
}

// WithCampaignLock serialises fn against every other holder of the campaign
// row lock, including concurrent confirmations and cancellation.
func (s *PostgresStore) WithCampaignLock(ctx context.Context, campaignID int64, fn func(tx CampaignTx) error) error {
	tx, err := s.postgres.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	campaign, err := s.campaignRepo.LockCampaign(ctx, tx, campaignID)
	if err != nil {
		return err
	}

	if err := fn(&postgresCampaignTx{tx: tx, campaign: campaign, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresCampaignTx struct {
	tx       *sqlx.Tx
	campaign *model.Campaign
	store    *PostgresStore
}

func (t *postgresCampaignTx) Campaign() *model.Campaign {
	return t.campaign
}

func (t *postgresCampaignTx) ConfirmedCount(ctx context.Context) (int, error) {
	return t.store.matchRepo.CountConfirmed(ctx, t.tx, t.campaign.ID)
}

func (t *postgresCampaignTx) ConfirmMatch(ctx context.Context, matchID int64, at time.Time) (bool, error) {
	return t.store.matchRepo.ConfirmMatch(ctx, t.tx, t.campaign.ID, matchID, t.campaign.AvailableDoses, at)
}

func (t *postgresCampaignTx) RecordFailure(ctx context.Context, matchID int64, reason model.FailureReason) error {
	return t.store.matchRepo.RecordFailure(ctx, t.tx, matchID, reason)
}

func (t *postgresCampaignTx) SaveCancellation(ctx context.Context, c *model.Campaign) error {
	if err := t.store.campaignRepo.SaveCancellation(ctx, t.tx, c); err != nil {
		return err
	}
	t.campaign = c
	return nil
}
