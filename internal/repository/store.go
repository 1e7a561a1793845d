package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store is the persistence contract of the allocation services.
//
// Reads outside WithCampaignLock are point-in-time snapshots. Decisions that
// depend on the confirmed count must be taken inside WithCampaignLock.
type Store interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
	CompleteCampaign(ctx context.Context, id int64, at time.Time) (bool, error)
	CampaignStats(ctx context.Context, id int64, now time.Time) (model.CampaignStats, error)

	// CreateMatches inserts matches, skipping users already matched to the
	// campaign, and returns the ones actually inserted.
	CreateMatches(ctx context.Context, matches []*model.Match) ([]*model.Match, error)
	GetMatchByToken(ctx context.Context, token string) (*model.Match, error)
	ListMatches(ctx context.Context, campaignID int64) ([]model.Match, error)
	ListConfirmedMatches(ctx context.Context, campaignID int64) ([]model.Match, error)
	RecordOutreach(ctx context.Context, token string, channel model.OutreachChannel, at time.Time) (*model.Match, error)
	RecordFailure(ctx context.Context, matchID int64, reason model.FailureReason) error

	// WithCampaignLock runs fn inside the campaign's critical section.
	// Transactional stores discard writes when fn returns an error, so fn
	// returns nil once it has written a decision it wants kept.
	WithCampaignLock(ctx context.Context, campaignID int64, fn func(tx CampaignTx) error) error
}

// CampaignTx is the view of a campaign inside its critical section.
type CampaignTx interface {
	// Campaign returns the campaign as read under the lock.
	Campaign() *model.Campaign
	ConfirmedCount(ctx context.Context) (int, error)
	// ConfirmMatch sets confirmed_at only if it is still null and the campaign
	// has a dose left. It reports whether the row was updated.
	ConfirmMatch(ctx context.Context, matchID int64, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, matchID int64, reason model.FailureReason) error
	SaveCancellation(ctx context.Context, c *model.Campaign) error
}
