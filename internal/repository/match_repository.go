package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

const matchColumns = `id, campaign_id, user_id, confirmation_token, expires_at, mail_sent_at, sms_sent_at,
		confirmed_at, confirmation_failed_reason, created_at`

// MatchRepository handles match data operations
type MatchRepository struct{}

// NewMatchRepository creates a new match repository
func NewMatchRepository() *MatchRepository {
	return &MatchRepository{}
}

// CreateMatches inserts matches in batches and returns those that were not
// already present for the same campaign and user
func (r *MatchRepository) CreateMatches(ctx context.Context, db DBExecutor, matches []*model.Match) ([]*model.Match, error) {
	// PostgreSQL allows at most 65535 parameters per statement
	batchSize := 1000

	created := make([]*model.Match, 0, len(matches))
	for i := 0; i < len(matches); i += batchSize {
		end := i + batchSize
		if end > len(matches) {
			end = len(matches)
		}

		inserted, err := r.insertMatchBatch(ctx, db, matches[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to insert match batch: %w", err)
		}
		created = append(created, inserted...)
	}

	return created, nil
}

type insertedMatch struct {
	ID     int64  `db:"id"`
	UserID string `db:"user_id"`
}

// insertMatchBatch inserts a batch of matches using a single query
func (r *MatchRepository) insertMatchBatch(ctx context.Context, db DBExecutor, matches []*model.Match) ([]*model.Match, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	valuesClause := make([]string, len(matches))
	args := make([]interface{}, 0, len(matches)*5)

	for i, m := range matches {
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			i*5+1, i*5+2, i*5+3, i*5+4, i*5+5)
		args = append(args, m.CampaignID, m.UserID, m.ConfirmationToken, m.ExpiresAt, m.CreatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO matches (campaign_id, user_id, confirmation_token, expires_at, created_at)
		VALUES %s
		ON CONFLICT (campaign_id, user_id) DO NOTHING
		RETURNING id, user_id
	`, strings.Join(valuesClause, ", "))

	var rows []insertedMatch
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to execute batch insert: %w", err)
	}

	byUser := make(map[string]*model.Match, len(matches))
	for _, m := range matches {
		byUser[m.UserID] = m
	}
	inserted := make([]*model.Match, 0, len(rows))
	for _, row := range rows {
		if m, ok := byUser[row.UserID]; ok {
			m.ID = row.ID
			inserted = append(inserted, m)
		}
	}
	return inserted, nil
}

// GetMatchByToken retrieves the match behind a confirmation token
func (r *MatchRepository) GetMatchByToken(ctx context.Context, db DBExecutor, token string) (*model.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE confirmation_token = $1`

	var match model.Match
	if err := db.GetContext(ctx, &match, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// ListMatches retrieves every match of a campaign
func (r *MatchRepository) ListMatches(ctx context.Context, db DBExecutor, campaignID int64) ([]model.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE campaign_id = $1 ORDER BY id ASC`

	var matches []model.Match
	if err := db.SelectContext(ctx, &matches, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return matches, nil
}

// ListConfirmedMatches retrieves confirmed matches ordered by confirmation
// time, ties broken by id
func (r *MatchRepository) ListConfirmedMatches(ctx context.Context, db DBExecutor, campaignID int64) ([]model.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE campaign_id = $1 AND confirmed_at IS NOT NULL
		ORDER BY confirmed_at ASC, id ASC
	`

	var matches []model.Match
	if err := db.SelectContext(ctx, &matches, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list confirmed matches: %w", err)
	}
	return matches, nil
}

// CampaignStats counts the current match state of a campaign
func (r *MatchRepository) CampaignStats(ctx context.Context, db DBExecutor, campaignID int64, now time.Time) (model.CampaignStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE confirmed_at IS NOT NULL) AS confirmed,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE sms_sent_at IS NOT NULL) AS sms_sent,
			COUNT(*) FILTER (WHERE mail_sent_at IS NOT NULL) AS mail_sent,
			COUNT(*) FILTER (WHERE confirmed_at IS NULL AND expires_at >= $2) AS pending
		FROM matches
		WHERE campaign_id = $1
	`

	var stats model.CampaignStats
	if err := db.GetContext(ctx, &stats, query, campaignID, now); err != nil {
		return model.CampaignStats{}, fmt.Errorf("failed to count matches: %w", err)
	}
	return stats, nil
}

// CountConfirmed counts confirmed matches of a campaign
func (r *MatchRepository) CountConfirmed(ctx context.Context, db DBExecutor, campaignID int64) (int, error) {
	var count int
	err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM matches WHERE campaign_id = $1 AND confirmed_at IS NOT NULL`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed matches: %w", err)
	}
	return count, nil
}

// ConfirmMatch sets confirmed_at if the match is unconfirmed and the campaign
// still has fewer confirmed matches than available doses
func (r *MatchRepository) ConfirmMatch(ctx context.Context, db DBExecutor, campaignID, matchID int64, availableDoses int, at time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET confirmed_at = $1, confirmation_failed_reason = NULL
		WHERE id = $2 AND confirmed_at IS NULL
		  AND (SELECT COUNT(*) FROM matches WHERE campaign_id = $3 AND confirmed_at IS NOT NULL) < $4
	`

	result, err := db.ExecContext(ctx, query, at, matchID, campaignID, availableDoses)
	if err != nil {
		return false, fmt.Errorf("failed to confirm match: %w", err)
	}

	// Check if any row was actually updated
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// RecordFailure stores the reason of a rejected confirmation attempt
func (r *MatchRepository) RecordFailure(ctx context.Context, db DBExecutor, matchID int64, reason model.FailureReason) error {
	_, err := db.ExecContext(ctx,
		`UPDATE matches SET confirmation_failed_reason = $1 WHERE id = $2 AND confirmed_at IS NULL`,
		reason, matchID)
	if err != nil {
		return fmt.Errorf("failed to record confirmation failure: %w", err)
	}
	return nil
}

// RecordOutreach stores the first time a candidate was contacted on a channel
func (r *MatchRepository) RecordOutreach(ctx context.Context, db DBExecutor, token string, channel model.OutreachChannel, at time.Time) error {
	var column string
	switch channel {
	case model.ChannelSMS:
		column = "sms_sent_at"
	case model.ChannelEmail:
		column = "mail_sent_at"
	default:
		return fmt.Errorf("unknown outreach channel %q", channel)
	}

	query := fmt.Sprintf(`UPDATE matches SET %[1]s = COALESCE(%[1]s, $1) WHERE confirmation_token = $2`, column)
	result, err := db.ExecContext(ctx, query, at, token)
	if err != nil {
		return fmt.Errorf("failed to record outreach: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrInvalidToken
	}
	return nil
}
