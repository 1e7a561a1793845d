package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

const campaignColumns = `id, available_doses, min_age, max_age, max_distance_meters, starts_at, ends_at,
		status, canceled_at, algo_version, ranking_method, overbooking_factor, vaccine_type,
		created_at, updated_at`

// CampaignRepository handles campaign data operations
type CampaignRepository struct{}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{}
}

// CreateCampaign creates a new campaign
func (r *CampaignRepository) CreateCampaign(ctx context.Context, db DBExecutor, campaign *model.Campaign) error {
	query := `
		INSERT INTO campaigns (available_doses, min_age, max_age, max_distance_meters, starts_at, ends_at,
			status, algo_version, ranking_method, overbooking_factor, vaccine_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := db.GetContext(ctx, &campaign.ID, query,
		campaign.AvailableDoses, campaign.MinAge, campaign.MaxAge, campaign.MaxDistanceMeters,
		campaign.StartsAt, campaign.EndsAt, campaign.Status, campaign.AlgoVersion,
		campaign.RankingMethod, campaign.OverbookingFactor, campaign.VaccineType,
		campaign.CreatedAt, campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetCampaign retrieves a campaign by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	return r.getCampaign(ctx, db, id, "")
}

// LockCampaign retrieves a campaign and holds its row lock until the
// surrounding transaction ends
func (r *CampaignRepository) LockCampaign(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	return r.getCampaign(ctx, db, id, "FOR UPDATE")
}

func (r *CampaignRepository) getCampaign(ctx context.Context, db DBExecutor, id int64, suffix string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 ` + suffix

	var campaign model.Campaign
	err := db.GetContext(ctx, &campaign, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// ListCampaigns retrieves campaigns in the given status, oldest first
func (r *CampaignRepository) ListCampaigns(ctx context.Context, db DBExecutor, status model.CampaignStatus) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY id ASC`

	var campaigns []model.Campaign
	if err := db.SelectContext(ctx, &campaigns, query, status); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// SaveCancellation persists a frozen campaign. Already canceled rows are left
// untouched.
func (r *CampaignRepository) SaveCancellation(ctx context.Context, db DBExecutor, c *model.Campaign) error {
	query := `
		UPDATE campaigns
		SET status = $1, canceled_at = $2, available_doses = $3, updated_at = $4
		WHERE id = $5 AND status <> $1
	`

	if _, err := db.ExecContext(ctx, query, model.CampaignCanceled, c.CanceledAt, c.AvailableDoses, c.UpdatedAt, c.ID); err != nil {
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}
	return nil
}

// CompleteCampaign moves a running campaign to completed
func (r *CampaignRepository) CompleteCampaign(ctx context.Context, db DBExecutor, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := db.ExecContext(ctx, query, model.CampaignCompleted, at, id, model.CampaignRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
