package model

import (
	"time"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCanceled  CampaignStatus = "canceled"
)

// AlgoVersion selects the overbooking behavior of a campaign
type AlgoVersion string

const (
	AlgoV2 AlgoVersion = "v2"
	AlgoV3 AlgoVersion = "v3"
)

// RankingMethod selects how the external selector ranks candidates
type RankingMethod string

const (
	RankingV1 RankingMethod = "v1"
	RankingV2 RankingMethod = "v2"
)

// Campaign represents a vaccination campaign in the database.
// AlgoVersion, RankingMethod and OverbookingFactor are frozen at creation.
type Campaign struct {
	ID                int64          `db:"id" json:"id"`
	AvailableDoses    int            `db:"available_doses" json:"available_doses"`
	MinAge            int            `db:"min_age" json:"min_age"`
	MaxAge            int            `db:"max_age" json:"max_age"`
	MaxDistanceMeters int            `db:"max_distance_meters" json:"max_distance_meters"`
	StartsAt          time.Time      `db:"starts_at" json:"starts_at"`
	EndsAt            time.Time      `db:"ends_at" json:"ends_at"`
	Status            CampaignStatus `db:"status" json:"status"`
	CanceledAt        *time.Time     `db:"canceled_at" json:"canceled_at,omitempty"`
	AlgoVersion       AlgoVersion    `db:"algo_version" json:"algo_version"`
	RankingMethod     RankingMethod  `db:"ranking_method" json:"ranking_method"`
	OverbookingFactor int            `db:"overbooking_factor" json:"overbooking_factor"`
	VaccineType       string         `db:"vaccine_type" json:"vaccine_type"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// IsCanceled reports whether the campaign was canceled
func (c *Campaign) IsCanceled() bool {
	return c.Status == CampaignCanceled
}

// IsRunning reports whether the campaign still accepts new matches
func (c *Campaign) IsRunning() bool {
	return c.Status == CampaignRunning
}

// CampaignStats holds counts derived from the current match state of a campaign
type CampaignStats struct {
	Confirmed int `db:"confirmed" json:"confirmed"`
	Total     int `db:"total" json:"total"`
	SMSSent   int `db:"sms_sent" json:"sms_sent"`
	MailSent  int `db:"mail_sent" json:"mail_sent"`
	Pending   int `db:"pending" json:"pending"`
}
