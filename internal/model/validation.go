package model

import "time"

const (
	MinDoses          = 1
	MaxDoses          = 200
	MinEligibleAge    = 18
	MaxDistanceMeters = 50000
	MinCampaignLength = 15 * time.Minute
)

// CampaignParams holds the caller-supplied attributes of a new campaign
type CampaignParams struct {
	AvailableDoses    int       `json:"available_doses"`
	MinAge            int       `json:"min_age"`
	MaxAge            int       `json:"max_age"`
	MaxDistanceMeters int       `json:"max_distance_meters"`
	StartsAt          time.Time `json:"starts_at"`
	EndsAt            time.Time `json:"ends_at"`
	VaccineType       string    `json:"vaccine_type"`
}

// Validate checks the parameters and returns the first violation as a
// *ValidationError.
func (p CampaignParams) Validate() error {
	if p.AvailableDoses < MinDoses || p.AvailableDoses > MaxDoses {
		return &ValidationError{Field: "available_doses", Message: "must be between 1 and 200"}
	}
	if p.MinAge < MinEligibleAge {
		return &ValidationError{Field: "min_age", Message: "must be greater than 17"}
	}
	if p.MaxAge < MinEligibleAge {
		return &ValidationError{Field: "max_age", Message: "must be greater than 17"}
	}
	if p.MinAge >= p.MaxAge {
		return &ValidationError{Field: "min_age", Message: "must be lower than max_age"}
	}
	if p.MaxDistanceMeters < 1 || p.MaxDistanceMeters > MaxDistanceMeters {
		return &ValidationError{Field: "max_distance_meters", Message: "must be between 1 and 50000"}
	}
	if p.VaccineType == "" {
		return &ValidationError{Field: "vaccine_type", Message: "is required"}
	}
	if p.StartsAt.IsZero() || p.EndsAt.IsZero() {
		return &ValidationError{Field: "starts_at", Message: "start and end are required"}
	}
	if p.EndsAt.Before(p.StartsAt.Add(MinCampaignLength)) {
		return &ValidationError{Field: "ends_at", Message: "must be at least 15 minutes after starts_at"}
	}
	if !sameDay(p.StartsAt, p.EndsAt) {
		return &ValidationError{Field: "ends_at", Message: "must be on the same day as starts_at"}
	}
	return nil
}

// sameDay compares calendar days in the location of start.
func sameDay(start, end time.Time) bool {
	end = end.In(start.Location())
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
