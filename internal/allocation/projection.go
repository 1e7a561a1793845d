package allocation

import (
	"math"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/config"
	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// Curve is the cumulative response curve 1 - a·exp(-b·t - c·t^(1/3)), with t
// in minutes since outreach. It estimates the share of eventual confirmations
// that have arrived by t.
type Curve struct {
	A, B, C float64
}

// NewCurve builds a curve from the policy coefficients.
func NewCurve(p config.ProjectionPolicy) Curve {
	return Curve{A: p.A, B: p.B, C: p.C}
}

// Weight returns how many eventual confirmations one confirmation observed at
// t minutes stands for. Before the curve turns positive (under a minute with
// the default coefficients) a confirmation stands only for itself.
func (c Curve) Weight(minutes float64) float64 {
	if minutes < 0 {
		minutes = 0
	}
	share := 1 - c.A*math.Exp(-c.B*minutes-c.C*math.Cbrt(minutes))
	if share <= 0 {
		return 1
	}
	return 1 / share
}

// Project estimates the eventual number of confirmations. The result is 0 when
// nothing is confirmed and never exceeds the number of matches.
func (c Curve) Project(matches []model.Match, now time.Time) float64 {
	var sum float64
	confirmed := 0
	for i := range matches {
		m := &matches[i]
		if !m.IsConfirmed() {
			continue
		}
		confirmed++

		sent := m.OutreachSentAt()
		if sent == nil {
			sum++
			continue
		}
		sum += c.Weight(now.Sub(*sent).Minutes())
	}

	if confirmed == 0 {
		return 0
	}
	return math.Min(sum, float64(len(matches)))
}

// Projection is an advisory forecast for one campaign.
type Projection struct {
	CampaignID       int64   `json:"campaign_id"`
	Projected        float64 `json:"projected"`
	Confirmed        int     `json:"confirmed"`
	TotalMatches     int     `json:"total_matches"`
	AvailableDoses   int     `json:"available_doses"`
	ExpectedFill     float64 `json:"expected_fill"`
	NeedsMoreTargets bool    `json:"needs_more_targets"`
}

// Forecast runs the curve over a campaign's matches.
func (c Curve) Forecast(campaign *model.Campaign, matches []model.Match, now time.Time) Projection {
	p := Projection{
		CampaignID:     campaign.ID,
		Projected:      c.Project(matches, now),
		TotalMatches:   len(matches),
		AvailableDoses: campaign.AvailableDoses,
	}
	for i := range matches {
		if matches[i].IsConfirmed() {
			p.Confirmed++
		}
	}
	p.ExpectedFill = math.Min(p.Projected, float64(campaign.AvailableDoses))
	p.NeedsMoreTargets = campaign.IsRunning() && p.ExpectedFill < float64(campaign.AvailableDoses)
	return p
}
