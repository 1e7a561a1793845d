package allocation

import "github.com/kkkkikiki/vaxmatch/internal/model"

const (
	// InitialOverbookingFactor bounds the first burst of a campaign.
	InitialOverbookingFactor = 20

	overbookingFactorV3      = 20
	overbookingFactorDefault = 40
)

// OverbookingFactorFor returns the factor frozen into a campaign at creation.
func OverbookingFactorFor(algo model.AlgoVersion) int {
	if algo == model.AlgoV3 {
		return overbookingFactorV3
	}
	return overbookingFactorDefault
}

// Planner sizes how many candidates a campaign should keep outstanding.
type Planner struct {
	ledger Ledger
	factor int
}

// NewPlanner builds a planner from a ledger and the campaign's frozen factor.
func NewPlanner(ledger Ledger, overbookingFactor int) Planner {
	return Planner{ledger: ledger, factor: overbookingFactor}
}

// TargetMatchesCount is the steady-state number of outstanding candidates.
func (p Planner) TargetMatchesCount() int {
	return p.ledger.RemainingDoses() * p.factor
}

// InitialMatchCount is used once, before the campaign has any matches.
func (p Planner) InitialMatchCount() int {
	return p.ledger.RemainingDoses() * InitialOverbookingFactor
}

// Plan is a snapshot of the targeting decision for one campaign.
type Plan struct {
	RemainingDoses int  `json:"remaining_doses"`
	Target         int  `json:"target"`
	Initial        int  `json:"initial"`
	Pending        int  `json:"pending"`
	ToSelect       int  `json:"to_select"`
	FirstBatch     bool `json:"first_batch"`
}

// Plan combines the targets with the campaign's current match counts.
// ToSelect is how many new candidates the external selector should return.
func (p Planner) Plan(stats model.CampaignStats) Plan {
	plan := Plan{
		RemainingDoses: p.ledger.RemainingDoses(),
		Target:         p.TargetMatchesCount(),
		Initial:        p.InitialMatchCount(),
		Pending:        stats.Pending,
		FirstBatch:     stats.Total == 0,
	}

	goal := plan.Target
	if plan.FirstBatch {
		goal = plan.Initial
	}
	if n := goal - stats.Pending; n > 0 {
		plan.ToSelect = n
	}
	return plan
}
