package allocation

import (
	"strings"

	"github.com/kkkkikiki/vaxmatch/internal/config"
	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// Budget reports the advisory outreach allowance of a campaign. Values may be
// negative when a campaign went over budget.
type Budget struct {
	policy        config.BudgetPolicy
	vaccineType   string
	availableDose int
	stats         model.CampaignStats
}

// NewBudget builds a budget from the campaign, its current stats and the policy.
func NewBudget(policy config.BudgetPolicy, c *model.Campaign, stats model.CampaignStats) Budget {
	return Budget{
		policy:        policy,
		vaccineType:   c.VaccineType,
		availableDose: c.AvailableDoses,
		stats:         stats,
	}
}

// SMSBudgetRemaining is zero for SMS-restricted vaccine types.
func (b Budget) SMSBudgetRemaining() int {
	if b.smsRestricted() {
		return 0
	}
	return b.availableDose*b.policy.SMSPerDose - b.stats.SMSSent
}

// EmailBudgetRemaining counts every match against the email allowance.
func (b Budget) EmailBudgetRemaining() int {
	return b.availableDose*b.policy.EmailPerDose - b.stats.Total
}

func (b Budget) smsRestricted() bool {
	for _, v := range b.policy.SMSRestrictedVaccines {
		if strings.EqualFold(v, b.vaccineType) {
			return true
		}
	}
	return false
}
