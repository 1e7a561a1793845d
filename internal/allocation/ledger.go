// Package allocation holds the dose accounting, outreach budget, overbooking
// and projection rules of a campaign. Everything here is pure: callers build
// values from freshly queried counts and never cache them.
package allocation

import (
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// Ledger is a point-in-time view of a campaign's doses.
type Ledger struct {
	AvailableDoses int
	ConfirmedCount int
}

// NewLedger builds a ledger from a campaign and its current confirmed count.
func NewLedger(c *model.Campaign, confirmed int) Ledger {
	return Ledger{AvailableDoses: c.AvailableDoses, ConfirmedCount: confirmed}
}

// RemainingDoses never goes below zero.
func (l Ledger) RemainingDoses() int {
	if r := l.AvailableDoses - l.ConfirmedCount; r > 0 {
		return r
	}
	return 0
}

// HasRemainingDoses reports whether at least one dose can still be confirmed.
func (l Ledger) HasRemainingDoses() bool {
	return l.RemainingDoses() > 0
}

// FreezeAtCancellation cancels c and overwrites its available doses with the
// confirmed count, so the campaign reports what was actually used. It returns
// false and leaves c untouched if c was already canceled.
//
// Callers must hold the campaign's critical section.
func FreezeAtCancellation(c *model.Campaign, confirmed int, at time.Time) bool {
	if c.IsCanceled() {
		return false
	}
	c.Status = model.CampaignCanceled
	c.CanceledAt = &at
	c.AvailableDoses = confirmed
	c.UpdatedAt = at
	return true
}
