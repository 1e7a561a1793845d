package model

import "time"

// FailureReason is recorded on a match when a confirmation attempt is rejected
type FailureReason string

const (
	ReasonExpired          FailureReason = "expired"
	ReasonCampaignCanceled FailureReason = "campaign_canceled"
	ReasonNoRemainingDoses FailureReason = "no_remaining_doses"
	ReasonAlreadyConfirmed FailureReason = "already_confirmed"
)

// OutreachChannel identifies how a candidate was contacted
type OutreachChannel string

const (
	ChannelSMS   OutreachChannel = "sms"
	ChannelEmail OutreachChannel = "email"
)

// Match pairs one candidate with one campaign
type Match struct {
	ID                       int64          `db:"id" json:"id"`
	CampaignID               int64          `db:"campaign_id" json:"campaign_id"`
	UserID                   string         `db:"user_id" json:"user_id"`
	ConfirmationToken        string         `db:"confirmation_token" json:"-"`
	ExpiresAt                time.Time      `db:"expires_at" json:"expires_at"`
	MailSentAt               *time.Time     `db:"mail_sent_at" json:"mail_sent_at,omitempty"`
	SMSSentAt                *time.Time     `db:"sms_sent_at" json:"sms_sent_at,omitempty"`
	ConfirmedAt              *time.Time     `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ConfirmationFailedReason *FailureReason `db:"confirmation_failed_reason" json:"confirmation_failed_reason,omitempty"`
	CreatedAt                time.Time      `db:"created_at" json:"created_at"`
}

// IsConfirmed reports whether the match holds a dose
func (m *Match) IsConfirmed() bool {
	return m.ConfirmedAt != nil
}

// IsExpired reports whether the match can no longer be confirmed at now
func (m *Match) IsExpired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// IsPending reports whether the match is still outstanding at now
func (m *Match) IsPending(now time.Time) bool {
	return !m.IsConfirmed() && !m.IsExpired(now)
}

// OutreachSentAt returns the earliest known outreach time, preferring email.
func (m *Match) OutreachSentAt() *time.Time {
	if m.MailSentAt != nil {
		return m.MailSentAt
	}
	return m.SMSSentAt
}
