package rpc

import (
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/service"
)

type CreateCampaignRequest struct {
	model.CampaignParams
}

type CreateCampaignResponse struct {
	Campaign *model.Campaign `json:"campaign"`
}

type GetCampaignRequest struct {
	CampaignID int64 `json:"campaign_id"`
}

type GetCampaignResponse struct {
	Report *service.CampaignReport `json:"report"`
}

type CancelCampaignRequest struct {
	CampaignID int64 `json:"campaign_id"`
}

type CancelCampaignResponse struct {
	Campaign *model.Campaign `json:"campaign"`
}

// CreateMatchesRequest carries the candidates picked by the external selector.
type CreateMatchesRequest struct {
	CampaignID int64    `json:"campaign_id"`
	UserIDs    []string `json:"user_ids"`
}

// MatchTicket is what outreach needs to contact one candidate.
type MatchTicket struct {
	MatchID           int64     `json:"match_id"`
	UserID            string    `json:"user_id"`
	ConfirmationToken string    `json:"confirmation_token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type CreateMatchesResponse struct {
	Matches []MatchTicket   `json:"matches"`
	Plan    allocation.Plan `json:"plan"`
}

type ConfirmMatchRequest struct {
	Token string `json:"token"`
}

// OutcomeRejected is reported for every confirmation that did not obtain a
// dose. Reason names the rejection.
const OutcomeRejected = "rejected"

// ConfirmMatchResponse reports the outcome of one attempt. Rejections are not
// RPC errors.
type ConfirmMatchResponse struct {
	Outcome string       `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
	Match   *model.Match `json:"match,omitempty"`
}

// Confirmed reports whether the match holds a dose.
func (r *ConfirmMatchResponse) Confirmed() bool {
	return r.Outcome == string(service.OutcomeConfirmed) || r.Outcome == string(service.OutcomeAlreadyConfirmedByYou)
}

type RecordOutreachRequest struct {
	Token   string                `json:"token"`
	Channel model.OutreachChannel `json:"channel"`
}

type RecordOutreachResponse struct {
	Match *model.Match `json:"match"`
}

type ListConfirmedMatchesRequest struct {
	CampaignID int64 `json:"campaign_id"`
}

type ListConfirmedMatchesResponse struct {
	Matches []model.Match `json:"matches"`
}
