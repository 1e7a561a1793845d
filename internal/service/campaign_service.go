package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/config"
	"github.com/kkkkikiki/vaxmatch/internal/metrics"
	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/repository"
	"github.com/kkkkikiki/vaxmatch/internal/tracing"
)

const notifyTimeout = 10 * time.Second

// CampaignService creates, reports on and cancels campaigns.
type CampaignService struct {
	store     repository.Store
	flags     FlagSource
	notifier  Notifier
	projector *Projector
	policy    config.Policy
	log       *zerolog.Logger
	now       func() time.Time

	notifications sync.WaitGroup
}

// NewCampaignService creates a new CampaignService instance
func NewCampaignService(
	store repository.Store,
	flags FlagSource,
	notifier Notifier,
	projector *Projector,
	policy config.Policy,
	logger *zerolog.Logger,
	opts ...Option,
) *CampaignService {
	o := buildOptions(opts)
	l := logger.With().Str("component", "CampaignService").Logger()
	return &CampaignService{
		store:     store,
		flags:     flags,
		notifier:  notifier,
		projector: projector,
		policy:    policy,
		log:       &l,
		now:       o.now,
	}
}

// CreateCampaign validates params, freezes the algorithm parameters from the
// current flags and persists the campaign. Nothing is stored when validation
// fails.
func (s *CampaignService) CreateCampaign(ctx context.Context, params model.CampaignParams) (*model.Campaign, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	algoV3, err := s.flags.AlgoV3Enabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read algorithm flag: %w", err)
	}
	rankingV2, err := s.flags.RankingV2Enabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking flag: %w", err)
	}

	algo := model.AlgoV2
	if algoV3 {
		algo = model.AlgoV3
	}
	ranking := model.RankingV1
	if rankingV2 {
		ranking = model.RankingV2
	}

	now := s.now()
	campaign := &model.Campaign{
		AvailableDoses:    params.AvailableDoses,
		MinAge:            params.MinAge,
		MaxAge:            params.MaxAge,
		MaxDistanceMeters: params.MaxDistanceMeters,
		StartsAt:          params.StartsAt,
		EndsAt:            params.EndsAt,
		Status:            model.CampaignRunning,
		AlgoVersion:       algo,
		RankingMethod:     ranking,
		OverbookingFactor: allocation.OverbookingFactorFor(algo),
		VaccineType:       params.VaccineType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	metrics.IncCampaignTransition(string(model.CampaignRunning))

	s.log.Info().
		Int64("campaign_id", campaign.ID).
		Int("available_doses", campaign.AvailableDoses).
		Str("algo_version", string(campaign.AlgoVersion)).
		Str("ranking_method", string(campaign.RankingMethod)).
		Msg("campaign created")

	s.notifyCreated(ctx, campaign)
	return campaign, nil
}

// notifyCreated informs the notifier in the background. Failures are logged.
func (s *CampaignService) notifyCreated(ctx context.Context, campaign *model.Campaign) {
	if s.notifier == nil {
		return
	}
	snapshot := *campaign

	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Int64("campaign_id", snapshot.ID).Msg("campaign notifier panicked")
			}
		}()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.CampaignCreated(nctx, &snapshot); err != nil {
			s.log.Warn().Err(err).Int64("campaign_id", snapshot.ID).Msg("campaign notification failed")
		}
	}()
}

// Wait blocks until pending notifications are done.
func (s *CampaignService) Wait() {
	s.notifications.Wait()
}

// GetCampaign returns a campaign by ID
func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// CampaignReport is a snapshot of a campaign's accounting.
type CampaignReport struct {
	Campaign             *model.Campaign        `json:"campaign"`
	Stats                model.CampaignStats    `json:"stats"`
	RemainingDoses       int                    `json:"remaining_doses"`
	SMSBudgetRemaining   int                    `json:"sms_budget_remaining"`
	EmailBudgetRemaining int                    `json:"email_budget_remaining"`
	Plan                 allocation.Plan        `json:"plan"`
	Projection           *allocation.Projection `json:"projection,omitempty"`
}

// Report gathers ledger, budget, plan and projection for a campaign. A
// projection failure leaves Projection nil.
func (s *CampaignService) Report(ctx context.Context, id int64) (*CampaignReport, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.CampaignStats(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}

	ledger := allocation.NewLedger(campaign, stats.Confirmed)
	budget := allocation.NewBudget(s.policy.Budget, campaign, stats)
	report := &CampaignReport{
		Campaign:             campaign,
		Stats:                stats,
		RemainingDoses:       ledger.RemainingDoses(),
		SMSBudgetRemaining:   budget.SMSBudgetRemaining(),
		EmailBudgetRemaining: budget.EmailBudgetRemaining(),
		Plan:                 planFor(campaign, ledger, stats),
	}

	if s.projector != nil {
		projection, err := s.projector.Project(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Int64("campaign_id", id).Msg("projection failed")
		} else {
			report.Projection = &projection
		}
	}
	return report, nil
}

// CancelCampaign cancels a campaign and freezes its doses at the confirmed
// count. Canceling an already canceled campaign returns it unchanged.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int64) (campaign *model.Campaign, err error) {
	ctx, span := tracing.StartSpan(ctx, "CampaignService.CancelCampaign", attribute.Int64("campaign_id", id))
	defer func() { tracing.EndSpan(span, err) }()

	canceled := false
	err = s.store.WithCampaignLock(ctx, id, func(tx repository.CampaignTx) error {
		frozen := *tx.Campaign()
		confirmed, err := tx.ConfirmedCount(ctx)
		if err != nil {
			return err
		}
		if !allocation.FreezeAtCancellation(&frozen, confirmed, s.now()) {
			campaign = tx.Campaign()
			return nil
		}
		if err := tx.SaveCancellation(ctx, &frozen); err != nil {
			return err
		}
		campaign = &frozen
		canceled = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if canceled {
		metrics.IncCampaignTransition(string(model.CampaignCanceled))
		metrics.ForgetCampaign(id)
		s.log.Info().
			Int64("campaign_id", id).
			Int("available_doses", campaign.AvailableDoses).
			Msg("campaign canceled")
	}
	return campaign, nil
}

// CompleteEnded marks running campaigns whose end time has passed as
// completed and returns how many were moved.
func (s *CampaignService) CompleteEnded(ctx context.Context) (int, error) {
	running, err := s.store.ListCampaigns(ctx, model.CampaignRunning)
	if err != nil {
		return 0, err
	}

	now := s.now()
	completed := 0
	for i := range running {
		c := &running[i]
		if !now.After(c.EndsAt) {
			continue
		}
		ok, err := s.store.CompleteCampaign(ctx, c.ID, now)
		if err != nil {
			return completed, err
		}
		if ok {
			completed++
			metrics.IncCampaignTransition(string(model.CampaignCompleted))
			metrics.ForgetCampaign(c.ID)
			s.log.Info().Int64("campaign_id", c.ID).Msg("campaign completed")
		}
	}
	return completed, nil
}

// RunningCampaigns lists campaigns still accepting matches.
func (s *CampaignService) RunningCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.store.ListCampaigns(ctx, model.CampaignRunning)
}

func planFor(campaign *model.Campaign, ledger allocation.Ledger, stats model.CampaignStats) allocation.Plan {
	if !campaign.IsRunning() {
		return allocation.NewPlanner(allocation.Ledger{}, campaign.OverbookingFactor).Plan(stats)
	}
	return allocation.NewPlanner(ledger, campaign.OverbookingFactor).Plan(stats)
}
