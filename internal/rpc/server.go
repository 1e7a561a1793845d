package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/service"
)

// ServiceName is the fully-qualified name of the allocation service.
const ServiceName = "vaxmatch.v1.AllocationService"

const (
	CreateCampaignProcedure       = "/" + ServiceName + "/CreateCampaign"
	GetCampaignProcedure          = "/" + ServiceName + "/GetCampaign"
	CancelCampaignProcedure       = "/" + ServiceName + "/CancelCampaign"
	CreateMatchesProcedure        = "/" + ServiceName + "/CreateMatches"
	ConfirmMatchProcedure         = "/" + ServiceName + "/ConfirmMatch"
	RecordOutreachProcedure       = "/" + ServiceName + "/RecordOutreach"
	ListConfirmedMatchesProcedure = "/" + ServiceName + "/ListConfirmedMatches"
)

// Server implements the allocation service on top of the domain services.
type Server struct {
	campaigns   *service.CampaignService
	matches     *service.MatchService
	coordinator *service.Coordinator
	log         *zerolog.Logger
}

// NewServer creates a new Server instance
func NewServer(
	campaigns *service.CampaignService,
	matches *service.MatchService,
	coordinator *service.Coordinator,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "RPCServer").Logger()
	return &Server{campaigns: campaigns, matches: matches, coordinator: coordinator, log: &l}
}

// Handler builds an HTTP handler serving every procedure and returns the path
// to mount it on.
func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateCampaignProcedure, connect.NewUnaryHandler(CreateCampaignProcedure, s.CreateCampaign, opts...))
	mux.Handle(GetCampaignProcedure, connect.NewUnaryHandler(GetCampaignProcedure, s.GetCampaign, opts...))
	mux.Handle(CancelCampaignProcedure, connect.NewUnaryHandler(CancelCampaignProcedure, s.CancelCampaign, opts...))
	mux.Handle(CreateMatchesProcedure, connect.NewUnaryHandler(CreateMatchesProcedure, s.CreateMatches, opts...))
	mux.Handle(ConfirmMatchProcedure, connect.NewUnaryHandler(ConfirmMatchProcedure, s.ConfirmMatch, opts...))
	mux.Handle(RecordOutreachProcedure, connect.NewUnaryHandler(RecordOutreachProcedure, s.RecordOutreach, opts...))
	mux.Handle(ListConfirmedMatchesProcedure, connect.NewUnaryHandler(ListConfirmedMatchesProcedure, s.ListConfirmedMatches, opts...))
	return "/" + ServiceName + "/", mux
}

// CreateCampaign creates a new vaccination campaign
func (s *Server) CreateCampaign(
	ctx context.Context,
	req *connect.Request[CreateCampaignRequest],
) (*connect.Response[CreateCampaignResponse], error) {
	campaign, err := s.campaigns.CreateCampaign(ctx, req.Msg.CampaignParams)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	return connect.NewResponse(&CreateCampaignResponse{Campaign: campaign}), nil
}

// GetCampaign returns the campaign together with its accounting report
func (s *Server) GetCampaign(
	ctx context.Context,
	req *connect.Request[GetCampaignRequest],
) (*connect.Response[GetCampaignResponse], error) {
	report, err := s.campaigns.Report(ctx, req.Msg.CampaignID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	return connect.NewResponse(&GetCampaignResponse{Report: report}), nil
}

// CancelCampaign cancels a campaign; canceling twice is not an error
func (s *Server) CancelCampaign(
	ctx context.Context,
	req *connect.Request[CancelCampaignRequest],
) (*connect.Response[CancelCampaignResponse], error) {
	campaign, err := s.campaigns.CancelCampaign(ctx, req.Msg.CampaignID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	return connect.NewResponse(&CancelCampaignResponse{Campaign: campaign}), nil
}

// CreateMatches turns selected candidates into pending matches
func (s *Server) CreateMatches(
	ctx context.Context,
	req *connect.Request[CreateMatchesRequest],
) (*connect.Response[CreateMatchesResponse], error) {
	created, err := s.matches.AddMatches(ctx, req.Msg.CampaignID, req.Msg.UserIDs)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	plan, err := s.matches.Plan(ctx, req.Msg.CampaignID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	tickets := make([]MatchTicket, 0, len(created))
	for _, m := range created {
		tickets = append(tickets, MatchTicket{
			MatchID:           m.ID,
			UserID:            m.UserID,
			ConfirmationToken: m.ConfirmationToken,
			ExpiresAt:         m.ExpiresAt,
		})
	}
	return connect.NewResponse(&CreateMatchesResponse{Matches: tickets, Plan: plan}), nil
}

// ConfirmMatch attempts to claim a dose for the match behind the token
func (s *Server) ConfirmMatch(
	ctx context.Context,
	req *connect.Request[ConfirmMatchRequest],
) (*connect.Response[ConfirmMatchResponse], error) {
	conf, err := s.coordinator.Confirm(ctx, req.Msg.Token)
	switch {
	case err == nil:
		return connect.NewResponse(&ConfirmMatchResponse{
			Outcome: string(conf.Outcome),
			Match:   conf.Match,
		}), nil
	case errors.Is(err, model.ErrInvalidToken):
		return connect.NewResponse(&ConfirmMatchResponse{Outcome: OutcomeRejected, Reason: "invalid_token"}), nil
	case model.IsRejection(err):
		reason, _ := model.ReasonFor(err)
		return connect.NewResponse(&ConfirmMatchResponse{Outcome: OutcomeRejected, Reason: string(reason)}), nil
	default:
		return nil, s.fail(req.Spec().Procedure, err)
	}
}

// RecordOutreach stores that a candidate was contacted
func (s *Server) RecordOutreach(
	ctx context.Context,
	req *connect.Request[RecordOutreachRequest],
) (*connect.Response[RecordOutreachResponse], error) {
	switch req.Msg.Channel {
	case model.ChannelSMS, model.ChannelEmail:
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown outreach channel %q", req.Msg.Channel))
	}

	m, err := s.matches.RecordOutreach(ctx, req.Msg.Token, req.Msg.Channel)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	return connect.NewResponse(&RecordOutreachResponse{Match: m}), nil
}

// ListConfirmedMatches exports confirmed matches in confirmation order
func (s *Server) ListConfirmedMatches(
	ctx context.Context,
	req *connect.Request[ListConfirmedMatchesRequest],
) (*connect.Response[ListConfirmedMatchesResponse], error) {
	matches, err := s.matches.ListConfirmed(ctx, req.Msg.CampaignID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	if matches == nil {
		matches = []model.Match{}
	}
	return connect.NewResponse(&ListConfirmedMatchesResponse{Matches: matches}), nil
}

func (s *Server) fail(procedure string, err error) error {
	code := codeOf(err)
	if code == connect.CodeInternal {
		s.log.Error().Err(err).Str("procedure", procedure).Msg("request failed")
	}
	return connect.NewError(code, err)
}
