package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the allocation service.
type Client struct {
	createCampaign       *connect.Client[CreateCampaignRequest, CreateCampaignResponse]
	getCampaign          *connect.Client[GetCampaignRequest, GetCampaignResponse]
	cancelCampaign       *connect.Client[CancelCampaignRequest, CancelCampaignResponse]
	createMatches        *connect.Client[CreateMatchesRequest, CreateMatchesResponse]
	confirmMatch         *connect.Client[ConfirmMatchRequest, ConfirmMatchResponse]
	recordOutreach       *connect.Client[RecordOutreachRequest, RecordOutreachResponse]
	listConfirmedMatches *connect.Client[ListConfirmedMatchesRequest, ListConfirmedMatchesResponse]
}

// NewClient constructs a client for the service at baseURL, e.g.
// http://localhost:8080.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &Client{
		createCampaign:       connect.NewClient[CreateCampaignRequest, CreateCampaignResponse](httpClient, baseURL+CreateCampaignProcedure, opts...),
		getCampaign:          connect.NewClient[GetCampaignRequest, GetCampaignResponse](httpClient, baseURL+GetCampaignProcedure, opts...),
		cancelCampaign:       connect.NewClient[CancelCampaignRequest, CancelCampaignResponse](httpClient, baseURL+CancelCampaignProcedure, opts...),
		createMatches:        connect.NewClient[CreateMatchesRequest, CreateMatchesResponse](httpClient, baseURL+CreateMatchesProcedure, opts...),
		confirmMatch:         connect.NewClient[ConfirmMatchRequest, ConfirmMatchResponse](httpClient, baseURL+ConfirmMatchProcedure, opts...),
		recordOutreach:       connect.NewClient[RecordOutreachRequest, RecordOutreachResponse](httpClient, baseURL+RecordOutreachProcedure, opts...),
		listConfirmedMatches: connect.NewClient[ListConfirmedMatchesRequest, ListConfirmedMatchesResponse](httpClient, baseURL+ListConfirmedMatchesProcedure, opts...),
	}
}

func (c *Client) CreateCampaign(ctx context.Context, req *connect.Request[CreateCampaignRequest]) (*connect.Response[CreateCampaignResponse], error) {
	return c.createCampaign.CallUnary(ctx, req)
}

func (c *Client) GetCampaign(ctx context.Context, req *connect.Request[GetCampaignRequest]) (*connect.Response[GetCampaignResponse], error) {
	return c.getCampaign.CallUnary(ctx, req)
}

func (c *Client) CancelCampaign(ctx context.Context, req *connect.Request[CancelCampaignRequest]) (*connect.Response[CancelCampaignResponse], error) {
	return c.cancelCampaign.CallUnary(ctx, req)
}

func (c *Client) CreateMatches(ctx context.Context, req *connect.Request[CreateMatchesRequest]) (*connect.Response[CreateMatchesResponse], error) {
	return c.createMatches.CallUnary(ctx, req)
}

func (c *Client) ConfirmMatch(ctx context.Context, req *connect.Request[ConfirmMatchRequest]) (*connect.Response[ConfirmMatchResponse], error) {
	return c.confirmMatch.CallUnary(ctx, req)
}

func (c *Client) RecordOutreach(ctx context.Context, req *connect.Request[RecordOutreachRequest]) (*connect.Response[RecordOutreachResponse], error) {
	return c.recordOutreach.CallUnary(ctx, req)
}

func (c *Client) ListConfirmedMatches(ctx context.Context, req *connect.Request[ListConfirmedMatchesRequest]) (*connect.Response[ListConfirmedMatchesResponse], error) {
	return c.listConfirmedMatches.CallUnary(ctx, req)
}
