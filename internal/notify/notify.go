// Package notify announces new campaigns to other systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// CampaignCreatedEvent is the payload published for a new campaign.
type CampaignCreatedEvent struct {
	CampaignID        int64  `json:"campaign_id"`
	AvailableDoses    int    `json:"available_doses"`
	VaccineType       string `json:"vaccine_type"`
	MinAge            int    `json:"min_age"`
	MaxAge            int    `json:"max_age"`
	MaxDistanceMeters int    `json:"max_distance_meters"`
	StartsAt          string `json:"starts_at"`
	EndsAt            string `json:"ends_at"`
	AlgoVersion       string `json:"algo_version"`
	RankingMethod     string `json:"ranking_method"`
}

// NewCampaignCreatedEvent builds the event for c.
func NewCampaignCreatedEvent(c *model.Campaign) CampaignCreatedEvent {
	return CampaignCreatedEvent{
		CampaignID:        c.ID,
		AvailableDoses:    c.AvailableDoses,
		VaccineType:       c.VaccineType,
		MinAge:            c.MinAge,
		MaxAge:            c.MaxAge,
		MaxDistanceMeters: c.MaxDistanceMeters,
		StartsAt:          c.StartsAt.Format(time.RFC3339),
		EndsAt:            c.EndsAt.Format(time.RFC3339),
		AlgoVersion:       string(c.AlgoVersion),
		RankingMethod:     string(c.RankingMethod),
	}
}

// Redis publishes campaign events on a pub/sub channel.
type Redis struct {
	cli     *redis.Client
	channel string
}

// NewRedis creates a Redis notifier
func NewRedis(cli *redis.Client, channel string) *Redis {
	return &Redis{cli: cli, channel: channel}
}

func (r *Redis) CampaignCreated(ctx context.Context, c *model.Campaign) error {
	payload, err := json.Marshal(NewCampaignCreatedEvent(c))
	if err != nil {
		return fmt.Errorf("failed to encode campaign event: %w", err)
	}
	if err := r.cli.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish campaign event: %w", err)
	}
	return nil
}

// Log writes campaign events to the logger only.
type Log struct {
	log *zerolog.Logger
}

// NewLog creates a log-only notifier
func NewLog(logger *zerolog.Logger) *Log {
	l := logger.With().Str("component", "Notifier").Logger()
	return &Log{log: &l}
}

func (n *Log) CampaignCreated(_ context.Context, c *model.Campaign) error {
	ev := NewCampaignCreatedEvent(c)
	n.log.Info().
		Int64("campaign_id", ev.CampaignID).
		Int("available_doses", ev.AvailableDoses).
		Str("vaccine_type", ev.VaccineType).
		Str("starts_at", ev.StartsAt).
		Msg("campaign created")
	return nil
}
