// Package flags provides the feature-flag sources consulted at campaign
// creation.
package flags

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

const (
	keyAlgoV3    = "algo_v3"
	keyRankingV2 = "ranking_v2"
)

// Static serves flags fixed at startup.
type Static struct {
	AlgoV3    bool
	RankingV2 bool
}

func (s Static) AlgoV3Enabled(context.Context) (bool, error)    { return s.AlgoV3, nil }
func (s Static) RankingV2Enabled(context.Context) (bool, error) { return s.RankingV2, nil }

// Redis reads flags from string keys under a prefix. A missing key is false.
type Redis struct {
	cli    *redis.Client
	prefix string
}

// NewRedis creates a Redis flag source
func NewRedis(cli *redis.Client, prefix string) *Redis {
	return &Redis{cli: cli, prefix: prefix}
}

func (r *Redis) AlgoV3Enabled(ctx context.Context) (bool, error) {
	return r.get(ctx, keyAlgoV3)
}

func (r *Redis) RankingV2Enabled(ctx context.Context) (bool, error) {
	return r.get(ctx, keyRankingV2)
}

// Set stores a flag value under the prefix.
func (r *Redis) Set(ctx context.Context, name string, enabled bool) error {
	return r.cli.Set(ctx, r.prefix+name, strconv.FormatBool(enabled), 0).Err()
}

func (r *Redis) get(ctx context.Context, name string) (bool, error) {
	v, err := r.cli.Get(ctx, r.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag %s: %w", name, err)
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid flag %s value %q: %w", name, v, err)
	}
	return enabled, nil
}
