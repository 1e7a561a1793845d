package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.False(t, cfg.Database.UseMemory())
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 15*time.Minute, cfg.Matching.MatchTTL)
	assert.True(t, cfg.App.AlgoV3)
	assert.False(t, cfg.App.RankingV2)
	assert.True(t, cfg.App.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DRIVER":                    "memory",
		"REDIS_ADDR":                   "localhost:6379",
		"APP_ENVIRONMENT":              "production",
		"APP_FLAG_ALGO_V3":             "false",
		"MATCHING_MATCH_TTL":           "5m",
		"MATCHING_PROJECTION_INTERVAL": "30s",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Database.UseMemory())
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.App.IsProduction())
	assert.False(t, cfg.App.AlgoV3)
	assert.Equal(t, 5*time.Minute, cfg.Matching.MatchTTL)
	assert.Equal(t, 30*time.Second, cfg.Matching.ProjectionInterval)
}

func TestLoadPolicy(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		p, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), p)
	})

	t.Run("file overrides selected fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		content := "budget:\n  sms_restricted_vaccines: [astrazeneca]\nprojection:\n  b: 0.01\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"astrazeneca"}, p.Budget.SMSRestrictedVaccines)
		assert.Equal(t, 5, p.Budget.SMSPerDose)
		assert.Equal(t, 1.498, p.Projection.A)
		assert.Equal(t, 0.01, p.Projection.B)
	})

	t.Run("invalid coefficients are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("projection:\n  a: 0\n"), 0o600))

		_, err := LoadPolicy(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
