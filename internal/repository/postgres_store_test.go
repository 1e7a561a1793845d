//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/vaxmatch/internal/database"
	"github.com/kkkkikiki/vaxmatch/internal/model"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("VAXMATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("VAXMATCH_TEST_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE matches, campaigns RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewPostgresStore(db)
}

func TestPostgresStore_ConfirmationRace(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	now := time.Now().UTC()
	c := &model.Campaign{
		AvailableDoses: 3, MinAge: 50, MaxAge: 80, MaxDistanceMeters: 1000,
		StartsAt: now, EndsAt: now.Add(time.Hour), Status: model.CampaignRunning,
		AlgoVersion: model.AlgoV3, RankingMethod: model.RankingV1, OverbookingFactor: 20,
		VaccineType: "pfizer", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateCampaign(ctx, c))

	var matches []*model.Match
	for i := 0; i < 20; i++ {
		matches = append(matches, &model.Match{
			CampaignID: c.ID, UserID: fmt.Sprintf("u%d", i),
			ConfirmationToken: fmt.Sprintf("tok-%d", i), ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		})
	}
	created, err := s.CreateMatches(ctx, matches)
	require.NoError(t, err)
	require.Len(t, created, 20)

	var wins int32
	var wg sync.WaitGroup
	for _, m := range created {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			err := s.WithCampaignLock(ctx, c.ID, func(tx CampaignTx) error {
				ok, err := tx.ConfirmMatch(ctx, id, time.Now())
				if ok {
					atomic.AddInt32(&wins, 1)
				}
				return err
			})
			assert.NoError(t, err)
		}(m.ID)
	}
	wg.Wait()

	assert.Equal(t, int32(3), wins)
	stats, err := s.CampaignStats(ctx, c.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Confirmed)
	assert.Equal(t, 20, stats.Total)

	// duplicates are skipped on re-insert
	again, err := s.CreateMatches(ctx, []*model.Match{{
		CampaignID: c.ID, UserID: "u0", ConfirmationToken: "tok-new", ExpiresAt: now, CreatedAt: now,
	}})
	require.NoError(t, err)
	assert.Empty(t, again)
}
