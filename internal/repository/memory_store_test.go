package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

func seedCampaign(t *testing.T, s *MemoryStore, doses int) *model.Campaign {
	t.Helper()
	c := &model.Campaign{AvailableDoses: doses, Status: model.CampaignRunning, OverbookingFactor: 20}
	require.NoError(t, s.CreateCampaign(context.Background(), c))
	return c
}

func seedMatches(t *testing.T, s *MemoryStore, campaignID int64, n int, expiresAt time.Time) []*model.Match {
	t.Helper()
	matches := make([]*model.Match, n)
	for i := range matches {
		matches[i] = &model.Match{
			CampaignID:        campaignID,
			UserID:            fmt.Sprintf("user-%d", i),
			ConfirmationToken: fmt.Sprintf("token-%d-%d", campaignID, i),
			ExpiresAt:         expiresAt,
		}
	}
	created, err := s.CreateMatches(context.Background(), matches)
	require.NoError(t, err)
	require.Len(t, created, n)
	return created
}

func TestMemoryStore_CampaignLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetCampaign(ctx, 42)
	assert.ErrorIs(t, err, model.ErrCampaignNotFound)

	c := seedCampaign(t, s, 3)
	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableDoses)

	// returned values are copies
	got.AvailableDoses = 100
	again, _ := s.GetCampaign(ctx, c.ID)
	assert.Equal(t, 3, again.AvailableDoses)

	ok, err := s.CompleteCampaign(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.CompleteCampaign(ctx, c.ID, time.Now())
	assert.False(t, ok)

	running, _ := s.ListCampaigns(ctx, model.CampaignRunning)
	assert.Empty(t, running)
	completed, _ := s.ListCampaigns(ctx, model.CampaignCompleted)
	assert.Len(t, completed, 1)
}

func TestMemoryStore_CreateMatchesSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 1)
	expires := time.Now().Add(time.Hour)

	seedMatches(t, s, c.ID, 2, expires)

	created, err := s.CreateMatches(ctx, []*model.Match{
		{CampaignID: c.ID, UserID: "user-0", ConfirmationToken: "fresh-1", ExpiresAt: expires},
		{CampaignID: c.ID, UserID: "user-9", ConfirmationToken: "fresh-2", ExpiresAt: expires},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "user-9", created[0].UserID)

	stats, err := s.CampaignStats(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Pending)
}

func TestMemoryStore_CreateMatchesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 1)
	expires := time.Now().Add(time.Hour)
	seedMatches(t, s, c.ID, 1, expires)

	batches := map[string][]*model.Match{
		"unknown campaign late in the batch": {
			{CampaignID: c.ID, UserID: "a", ConfirmationToken: "ok-1", ExpiresAt: expires},
			{CampaignID: c.ID + 100, UserID: "b", ConfirmationToken: "ok-2", ExpiresAt: expires},
		},
		"token already stored": {
			{CampaignID: c.ID, UserID: "a", ConfirmationToken: "ok-1", ExpiresAt: expires},
			{CampaignID: c.ID, UserID: "b", ConfirmationToken: fmt.Sprintf("token-%d-0", c.ID), ExpiresAt: expires},
		},
		"token repeated within the batch": {
			{CampaignID: c.ID, UserID: "a", ConfirmationToken: "ok-1", ExpiresAt: expires},
			{CampaignID: c.ID, UserID: "b", ConfirmationToken: "ok-1", ExpiresAt: expires},
		},
	}
	for name, batch := range batches {
		t.Run(name, func(t *testing.T) {
			_, err := s.CreateMatches(ctx, batch)
			require.Error(t, err)

			_, err = s.GetMatchByToken(ctx, "ok-1")
			assert.ErrorIs(t, err, model.ErrInvalidToken)
			stats, err := s.CampaignStats(ctx, c.ID, time.Now())
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Total)
		})
	}
}

func TestMemoryStore_OutreachAndStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 2)
	matches := seedMatches(t, s, c.ID, 3, time.Now().Add(time.Hour))

	first := time.Now().Add(-time.Minute)
	m, err := s.RecordOutreach(ctx, matches[0].ConfirmationToken, model.ChannelSMS, first)
	require.NoError(t, err)
	assert.Equal(t, first, *m.SMSSentAt)

	// later sends keep the first timestamp
	m, err = s.RecordOutreach(ctx, matches[0].ConfirmationToken, model.ChannelSMS, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first, *m.SMSSentAt)

	_, err = s.RecordOutreach(ctx, matches[1].ConfirmationToken, model.ChannelEmail, first)
	require.NoError(t, err)

	_, err = s.RecordOutreach(ctx, "nope", model.ChannelEmail, first)
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	stats, err := s.CampaignStats(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStats{Total: 3, SMSSent: 1, MailSent: 1, Pending: 3}, stats)

	stats, _ = s.CampaignStats(ctx, c.ID, time.Now().Add(2*time.Hour))
	assert.Equal(t, 0, stats.Pending)
}

func TestMemoryStore_ConfirmMatchHonoursDoses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 1)
	matches := seedMatches(t, s, c.ID, 2, time.Now().Add(time.Hour))

	err := s.WithCampaignLock(ctx, c.ID, func(tx CampaignTx) error {
		ok, err := tx.ConfirmMatch(ctx, matches[0].ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.ConfirmMatch(ctx, matches[0].ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "already confirmed")

		ok, err = tx.ConfirmMatch(ctx, matches[1].ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "no dose left")

		n, err := tx.ConfirmedCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.WithCampaignLock(ctx, 999, func(CampaignTx) error { return nil }), model.ErrCampaignNotFound)
}

func TestMemoryStore_ListConfirmedMatchesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 3)
	matches := seedMatches(t, s, c.ID, 3, time.Now().Add(time.Hour))

	at := time.Now()
	require.NoError(t, s.WithCampaignLock(ctx, c.ID, func(tx CampaignTx) error {
		// same timestamp for the last two: ties are broken by id
		_, _ = tx.ConfirmMatch(ctx, matches[2].ID, at)
		_, _ = tx.ConfirmMatch(ctx, matches[1].ID, at)
		_, _ = tx.ConfirmMatch(ctx, matches[0].ID, at.Add(time.Second))
		return nil
	}))

	confirmed, err := s.ListConfirmedMatches(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, confirmed, 3)
	assert.Equal(t, []int64{matches[1].ID, matches[2].ID, matches[0].ID},
		[]int64{confirmed[0].ID, confirmed[1].ID, confirmed[2].ID})
}

func TestMemoryStore_CriticalSectionIsSerialised(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 5)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithCampaignLock(ctx, c.ID, func(CampaignTx) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryStore_SaveCancellationOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := seedCampaign(t, s, 5)
	at := time.Now()

	require.NoError(t, s.WithCampaignLock(ctx, c.ID, func(tx CampaignTx) error {
		frozen := *tx.Campaign()
		frozen.Status = model.CampaignCanceled
		frozen.AvailableDoses = 2
		frozen.CanceledAt = &at
		return tx.SaveCancellation(ctx, &frozen)
	}))

	require.NoError(t, s.WithCampaignLock(ctx, c.ID, func(tx CampaignTx) error {
		frozen := *tx.Campaign()
		frozen.AvailableDoses = 4
		return tx.SaveCancellation(ctx, &frozen)
	}))

	got, _ := s.GetCampaign(ctx, c.ID)
	assert.Equal(t, 2, got.AvailableDoses)
	assert.True(t, got.IsCanceled())
}
