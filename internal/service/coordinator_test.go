package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

type attemptResult struct {
	conf *Confirmation
	err  error
}

func raceConfirm(coordinator *Coordinator, matches []*model.Match) []attemptResult {
	results := make([]attemptResult, len(matches))
	var wg sync.WaitGroup
	for i, m := range matches {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			conf, err := coordinator.Confirm(context.Background(), token)
			results[i] = attemptResult{conf: conf, err: err}
		}(i, m.ConfirmationToken)
	}
	wg.Wait()
	return results
}

func TestCoordinator_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms a pending match", func(t *testing.T) {
		f := newFixture(t)
		c := f.campaign(t, 2)
		m := f.addMatches(t, c.ID, 1)[0]

		conf, err := f.coordinator.Confirm(ctx, m.ConfirmationToken)
		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirmed, conf.Outcome)
		require.NotNil(t, conf.Match.ConfirmedAt)
		assert.Equal(t, f.clock.Now(), *conf.Match.ConfirmedAt)

		stats, err := f.store.CampaignStats(ctx, c.ID, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Confirmed)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coordinator.Confirm(ctx, "does-not-exist")
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("retry on a confirmed match is a stable success read", func(t *testing.T) {
		f := newFixture(t)
		c := f.campaign(t, 1)
		m := f.addMatches(t, c.ID, 1)[0]
		f.confirmN(t, []*model.Match{m})

		f.clock.Advance(time.Hour) // past expiry, still a success read
		conf, err := f.coordinator.Confirm(ctx, m.ConfirmationToken)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyConfirmedByYou, conf.Outcome)
		assert.True(t, conf.Match.IsConfirmed())
	})

	t.Run("expired match is rejected regardless of doses", func(t *testing.T) {
		f := newFixture(t)
		c := f.campaign(t, 10)
		m := f.addMatches(t, c.ID, 1)[0]

		f.clock.Advance(16 * time.Minute)
		_, err := f.coordinator.Confirm(ctx, m.ConfirmationToken)
		assert.ErrorIs(t, err, model.ErrExpired)

		stored, err := f.store.GetMatchByToken(ctx, m.ConfirmationToken)
		require.NoError(t, err)
		assert.False(t, stored.IsConfirmed())
		require.NotNil(t, stored.ConfirmationFailedReason)
		assert.Equal(t, model.ReasonExpired, *stored.ConfirmationFailedReason)
	})

	t.Run("canceled campaign", func(t *testing.T) {
		f := newFixture(t)
		c := f.campaign(t, 10)
		m := f.addMatches(t, c.ID, 1)[0]

		_, err := f.campaigns.CancelCampaign(ctx, c.ID)
		require.NoError(t, err)

		_, err = f.coordinator.Confirm(ctx, m.ConfirmationToken)
		assert.ErrorIs(t, err, model.ErrCampaignCanceled)
	})

	t.Run("sixth attempt on a full campaign", func(t *testing.T) {
		f := newFixture(t)
		c := f.campaign(t, 5)
		matches := f.addMatches(t, c.ID, 6)
		f.confirmN(t, matches[:5])

		_, err := f.coordinator.Confirm(ctx, matches[5].ConfirmationToken)
		assert.ErrorIs(t, err, model.ErrNoRemainingDoses)

		stored, _ := f.store.GetMatchByToken(ctx, matches[5].ConfirmationToken)
		require.NotNil(t, stored.ConfirmationFailedReason)
		assert.Equal(t, model.ReasonNoRemainingDoses, *stored.ConfirmationFailedReason)
	})

	t.Run("rejections are not infrastructure errors", func(t *testing.T) {
		assert.True(t, model.IsRejection(model.ErrNoRemainingDoses))
		assert.False(t, model.IsRejection(errors.New("boom")))
	})
}

func TestCoordinator_TwoAttemptsForTheLastDose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.campaign(t, 1)
	matches := f.addMatches(t, c.ID, 2)

	coordinator := NewCoordinator(newBarrierStore(f.store, 2), newTestLogger(), WithClock(f.clock.Now))
	results := raceConfirm(coordinator, matches)

	var wins, lost int
	for i, r := range results {
		switch {
		case r.err == nil:
			assert.Equal(t, OutcomeConfirmed, r.conf.Outcome)
			wins++
		case errors.Is(r.err, model.ErrAlreadyConfirmed):
			lost++
			stored, err := f.store.GetMatchByToken(ctx, matches[i].ConfirmationToken)
			require.NoError(t, err)
			require.NotNil(t, stored.ConfirmationFailedReason)
			assert.Equal(t, model.ReasonAlreadyConfirmed, *stored.ConfirmationFailedReason)
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, lost)

	report, err := f.campaigns.Report(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.RemainingDoses)
}

func TestCoordinator_NAttemptsForKDoses(t *testing.T) {
	const (
		doses    = 3
		attempts = 12
	)
	f := newFixture(t)
	c := f.campaign(t, doses)
	matches := f.addMatches(t, c.ID, attempts)

	coordinator := NewCoordinator(newBarrierStore(f.store, attempts), newTestLogger(), WithClock(f.clock.Now))
	results := raceConfirm(coordinator, matches)

	var wins, lost int
	for _, r := range results {
		if r.err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, r.err, model.ErrAlreadyConfirmed)
		lost++
	}
	assert.Equal(t, doses, wins)
	assert.Equal(t, attempts-doses, lost)

	stats, err := f.store.CampaignStats(context.Background(), c.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, doses, stats.Confirmed)
}

func TestCoordinator_NeverOverbooks(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, 5)
	matches := f.addMatches(t, c.ID, 60)

	results := raceConfirm(f.coordinator, matches)

	wins := 0
	for _, r := range results {
		if r.err == nil {
			wins++
			continue
		}
		assert.True(t,
			errors.Is(r.err, model.ErrAlreadyConfirmed) || errors.Is(r.err, model.ErrNoRemainingDoses),
			"unexpected error: %v", r.err)
	}
	assert.Equal(t, 5, wins)

	stats, err := f.store.CampaignStats(context.Background(), c.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Confirmed)
}

func TestCoordinator_DuplicateRequestsForTheSameMatch(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, 1)
	m := f.addMatches(t, c.ID, 1)[0]

	coordinator := NewCoordinator(newBarrierStore(f.store, 2), newTestLogger(), WithClock(f.clock.Now))
	results := raceConfirm(coordinator, []*model.Match{m, m})

	outcomes := map[Outcome]int{}
	for _, r := range results {
		require.NoError(t, r.err)
		outcomes[r.conf.Outcome]++
	}
	assert.Equal(t, map[Outcome]int{OutcomeConfirmed: 1, OutcomeAlreadyConfirmedByYou: 1}, outcomes)
}

func TestCoordinator_DuplicateConfirmedBeforeDoseSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.campaign(t, 1)
	m := f.addMatches(t, c.ID, 1)[0]

	var first *Confirmation
	store := &interleavingStore{MemoryStore: f.store}
	store.hook = func() {
		var err error
		first, err = f.coordinator.Confirm(ctx, m.ConfirmationToken)
		require.NoError(t, err)
	}
	coordinator := NewCoordinator(store, newTestLogger(), WithClock(f.clock.Now))

	conf, err := coordinator.Confirm(ctx, m.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmedByYou, conf.Outcome)
	require.NotNil(t, first)
	assert.Equal(t, OutcomeConfirmed, first.Outcome)

	stored, err := f.store.GetMatchByToken(ctx, m.ConfirmationToken)
	require.NoError(t, err)
	assert.True(t, stored.IsConfirmed())
	assert.Nil(t, stored.ConfirmationFailedReason)
}
