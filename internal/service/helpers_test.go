package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/vaxmatch/internal/config"
	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/repository"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFlags struct {
	mu        sync.Mutex
	algoV3    bool
	rankingV2 bool
	err       error
}

func (f *fakeFlags) set(algoV3, rankingV2 bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.algoV3, f.rankingV2 = algoV3, rankingV2
}

func (f *fakeFlags) AlgoV3Enabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.algoV3, f.err
}

func (f *fakeFlags) RankingV2Enabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rankingV2, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	created []int64
	err     error
	panics  bool
}

func (n *fakeNotifier) CampaignCreated(_ context.Context, c *model.Campaign) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, c.ID)
	if n.panics {
		panic("notifier exploded")
	}
	return n.err
}

func (n *fakeNotifier) calls() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.created...)
}

// barrierStore holds every caller at the campaign lock until n callers have
// arrived, so all of them pass the snapshot checks before anyone confirms.
type barrierStore struct {
	*repository.MemoryStore
	arrived sync.WaitGroup
}

func newBarrierStore(s *repository.MemoryStore, n int) *barrierStore {
	b := &barrierStore{MemoryStore: s}
	b.arrived.Add(n)
	return b
}

func (b *barrierStore) WithCampaignLock(ctx context.Context, id int64, fn func(tx repository.CampaignTx) error) error {
	b.arrived.Done()
	b.arrived.Wait()
	return b.MemoryStore.WithCampaignLock(ctx, id, fn)
}

// failingStore fails every match listing.
type failingStore struct {
	*repository.MemoryStore
}

func (f failingStore) ListMatches(context.Context, int64) ([]model.Match, error) {
	return nil, errors.New("replica unavailable")
}

type fixture struct {
	store       *repository.MemoryStore
	clock       *testClock
	flags       *fakeFlags
	notifier    *fakeNotifier
	campaigns   *CampaignService
	matches     *MatchService
	coordinator *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		clock:    newTestClock(),
		flags:    &fakeFlags{algoV3: true},
		notifier: &fakeNotifier{},
	}
	clock := WithClock(f.clock.Now)
	policy := config.DefaultPolicy()
	projector := NewProjector(f.store, policy.Projection, clock)
	f.campaigns = NewCampaignService(f.store, f.flags, f.notifier, projector, policy, newTestLogger(), clock)
	f.matches = NewMatchService(f.store, 15*time.Minute, newTestLogger(), clock)
	f.coordinator = NewCoordinator(f.store, newTestLogger(), clock)
	t.Cleanup(f.campaigns.Wait)
	return f
}

func (f *fixture) params(doses int) model.CampaignParams {
	start := f.clock.Now()
	return model.CampaignParams{
		AvailableDoses:    doses,
		MinAge:            50,
		MaxAge:            80,
		MaxDistanceMeters: 5000,
		StartsAt:          start,
		EndsAt:            start.Add(4 * time.Hour),
		VaccineType:       "pfizer",
	}
}

func (f *fixture) campaign(t *testing.T, doses int) *model.Campaign {
	t.Helper()
	c, err := f.campaigns.CreateCampaign(context.Background(), f.params(doses))
	require.NoError(t, err)
	return c
}

func (f *fixture) addMatches(t *testing.T, campaignID int64, n int) []*model.Match {
	t.Helper()
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d-%d", campaignID, i)
	}
	created, err := f.matches.AddMatches(context.Background(), campaignID, users)
	require.NoError(t, err)
	require.Len(t, created, n)
	return created
}

func (f *fixture) confirmN(t *testing.T, matches []*model.Match) {
	t.Helper()
	for _, m := range matches {
		conf, err := f.coordinator.Confirm(context.Background(), m.ConfirmationToken)
		require.NoError(t, err)
		require.Equal(t, OutcomeConfirmed, conf.Outcome)
	}
}

// interleavingStore runs hook once, just before the first stats snapshot,
// to let another request land between a caller's reads.
type interleavingStore struct {
	*repository.MemoryStore
	once sync.Once
	hook func()
}

func (s *interleavingStore) CampaignStats(ctx context.Context, id int64, now time.Time) (model.CampaignStats, error) {
	s.once.Do(s.hook)
	return s.MemoryStore.CampaignStats(ctx, id, now)
}
