package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/vaxmatch/internal/allocation"
	"github.com/kkkkikiki/vaxmatch/internal/metrics"
	"github.com/kkkkikiki/vaxmatch/internal/model"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type stubCampaigns struct {
	running []model.Campaign
	err     error
}

func (s stubCampaigns) RunningCampaigns(context.Context) ([]model.Campaign, error) {
	return s.running, s.err
}

type stubForecaster map[int64]allocation.Projection

func (s stubForecaster) Project(_ context.Context, id int64) (allocation.Projection, error) {
	p, ok := s[id]
	if !ok {
		return allocation.Projection{}, errors.New("no matches table")
	}
	return p, nil
}

type countingCompleter struct {
	calls atomic.Int32
}

func (c *countingCompleter) CompleteEnded(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestProjectionWorker_RunOnce(t *testing.T) {
	campaigns := stubCampaigns{running: []model.Campaign{{ID: 9101}, {ID: 9102}}}
	forecaster := stubForecaster{
		9101: {CampaignID: 9101, Projected: 7.5, Confirmed: 3, AvailableDoses: 10, NeedsMoreTargets: true},
	}
	w := NewProjectionWorker(time.Minute, campaigns, forecaster, newTestLogger())

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 7.5, testutil.ToFloat64(metrics.ProjectedConfirmations.WithLabelValues("9101")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.RemainingDoses.WithLabelValues("9101")))

	metrics.ForgetCampaign(9101)
}

func TestProjectionWorker_ListFailure(t *testing.T) {
	w := NewProjectionWorker(time.Minute, stubCampaigns{err: errors.New("db down")}, stubForecaster{}, newTestLogger())
	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestProjectionWorker_StopsOnCancel(t *testing.T) {
	w := NewProjectionWorker(time.Millisecond, stubCampaigns{}, stubForecaster{}, newTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompletionWorker_Run(t *testing.T) {
	completer := &countingCompleter{}
	w := NewCompletionWorker(time.Millisecond, completer, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return completer.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
