package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Completer moves ended campaigns to completed.
type Completer interface {
	CompleteEnded(ctx context.Context) (int, error)
}

// CompletionWorker periodically completes campaigns whose end time passed.
type CompletionWorker struct {
	interval  time.Duration
	campaigns Completer
	log       *zerolog.Logger
}

func NewCompletionWorker(interval time.Duration, campaigns Completer, logger *zerolog.Logger) *CompletionWorker {
	compLog := logger.With().Str("component", "CompletionWorker").Logger()
	return &CompletionWorker{
		interval:  interval,
		campaigns: campaigns,
		log:       &compLog,
	}
}

func (w *CompletionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting completion worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping completion worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.campaigns.CompleteEnded(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("completion worker error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("ended campaigns completed")
			}
		}
	}
}
