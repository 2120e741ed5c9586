package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

const (
	defaultPollInterval      = time.Second
	defaultRehydrateInterval = 5 * time.Minute
	defaultBatchSize         = 100
	defaultConcurrency       = 8
)

// TimerHandler applies fired escalation timers.
type TimerHandler interface {
	HandleTimer(ctx context.Context, timer db.EscalationTimer) error
	Rehydrate(ctx context.Context) (int, error)
}

// EscalationWorker polls the timer queue and hands due timers to the
// escalation engine. Timers whose handling fails are dropped; the periodic
// rehydration rebuilds them from alert state.
type EscalationWorker struct {
	Timers  services.TimerQueue
	Handler TimerHandler
	Clock   services.Clock
	Logger  *zap.Logger

	PollInterval      time.Duration
	RehydrateInterval time.Duration
	BatchSize         int
	Concurrency       int
}

func NewEscalationWorker(timers services.TimerQueue, handler TimerHandler, clock services.Clock, logger *zap.Logger) *EscalationWorker {
	return &EscalationWorker{
		Timers:            timers,
		Handler:           handler,
		Clock:             clock,
		Logger:            logger.Named("escalation-worker"),
		PollInterval:      defaultPollInterval,
		RehydrateInterval: defaultRehydrateInterval,
		BatchSize:         defaultBatchSize,
		Concurrency:       defaultConcurrency,
	}
}

// Run rebuilds the timer queue, then polls until ctx is cancelled.
func (w *EscalationWorker) Run(ctx context.Context) error {
	w.Logger.Info("escalation worker started",
		zap.Duration("poll_interval", w.PollInterval),
		zap.Int("batch_size", w.BatchSize))
	w.rehydrate(ctx)

	poll := time.NewTicker(w.PollInterval)
	defer poll.Stop()
	rehydrate := time.NewTicker(w.RehydrateInterval)
	defer rehydrate.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("escalation worker stopped")
			return nil
		case <-poll.C:
			if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
				w.Logger.Error("failed to poll escalation timers", zap.Error(err))
			}
		case <-rehydrate.C:
			w.rehydrate(ctx)
		}
	}
}

// Poll drains every timer due now and returns how many were handled.
func (w *EscalationWorker) Poll(ctx context.Context) (int, error) {
	handled := 0
	for {
		due, err := w.Timers.Due(ctx, w.Clock.Now(), w.BatchSize)
		if err != nil {
			return handled, err
		}
		if len(due) == 0 {
			return handled, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.Concurrency)
		for _, timer := range due {
			timer := timer
			g.Go(func() error {
				if err := w.Handler.HandleTimer(gctx, timer); err != nil {
					w.Logger.Error("failed to handle escalation timer",
						zap.String("alert_id", timer.AlertID),
						zap.String("kind", timer.Kind),
						zap.Int("level", timer.Level),
						zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
		handled += len(due)

		if len(due) < w.BatchSize {
			return handled, nil
		}
	}
}

func (w *EscalationWorker) rehydrate(ctx context.Context) {
	n, err := w.Handler.Rehydrate(ctx)
	if err != nil {
		w.Logger.Error("failed to rehydrate escalation timers", zap.Error(err))
		return
	}
	w.Logger.Debug("escalation timers rehydrated", zap.Int("alerts", n))
}
