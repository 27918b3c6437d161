// Package recorder persists finalized candles. It consumes the publication
// channel like any other subscriber, so the hot aggregation path never waits
// on the database.
package recorder

import (
	"context"
	"fmt"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
	"niftyPulse/internal/pubsub"
)

// Recorder writes every finalized candle it sees to the candle store.
type Recorder struct {
	store  ports.CandleStore
	logger ports.Logger
}

// New creates a Recorder.
func New(store ports.CandleStore, logger ports.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("candle store is required for recorder")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for recorder")
	}
	return &Recorder{store: store, logger: logger}, nil
}

// Run subscribes to the hub and persists finalized candles until ctx is
// cancelled or the hub closes. A failed write is logged and skipped; losing
// one archived candle must not stall the stream and back up the queue.
// A hub closed out from under a still-live context is reported with
// ErrSubscriberClosed.
func (r *Recorder) Run(ctx context.Context, hub *pubsub.Hub) error {
	sub := hub.Subscribe()
	defer sub.Close()

	r.logger.Info(ctx, "Candle recorder started")
	saved := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Candle recorder stopped", map[string]interface{}{"saved": saved, "dropped": sub.Dropped()})
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				r.logger.Info(ctx, "Candle recorder stopped", map[string]interface{}{"saved": saved, "dropped": sub.Dropped()})
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event stream ended: %w", ports.ErrSubscriberClosed)
			}
			if ev.Type != domain.EventCandleFinalized || ev.Candle == nil {
				continue
			}
			if err := r.store.SaveCandle(ctx, ev.Candle); err != nil {
				r.logger.Error(ctx, err, "Failed to persist finalized candle", map[string]interface{}{
					"instrumentID": ev.Candle.InstrumentID,
					"periodStart":  ev.Candle.PeriodStart,
				})
				continue
			}
			saved++
		}
	}
}
