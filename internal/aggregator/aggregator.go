// Package aggregator folds validated ticks into per-instrument OHLC candles.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/metrics"
	"niftyPulse/internal/ports"
)

const defaultPeriod = time.Minute

// Config holds aggregator configuration.
type Config struct {
	Period time.Duration // candle period, defaults to one minute
	Logger ports.Logger
}

// Aggregator owns the live candle state for every instrument. All mutations
// to one instrument's candle are serialized behind that instrument's own
// lock, so ticks for different instruments aggregate concurrently.
type Aggregator struct {
	period time.Duration
	logger ports.Logger

	mu   sync.RWMutex
	live map[string]*instrumentState

	staleTicks atomic.Uint64
}

// instrumentState is the single-writer-per-instrument unit: the live candle
// plus the timestamp extremes already applied to its open and close, so
// out-of-order arrivals resolve by exchange time rather than arrival order.
type instrumentState struct {
	mu      sync.Mutex
	candle  domain.Candle
	openTS  time.Time
	closeTS time.Time
}

// New creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for aggregator")
	}
	period := cfg.Period
	if period <= 0 {
		period = defaultPeriod
	}
	return &Aggregator{
		period: period,
		logger: cfg.Logger,
		live:   make(map[string]*instrumentState),
	}, nil
}

// Period returns the configured candle period.
func (a *Aggregator) Period() time.Duration {
	return a.period
}

// StaleTicks returns the number of ticks dropped for targeting a closed period.
func (a *Aggregator) StaleTicks() uint64 {
	return a.staleTicks.Load()
}

// Ingest folds one tick into its instrument's live candle and returns the
// resulting updates in emission order. Every valid tick produces at least one
// update; a period rollover produces two (the retired candle marked final,
// then the freshly opened one). A tick from a period older than the live
// candle is dropped and reported via ErrStaleTick — it never reopens a
// closed period.
func (a *Aggregator) Ingest(tick domain.Tick) ([]domain.CandleUpdate, error) {
	periodStart := tick.ExchangeTimestamp.Truncate(a.period)
	st := a.state(tick.InstrumentID)

	st.mu.Lock()
	defer st.mu.Unlock()

	// First tick ever seen for this instrument.
	if st.candle.PeriodStart.IsZero() {
		st.open(tick, periodStart)
		metrics.TicksProcessed.Inc()
		return []domain.CandleUpdate{{Candle: st.candle}}, nil
	}

	if periodStart.Before(st.candle.PeriodStart) {
		a.staleTicks.Add(1)
		metrics.StaleTicks.Inc()
		a.logger.Warn(context.Background(), "Dropping stale tick", map[string]interface{}{
			"instrumentID": tick.InstrumentID,
			"tickPeriod":   periodStart,
			"livePeriod":   st.candle.PeriodStart,
		})
		return nil, fmt.Errorf("instrument %s: tick period %s predates live period %s: %w",
			tick.InstrumentID, periodStart.Format(time.RFC3339), st.candle.PeriodStart.Format(time.RFC3339), ports.ErrStaleTick)
	}

	if periodStart.After(st.candle.PeriodStart) {
		// Retire the old candle, then open the new period with this tick.
		final := domain.CandleUpdate{Candle: st.candle, IsFinal: true}
		st.open(tick, periodStart)
		metrics.TicksProcessed.Inc()
		metrics.CandlesFinalized.Inc()
		return []domain.CandleUpdate{final, {Candle: st.candle}}, nil
	}

	// Same period: extrema apply to every tick regardless of arrival order;
	// open follows the earliest-timestamped tick and close the latest, not
	// the first/last arrived.
	if tick.LastTradedPrice > st.candle.High {
		st.candle.High = tick.LastTradedPrice
	}
	if tick.LastTradedPrice < st.candle.Low {
		st.candle.Low = tick.LastTradedPrice
	}
	if tick.ExchangeTimestamp.Before(st.openTS) {
		st.candle.Open = tick.LastTradedPrice
		st.openTS = tick.ExchangeTimestamp
	}
	if !tick.ExchangeTimestamp.Before(st.closeTS) {
		st.candle.Close = tick.LastTradedPrice
		st.candle.LastUpdate = tick.ExchangeTimestamp
		st.closeTS = tick.ExchangeTimestamp
		if tick.TotalTradedVolume > 0 {
			st.candle.Volume = tick.TotalTradedVolume
		}
	}
	metrics.TicksProcessed.Inc()
	return []domain.CandleUpdate{{Candle: st.candle}}, nil
}

// Snapshot returns a copy of the live candle for an instrument, if any.
func (a *Aggregator) Snapshot(instrumentID string) (domain.Candle, bool) {
	a.mu.RLock()
	st, ok := a.live[instrumentID]
	a.mu.RUnlock()
	if !ok {
		return domain.Candle{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.candle.PeriodStart.IsZero() {
		return domain.Candle{}, false
	}
	return st.candle, true
}

// LiveCandles returns copies of every live candle. Order is unspecified.
func (a *Aggregator) LiveCandles() []domain.Candle {
	a.mu.RLock()
	states := make([]*instrumentState, 0, len(a.live))
	for _, st := range a.live {
		states = append(states, st)
	}
	a.mu.RUnlock()

	candles := make([]domain.Candle, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.candle.PeriodStart.IsZero() {
			candles = append(candles, st.candle)
		}
		st.mu.Unlock()
	}
	return candles
}

// Drop discards the live candle for an instrument (used when the last
// downstream interest goes away; no durable flush is required).
func (a *Aggregator) Drop(instrumentID string) {
	a.mu.Lock()
	delete(a.live, instrumentID)
	a.mu.Unlock()
}

// state returns the instrument's state, creating it on first use.
func (a *Aggregator) state(instrumentID string) *instrumentState {
	a.mu.RLock()
	st, ok := a.live[instrumentID]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.live[instrumentID]; ok {
		return st
	}
	st = &instrumentState{}
	a.live[instrumentID] = st
	return st
}

// open starts a new candle from the first tick of a period.
func (st *instrumentState) open(tick domain.Tick, periodStart time.Time) {
	st.candle = domain.Candle{
		InstrumentID: tick.InstrumentID,
		PeriodStart:  periodStart,
		Open:         tick.LastTradedPrice,
		High:         tick.LastTradedPrice,
		Low:          tick.LastTradedPrice,
		Close:        tick.LastTradedPrice,
		Volume:       tick.TotalTradedVolume,
		LastUpdate:   tick.ExchangeTimestamp,
	}
	st.openTS = tick.ExchangeTimestamp
	st.closeTS = tick.ExchangeTimestamp
}
