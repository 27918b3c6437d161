// Package normalizer turns raw feed payloads into validated domain ticks.
// It is the single place where unit conversion and timezone normalization
// happen; no downstream component re-derives either.
package normalizer

import (
	"fmt"
	"time"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
)

// Normalizer validates raw tick payloads and produces canonical Ticks with
// timestamps in the configured reference timezone. It is pure: Normalize has
// no side effects and touches no shared state.
type Normalizer struct {
	loc *time.Location
}

// New creates a Normalizer for the given reference timezone name
// (e.g. "Asia/Kolkata").
func New(timezone string) (*Normalizer, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load reference timezone %q: %w: %v", timezone, ports.ErrConfigurationError, err)
	}
	return &Normalizer{loc: loc}, nil
}

// Location returns the reference timezone used for timestamp normalization.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize validates a raw payload and returns the canonical tick.
// A tick missing its instrument id, price, or timestamp — or carrying a
// negative price or non-positive timestamp — fails with ErrInvalidTick and
// must never be partially aggregated.
func (n *Normalizer) Normalize(raw domain.RawTick) (domain.Tick, error) {
	if raw.InstrumentID == "" {
		return domain.Tick{}, fmt.Errorf("missing instrument id: %w", ports.ErrInvalidTick)
	}
	if raw.LastTradedPrice == nil {
		return domain.Tick{}, fmt.Errorf("instrument %s: missing last traded price: %w", raw.InstrumentID, ports.ErrInvalidTick)
	}
	if *raw.LastTradedPrice < 0 {
		return domain.Tick{}, fmt.Errorf("instrument %s: negative last traded price %d: %w", raw.InstrumentID, *raw.LastTradedPrice, ports.ErrInvalidTick)
	}
	if raw.ExchangeTimestampMs == nil || *raw.ExchangeTimestampMs <= 0 {
		return domain.Tick{}, fmt.Errorf("instrument %s: missing or non-positive exchange timestamp: %w", raw.InstrumentID, ports.ErrInvalidTick)
	}

	tick := domain.Tick{
		InstrumentID:      raw.InstrumentID,
		LastTradedPrice:   domain.Price(*raw.LastTradedPrice),
		ExchangeTimestamp: time.UnixMilli(*raw.ExchangeTimestampMs).In(n.loc),
	}
	if raw.BestBidPrice != nil && *raw.BestBidPrice >= 0 {
		tick.BestBidPrice = domain.Price(*raw.BestBidPrice)
	}
	if raw.BestAskPrice != nil && *raw.BestAskPrice >= 0 {
		tick.BestAskPrice = domain.Price(*raw.BestAskPrice)
	}
	if raw.TotalTradedVolume != nil && *raw.TotalTradedVolume >= 0 {
		tick.TotalTradedVolume = *raw.TotalTradedVolume
	}
	return tick, nil
}
