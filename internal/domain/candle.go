package domain

import "time"

// Candle is the OHLC aggregate of all ticks for one instrument within one
// fixed-length period. Exactly one aggregator instance owns the live candle
// for an instrument; everyone else sees value snapshots.
type Candle struct {
	InstrumentID string
	PeriodStart  time.Time // floor of the tick timestamp to the period boundary
	Open         Price
	High         Price
	Low          Price
	Close        Price
	Volume       int64     // last reported cumulative traded volume in the period
	LastUpdate   time.Time // exchange timestamp of the newest tick applied
}

// CandleUpdate is the aggregator's per-tick output: a snapshot of the candle
// after the tick was folded in. IsFinal marks the last update a candle will
// ever receive (the instrument moved on to a newer period).
type CandleUpdate struct {
	Candle  Candle
	IsFinal bool
}
