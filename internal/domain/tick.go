package domain

import "time"

// RawTick is the decoded-but-unvalidated payload a feed adapter hands to the
// normalizer. The wire encoding (binary SmartAPI frame, vendor JSON, ...) is
// the adapter's business; by the time a RawTick exists the fields are plain
// numbers. Optional fields are pointers so "absent" and "zero" stay distinct.
type RawTick struct {
	InstrumentID        string
	LastTradedPrice     *int64 // minor units (paise)
	BestBidPrice        *int64 // minor units, optional
	BestAskPrice        *int64 // minor units, optional
	TotalTradedVolume   *int64 // optional
	ExchangeTimestampMs *int64 // event time, ms since epoch, producer-assigned
}

// Tick is one validated trade/quote observation for an instrument.
// Produced exclusively by the normalizer; downstream components never touch
// raw payload fields.
type Tick struct {
	InstrumentID      string
	LastTradedPrice   Price
	BestBidPrice      Price // 0 when not supplied
	BestAskPrice      Price // 0 when not supplied
	TotalTradedVolume int64
	ExchangeTimestamp time.Time // normalized into the reference timezone
}
