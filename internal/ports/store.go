package ports

import (
	"context"

	"niftyPulse/internal/domain"
)

// CandleStore persists finalized candles. It is a downstream collaborator of
// the publication channel; the aggregation core never blocks on it.
type CandleStore interface {
	// SaveCandle upserts one finalized candle keyed by (instrument, period).
	SaveCandle(ctx context.Context, candle *domain.Candle) error

	// RecentCandles returns up to limit candles for an instrument, newest first.
	RecentCandles(ctx context.Context, instrumentID string, limit int) ([]*domain.Candle, error)

	// Close releases the underlying storage handle.
	Close() error
}
