package ports

import (
	"context"
	"time"

	"niftyPulse/internal/domain"
)

// FeedSource abstracts the upstream market-data vendor. An implementation
// owns the connection lifecycle (auth, dial, heartbeat, reconnect) and
// surfaces everything that happens as a typed event stream; the core consumes
// that stream with ordinary control flow instead of registering callbacks.
//
// After a reconnect the adapter emits FeedConnected again and the caller is
// expected to re-issue its subscriptions.
type FeedSource interface {
	// Start connects and returns the event stream. The stream is closed when
	// ctx is cancelled or Close is called; transient disconnects surface as
	// FeedDisconnected/FeedConnected pairs, not as stream closure.
	Start(ctx context.Context) (<-chan domain.FeedEvent, error)

	// Subscribe opens upstream subscriptions for the given instrument ids.
	Subscribe(ctx context.Context, instrumentIDs []string) error

	// Unsubscribe drops upstream subscriptions for the given instrument ids.
	Unsubscribe(ctx context.Context, instrumentIDs []string) error

	// Close tears down the connection and releases all resources.
	Close() error
}

// HistoricalSource is implemented by feed adapters that can also serve
// historical candles (used by the gateway's history endpoint; the live core
// never calls it).
type HistoricalSource interface {
	GetCandleData(ctx context.Context, instrumentID string, period time.Duration, from, to time.Time) ([]*domain.Candle, error)
}
