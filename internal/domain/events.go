package domain

// EventType discriminates the events delivered to downstream subscribers.
type EventType string

const (
	EventTickReceived    EventType = "tick_received"
	EventCandleUpdated   EventType = "candle_updated"
	EventCandleFinalized EventType = "candle_finalized"
)

// Event is one publication-channel message. Exactly one of Tick/Candle is set
// depending on Type; both are snapshots, safe to retain after delivery.
type Event struct {
	Type         EventType
	InstrumentID string
	Tick         *Tick
	Candle       *Candle
}

// FeedEventKind enumerates the feed adapter's lifecycle stream.
type FeedEventKind string

const (
	FeedConnected    FeedEventKind = "connected"
	FeedTick         FeedEventKind = "tick"
	FeedDisconnected FeedEventKind = "disconnected"
	FeedError        FeedEventKind = "error"
)

// FeedEvent is one entry in the typed event stream a feed adapter produces.
// The core consumes these via ordinary control flow instead of registering
// callbacks on the adapter.
type FeedEvent struct {
	Kind FeedEventKind
	Tick RawTick // set when Kind == FeedTick
	Err  error   // set when Kind == FeedError
}
