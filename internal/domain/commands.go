package domain

// SubscribeCommand instructs the feed adapter to open an upstream
// subscription for an instrument. Emitted by the registry only on a 0->1
// reference-count transition.
type SubscribeCommand struct {
	InstrumentID string
}

// UnsubscribeCommand instructs the feed adapter to drop an upstream
// subscription. Emitted only on a 1->0 transition.
type UnsubscribeCommand struct {
	InstrumentID string
}
