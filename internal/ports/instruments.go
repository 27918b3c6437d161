package ports

import (
	"context"

	"niftyPulse/internal/domain"
)

// InstrumentDirectory is the externally supplied token metadata table.
// Implementations load it once (e.g. from the vendor's scrip-master dump) and
// serve lookups from memory; the directory never changes during a session.
type InstrumentDirectory interface {
	// Lookup resolves an instrument token to its metadata.
	Lookup(token string) (*domain.Instrument, bool)

	// OptionChain returns the option contracts for an underlying and expiry.
	// A zero expiry selects the nearest one.
	OptionChain(ctx context.Context, underlying string, expiry string) ([]*domain.Instrument, error)
}
