package app

import (
	"context"
	"errors"
	"fmt"

	"niftyPulse/config"
	"niftyPulse/internal/aggregator"
	"niftyPulse/internal/domain"
	"niftyPulse/internal/metrics"
	"niftyPulse/internal/normalizer"
	"niftyPulse/internal/ports"
	"niftyPulse/internal/pubsub"
	"niftyPulse/internal/registry"
)

// MarketDataService owns the ingestion path: it consumes the feed adapter's
// typed event stream, routes raw ticks through the normalizer and aggregator,
// and publishes the results to the fan-out hub. It also arbitrates upstream
// subscriptions through the registry, so the feed only carries instruments
// somebody actually wants.
type MarketDataService struct {
	cfg      *config.Config
	logger   ports.Logger
	feed     ports.FeedSource
	norm     *normalizer.Normalizer
	agg      *aggregator.Aggregator
	hub      *pubsub.Hub
	registry *registry.Registry
	dir      ports.InstrumentDirectory // optional, for option-chain bootstrap
}

// NewMarketDataService creates a new application service instance.
func NewMarketDataService(
	cfg *config.Config,
	logger ports.Logger,
	feed ports.FeedSource,
	norm *normalizer.Normalizer,
	agg *aggregator.Aggregator,
	hub *pubsub.Hub,
	reg *registry.Registry,
	dir ports.InstrumentDirectory,
) (*MarketDataService, error) {
	if cfg == nil || logger == nil || feed == nil || norm == nil || agg == nil || hub == nil || reg == nil {
		return nil, fmt.Errorf("missing required dependencies for MarketDataService")
	}
	return &MarketDataService{
		cfg:      cfg,
		logger:   logger,
		feed:     feed,
		norm:     norm,
		agg:      agg,
		hub:      hub,
		registry: reg,
		dir:      dir,
	}, nil
}

// Hub exposes the publication channel for downstream collaborators
// (gateway, recorder, redis bridge).
func (s *MarketDataService) Hub() *pubsub.Hub {
	return s.hub
}

// LiveCandles returns snapshots of every in-progress candle.
func (s *MarketDataService) LiveCandles() []domain.Candle {
	return s.agg.LiveCandles()
}

// AddInterest registers downstream interest in an instrument. The upstream
// subscribe message goes out only on the first interested party.
func (s *MarketDataService) AddInterest(ctx context.Context, instrumentID string) error {
	cmd := s.registry.AddInterest(instrumentID)
	if cmd == nil {
		return nil
	}
	s.logger.Info(ctx, "Opening upstream subscription", map[string]interface{}{"instrumentID": cmd.InstrumentID})
	if err := s.feed.Subscribe(ctx, []string{cmd.InstrumentID}); err != nil {
		// Roll the count back so a retry re-triggers the 0->1 transition.
		s.registry.RemoveInterest(instrumentID)
		return fmt.Errorf("subscribe %s: %w", instrumentID, err)
	}
	return nil
}

// RemoveInterest drops downstream interest in an instrument. The upstream
// unsubscribe goes out only when the last interested party leaves; the live
// candle is discarded with it, without any durable flush.
func (s *MarketDataService) RemoveInterest(ctx context.Context, instrumentID string) error {
	cmd := s.registry.RemoveInterest(instrumentID)
	if cmd == nil {
		return nil
	}
	s.logger.Info(ctx, "Closing upstream subscription", map[string]interface{}{"instrumentID": cmd.InstrumentID})
	s.agg.Drop(cmd.InstrumentID)
	if err := s.feed.Unsubscribe(ctx, []string{cmd.InstrumentID}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", instrumentID, err)
	}
	return nil
}

// Start runs the ingestion loop until ctx is cancelled or the feed stream
// ends. On return all upstream subscriptions with nonzero reference counts
// have been released and the feed connection is closed; aggregator state is
// simply dropped with the process.
func (s *MarketDataService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting market data service", map[string]interface{}{
		"vendor":    s.cfg.FeedVendor,
		"period":    s.cfg.Period.String(),
		"queueCap":  s.cfg.SubscriberQueueCapacity,
		"timezone":  s.cfg.ReferenceTimezone,
		"bootstrap": len(s.cfg.InstrumentTokens),
	})

	events, err := s.feed.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start feed: %w", err)
	}
	defer s.shutdown()

	if err := s.bootstrapInterest(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Context cancelled, stopping market data service")
			return nil
		case ev, ok := <-events:
			if !ok {
				s.logger.Warn(ctx, "Feed event stream closed")
				return fmt.Errorf("feed stream ended: %w", ports.ErrFeedUnavailable)
			}
			s.handleFeedEvent(ctx, ev)
		}
	}
}

// bootstrapInterest registers the configured startup instruments (and
// optionally the option chain of the configured underlying).
func (s *MarketDataService) bootstrapInterest(ctx context.Context) error {
	tokens := append([]string{}, s.cfg.InstrumentTokens...)

	if s.cfg.SubscribeOptionChain {
		if s.dir == nil {
			return fmt.Errorf("option chain subscription requested but no instrument directory configured: %w", ports.ErrConfigurationError)
		}
		chain, err := s.dir.OptionChain(ctx, s.cfg.Underlying, s.cfg.OptionExpiry)
		if err != nil {
			return fmt.Errorf("failed to load option chain for %s: %w", s.cfg.Underlying, err)
		}
		s.logger.Info(ctx, "Loaded option chain", map[string]interface{}{
			"underlying": s.cfg.Underlying,
			"expiry":     s.cfg.OptionExpiry,
			"contracts":  len(chain),
		})
		for _, inst := range chain {
			tokens = append(tokens, inst.Token)
		}
	}

	for _, token := range tokens {
		if err := s.AddInterest(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// handleFeedEvent dispatches one entry of the feed's lifecycle stream.
func (s *MarketDataService) handleFeedEvent(ctx context.Context, ev domain.FeedEvent) {
	switch ev.Kind {
	case domain.FeedTick:
		s.handleRawTick(ctx, ev.Tick)
	case domain.FeedConnected:
		// Fresh session (initial connect or reconnect): re-issue every
		// subscription the registry still holds interest in.
		active := s.registry.ActiveInstruments()
		if len(active) == 0 {
			return
		}
		s.logger.Info(ctx, "Feed connected, issuing subscriptions", map[string]interface{}{"instruments": len(active)})
		if err := s.feed.Subscribe(ctx, active); err != nil {
			s.logger.Error(ctx, err, "Failed to issue subscriptions after connect")
		}
	case domain.FeedDisconnected:
		// In-progress candles are deliberately preserved; ticks simply stop
		// until the adapter reconnects and we re-subscribe.
		s.logger.Warn(ctx, "Feed disconnected, awaiting reconnect", map[string]interface{}{
			"liveCandles": len(s.agg.LiveCandles()),
		})
	case domain.FeedError:
		s.logger.Error(ctx, ev.Err, "Feed reported an error")
	}
}

// handleRawTick runs one raw payload through normalize -> aggregate -> publish.
// Malformed and stale ticks are dropped and counted without disturbing the
// stream for other instruments or subscribers.
func (s *MarketDataService) handleRawTick(ctx context.Context, raw domain.RawTick) {
	tick, err := s.norm.Normalize(raw)
	if err != nil {
		metrics.InvalidTicks.Inc()
		s.logger.Warn(ctx, "Dropping invalid tick", map[string]interface{}{
			"instrumentID": raw.InstrumentID,
			"reason":       err.Error(),
		})
		return
	}

	updates, err := s.agg.Ingest(tick)
	if err != nil {
		if !errors.Is(err, ports.ErrStaleTick) {
			s.logger.Error(ctx, err, "Unexpected aggregation failure", map[string]interface{}{"instrumentID": tick.InstrumentID})
		}
		// Stale ticks were already counted and logged by the aggregator.
		return
	}

	s.hub.Publish(domain.Event{
		Type:         domain.EventTickReceived,
		InstrumentID: tick.InstrumentID,
		Tick:         &tick,
	})
	for _, update := range updates {
		candle := update.Candle
		eventType := domain.EventCandleUpdated
		if update.IsFinal {
			eventType = domain.EventCandleFinalized
		}
		s.hub.Publish(domain.Event{
			Type:         eventType,
			InstrumentID: candle.InstrumentID,
			Candle:       &candle,
		})
	}
}

// shutdown releases upstream subscriptions and closes the feed and hub.
func (s *MarketDataService) shutdown() {
	ctx := context.Background()

	active := s.registry.ActiveInstruments()
	if len(active) > 0 {
		s.logger.Info(ctx, "Releasing upstream subscriptions", map[string]interface{}{"instruments": len(active)})
		if err := s.feed.Unsubscribe(ctx, active); err != nil {
			s.logger.Warn(ctx, "Failed to unsubscribe on shutdown", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := s.feed.Close(); err != nil {
		s.logger.Warn(ctx, "Failed to close feed", map[string]interface{}{"error": err.Error()})
	}
	s.hub.Close()
	s.logger.Info(ctx, "Market data service stopped")
}
