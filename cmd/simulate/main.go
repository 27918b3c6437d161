// Command simulate drives the aggregation pipeline with a synthetic random
// walk instead of a live vendor connection. Useful for exercising the
// websocket gateway outside market hours.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"niftyPulse/internal/adapters/gateway"
	"niftyPulse/internal/adapters/logger"
	"niftyPulse/internal/aggregator"
	"niftyPulse/internal/domain"
	"niftyPulse/internal/normalizer"
	"niftyPulse/internal/pubsub"
)

func main() {
	listenAddr := flag.String("listen", ":8080", "gateway listen address")
	token := flag.String("token", "99926000", "synthetic instrument token")
	startPrice := flag.Float64("price", 22550.0, "starting price in major units")
	interval := flag.Duration("interval", 200*time.Millisecond, "tick interval")
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	norm, err := normalizer.New("Asia/Kolkata")
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	agg, err := aggregator.New(aggregator.Config{Period: time.Minute, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	hub, err := pubsub.New(pubsub.Config{QueueCapacity: 256, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	sim := &simulator{norm: norm, agg: agg, hub: hub}

	gw, err := gateway.NewServer(gateway.Config{
		ListenAddr: *listenAddr,
		Logger:     appLogger,
		Service:    sim,
		Period:     time.Minute,
	})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	go func() {
		if err := gw.Start(ctx); err != nil {
			appLogger.Error(ctx, err, "Gateway exited with error")
			stop()
		}
	}()

	appLogger.Info(ctx, "Simulator running", map[string]interface{}{
		"token":    *token,
		"price":    *startPrice,
		"interval": interval.String(),
	})
	sim.walk(ctx, *token, *startPrice, *interval)
	hub.Close()
}

// simulator feeds a random walk through the real pipeline and satisfies the
// gateway's service contract; interest tracking is a no-op because the data
// is generated locally anyway.
type simulator struct {
	norm *normalizer.Normalizer
	agg  *aggregator.Aggregator
	hub  *pubsub.Hub
}

func (s *simulator) AddInterest(ctx context.Context, instrumentID string) error    { return nil }
func (s *simulator) RemoveInterest(ctx context.Context, instrumentID string) error { return nil }
func (s *simulator) Hub() *pubsub.Hub                                              { return s.hub }
func (s *simulator) LiveCandles() []domain.Candle                                  { return s.agg.LiveCandles() }

func (s *simulator) walk(ctx context.Context, token string, startPrice float64, interval time.Duration) {
	price := int64(domain.PriceFromMajor(startPrice))
	volume := int64(0)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price += rand.Int63n(501) - 250
			if price < 100 {
				price = 100
			}
			volume += rand.Int63n(1000)
			now := time.Now().UnixMilli()

			raw := domain.RawTick{
				InstrumentID:        token,
				LastTradedPrice:     &price,
				TotalTradedVolume:   &volume,
				ExchangeTimestampMs: &now,
			}
			tick, err := s.norm.Normalize(raw)
			if err != nil {
				continue
			}
			updates, err := s.agg.Ingest(tick)
			if err != nil {
				continue
			}

			s.hub.Publish(domain.Event{Type: domain.EventTickReceived, InstrumentID: token, Tick: &tick})
			for _, update := range updates {
				candle := update.Candle
				eventType := domain.EventCandleUpdated
				if update.IsFinal {
					eventType = domain.EventCandleFinalized
				}
				s.hub.Publish(domain.Event{Type: eventType, InstrumentID: token, Candle: &candle})
			}
		}
	}
}
