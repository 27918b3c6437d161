// Package redisbridge mirrors the publication stream onto Redis pub/sub so
// processes outside this one (dashboards, strategy runners) can consume live
// data from per-instrument channels.
package redisbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
	"niftyPulse/internal/pubsub"
)

// Bridge republishes hub events to Redis channels named
// "<prefix>:<instrument id>".
type Bridge struct {
	client *redis.Client
	prefix string
	logger ports.Logger
}

// Config holds configuration for the Redis bridge.
type Config struct {
	Addr          string
	ChannelPrefix string // defaults to "market_data"
	Logger        ports.Logger
}

// New creates the bridge and verifies the connection.
func New(ctx context.Context, cfg Config) (*Bridge, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for redis bridge")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required: %w", ports.ErrConfigurationError)
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "market_data"
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: pinging redis at %s: %w", ports.ErrConnectionFailed, cfg.Addr, err)
	}

	cfg.Logger.Info(ctx, "Redis bridge connected", map[string]interface{}{"addr": cfg.Addr, "prefix": prefix})
	return &Bridge{client: client, prefix: prefix, logger: cfg.Logger}, nil
}

// channelMessage is the JSON shape published to Redis. Prices go out in
// major units so channel consumers never deal with paise.
type channelMessage struct {
	Type         string `json:"type"`
	InstrumentID string `json:"instrumentId"`
	LTP          string `json:"ltp,omitempty"`
	Bid          string `json:"bid,omitempty"`
	Ask          string `json:"ask,omitempty"`
	Open         string `json:"open,omitempty"`
	High         string `json:"high,omitempty"`
	Low          string `json:"low,omitempty"`
	Close        string `json:"close,omitempty"`
	Volume       int64  `json:"volume,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Run consumes the hub until ctx is cancelled or the hub closes. Publish
// failures are logged and skipped; Redis being down must not back up the
// hub queue for everyone else.
func (b *Bridge) Run(ctx context.Context, hub *pubsub.Hub) {
	sub := hub.Subscribe()
	defer sub.Close()

	b.logger.Info(ctx, "Redis bridge started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info(ctx, "Redis bridge stopped", map[string]interface{}{"dropped": sub.Dropped()})
			return
		case ev, ok := <-sub.Events():
			if !ok {
				b.logger.Info(ctx, "Redis bridge stopped", map[string]interface{}{"dropped": sub.Dropped()})
				return
			}
			b.publish(ctx, ev)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(translateEvent(ev))
	if err != nil {
		b.logger.Error(ctx, err, "Failed to encode event for redis", map[string]interface{}{"instrumentID": ev.InstrumentID})
		return
	}

	channel := b.prefix + ":" + ev.InstrumentID
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Warn(ctx, "Redis publish failed", map[string]interface{}{"channel": channel, "error": err.Error()})
	}
}

func translateEvent(ev domain.Event) channelMessage {
	msg := channelMessage{
		Type:         string(ev.Type),
		InstrumentID: ev.InstrumentID,
	}
	if ev.Tick != nil {
		msg.LTP = ev.Tick.LastTradedPrice.String()
		if ev.Tick.BestBidPrice != 0 {
			msg.Bid = ev.Tick.BestBidPrice.String()
		}
		if ev.Tick.BestAskPrice != 0 {
			msg.Ask = ev.Tick.BestAskPrice.String()
		}
		msg.Volume = ev.Tick.TotalTradedVolume
		msg.Timestamp = ev.Tick.ExchangeTimestamp.Format(time.RFC3339Nano)
	}
	if ev.Candle != nil {
		msg.Open = ev.Candle.Open.String()
		msg.High = ev.Candle.High.String()
		msg.Low = ev.Candle.Low.String()
		msg.Close = ev.Candle.Close.String()
		msg.Volume = ev.Candle.Volume
		msg.Timestamp = ev.Candle.LastUpdate.Format(time.RFC3339Nano)
	}
	return msg
}

// Close releases the Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}
