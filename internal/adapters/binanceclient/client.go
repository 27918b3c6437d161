// Package binanceclient adapts Binance USD-M futures aggregate-trade streams
// to the feed source contract. It exists for running the aggregation pipeline
// against a market that is open around the clock; instrument ids are Binance
// symbols ("BTCUSDT") instead of exchange tokens.
package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
)

// Client implements ports.FeedSource on top of go-binance websocket streams.
// Each subscribed symbol gets its own stream connection with its own
// reconnect loop.
// serveFunc matches futures.WsAggTradeServe so tests can stand in a fake
// stream without a network connection.
type serveFunc func(symbol string, handler futures.WsAggTradeHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error)

type Client struct {
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	serve                serveFunc

	mu      sync.Mutex
	streams map[string]context.CancelFunc
	events  chan domain.FeedEvent
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Config holds configuration specific to the Binance feed adapter. Public
// market-data streams need no API keys.
type Config struct {
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Binance feed adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Client{
		logger:               cfg.Logger,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		serve:                futures.WsAggTradeServe,
		streams:              make(map[string]context.CancelFunc),
		events:               make(chan domain.FeedEvent, 1024),
	}, nil
}

// Start returns the event stream. Binance needs no session setup, so this
// only arms the lifecycle; per-symbol connections are dialed on Subscribe.
func (c *Client) Start(ctx context.Context) (<-chan domain.FeedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, fmt.Errorf("binance feed already started: %w", ports.ErrInvalidRequest)
	}
	c.started = true
	c.runCtx, c.cancel = context.WithCancel(ctx)

	go func() {
		<-c.runCtx.Done()
		c.wg.Wait()
		close(c.events)
	}()

	c.emit(domain.FeedEvent{Kind: domain.FeedConnected})
	return c.events, nil
}

// Subscribe opens an aggregate-trade stream per symbol. Symbols already
// streaming are left alone.
func (c *Client) Subscribe(ctx context.Context, instrumentIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ports.ErrFeedUnavailable
	}

	for _, symbol := range instrumentIDs {
		if _, ok := c.streams[symbol]; ok {
			continue
		}
		streamCtx, cancel := context.WithCancel(c.runCtx)
		c.streams[symbol] = cancel
		c.wg.Add(1)
		go c.streamSymbol(streamCtx, symbol)
	}
	return nil
}

// Unsubscribe stops the streams for the given symbols.
func (c *Client) Unsubscribe(ctx context.Context, instrumentIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, symbol := range instrumentIDs {
		if cancel, ok := c.streams[symbol]; ok {
			cancel()
			delete(c.streams, symbol)
		}
	}
	return nil
}

// Close stops every stream and closes the event channel once all stream
// goroutines have drained.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// streamSymbol owns one symbol's connection: serve, wait for failure,
// back off, reconnect. Exits when its context is cancelled or the attempt
// budget is spent.
func (c *Client) streamSymbol(ctx context.Context, symbol string) {
	defer c.wg.Done()
	op := "streamSymbol"

	boff := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    2 * time.Minute,
		Factor: 2,
		Jitter: true,
	}

	handler := func(event *futures.WsAggTradeEvent) {
		raw, err := translateAggTrade(event)
		if err != nil {
			c.logger.Warn(ctx, op+": discarding untranslatable trade event", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			return
		}
		c.emit(domain.FeedEvent{Kind: domain.FeedTick, Tick: raw})
	}
	errHandler := func(err error) {
		c.logger.Warn(ctx, op+": stream error reported", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	attempt := 0
	dropped := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		doneCh, stopCh, err := c.serve(symbol, handler, errHandler)
		if err != nil {
			attempt++
			if attempt >= c.maxReconnectAttempts {
				connErr := fmt.Errorf("giving up on %s after %d attempts: %w", symbol, attempt, ports.ErrFeedUnavailable)
				c.logger.Error(ctx, connErr, op+": max reconnection attempts exceeded", map[string]interface{}{"symbol": symbol})
				c.emit(domain.FeedEvent{Kind: domain.FeedError, Err: connErr})
				return
			}
			delay := boff.Duration()
			c.logger.Info(ctx, op+": connection failed, retrying", map[string]interface{}{"symbol": symbol, "attempt": attempt, "delay": delay.String()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		c.logger.Info(ctx, op+": stream established", map[string]interface{}{"symbol": symbol})
		attempt = 0
		boff.Reset()
		if dropped {
			// Announced only once the replacement connection is live, so
			// the core never re-subscribes against a dead stream.
			c.emit(domain.FeedEvent{Kind: domain.FeedConnected})
			dropped = false
		}

		select {
		case <-doneCh:
			c.logger.Warn(ctx, op+": stream closed unexpectedly, reconnecting", map[string]interface{}{"symbol": symbol})
			c.emit(domain.FeedEvent{Kind: domain.FeedDisconnected})
			dropped = true
		case <-ctx.Done():
			select {
			case stopCh <- struct{}{}:
			default:
			}
			return
		}
	}
}

// emit delivers one event without blocking the stream reader.
func (c *Client) emit(ev domain.FeedEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn(context.Background(), "Feed event buffer full, dropping event", map[string]interface{}{"kind": string(ev.Kind)})
	}
}

// translateAggTrade converts one Binance aggregate trade into a raw tick.
// Binance quotes decimal strings in major units; the tick keeps minor units.
func translateAggTrade(event *futures.WsAggTradeEvent) (domain.RawTick, error) {
	if event == nil {
		return domain.RawTick{}, fmt.Errorf("%w: nil trade event", ports.ErrInvalidTick)
	}
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return domain.RawTick{}, fmt.Errorf("%w: parsing price %q: %w", ports.ErrInvalidTick, event.Price, err)
	}

	paise := int64(domain.PriceFromMajor(price))
	ts := event.TradeTime
	return domain.RawTick{
		InstrumentID:        event.Symbol,
		LastTradedPrice:     &paise,
		ExchangeTimestampMs: &ts,
	}, nil
}
