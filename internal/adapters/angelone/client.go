// Package angelone implements the market-data feed against the Angel One
// SmartAPI: password+TOTP login over REST, the smart-stream websocket with
// binary tick frames, and the historical candle endpoint.
package angelone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
)

const (
	streamURL     = "wss://smartapisocket.angelone.in/smart-stream"
	candleDataURL = "https://apiconnect.angelbroking.com/rest/secure/angelbroking/historical/v1/getCandleData"

	actionSubscribe   = 1
	actionUnsubscribe = 0

	// NSE cash/index segment and NSE futures & options segment.
	exchangeNSECM = 1
	exchangeNSEFO = 2

	heartbeatInterval = 30 * time.Second
	heartbeatMessage  = "ping"
	heartbeatReply    = "pong"
)

// Client implements ports.FeedSource and ports.HistoricalSource against the
// Angel One SmartAPI.
type Client struct {
	cfg    Config
	auth   *authenticator
	logger ports.Logger

	httpClient *http.Client

	mu      sync.Mutex // guards conn, session and all websocket writes
	conn    *websocket.Conn
	session *Session

	events  chan domain.FeedEvent
	cancel  context.CancelFunc
	done    chan struct{}
	running bool // run loop launched, guarded by mu
}

// Config holds configuration specific to the Angel One adapter.
type Config struct {
	APIKey     string
	ClientID   string
	Password   string
	TOTPSecret string
	Logger     ports.Logger

	// Directory resolves tokens to instruments so subscription requests can
	// carry the right exchange segment. Optional; unresolved tokens are
	// assumed to live on the NSE cash/index segment.
	Directory ports.InstrumentDirectory

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Angel One feed adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Angel One client")
	}
	if cfg.APIKey == "" || cfg.ClientID == "" || cfg.Password == "" || cfg.TOTPSecret == "" {
		return nil, fmt.Errorf("incomplete Angel One credentials: %w", ports.ErrConfigurationError)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Client{
		cfg:        cfg,
		auth:       newAuthenticator(cfg.APIKey, cfg.ClientID, cfg.Password, cfg.TOTPSecret, cfg.Logger),
		logger:     cfg.Logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		events:     make(chan domain.FeedEvent, 1024),
		done:       make(chan struct{}),
	}, nil
}

// Start logs in, dials the stream and returns the event channel. The first
// connect is synchronous so a bad credential fails fast; afterwards a
// background loop owns reads, heartbeats and reconnects until ctx is
// cancelled or Close is called.
func (c *Client) Start(ctx context.Context) (<-chan domain.FeedEvent, error) {
	op := "Start"

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.connect(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	c.emit(domain.FeedEvent{Kind: domain.FeedConnected})

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	go c.run(runCtx)
	return c.events, nil
}

// connect performs a full login+dial cycle and installs the new connection.
func (c *Client) connect(ctx context.Context) error {
	session, err := c.auth.Login(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+session.JWTToken)
	header.Set("x-api-key", c.cfg.APIKey)
	header.Set("x-client-code", c.cfg.ClientID)
	header.Set("x-feed-token", session.FeedToken)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		return fmt.Errorf("%w: dialing smart-stream: %w", ports.ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.session = session
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info(ctx, "Connected to Angel One smart-stream", map[string]interface{}{"clientID": c.cfg.ClientID})
	return nil
}

// run owns the connection lifecycle: it reads until the connection drops,
// then reconnects with exponential backoff, emitting the lifecycle events
// the core uses to drive re-subscription.
func (c *Client) run(ctx context.Context) {
	defer close(c.events)
	defer close(c.done)

	heartbeatStop := c.startHeartbeat(ctx)
	defer heartbeatStop()

	boff := &backoff.Backoff{
		Min:    c.cfg.ReconnectDelay,
		Max:    2 * time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		readErr := c.readLoop(ctx)
		if ctx.Err() != nil {
			c.logger.Info(ctx, "Feed loop stopped", nil)
			return
		}

		c.logger.Warn(ctx, "Smart-stream connection lost", map[string]interface{}{"error": readErr.Error()})
		c.emit(domain.FeedEvent{Kind: domain.FeedDisconnected})
		c.closeConn()

		reconnected := false
		for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
			delay := boff.Duration()
			c.logger.Info(ctx, "Reconnecting to smart-stream", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			if err := c.connect(ctx); err != nil {
				c.logger.Warn(ctx, "Reconnect attempt failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
				c.emit(domain.FeedEvent{Kind: domain.FeedError, Err: err})
				continue
			}
			reconnected = true
			break
		}
		if !reconnected {
			err := fmt.Errorf("giving up after %d reconnect attempts: %w", c.cfg.MaxReconnectAttempts, ports.ErrFeedUnavailable)
			c.logger.Error(ctx, err, "Max reconnect attempts exceeded")
			c.emit(domain.FeedEvent{Kind: domain.FeedError, Err: err})
			return
		}

		boff.Reset()
		c.emit(domain.FeedEvent{Kind: domain.FeedConnected})
	}
}

// readLoop consumes frames from the current connection until it fails.
// Binary frames are ticks; text frames are heartbeat replies or vendor
// notices.
func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ports.ErrConnectionFailed
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch msgType {
		case websocket.BinaryMessage:
			raw, err := decodeTick(payload)
			if err != nil {
				c.logger.Warn(ctx, "Discarding undecodable tick frame", map[string]interface{}{"error": err.Error(), "bytes": len(payload)})
				continue
			}
			c.emit(domain.FeedEvent{Kind: domain.FeedTick, Tick: raw})
		case websocket.TextMessage:
			if bytes.Equal(payload, []byte(heartbeatReply)) {
				continue
			}
			c.logger.Debug(ctx, "Smart-stream notice", map[string]interface{}{"payload": string(payload)})
		}
	}
}

// startHeartbeat keeps the vendor from idling the connection out. SmartAPI
// expects a literal "ping" text frame roughly every 30 seconds.
func (c *Client) startHeartbeat(ctx context.Context) (stop func()) {
	ticker := time.NewTicker(heartbeatInterval)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.writeText([]byte(heartbeatMessage)); err != nil {
					c.logger.Debug(ctx, "Heartbeat write failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		<-hbDone
	}
}

// Subscribe opens upstream subscriptions for the given tokens in snap-quote
// mode.
func (c *Client) Subscribe(ctx context.Context, instrumentIDs []string) error {
	return c.sendRequest(ctx, actionSubscribe, instrumentIDs)
}

// Unsubscribe drops upstream subscriptions for the given tokens.
func (c *Client) Unsubscribe(ctx context.Context, instrumentIDs []string) error {
	return c.sendRequest(ctx, actionUnsubscribe, instrumentIDs)
}

type streamRequest struct {
	CorrelationID string              `json:"correlationID"`
	Action        int                 `json:"action"`
	Params        streamRequestParams `json:"params"`
}

type streamRequestParams struct {
	Mode      int              `json:"mode"`
	TokenList []streamTokenSet `json:"tokenList"`
}

type streamTokenSet struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// sendRequest groups the tokens by exchange segment and writes one
// subscribe/unsubscribe frame.
func (c *Client) sendRequest(ctx context.Context, action int, instrumentIDs []string) error {
	op := "Subscribe"
	if action == actionUnsubscribe {
		op = "Unsubscribe"
	}
	if len(instrumentIDs) == 0 {
		return nil
	}

	req := streamRequest{
		CorrelationID: "niftypulse",
		Action:        action,
		Params: streamRequestParams{
			Mode:      modeSnapQuote,
			TokenList: c.groupByExchange(instrumentIDs),
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s failed: encoding request: %w", op, err)
	}

	if err := c.writeText(payload); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrSubscriptionFailed, err)
	}
	c.logger.Debug(ctx, op+" request sent", map[string]interface{}{"tokens": len(instrumentIDs)})
	return nil
}

// groupByExchange buckets tokens into per-segment sets for the wire format.
// Tokens the directory resolves to the NFO segment go out as F&O, everything
// else as NSE cash/index.
func (c *Client) groupByExchange(instrumentIDs []string) []streamTokenSet {
	buckets := make(map[int][]string)
	for _, id := range instrumentIDs {
		segment := exchangeNSECM
		if c.cfg.Directory != nil {
			if inst, ok := c.cfg.Directory.Lookup(id); ok && inst.ExchangeSegment == "NFO" {
				segment = exchangeNSEFO
			}
		}
		buckets[segment] = append(buckets[segment], id)
	}

	sets := make([]streamTokenSet, 0, len(buckets))
	for _, segment := range []int{exchangeNSECM, exchangeNSEFO} {
		if tokens, ok := buckets[segment]; ok {
			sets = append(sets, streamTokenSet{ExchangeType: segment, Tokens: tokens})
		}
	}
	return sets
}

// writeText serializes websocket writes; gorilla/websocket allows only one
// concurrent writer.
func (c *Client) writeText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ports.ErrFeedUnavailable
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// emit delivers one event without blocking the websocket reader.
func (c *Client) emit(ev domain.FeedEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn(context.Background(), "Feed event buffer full, dropping event", map[string]interface{}{"kind": string(ev.Kind)})
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close tears down the connection and stops the background loop. The event
// channel is closed once the loop has exited. Safe to call after a failed
// Start, when there is no loop to wait for.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		<-c.done
	}
	return nil
}

// --- Historical candles ---

type candleDataRequest struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"`
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

type candleDataResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      [][]interface{} `json:"data"`
}

// GetCandleData fetches historical candles from the SmartAPI REST endpoint.
// The vendor serves rupee prices here, unlike the paise ticks on the stream.
func (c *Client) GetCandleData(ctx context.Context, instrumentID string, period time.Duration, from, to time.Time) ([]*domain.Candle, error) {
	op := "GetCandleData"

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("%s failed: %w: not logged in", op, ports.ErrFeedUnavailable)
	}

	interval, err := candleInterval(period)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	exchange := "NSE"
	if c.cfg.Directory != nil {
		if inst, ok := c.cfg.Directory.Lookup(instrumentID); ok && inst.ExchangeSegment != "" {
			exchange = inst.ExchangeSegment
		}
	}

	body, err := json.Marshal(candleDataRequest{
		Exchange:    exchange,
		SymbolToken: instrumentID,
		Interval:    interval,
		FromDate:    from.Format("2006-01-02 15:04"),
		ToDate:      to.Format("2006-01-02 15:04"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: encoding request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candleDataURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s failed: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.JWTToken)
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed: unexpected status %d", op, resp.StatusCode)
	}

	var decoded candleDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s failed: decoding response: %w", op, err)
	}
	if !decoded.Status {
		return nil, fmt.Errorf("%s failed: %w: %s (code %s)", op, ports.ErrQueryFailed, decoded.Message, decoded.ErrorCode)
	}

	candles := make([]*domain.Candle, 0, len(decoded.Data))
	for _, row := range decoded.Data {
		candle, err := parseCandleRow(instrumentID, row)
		if err != nil {
			c.logger.Warn(ctx, op+": skipping malformed candle row", map[string]interface{}{"error": err.Error()})
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// candleInterval maps a candle period onto the vendor's interval vocabulary.
func candleInterval(period time.Duration) (string, error) {
	switch period {
	case time.Minute:
		return "ONE_MINUTE", nil
	case 3 * time.Minute:
		return "THREE_MINUTE", nil
	case 5 * time.Minute:
		return "FIVE_MINUTE", nil
	case 10 * time.Minute:
		return "TEN_MINUTE", nil
	case 15 * time.Minute:
		return "FIFTEEN_MINUTE", nil
	case 30 * time.Minute:
		return "THIRTY_MINUTE", nil
	case time.Hour:
		return "ONE_HOUR", nil
	case 24 * time.Hour:
		return "ONE_DAY", nil
	default:
		return "", fmt.Errorf("%w: unsupported candle period %s", ports.ErrInvalidRequest, period)
	}
}

// parseCandleRow converts one [timestamp, o, h, l, c, volume] row.
func parseCandleRow(instrumentID string, row []interface{}) (*domain.Candle, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("candle row has %d fields, want 6", len(row))
	}
	tsStr, ok := row[0].(string)
	if !ok {
		return nil, fmt.Errorf("candle timestamp is not a string")
	}
	ts, err := time.Parse("2006-01-02T15:04:05-07:00", tsStr)
	if err != nil {
		return nil, fmt.Errorf("parsing candle timestamp %q: %w", tsStr, err)
	}

	nums := make([]float64, 0, 5)
	for _, v := range row[1:6] {
		f, ok := v.(float64)
		if !ok {
			if s, isStr := v.(string); isStr {
				parsed, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing candle field %q: %w", s, err)
				}
				f = parsed
			} else {
				return nil, fmt.Errorf("candle field has unexpected type %T", v)
			}
		}
		nums = append(nums, f)
	}

	return &domain.Candle{
		InstrumentID: instrumentID,
		PeriodStart:  ts,
		Open:         domain.PriceFromMajor(nums[0]),
		High:         domain.PriceFromMajor(nums[1]),
		Low:          domain.PriceFromMajor(nums[2]),
		Close:        domain.PriceFromMajor(nums[3]),
		Volume:       int64(nums[4]),
		LastUpdate:   ts,
	}, nil
}
