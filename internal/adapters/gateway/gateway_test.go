package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/pubsub"
)

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockService struct {
	hub *pubsub.Hub

	mu      sync.Mutex
	added   []string
	removed []string
	live    []domain.Candle
	addErr  error
}

func newMockService(t *testing.T) *mockService {
	t.Helper()
	hub, err := pubsub.New(pubsub.Config{QueueCapacity: 16, Logger: &mockLogger{}})
	require.NoError(t, err)
	return &mockService{hub: hub}
}

func (m *mockService) AddInterest(ctx context.Context, instrumentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, instrumentID)
	return nil
}

func (m *mockService) RemoveInterest(ctx context.Context, instrumentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, instrumentID)
	return nil
}

func (m *mockService) Hub() *pubsub.Hub { return m.hub }

func (m *mockService) LiveCandles() []domain.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

func (m *mockService) addedTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.added...)
}

func (m *mockService) removedTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.removed...)
}

type mockStore struct {
	candles []*domain.Candle
}

func (s *mockStore) SaveCandle(ctx context.Context, candle *domain.Candle) error { return nil }

func (s *mockStore) RecentCandles(ctx context.Context, instrumentID string, limit int) ([]*domain.Candle, error) {
	if len(s.candles) > limit {
		return s.candles[:limit], nil
	}
	return s.candles, nil
}

func (s *mockStore) Close() error { return nil }

func newTestServer(t *testing.T, svc *mockService, store *mockStore) *httptest.Server {
	t.Helper()
	cfg := Config{ListenAddr: ":0", Logger: &mockLogger{}, Service: svc, Period: time.Minute}
	if store != nil {
		cfg.Store = store
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLiveCandles(t *testing.T) {
	svc := newMockService(t)
	svc.live = []domain.Candle{{
		InstrumentID: "99926000",
		PeriodStart:  time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC),
		Open:         2255000,
		High:         2256000,
		Low:          2254025,
		Close:        2255575,
		Volume:       150000,
	}}
	ts := newTestServer(t, svc, nil)

	resp, err := http.Get(ts.URL + "/api/live")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Candles []candlePayload `json:"candles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Candles, 1)
	assert.Equal(t, "22550.00", body.Candles[0].Open)
	assert.Equal(t, "22555.75", body.Candles[0].Close)
	assert.False(t, body.Candles[0].Final)
}

func TestHistory_RequiresToken(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, &mockStore{})

	resp, err := http.Get(ts.URL + "/api/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory_FromStore(t *testing.T) {
	svc := newMockService(t)
	store := &mockStore{candles: []*domain.Candle{
		{InstrumentID: "99926000", PeriodStart: time.Date(2025, 3, 10, 10, 16, 0, 0, time.UTC), Close: 2256000},
		{InstrumentID: "99926000", PeriodStart: time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC), Close: 2255000},
	}}
	ts := newTestServer(t, svc, store)

	resp, err := http.Get(ts.URL + "/api/history?token=99926000")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token   string          `json:"token"`
		Candles []candlePayload `json:"candles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "99926000", body.Token)
	require.Len(t, body.Candles, 2)
	assert.Equal(t, "22560.00", body.Candles[0].Close)
	assert.True(t, body.Candles[0].Final)
}

func TestHistory_NoSourceConfigured(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, nil)

	resp, err := http.Get(ts.URL + "/api/history?token=99926000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestMarketDataWebsocket_StreamsEvents(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, nil)

	conn := dialWS(t, ts, "/ws/market_data?tokens=99926000")

	require.Eventually(t, func() bool {
		return svc.hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"99926000"}, svc.addedTokens())

	tick := &domain.Tick{
		InstrumentID:      "99926000",
		LastTradedPrice:   2255050,
		BestBidPrice:      2255000,
		ExchangeTimestamp: time.Date(2025, 3, 10, 10, 15, 5, 0, time.UTC),
	}
	svc.hub.Publish(domain.Event{Type: domain.EventTickReceived, InstrumentID: "99926000", Tick: tick})

	candle := &domain.Candle{InstrumentID: "99926000", Open: 2255050, High: 2255050, Low: 2255050, Close: 2255050}
	svc.hub.Publish(domain.Event{Type: domain.EventCandleFinalized, InstrumentID: "99926000", Candle: candle})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first wireMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "tick_received", first.Type)
	require.NotNil(t, first.Tick)
	assert.Equal(t, "22550.50", first.Tick.LastTradedPrice)
	assert.Equal(t, "22550.00", first.Tick.BestBidPrice)
	assert.Empty(t, first.Tick.BestAskPrice)

	var second wireMessage
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "candle_finalized", second.Type)
	require.NotNil(t, second.Candle)
	assert.True(t, second.Candle.Final)
}

func TestMarketDataWebsocket_FiltersByToken(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, nil)

	conn := dialWS(t, ts, "/ws/market_data?tokens=43210")

	require.Eventually(t, func() bool {
		return svc.hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	other := &domain.Tick{InstrumentID: "99926000", LastTradedPrice: 1, ExchangeTimestamp: time.Now()}
	wanted := &domain.Tick{InstrumentID: "43210", LastTradedPrice: 15075, ExchangeTimestamp: time.Now()}
	svc.hub.Publish(domain.Event{Type: domain.EventTickReceived, InstrumentID: "99926000", Tick: other})
	svc.hub.Publish(domain.Event{Type: domain.EventTickReceived, InstrumentID: "43210", Tick: wanted})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "43210", msg.InstrumentID)
	assert.Equal(t, "150.75", msg.Tick.LastTradedPrice)
}

func TestMarketDataWebsocket_ReleasesInterestOnDisconnect(t *testing.T) {
	svc := newMockService(t)
	ts := newTestServer(t, svc, nil)

	conn := dialWS(t, ts, "/ws/market_data?tokens=99926000")

	require.Eventually(t, func() bool {
		return len(svc.addedTokens()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(svc.removedTokens()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"99926000"}, svc.removedTokens())
	require.Eventually(t, func() bool {
		return svc.hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSplitTokens(t *testing.T) {
	assert.Nil(t, splitTokens(""))
	assert.Equal(t, []string{"a", "b"}, splitTokens("a, b,"))
}
