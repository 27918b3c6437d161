// Package gateway exposes the live stream and the operational surface over
// HTTP: a websocket endpoint fanning out tick and candle events, a health
// probe, Prometheus metrics and a historical candle query.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
	"niftyPulse/internal/pubsub"
)

const (
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 45 * time.Second
	defaultHistDays  = 1
	defaultHistLimit = 100
)

// MarketService is the slice of the application service the gateway needs.
type MarketService interface {
	AddInterest(ctx context.Context, instrumentID string) error
	RemoveInterest(ctx context.Context, instrumentID string) error
	Hub() *pubsub.Hub
	LiveCandles() []domain.Candle
}

// Server serves the subscriber-facing HTTP surface.
type Server struct {
	listenAddr string
	logger     ports.Logger
	service    MarketService
	historical ports.HistoricalSource // optional
	store      ports.CandleStore      // optional fallback for history queries
	period     time.Duration

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// Config holds configuration for the gateway server.
type Config struct {
	ListenAddr string
	Logger     ports.Logger
	Service    MarketService
	Historical ports.HistoricalSource
	Store      ports.CandleStore
	Period     time.Duration
}

// NewServer creates the gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for gateway server")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("market service is required for gateway server")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	return &Server{
		listenAddr: cfg.ListenAddr,
		logger:     cfg.Logger,
		service:    cfg.Service,
		historical: cfg.Historical,
		store:      cfg.Store,
		period:     cfg.Period,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Data is public market data; origin checks add nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/market_data", s.handleMarketData)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/live", s.handleLive)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Gateway listening", map[string]interface{}{"addr": s.listenAddr})
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		s.logger.Info(ctx, "Gateway stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.service.Hub().SubscriberCount(),
	})
}

// handleLive returns a snapshot of every in-progress candle.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	candles := s.service.LiveCandles()
	payloads := make([]candlePayload, 0, len(candles))
	for _, c := range candles {
		payloads = append(payloads, toCandlePayload(&c, false))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candles": payloads})
}

// handleHistory serves archived candles: from the upstream historical API
// when one is wired, otherwise from the local candle store.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "token query parameter is required"})
		return
	}

	var candles []*domain.Candle
	var err error
	switch {
	case s.historical != nil:
		to := time.Now()
		from := to.AddDate(0, 0, -defaultHistDays)
		if v := r.URL.Query().Get("from"); v != "" {
			if from, err = time.Parse(time.RFC3339, v); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "from must be RFC3339"})
				return
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if to, err = time.Parse(time.RFC3339, v); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "to must be RFC3339"})
				return
			}
		}
		candles, err = s.historical.GetCandleData(ctx, token, s.period, from, to)
	case s.store != nil:
		limit := defaultHistLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if parsed, perr := strconv.Atoi(v); perr == nil && parsed > 0 {
				limit = parsed
			}
		}
		candles, err = s.store.RecentCandles(ctx, token, limit)
	default:
		writeJSON(w, http.StatusNotImplemented, map[string]interface{}{"error": "no historical source configured"})
		return
	}

	if err != nil {
		s.logger.Error(ctx, err, "History query failed", map[string]interface{}{"token": token})
		status := http.StatusInternalServerError
		if errors.Is(err, ports.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{"error": "history query failed"})
		return
	}

	payloads := make([]candlePayload, 0, len(candles))
	for _, c := range candles {
		payloads = append(payloads, toCandlePayload(c, true))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "candles": payloads})
}

// handleMarketData upgrades to a websocket and streams events for the
// requested tokens (all instruments when none are given). The connection
// counts as downstream interest for its tokens, keeping the upstream
// subscriptions alive while it lasts.
func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokens := splitTokens(r.URL.Query().Get("tokens"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(ctx, "Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	registered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if err := s.service.AddInterest(ctx, token); err != nil {
			s.logger.Error(ctx, err, "Failed to register interest for websocket client", map[string]interface{}{"token": token})
			_ = writeControlError(conn, "subscription failed for token "+token)
			break
		}
		registered = append(registered, token)
	}
	defer func() {
		for _, token := range registered {
			if err := s.service.RemoveInterest(context.Background(), token); err != nil {
				s.logger.Warn(ctx, "Failed to release interest", map[string]interface{}{"token": token, "error": err.Error()})
			}
		}
	}()
	if len(registered) < len(tokens) {
		return
	}

	sub := s.service.Hub().Subscribe(tokens...)
	defer sub.Close()

	s.logger.Info(ctx, "Websocket subscriber connected", map[string]interface{}{"tokens": len(tokens), "remote": r.RemoteAddr})

	// Reader goroutine: surfaces client disconnects and feeds the pong
	// handler; inbound payloads are ignored.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-readerDone:
			s.logger.Debug(ctx, "Websocket subscriber disconnected", map[string]interface{}{"remote": r.RemoteAddr, "dropped": sub.Dropped()})
			return
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(toWireMessage(ev)); err != nil {
				s.logger.Debug(ctx, "Websocket write failed", map[string]interface{}{"error": err.Error()})
				return
			}
		}
	}
}

func writeControlError(conn *websocket.Conn, msg string) error {
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg),
		time.Now().Add(writeTimeout))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func splitTokens(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
