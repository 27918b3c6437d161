package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
	"niftyPulse/internal/pubsub"
)

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockStore struct {
	mu      sync.Mutex
	saved   []*domain.Candle
	saveErr error
}

func (s *mockStore) SaveCandle(ctx context.Context, candle *domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, candle)
	return nil
}

func (s *mockStore) RecentCandles(ctx context.Context, instrumentID string, limit int) ([]*domain.Candle, error) {
	return nil, nil
}

func (s *mockStore) Close() error { return nil }

func (s *mockStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newHub(t *testing.T) *pubsub.Hub {
	t.Helper()
	hub, err := pubsub.New(pubsub.Config{QueueCapacity: 16, Logger: &mockLogger{}})
	require.NoError(t, err)
	return hub
}

func TestRun_PersistsOnlyFinalizedCandles(t *testing.T) {
	hub := newHub(t)
	store := &mockStore{}
	rec, err := New(store, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(ctx, hub) }()

	// Give the recorder a moment to register before publishing.
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	candle := &domain.Candle{InstrumentID: "99926000", Close: 2255000}
	tick := &domain.Tick{InstrumentID: "99926000"}
	hub.Publish(domain.Event{Type: domain.EventTickReceived, InstrumentID: "99926000", Tick: tick})
	hub.Publish(domain.Event{Type: domain.EventCandleUpdated, InstrumentID: "99926000", Candle: candle})
	hub.Publish(domain.Event{Type: domain.EventCandleFinalized, InstrumentID: "99926000", Candle: candle})

	require.Eventually(t, func() bool { return store.savedCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-errCh, "context cancellation is a clean stop")
	assert.Equal(t, 1, store.savedCount())
}

func TestRun_StoreErrorDoesNotStopRecorder(t *testing.T) {
	hub := newHub(t)
	store := &mockStore{saveErr: errors.New("disk full")}
	rec, err := New(store, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Run(ctx, hub) }()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	candle := &domain.Candle{InstrumentID: "99926000"}
	hub.Publish(domain.Event{Type: domain.EventCandleFinalized, InstrumentID: "99926000", Candle: candle})

	// Recover and accept the next write.
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	hub.Publish(domain.Event{Type: domain.EventCandleFinalized, InstrumentID: "99926000", Candle: candle})

	require.Eventually(t, func() bool { return store.savedCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_StopsWhenHubCloses(t *testing.T) {
	hub := newHub(t)
	store := &mockStore{}
	rec, err := New(store, &mockLogger{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(context.Background(), hub) }()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ports.ErrSubscriberClosed, "hub closing under a live context is reported")
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop when hub closed")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &mockLogger{})
	assert.Error(t, err)
	_, err = New(&mockStore{}, nil)
	assert.Error(t, err)
}
