package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct {
	mu       sync.Mutex
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	m.warnMsgs = append(m.warnMsgs, msg)
	m.mu.Unlock()
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var ist = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

func at(hour, min, sec, ms int) time.Time {
	return time.Date(2025, 3, 10, hour, min, sec, ms*1e6, ist)
}

func tick(id string, ts time.Time, paise int64) domain.Tick {
	return domain.Tick{InstrumentID: id, LastTradedPrice: domain.Price(paise), ExchangeTimestamp: ts}
}

func newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := New(Config{Period: time.Minute, Logger: &mockLogger{}})
	require.NoError(t, err)
	return agg
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "nil logger must be rejected")

	agg, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, agg.Period(), "period defaults to one minute")

	agg, err = New(Config{Period: 5 * time.Minute, Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, agg.Period())
}

func TestIngest_FirstTickOpensCandle(t *testing.T) {
	agg := newAggregator(t)

	updates, err := agg.Ingest(tick("T1", at(10, 0, 0, 200), 10000))
	require.NoError(t, err)
	require.Len(t, updates, 1)

	c := updates[0].Candle
	assert.False(t, updates[0].IsFinal)
	assert.Equal(t, "T1", c.InstrumentID)
	assert.True(t, c.PeriodStart.Equal(at(10, 0, 0, 0)))
	assert.Equal(t, domain.Price(10000), c.Open)
	assert.Equal(t, domain.Price(10000), c.High)
	assert.Equal(t, domain.Price(10000), c.Low)
	assert.Equal(t, domain.Price(10000), c.Close)
}

// End-to-end scenario from the design: three ticks in one 60s window followed
// by a tick in the next window.
func TestIngest_PeriodRollover(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Ingest(tick("T1", at(10, 0, 0, 200), 10000)) // 100.00
	require.NoError(t, err)
	_, err = agg.Ingest(tick("T1", at(10, 0, 30, 500), 10150)) // 101.50
	require.NoError(t, err)
	updates, err := agg.Ingest(tick("T1", at(10, 0, 45, 0), 9975)) // 99.75
	require.NoError(t, err)
	require.Len(t, updates, 1)

	c := updates[0].Candle
	assert.Equal(t, domain.Price(10000), c.Open)
	assert.Equal(t, domain.Price(10150), c.High)
	assert.Equal(t, domain.Price(9975), c.Low)
	assert.Equal(t, domain.Price(9975), c.Close)
	assert.True(t, c.PeriodStart.Equal(at(10, 0, 0, 0)))

	// Next tick at 10:01:05 retires the 10:00 candle and opens 10:01.
	updates, err = agg.Ingest(tick("T1", at(10, 1, 5, 0), 10200))
	require.NoError(t, err)
	require.Len(t, updates, 2)

	final := updates[0]
	assert.True(t, final.IsFinal)
	assert.Equal(t, domain.Price(10000), final.Candle.Open)
	assert.Equal(t, domain.Price(10150), final.Candle.High)
	assert.Equal(t, domain.Price(9975), final.Candle.Low)
	assert.Equal(t, domain.Price(9975), final.Candle.Close)
	assert.True(t, final.Candle.PeriodStart.Equal(at(10, 0, 0, 0)))

	fresh := updates[1]
	assert.False(t, fresh.IsFinal)
	assert.True(t, fresh.Candle.PeriodStart.Equal(at(10, 1, 0, 0)))
	assert.Equal(t, domain.Price(10200), fresh.Candle.Open)
	assert.Equal(t, domain.Price(10200), fresh.Candle.High)
	assert.Equal(t, domain.Price(10200), fresh.Candle.Low)
	assert.Equal(t, domain.Price(10200), fresh.Candle.Close)
}

// Out-of-order tick inside the same period: extrema still apply, close keeps
// following the latest-timestamped tick.
func TestIngest_OutOfOrderWithinPeriod(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Ingest(tick("T1", at(10, 0, 10, 0), 10100))
	require.NoError(t, err)
	_, err = agg.Ingest(tick("T1", at(10, 0, 40, 0), 10000))
	require.NoError(t, err)

	// Arrives late: timestamped 10:00:20, price 98.00.
	updates, err := agg.Ingest(tick("T1", at(10, 0, 20, 0), 9800))
	require.NoError(t, err)
	require.Len(t, updates, 1)

	c := updates[0].Candle
	assert.Equal(t, domain.Price(9800), c.Low, "late tick still lowers the low")
	assert.Equal(t, domain.Price(10000), c.Close, "close stays with the 10:00:40 tick")
	assert.True(t, c.LastUpdate.Equal(at(10, 0, 40, 0)))
}

func TestIngest_EarliestTimestampWinsOpen(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Ingest(tick("T1", at(10, 0, 40, 0), 10000))
	require.NoError(t, err)

	// Arrives late but carries the earliest timestamp of the period: it
	// becomes the open without touching the close.
	updates, err := agg.Ingest(tick("T1", at(10, 0, 5, 0), 10150))
	require.NoError(t, err)

	c := updates[0].Candle
	assert.Equal(t, domain.Price(10150), c.Open)
	assert.Equal(t, domain.Price(10000), c.Close)
}

func TestIngest_EqualTimestampNewestArrivalWinsClose(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Ingest(tick("T1", at(10, 0, 30, 0), 10000))
	require.NoError(t, err)
	updates, err := agg.Ingest(tick("T1", at(10, 0, 30, 0), 10050))
	require.NoError(t, err)
	assert.Equal(t, domain.Price(10050), updates[0].Candle.Close)
}

func TestIngest_StaleTickDropped(t *testing.T) {
	logger := &mockLogger{}
	agg, err := New(Config{Period: time.Minute, Logger: logger})
	require.NoError(t, err)

	_, err = agg.Ingest(tick("T1", at(10, 1, 5, 0), 10200))
	require.NoError(t, err)

	// A tick from the already-bygone 10:00 period.
	updates, err := agg.Ingest(tick("T1", at(10, 0, 59, 0), 9000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrStaleTick)
	assert.Nil(t, updates)
	assert.Equal(t, uint64(1), agg.StaleTicks())
	assert.NotEmpty(t, logger.warnMsgs)

	// Live candle untouched.
	c, ok := agg.Snapshot("T1")
	require.True(t, ok)
	assert.Equal(t, domain.Price(10200), c.Low)
	assert.True(t, c.PeriodStart.Equal(at(10, 1, 0, 0)))
}

func TestIngest_InstrumentsAreIndependent(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Ingest(tick("T1", at(10, 0, 5, 0), 10000))
	require.NoError(t, err)
	_, err = agg.Ingest(tick("T2", at(10, 0, 6, 0), 20000))
	require.NoError(t, err)

	c1, ok := agg.Snapshot("T1")
	require.True(t, ok)
	c2, ok := agg.Snapshot("T2")
	require.True(t, ok)
	assert.Equal(t, domain.Price(10000), c1.Close)
	assert.Equal(t, domain.Price(20000), c2.Close)
	assert.Len(t, agg.LiveCandles(), 2)
}

// Invariant check across a randomized-ish tick sequence: low <= open,close <= high.
func TestIngest_OHLCInvariant(t *testing.T) {
	agg := newAggregator(t)

	prices := []int64{10000, 10250, 9900, 10100, 9800, 10300, 10050}
	var last domain.Candle
	for i, p := range prices {
		updates, err := agg.Ingest(tick("T1", at(10, 0, i*5, 0), p))
		require.NoError(t, err)
		last = updates[len(updates)-1].Candle
		assert.LessOrEqual(t, last.Low, last.Open)
		assert.LessOrEqual(t, last.Low, last.Close)
		assert.GreaterOrEqual(t, last.High, last.Open)
		assert.GreaterOrEqual(t, last.High, last.Close)
	}
	assert.Equal(t, domain.Price(10000), last.Open)
	assert.Equal(t, domain.Price(10300), last.High)
	assert.Equal(t, domain.Price(9800), last.Low)
	assert.Equal(t, domain.Price(10050), last.Close)
}

func TestIngest_VolumeFollowsNewestTick(t *testing.T) {
	agg := newAggregator(t)

	first := tick("T1", at(10, 0, 5, 0), 10000)
	first.TotalTradedVolume = 100
	_, err := agg.Ingest(first)
	require.NoError(t, err)

	second := tick("T1", at(10, 0, 10, 0), 10010)
	second.TotalTradedVolume = 250
	updates, err := agg.Ingest(second)
	require.NoError(t, err)
	assert.Equal(t, int64(250), updates[0].Candle.Volume)

	// An out-of-order tick does not roll the cumulative volume backwards.
	late := tick("T1", at(10, 0, 7, 0), 10005)
	late.TotalTradedVolume = 150
	updates, err = agg.Ingest(late)
	require.NoError(t, err)
	assert.Equal(t, int64(250), updates[0].Candle.Volume)
}

func TestDrop(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Ingest(tick("T1", at(10, 0, 5, 0), 10000))
	require.NoError(t, err)
	agg.Drop("T1")
	_, ok := agg.Snapshot("T1")
	assert.False(t, ok)
}

func TestIngest_ConcurrentInstruments(t *testing.T) {
	agg := newAggregator(t)

	var wg sync.WaitGroup
	ids := []string{"A", "B", "C", "D"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := agg.Ingest(tick(id, at(10, 0, 0, i), int64(10000+i)))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		c, ok := agg.Snapshot(id)
		require.True(t, ok)
		assert.Equal(t, domain.Price(10000), c.Open)
		assert.Equal(t, domain.Price(10199), c.High)
		assert.Equal(t, domain.Price(10199), c.Close)
	}
}
