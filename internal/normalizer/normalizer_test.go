package normalizer

import (
	"testing"
	"time"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		wantErr  bool
	}{
		{name: "valid timezone", timezone: "Asia/Kolkata", wantErr: false},
		{name: "utc", timezone: "UTC", wantErr: false},
		{name: "garbage timezone", timezone: "Not/AZone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := New(tt.timezone)
			if tt.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, ports.ErrConfigurationError)
				assert.Nil(t, n)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, n)
				assert.Equal(t, tt.timezone, n.Location().String())
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	n, err := New("Asia/Kolkata")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  domain.RawTick
	}{
		{
			name: "missing instrument id",
			raw:  domain.RawTick{LastTradedPrice: i64(10000), ExchangeTimestampMs: i64(1741575600200)},
		},
		{
			name: "missing price",
			raw:  domain.RawTick{InstrumentID: "99926000", ExchangeTimestampMs: i64(1741575600200)},
		},
		{
			name: "negative price",
			raw:  domain.RawTick{InstrumentID: "99926000", LastTradedPrice: i64(-1), ExchangeTimestampMs: i64(1741575600200)},
		},
		{
			name: "missing timestamp",
			raw:  domain.RawTick{InstrumentID: "99926000", LastTradedPrice: i64(10000)},
		},
		{
			name: "non-positive timestamp",
			raw:  domain.RawTick{InstrumentID: "99926000", LastTradedPrice: i64(10000), ExchangeTimestampMs: i64(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrInvalidTick)
		})
	}
}

func TestNormalize_Valid(t *testing.T) {
	n, err := New("Asia/Kolkata")
	require.NoError(t, err)

	// 2025-03-10 10:00:00.200 IST
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	eventTime := time.Date(2025, 3, 10, 10, 0, 0, 200e6, ist)

	raw := domain.RawTick{
		InstrumentID:        "99926000",
		LastTradedPrice:     i64(10000), // 100.00 in paise
		BestBidPrice:        i64(9995),
		BestAskPrice:        i64(10005),
		TotalTradedVolume:   i64(1234),
		ExchangeTimestampMs: i64(eventTime.UnixMilli()),
	}

	tick, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "99926000", tick.InstrumentID)
	assert.Equal(t, domain.Price(10000), tick.LastTradedPrice)
	assert.Equal(t, domain.Price(9995), tick.BestBidPrice)
	assert.Equal(t, domain.Price(10005), tick.BestAskPrice)
	assert.Equal(t, int64(1234), tick.TotalTradedVolume)
	assert.True(t, tick.ExchangeTimestamp.Equal(eventTime))
	assert.Equal(t, "Asia/Kolkata", tick.ExchangeTimestamp.Location().String())
}

func TestNormalize_ZeroPriceIsValid(t *testing.T) {
	n, err := New("UTC")
	require.NoError(t, err)

	tick, err := n.Normalize(domain.RawTick{
		InstrumentID:        "500",
		LastTradedPrice:     i64(0),
		ExchangeTimestampMs: i64(1741575600200),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Price(0), tick.LastTradedPrice)
}

func TestNormalize_OptionalFieldsAbsent(t *testing.T) {
	n, err := New("UTC")
	require.NoError(t, err)

	tick, err := n.Normalize(domain.RawTick{
		InstrumentID:        "500",
		LastTradedPrice:     i64(250),
		ExchangeTimestampMs: i64(1741575600200),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Price(0), tick.BestBidPrice)
	assert.Equal(t, domain.Price(0), tick.BestAskPrice)
	assert.Equal(t, int64(0), tick.TotalTradedVolume)
}
