package scripmaster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
)

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const scripFixture = `[
	{"token":"99926000","symbol":"Nifty 50","name":"NIFTY","expiry":"","strike":"-1.000000","instrumenttype":"","exch_seg":"NSE"},
	{"token":"43210","symbol":"NIFTY13MAR2522500CE","name":"NIFTY","expiry":"13MAR2025","strike":"2250000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
	{"token":"43211","symbol":"NIFTY13MAR2522500PE","name":"NIFTY","expiry":"13MAR2025","strike":"2250000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
	{"token":"43310","symbol":"NIFTY13MAR2522600CE","name":"NIFTY","expiry":"13MAR2025","strike":"2260000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
	{"token":"52001","symbol":"NIFTY20MAR2522500CE","name":"NIFTY","expiry":"20MAR2025","strike":"2250000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
	{"token":"61001","symbol":"BANKNIFTY13MAR2548000CE","name":"BANKNIFTY","expiry":"13MAR2025","strike":"4800000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
	{"token":"90001","symbol":"SILVER","name":"SILVER","expiry":"","strike":"-1.000000","instrumenttype":"","exch_seg":"MCX"}
]`

func loadedDirectory(t *testing.T) *Directory {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(scripFixture))
	}))
	t.Cleanup(srv.Close)

	dir, err := New(Config{URL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)
	require.NoError(t, dir.Load(context.Background()))
	return dir
}

func TestLoad_IndexesNSEAndNFOOnly(t *testing.T) {
	dir := loadedDirectory(t)

	inst, ok := dir.Lookup("99926000")
	require.True(t, ok)
	assert.Equal(t, "Nifty 50", inst.Symbol)
	assert.Equal(t, "NSE", inst.ExchangeSegment)

	_, ok = dir.Lookup("90001")
	assert.False(t, ok, "MCX entries are not indexed")
}

func TestLookup_OptionContract(t *testing.T) {
	dir := loadedDirectory(t)

	inst, ok := dir.Lookup("43210")
	require.True(t, ok)
	assert.Equal(t, "NIFTY13MAR2522500CE", inst.Symbol)
	assert.Equal(t, domain.OptionCall, inst.OptionType)
	assert.Equal(t, domain.Price(2250000), inst.Strike)
	assert.Equal(t, "13MAR2025", inst.Expiry, "expiry keeps the vendor's string form")
	assert.True(t, inst.IsOption())
}

func TestOptionChain_ExplicitExpiry(t *testing.T) {
	dir := loadedDirectory(t)

	chain, err := dir.OptionChain(context.Background(), "NIFTY", "13MAR2025")
	require.NoError(t, err)
	require.Len(t, chain, 3)

	// Sorted by strike, call before put.
	assert.Equal(t, "43210", chain[0].Token)
	assert.Equal(t, "43211", chain[1].Token)
	assert.Equal(t, "43310", chain[2].Token)
}

func TestOptionChain_NearestExpiryByDefault(t *testing.T) {
	dir := loadedDirectory(t)

	chain, err := dir.OptionChain(context.Background(), "NIFTY", "")
	require.NoError(t, err)
	for _, inst := range chain {
		assert.Equal(t, "13MAR2025", inst.Expiry)
	}
	assert.Len(t, chain, 3)
}

func TestOptionChain_UnknownUnderlying(t *testing.T) {
	dir := loadedDirectory(t)

	_, err := dir.OptionChain(context.Background(), "FINNIFTY", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestOptionChain_UnknownExpiry(t *testing.T) {
	dir := loadedDirectory(t)

	_, err := dir.OptionChain(context.Background(), "NIFTY", "27MAR2025")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestLoad_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir, err := New(Config{URL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Error(t, dir.Load(context.Background()))
}

func TestTranslateRecord_StrikeFallbackFromSymbol(t *testing.T) {
	inst := translateRecord(scripRecord{
		Token:          "77001",
		Symbol:         "NIFTY13MAR2522700PE",
		Name:           "NIFTY",
		Expiry:         "13MAR2025",
		Strike:         "not-a-number",
		InstrumentType: "OPTIDX",
		ExchSeg:        "NFO",
	})
	assert.Equal(t, domain.OptionPut, inst.OptionType)
	assert.Equal(t, domain.Price(2270000), inst.Strike)
}

func TestParseExpiry(t *testing.T) {
	date, err := parseExpiry("13MAR2025")
	require.NoError(t, err)
	assert.Equal(t, 2025, date.Year())
	assert.Equal(t, time.March, date.Month())
	assert.Equal(t, 13, date.Day())

	_, err = parseExpiry("bogus")
	assert.Error(t, err)
}
