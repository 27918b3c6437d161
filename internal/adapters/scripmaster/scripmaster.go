// Package scripmaster loads Angel One's published instrument file and serves
// token lookups and option-chain queries from an in-memory index.
package scripmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
)

// DefaultURL is the public scrip-master dump refreshed daily by the vendor.
const DefaultURL = "https://margincalculator.angelone.in/OpenAPI_File/files/OpenAPIScripMaster.json"

// expiryLayout matches the vendor's uppercase expiry strings, e.g. "13MAR2025".
const expiryLayout = "02Jan2006"

// Directory implements ports.InstrumentDirectory over the scrip-master file.
type Directory struct {
	url        string
	httpClient *http.Client
	logger     ports.Logger

	mu      sync.RWMutex
	byToken map[string]*domain.Instrument
	options []*domain.Instrument // OPTIDX contracts only, for chain queries
}

// Config holds configuration for the scrip-master directory.
type Config struct {
	URL    string // defaults to DefaultURL
	Logger ports.Logger
}

// New creates the directory. Call Load before serving lookups.
func New(cfg Config) (*Directory, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for scripmaster directory")
	}
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	return &Directory{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     cfg.Logger,
		byToken:    make(map[string]*domain.Instrument),
	}, nil
}

// scripRecord mirrors one entry of the vendor file.
type scripRecord struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

// Load fetches the scrip-master file and rebuilds the index. The file covers
// every segment the vendor serves; only NSE and NFO entries are kept.
func (d *Directory) Load(ctx context.Context) error {
	op := "Load"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return fmt.Errorf("%s failed: building request: %w", op, err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed: unexpected status %d", op, resp.StatusCode)
	}

	var records []scripRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return fmt.Errorf("%s failed: decoding scrip master: %w", op, err)
	}

	byToken := make(map[string]*domain.Instrument)
	var options []*domain.Instrument
	for _, rec := range records {
		if rec.Token == "" || (rec.ExchSeg != "NSE" && rec.ExchSeg != "NFO") {
			continue
		}
		inst := translateRecord(rec)
		byToken[inst.Token] = inst
		if inst.InstrumentType == "OPTIDX" {
			options = append(options, inst)
		}
	}

	d.mu.Lock()
	d.byToken = byToken
	d.options = options
	d.mu.Unlock()

	d.logger.Info(ctx, "Scrip master loaded", map[string]interface{}{
		"instruments": len(byToken),
		"options":     len(options),
	})
	return nil
}

// Lookup resolves a token to its instrument.
func (d *Directory) Lookup(token string) (*domain.Instrument, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.byToken[token]
	return inst, ok
}

// OptionChain returns the index option contracts for one underlying and
// expiry, sorted by strike with the call before the put at each strike. An
// empty expiry selects the nearest one.
func (d *Directory) OptionChain(ctx context.Context, underlying, expiry string) ([]*domain.Instrument, error) {
	op := "OptionChain"

	d.mu.RLock()
	options := d.options
	d.mu.RUnlock()

	var candidates []*domain.Instrument
	for _, inst := range options {
		if inst.Name == underlying && inst.ExchangeSegment == "NFO" {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no option contracts for %s", op, ports.ErrNotFound, underlying)
	}

	if expiry == "" {
		nearest, err := nearestExpiry(candidates)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		expiry = nearest
		d.logger.Debug(ctx, op+": selected nearest expiry", map[string]interface{}{"underlying": underlying, "expiry": expiry})
	}

	chain := make([]*domain.Instrument, 0, len(candidates))
	for _, inst := range candidates {
		if inst.Expiry == expiry {
			chain = append(chain, inst)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no %s contracts for expiry %s", op, ports.ErrNotFound, underlying, expiry)
	}

	sort.Slice(chain, func(i, j int) bool {
		if chain[i].Strike != chain[j].Strike {
			return chain[i].Strike < chain[j].Strike
		}
		return chain[i].OptionType < chain[j].OptionType
	})
	return chain, nil
}

// translateRecord converts one vendor row. The strike column carries the
// price already multiplied into minor units ("2250000.000000" for a 22500
// strike); symbols carry the strike and a CE/PE suffix as a fallback.
func translateRecord(rec scripRecord) *domain.Instrument {
	inst := &domain.Instrument{
		Token:           rec.Token,
		Symbol:          rec.Symbol,
		Name:            rec.Name,
		ExchangeSegment: rec.ExchSeg,
		InstrumentType:  rec.InstrumentType,
		Expiry:          rec.Expiry,
	}

	if strings.HasSuffix(rec.Symbol, "CE") {
		inst.OptionType = domain.OptionCall
	} else if strings.HasSuffix(rec.Symbol, "PE") {
		inst.OptionType = domain.OptionPut
	}

	if strike, err := strconv.ParseFloat(rec.Strike, 64); err == nil && strike > 0 {
		inst.Strike = domain.Price(strike)
	} else if inst.OptionType != "" && len(rec.Symbol) >= 7 {
		// Fallback: five strike digits sit just before the CE/PE suffix.
		if v, err := strconv.ParseInt(rec.Symbol[len(rec.Symbol)-7:len(rec.Symbol)-2], 10, 64); err == nil {
			inst.Strike = domain.Price(v * 100)
		}
	}
	return inst
}

// nearestExpiry picks the soonest parseable expiry among the candidates.
func nearestExpiry(candidates []*domain.Instrument) (string, error) {
	var best string
	var bestDate time.Time
	for _, inst := range candidates {
		date, err := parseExpiry(inst.Expiry)
		if err != nil {
			continue
		}
		if best == "" || date.Before(bestDate) {
			best = inst.Expiry
			bestDate = date
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no parseable expiry dates", ports.ErrNotFound)
	}
	return best, nil
}

// parseExpiry handles the vendor's all-caps month abbreviation.
func parseExpiry(expiry string) (time.Time, error) {
	if len(expiry) != 9 {
		return time.Time{}, fmt.Errorf("unexpected expiry format %q", expiry)
	}
	normalized := expiry[:3] + strings.ToLower(expiry[3:5]) + expiry[5:]
	return time.Parse(expiryLayout, normalized)
}
