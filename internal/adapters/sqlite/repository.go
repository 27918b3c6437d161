// Package sqlite persists finalized candles for the optional recorder and
// the gateway's history endpoint.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.CandleStore interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/market_data.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
			return nil, err
		}
	}

	// WAL mode for better concurrency between the recorder and history reads.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite candle store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS candles (
		instrument_id TEXT NOT NULL,
		period_start  INTEGER NOT NULL, -- unix milliseconds
		open          INTEGER NOT NULL, -- paise
		high          INTEGER NOT NULL,
		low           INTEGER NOT NULL,
		close         INTEGER NOT NULL,
		volume        INTEGER NOT NULL,
		last_update   INTEGER NOT NULL,
		PRIMARY KEY (instrument_id, period_start)
	);
	CREATE INDEX IF NOT EXISTS idx_candles_instrument_period
		ON candles (instrument_id, period_start DESC);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema creation: %w", err)
	}
	return nil
}

// SaveCandle upserts one candle keyed by instrument and period start. Saving
// the same period twice overwrites the older row, so a late re-finalization
// never duplicates.
func (r *Repository) SaveCandle(ctx context.Context, candle *domain.Candle) error {
	op := "SaveCandle"
	if candle == nil {
		return fmt.Errorf("%s failed: %w: nil candle", op, ports.ErrInvalidRequest)
	}

	const query = `
	INSERT INTO candles (instrument_id, period_start, open, high, low, close, volume, last_update)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (instrument_id, period_start) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		last_update = excluded.last_update
	`
	_, err := r.db.ExecContext(ctx, query,
		candle.InstrumentID,
		candle.PeriodStart.UnixMilli(),
		int64(candle.Open),
		int64(candle.High),
		int64(candle.Low),
		int64(candle.Close),
		candle.Volume,
		candle.LastUpdate.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return nil
}

// RecentCandles returns up to limit candles for one instrument, newest first.
func (r *Repository) RecentCandles(ctx context.Context, instrumentID string, limit int) ([]*domain.Candle, error) {
	op := "RecentCandles"
	if limit <= 0 {
		limit = 100
	}

	const query = `
	SELECT instrument_id, period_start, open, high, low, close, volume, last_update
	FROM candles
	WHERE instrument_id = ?
	ORDER BY period_start DESC
	LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, instrumentID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var periodStartMs, openP, highP, lowP, closeP, lastUpdateMs int64
		if err := rows.Scan(&c.InstrumentID, &periodStartMs, &openP, &highP, &lowP, &closeP, &c.Volume, &lastUpdateMs); err != nil {
			return nil, fmt.Errorf("%s failed: scanning row: %w", op, err)
		}
		c.PeriodStart = time.UnixMilli(periodStartMs).UTC()
		c.Open = domain.Price(openP)
		c.High = domain.Price(highP)
		c.Low = domain.Price(lowP)
		c.Close = domain.Price(closeP)
		c.LastUpdate = time.UnixMilli(lastUpdateMs).UTC()
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s failed: iterating rows: %w", op, err)
	}
	return candles, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}
