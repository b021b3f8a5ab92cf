package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chart-patterns/internal/analysis"
	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

var _ DataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candles table for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Detected patterns; pivots and metrics are stored as JSON
	CREATE TABLE IF NOT EXISTS patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		name TEXT NOT NULL,
		direction TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		pivots TEXT NOT NULL,
		support_line TEXT NOT NULL,
		extra_props TEXT,
		detected_at DATETIME NOT NULL,
		UNIQUE(symbol, timeframe, name, start_time, end_time)
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_timeframe ON candles(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_patterns_symbol ON patterns(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_patterns_end_time ON patterns(end_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, dbTime(c.Timestamp), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles from the database.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, dbTime(from), dbTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent candle.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	return parseSQLiteTime(raw.String)
}

// ============================================================================
// Patterns Methods
// ============================================================================

// SavePatterns stores detected patterns. A pattern already stored for the
// same series, name and span is replaced.
func (s *SQLiteStore) SavePatterns(ctx context.Context, symbol, timeframe string, patterns []analysis.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO patterns (symbol, timeframe, name, direction, start_time, end_time, pivots, support_line, extra_props, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := dbTime(time.Now())
	for _, p := range patterns {
		pivots, err := json.Marshal(p.Pivots)
		if err != nil {
			return fmt.Errorf("failed to encode pivots: %w", err)
		}
		line, err := json.Marshal(p.SupportLine)
		if err != nil {
			return fmt.Errorf("failed to encode support line: %w", err)
		}
		var extra sql.NullString
		if p.ExtraProps != nil {
			b, err := json.Marshal(p.ExtraProps)
			if err != nil {
				return fmt.Errorf("failed to encode extra props: %w", err)
			}
			extra = sql.NullString{String: string(b), Valid: true}
		}

		_, err = stmt.ExecContext(ctx, symbol, timeframe, string(p.Name), string(p.Direction),
			dbTime(p.Start().Time), dbTime(p.End().Time), string(pivots), string(line), extra, now)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to insert pattern: %v", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetPatterns retrieves stored patterns, most recent first.
func (s *SQLiteStore) GetPatterns(ctx context.Context, filter PatternFilter) ([]StoredPattern, error) {
	query := `SELECT id, symbol, timeframe, name, direction, pivots, support_line, extra_props, detected_at FROM patterns WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, filter.Timeframe)
	}
	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, string(filter.Name))
	}
	if !filter.StartDate.IsZero() {
		query += " AND end_time >= ?"
		args = append(args, dbTime(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND start_time <= ?"
		args = append(args, dbTime(filter.EndDate))
	}

	query += " ORDER BY end_time DESC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []StoredPattern
	for rows.Next() {
		var (
			sp              StoredPattern
			name, direction string
			pivots, line    string
			extra           sql.NullString
		)
		if err := rows.Scan(&sp.ID, &sp.Symbol, &sp.Timeframe, &name, &direction, &pivots, &line, &extra, &sp.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}

		sp.Pattern.Name = analysis.PatternName(name)
		sp.Pattern.Direction = analysis.PatternDirection(direction)
		if err := json.Unmarshal([]byte(pivots), &sp.Pattern.Pivots); err != nil {
			return nil, fmt.Errorf("failed to decode pivots: %w", err)
		}
		if err := json.Unmarshal([]byte(line), &sp.Pattern.SupportLine); err != nil {
			return nil, fmt.Errorf("failed to decode support line: %w", err)
		}
		if extra.Valid {
			if err := json.Unmarshal([]byte(extra.String), &sp.Pattern.ExtraProps); err != nil {
				return nil, fmt.Errorf("failed to decode extra props: %w", err)
			}
		}
		out = append(out, sp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}

	return out, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, dbTime(t), dbTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

// dbTime normalizes times to UTC. go-sqlite3 stores times as zoned text and
// range filters compare that text, so every bound must share one zone.
func dbTime(t time.Time) time.Time {
	return t.UTC()
}

// sqliteTimeLayouts are the formats go-sqlite3 writes time.Time values in.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseSQLiteTime parses aggregate results, which come back as text rather
// than DATETIME columns.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse time %q", s)
}
