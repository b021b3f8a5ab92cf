// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/models"
)

// CandleStore caches historical OHLCV data.
type CandleStore interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)
}

// PatternStore persists detected patterns.
type PatternStore interface {
	SavePatterns(ctx context.Context, symbol, timeframe string, patterns []analysis.Pattern) error
	GetPatterns(ctx context.Context, filter PatternFilter) ([]StoredPattern, error)
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	CandleStore
	PatternStore

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// PatternFilter represents filters for querying stored patterns.
type PatternFilter struct {
	Symbol    string
	Timeframe string
	Name      analysis.PatternName
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// StoredPattern is a pattern with the series it was found in.
type StoredPattern struct {
	ID         int64            `json:"id"`
	Symbol     string           `json:"symbol"`
	Timeframe  string           `json:"timeframe"`
	DetectedAt time.Time        `json:"detected_at"`
	Pattern    analysis.Pattern `json:"pattern"`
}
