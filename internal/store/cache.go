package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chart-patterns/internal/models"
)

// FetchFunc loads candles from the upstream source.
type FetchFunc func(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)

// DataFreshness represents the freshness of a cached series.
type DataFreshness struct {
	Key         string
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// CandleCache serves candles from the store while they are fresh and
// refreshes them from upstream otherwise.
type CandleCache struct {
	store      DataStore
	staleAfter time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCandleCache creates a cache. Series synced within staleAfter are served
// from the store.
func NewCandleCache(store DataStore, staleAfter time.Duration, logger zerolog.Logger) *CandleCache {
	return &CandleCache{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

func syncKey(symbol, timeframe string) string {
	return "candles:" + symbol + ":" + timeframe
}

// Freshness returns the sync status of one series.
func (c *CandleCache) Freshness(symbol, timeframe string) DataFreshness {
	key := syncKey(symbol, timeframe)
	last := c.store.GetLastSync(key)
	age := c.now().Sub(last)
	return DataFreshness{
		Key:         key,
		LastUpdated: last,
		IsFresh:     !last.IsZero() && age < c.staleAfter,
		Age:         age,
	}
}

// Coverage returns the range the recorded syncs of one series span. Both
// bounds are zero when nothing was recorded.
func (c *CandleCache) Coverage(symbol, timeframe string) (time.Time, time.Time) {
	fromKey, toKey := coverageKeys(symbol, timeframe)
	from, to := c.store.GetLastSync(fromKey), c.store.GetLastSync(toKey)
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}
	}
	return from, to
}

func coverageKeys(symbol, timeframe string) (string, string) {
	key := syncKey(symbol, timeframe)
	return key + ":from", key + ":to"
}

// covers reports whether recorded syncs span [from, to].
func (c *CandleCache) covers(symbol, timeframe string, from, to time.Time) bool {
	start, end := c.Coverage(symbol, timeframe)
	if start.IsZero() {
		return false
	}
	return !start.After(from) && !end.Before(to)
}

// MarkSynced records a successful refresh of one series over [from, to].
// A range overlapping the recorded one extends it; a disjoint range
// replaces it.
func (c *CandleCache) MarkSynced(symbol, timeframe string, from, to time.Time) error {
	start, end := c.Coverage(symbol, timeframe)
	if !start.IsZero() && !from.After(end) && !to.Before(start) {
		if start.Before(from) {
			from = start
		}
		if end.After(to) {
			to = end
		}
	}

	key := syncKey(symbol, timeframe)
	fromKey, toKey := coverageKeys(symbol, timeframe)
	for _, kv := range []struct {
		key string
		t   time.Time
	}{{fromKey, from}, {toKey, to}, {key, c.now()}} {
		if err := c.store.SetLastSync(kv.key, kv.t); err != nil {
			return fmt.Errorf("failed to mark %s as synced: %w", key, err)
		}
	}
	return nil
}

// GetCandles returns candles for the range and whether they came from the
// store. Stored rows are served only while the series is fresh and its
// recorded syncs span the whole range. When the upstream fetch fails, cached
// rows are served if any exist.
func (c *CandleCache) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time, fetch FetchFunc) ([]models.Candle, bool, error) {
	cached, err := c.store.GetCandles(ctx, symbol, timeframe, from, to)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached candles: %w", err)
	}

	freshness := c.Freshness(symbol, timeframe)
	if freshness.IsFresh && len(cached) > 0 && c.covers(symbol, timeframe, from, to) {
		return cached, true, nil
	}

	candles, err := fetch(ctx, symbol, timeframe, from, to)
	if err != nil {
		if len(cached) > 0 {
			c.logger.Warn().Err(err).
				Str("symbol", symbol).
				Str("freshness", FormatFreshness(freshness)).
				Msg("Fetch failed, using cached candles")
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("failed to fetch candles and no cache available: %w", err)
	}

	if err := c.store.SaveCandles(ctx, symbol, timeframe, candles); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache candles")
		return candles, false, nil
	}
	if err := c.MarkSynced(symbol, timeframe, from, to); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to record sync time")
	}

	return candles, false, nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return "Never synced"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("Updated %s", ageStr)
	}
	return fmt.Sprintf("Stale data - Updated %s", ageStr)
}
