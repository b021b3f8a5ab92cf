package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

func TestCandleCache_FetchesThenServesFromStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cache := NewCandleCache(store, time.Hour, zerolog.Nop())

	candles := generateTestCandles(10, 1000, 5000)
	from, to := candles[0].Timestamp, candles[9].Timestamp

	calls := 0
	fetch := func(context.Context, string, string, time.Time, time.Time) ([]models.Candle, error) {
		calls++
		return candles, nil
	}

	got, cached, err := cache.GetCandles(ctx, "INFY", "day", from, to, fetch)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, got, 10)
	assert.True(t, cache.Freshness("INFY", "day").IsFresh)

	got, cached, err = cache.GetCandles(ctx, "INFY", "day", from, to, fetch)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, got, 10)
	assert.Equal(t, 1, calls)
}

func TestCandleCache_WiderRangeRefetches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cache := NewCandleCache(store, time.Hour, zerolog.Nop())

	candles := generateTestCandles(30, 1000, 5000)
	calls := 0
	fetch := func(_ context.Context, _, _ string, from, to time.Time) ([]models.Candle, error) {
		calls++
		var out []models.Candle
		for _, c := range candles {
			if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
				out = append(out, c)
			}
		}
		return out, nil
	}

	got, _, err := cache.GetCandles(ctx, "INFY", "day", candles[0].Timestamp, candles[9].Timestamp, fetch)
	require.NoError(t, err)
	require.Len(t, got, 10)

	got, cached, err := cache.GetCandles(ctx, "INFY", "day", candles[0].Timestamp, candles[29].Timestamp, fetch)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, got, 30)
	assert.Equal(t, 2, calls)

	// Any range inside the synced one is served from the store.
	got, cached, err = cache.GetCandles(ctx, "INFY", "day", candles[5].Timestamp, candles[20].Timestamp, fetch)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, got, 16)
	assert.Equal(t, 2, calls)
}

func TestCandleCache_MarkSyncedCoverage(t *testing.T) {
	store := newTestStore(t)
	cache := NewCandleCache(store, time.Hour, zerolog.Nop())
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	from, to := cache.Coverage("TCS", "day")
	assert.True(t, from.IsZero())
	assert.True(t, to.IsZero())

	require.NoError(t, cache.MarkSynced("TCS", "day", day(5), day(10)))
	require.NoError(t, cache.MarkSynced("TCS", "day", day(8), day(15)))
	from, to = cache.Coverage("TCS", "day")
	assert.True(t, from.Equal(day(5)), "from = %s", from)
	assert.True(t, to.Equal(day(15)), "to = %s", to)

	require.NoError(t, cache.MarkSynced("TCS", "day", day(20), day(25)))
	from, to = cache.Coverage("TCS", "day")
	assert.True(t, from.Equal(day(20)), "from = %s", from)
	assert.True(t, to.Equal(day(25)), "to = %s", to)
}

func TestCandleCache_StaleSeriesRefetches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cache := NewCandleCache(store, time.Hour, zerolog.Nop())

	candles := generateTestCandles(3, 1000, 5000)
	calls := 0
	fetch := func(context.Context, string, string, time.Time, time.Time) ([]models.Candle, error) {
		calls++
		return candles, nil
	}

	_, _, err := cache.GetCandles(ctx, "TCS", "day", candles[0].Timestamp, candles[2].Timestamp, fetch)
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, cache.Freshness("TCS", "day").IsFresh)

	_, cached, err := cache.GetCandles(ctx, "TCS", "day", candles[0].Timestamp, candles[2].Timestamp, fetch)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, calls)
}

func TestCandleCache_FallsBackOnFetchError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var logs bytes.Buffer
	cache := NewCandleCache(store, time.Minute, zerolog.New(&logs))

	candles := generateTestCandles(4, 1000, 5000)
	require.NoError(t, store.SaveCandles(ctx, "SBIN", "day", candles))

	boom := errors.New("upstream down")
	fetch := func(context.Context, string, string, time.Time, time.Time) ([]models.Candle, error) {
		return nil, boom
	}

	got, cached, err := cache.GetCandles(ctx, "SBIN", "day", candles[0].Timestamp, candles[3].Timestamp, fetch)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, got, 4)
	assert.Contains(t, logs.String(), "using cached candles")

	_, _, err = cache.GetCandles(ctx, "EMPTY", "day", candles[0].Timestamp, candles[3].Timestamp, fetch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestFormatFreshness(t *testing.T) {
	assert.Equal(t, "Never synced", FormatFreshness(DataFreshness{}))
	assert.Equal(t, "Updated 5 minutes ago",
		FormatFreshness(DataFreshness{LastUpdated: time.Now(), Age: 5 * time.Minute, IsFresh: true}))
	assert.Equal(t, "Stale data - Updated 2 days ago",
		FormatFreshness(DataFreshness{LastUpdated: time.Now(), Age: 50 * time.Hour}))
}

func TestCSV_RoundTrip(t *testing.T) {
	candles := generateTestCandles(6, 250, 100)
	path := filepath.Join(t.TempDir(), "candles.csv")

	require.NoError(t, SaveCandlesCSV(path, candles))
	got, err := LoadCandlesCSV(path)
	require.NoError(t, err)
	require.Len(t, got, len(candles))
	for i := range candles {
		assert.True(t, candlesEqual(candles[i], got[i]), "row %d: %+v != %+v", i, candles[i], got[i])
	}
}

func TestCSV_ReadsDatesAndSortsRows(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,open,high,low,close,volume",
		"2024-01-03,101,103,100,102,1200",
		"2024-01-02,100,102,99,101,1000",
		"2024-01-04 09:15:00,102,104,101,103,900",
	}, "\n")

	got, err := ReadCandlesCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Timestamp.Day())
	assert.Equal(t, 3, got[1].Timestamp.Day())
	assert.Equal(t, 9, got[2].Timestamp.Hour())
	assert.Equal(t, int64(1200), got[1].Volume)
}

func TestCSV_Errors(t *testing.T) {
	_, err := ReadCandlesCSV(strings.NewReader("timestamp,open,high,low,close,volume\nyesterday,1,1,1,1,1\n"))
	require.Error(t, err)
	var dataErr *apperrors.DataError
	assert.True(t, apperrors.As(err, &dataErr))

	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,open,high,low,close,volume\n"), 0o644))
	_, err = LoadCandlesCSV(path)
	require.Error(t, err)
}
