// Package broker provides historical candle sources backed by broker APIs.
package broker

import (
	"context"
	"strings"
	"time"

	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

// CandleSource loads historical OHLCV data.
type CandleSource interface {
	GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error)
}

// Session manages broker authentication.
type Session interface {
	Login(ctx context.Context) error
	CompleteLogin(ctx context.Context, requestToken string) error
	Logout(ctx context.Context) error
	IsAuthenticated() bool
	GetLoginURL() string
}

// HistoricalRequest represents a request for historical data.
type HistoricalRequest struct {
	Symbol    string
	Exchange  models.Exchange
	Timeframe string
	From      time.Time
	To        time.Time
}

// Interval is a Kite candle interval together with the widest date range a
// single historical call accepts for it.
type Interval struct {
	Name    string
	MaxDays int
}

var intervals = map[string]Interval{
	"minute":   {"minute", 60},
	"3minute":  {"3minute", 100},
	"5minute":  {"5minute", 100},
	"10minute": {"10minute", 100},
	"15minute": {"15minute", 200},
	"30minute": {"30minute", 200},
	"60minute": {"60minute", 400},
	"day":      {"day", 2000},
}

var timeframeAliases = map[string]string{
	"1min":  "minute",
	"1m":    "minute",
	"3min":  "3minute",
	"5min":  "5minute",
	"5m":    "5minute",
	"10min": "10minute",
	"15min": "15minute",
	"15m":   "15minute",
	"30min": "30minute",
	"30m":   "30minute",
	"1hour": "60minute",
	"1h":    "60minute",
	"hour":  "60minute",
	"1day":  "day",
	"1d":    "day",
	"daily": "day",
}

// ParseInterval maps a timeframe such as "5min" or "day" to a Kite interval.
// An empty timeframe means daily candles.
func ParseInterval(timeframe string) (Interval, error) {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	if tf == "" {
		return intervals["day"], nil
	}
	if alias, ok := timeframeAliases[tf]; ok {
		tf = alias
	}
	iv, ok := intervals[tf]
	if !ok {
		verr := apperrors.NewValidationError("timeframe", timeframe, "unsupported timeframe")
		verr.Err = apperrors.ErrConfigInvalid
		return Interval{}, verr
	}
	return iv, nil
}

// DateRange is a closed time range.
type DateRange struct {
	From time.Time
	To   time.Time
}

// SplitRange cuts [from, to] into consecutive ranges no wider than maxDays.
// Adjacent ranges share their boundary instant.
func SplitRange(from, to time.Time, maxDays int) []DateRange {
	if to.Before(from) {
		return nil
	}
	if maxDays <= 0 {
		return []DateRange{{From: from, To: to}}
	}

	span := time.Duration(maxDays) * 24 * time.Hour
	var ranges []DateRange
	for start := from; ; {
		end := start.Add(span)
		if !end.Before(to) {
			ranges = append(ranges, DateRange{From: start, To: to})
			return ranges
		}
		ranges = append(ranges, DateRange{From: start, To: end})
		start = end
	}
}
