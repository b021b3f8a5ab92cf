// Package utils provides shared market time helpers.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a candle timestamp. Values without a zone are taken
// as exchange time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, IndiaLocation); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ParseDate parses a YYYY-MM-DD date in exchange time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(s), IndiaLocation)
}

// LastMarketClose returns the most recent 15:30 close at or before now,
// skipping weekends.
func LastMarketClose(now time.Time) time.Time {
	now = now.In(IndiaLocation)
	close := time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, IndiaLocation)
	if now.Before(close) {
		close = close.AddDate(0, 0, -1)
	}
	for close.Weekday() == time.Saturday || close.Weekday() == time.Sunday {
		close = close.AddDate(0, 0, -1)
	}
	return close
}
