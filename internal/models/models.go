// Package models provides domain models for price series.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	MCX Exchange = "MCX" // Commodity
)

// Instrument is a tradable symbol as listed by the broker.
type Instrument struct {
	Token     uint32
	Symbol    string
	Name      string
	Exchange  Exchange
	Segment   string
	InstrType string
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// SeriesField names a single price column of a candle series.
type SeriesField string

const (
	FieldNone  SeriesField = ""
	FieldOpen  SeriesField = "open"
	FieldHigh  SeriesField = "high"
	FieldLow   SeriesField = "low"
	FieldClose SeriesField = "close"
)

var fieldGetters = map[SeriesField]func(Candle) float64{
	FieldOpen:  func(c Candle) float64 { return c.Open },
	FieldHigh:  func(c Candle) float64 { return c.High },
	FieldLow:   func(c Candle) float64 { return c.Low },
	FieldClose: func(c Candle) float64 { return c.Close },
}

// ParseSeriesField parses a field name, case-insensitively.
func ParseSeriesField(s string) (SeriesField, error) {
	f := SeriesField(strings.ToLower(strings.TrimSpace(s)))
	if f == FieldNone {
		return FieldNone, nil
	}
	if _, ok := fieldGetters[f]; !ok {
		return FieldNone, fmt.Errorf("unknown series field %q (want open, high, low or close)", s)
	}
	return f, nil
}

// Value returns the field value of c.
func (f SeriesField) Value(c Candle) (float64, bool) {
	get, ok := fieldGetters[f]
	if !ok {
		return 0, false
	}
	return get(c), true
}

// Select reduces candles to a line series of the given field: every price
// column of the result carries that field's value. FieldNone returns the
// input unchanged.
func Select(candles []Candle, field SeriesField) ([]Candle, error) {
	if field == FieldNone {
		return candles, nil
	}
	get, ok := fieldGetters[field]
	if !ok {
		return nil, fmt.Errorf("unknown series field %q", field)
	}

	out := make([]Candle, len(candles))
	for i, c := range candles {
		v := get(c)
		out[i] = Candle{
			Timestamp: c.Timestamp,
			Open:      v,
			High:      v,
			Low:       v,
			Close:     v,
			Volume:    c.Volume,
		}
	}
	return out, nil
}
