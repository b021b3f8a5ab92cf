// Package zigzag detects alternating swing pivots in a price series.
package zigzag

import (
	"fmt"

	"chart-patterns/internal/analysis"
	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

// Config holds the detector windows.
type Config struct {
	BackCandles    int // bars that must precede a pivot
	ForwardCandles int // bars that must follow a pivot
	PivotLimit     int // most recent pivots kept
	Offset         int // first row considered
}

// Zigzag finds fractal highs and lows and collapses them into an
// alternating peak/trough sequence.
type Zigzag struct {
	cfg Config
}

// New creates a new Zigzag detector.
func New(cfg Config) *Zigzag {
	return &Zigzag{cfg: cfg}
}

func (z *Zigzag) Name() string {
	return "Zigzag"
}

// Config returns the detector configuration.
func (z *Zigzag) Config() Config {
	return z.cfg
}

// Calculate runs one full pass over candles.
func (z *Zigzag) Calculate(candles []models.Candle) (*analysis.ZigzagResult, error) {
	if err := z.validate(); err != nil {
		return nil, err
	}

	back, forward := z.cfg.BackCandles, z.cfg.ForwardCandles
	n := len(candles)
	if n < back+forward {
		return nil, apperrors.NewDataError("candles", "",
			fmt.Sprintf("need at least %d rows for windows %d/%d, got %d", back+forward, back, forward, n),
			apperrors.ErrInsufficientData)
	}

	result := &analysis.ZigzagResult{}
	for i := z.cfg.Offset + back; i+forward < n; i++ {
		peak := z.isPeak(candles, i)
		trough := z.isTrough(candles, i)

		switch {
		case peak && trough:
			// Outside bar: continue the alternation.
			dir := analysis.DirectionUp
			if last := len(result.Pivots) - 1; last >= 0 && result.Pivots[last].IsPeak() {
				dir = analysis.DirectionDown
			}
			addPivot(result, pivotAt(candles, i, dir))
		case peak:
			addPivot(result, pivotAt(candles, i, analysis.DirectionUp))
		case trough:
			addPivot(result, pivotAt(candles, i, analysis.DirectionDown))
		}
	}

	if len(result.Pivots) > z.cfg.PivotLimit {
		kept := make([]analysis.Pivot, z.cfg.PivotLimit)
		copy(kept, result.Pivots[len(result.Pivots)-z.cfg.PivotLimit:])
		result.Pivots = kept
	}

	return result, nil
}

func (z *Zigzag) validate() error {
	checks := []struct {
		field string
		value int
		ok    bool
	}{
		{"back_candles", z.cfg.BackCandles, z.cfg.BackCandles > 0},
		{"forward_candles", z.cfg.ForwardCandles, z.cfg.ForwardCandles > 0},
		{"pivot_limit", z.cfg.PivotLimit, z.cfg.PivotLimit > 0},
		{"offset", z.cfg.Offset, z.cfg.Offset >= 0},
	}
	for _, c := range checks {
		if !c.ok {
			verr := apperrors.NewValidationError(c.field, c.value, "must be positive")
			if c.field == "offset" {
				verr.Message = "must not be negative"
			}
			verr.Err = apperrors.ErrInvalidWindow
			return verr
		}
	}
	return nil
}

func (z *Zigzag) isPeak(candles []models.Candle, i int) bool {
	h := candles[i].High
	for j := i - z.cfg.BackCandles; j <= i+z.cfg.ForwardCandles; j++ {
		if candles[j].High > h {
			return false
		}
	}
	return true
}

func (z *Zigzag) isTrough(candles []models.Candle, i int) bool {
	l := candles[i].Low
	for j := i - z.cfg.BackCandles; j <= i+z.cfg.ForwardCandles; j++ {
		if candles[j].Low < l {
			return false
		}
	}
	return true
}

func pivotAt(candles []models.Candle, i, dir int) analysis.Pivot {
	price := candles[i].Low
	if dir > 0 {
		price = candles[i].High
	}
	return analysis.Pivot{
		Point: analysis.Point{
			Time:  candles[i].Timestamp,
			Price: price,
			Index: i,
		},
		Direction: dir,
	}
}

// addPivot appends p, or replaces the last pivot when both point the same
// way and p is more extreme. Ties keep the earlier pivot.
func addPivot(result *analysis.ZigzagResult, p analysis.Pivot) {
	last := len(result.Pivots) - 1
	if last < 0 || result.Pivots[last].Direction != p.Direction {
		result.Pivots = append(result.Pivots, p)
		return
	}

	prev := result.Pivots[last]
	if (p.IsPeak() && p.Point.Price > prev.Point.Price) ||
		(!p.IsPeak() && p.Point.Price < prev.Point.Price) {
		result.Pivots[last] = p
	}
}
