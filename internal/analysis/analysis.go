// Package analysis provides the shared types of the reversal pattern pipeline:
// zigzag pivots, detected patterns and the collaborator interfaces that produce them.
package analysis

import (
	"time"

	"chart-patterns/internal/models"
)

// PivotDetector turns a price series into a zigzag of alternating pivots.
type PivotDetector interface {
	Name() string
	Calculate(candles []models.Candle) (*ZigzagResult, error)
}

// PatternMatcher recognises reversal patterns that start at the pivot with
// the given index. It returns a new slice on every call and never modifies
// its inputs.
type PatternMatcher interface {
	Name() string
	FindPatterns(candles []models.Candle, zigzag *ZigzagResult, index int, props ScanProperties) ([]Pattern, error)
}

// Point is a price at a row of the series.
type Point struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
	Index int       `json:"index"`
}

// Direction signs used by pivots.
const (
	DirectionUp   = 1
	DirectionDown = -1
)

// Pivot is a local extremum. Direction is +1 for a peak and -1 for a trough.
type Pivot struct {
	Point     Point `json:"point"`
	Direction int   `json:"direction"`
}

// IsPeak reports whether the pivot is a high.
func (p Pivot) IsPeak() bool {
	return p.Direction > 0
}

// ZigzagResult is the time-ordered pivot sequence of one detector run.
type ZigzagResult struct {
	Pivots []Pivot `json:"pivots"`
}

// Len returns the number of pivots.
func (z *ZigzagResult) Len() int {
	if z == nil {
		return 0
	}
	return len(z.Pivots)
}

// PivotRole names the part a pivot plays in a pattern.
type PivotRole string

const (
	RoleLeftShoulder  PivotRole = "left_shoulder"
	RoleHead          PivotRole = "head"
	RoleRightShoulder PivotRole = "right_shoulder"
	RoleNeckline      PivotRole = "neckline"
	RoleTop           PivotRole = "top"
	RoleBottom        PivotRole = "bottom"
	RoleBreakout      PivotRole = "breakout"
)

// PatternPivot is a zigzag pivot as used inside a pattern.
type PatternPivot struct {
	Point     Point     `json:"point"`
	Direction int       `json:"direction"`
	Role      PivotRole `json:"role,omitempty"`
}

// Line is a two point support or trend line.
type Line struct {
	P1 Point `json:"p1"`
	P2 Point `json:"p2"`
}

// PatternName identifies the kind of reversal formation.
type PatternName string

const (
	DoubleTop               PatternName = "Double Top"
	DoubleBottom            PatternName = "Double Bottom"
	TripleTop               PatternName = "Triple Top"
	TripleBottom            PatternName = "Triple Bottom"
	HeadAndShoulders        PatternName = "Head and Shoulders"
	InverseHeadAndShoulders PatternName = "Inverse Head and Shoulders"
)

// PatternDirection represents the expected direction of a pattern.
type PatternDirection string

const (
	PatternBullish PatternDirection = "bullish"
	PatternBearish PatternDirection = "bearish"
	PatternNeutral PatternDirection = "neutral"
)

// MinPatternPivots is the smallest pivot count a drawable pattern may have;
// the third pivot anchors the label.
const MinPatternPivots = 3

// Pattern is a detected reversal formation.
type Pattern struct {
	Name        PatternName      `json:"name"`
	Direction   PatternDirection `json:"direction"`
	Pivots      []PatternPivot   `json:"pivots"`
	SupportLine Line             `json:"support_line"`
	ExtraProps  ExtraProps       `json:"extra_props,omitempty"`
}

// Start returns the first pivot point.
func (p Pattern) Start() Point {
	if len(p.Pivots) == 0 {
		return Point{}
	}
	return p.Pivots[0].Point
}

// End returns the last pivot point.
func (p Pattern) End() Point {
	if len(p.Pivots) == 0 {
		return Point{}
	}
	return p.Pivots[len(p.Pivots)-1].Point
}

// MetricKey is one of the known pattern metrics.
type MetricKey string

const (
	MetricPriceAction           MetricKey = "price_action"
	MetricMaxRetraceShortPeriod MetricKey = "max_retrace_short_period"
	MetricMaxProfitMidPeriod    MetricKey = "max_profit_mid_period"
	MetricMaxProfitLongPeriod   MetricKey = "max_profit_long_period"
)

// ExtraProps holds optional pattern metrics. A nil map means no metrics
// were computed. Fractions, not percentages.
type ExtraProps map[MetricKey]float64

// Get returns the metric and whether it is present.
func (e ExtraProps) Get(key MetricKey) (float64, bool) {
	if e == nil {
		return 0, false
	}
	v, ok := e[key]
	return v, ok
}

// Has reports whether the metric is present.
func (e ExtraProps) Has(key MetricKey) bool {
	_, ok := e.Get(key)
	return ok
}
