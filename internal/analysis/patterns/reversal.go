// Package patterns provides reversal pattern detection over zigzag pivots.
package patterns

import (
	"math"

	"chart-patterns/internal/analysis"
	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

// ReversalMatcher recognises double, triple and head-and-shoulders
// formations starting at a zigzag pivot.
type ReversalMatcher struct{}

// NewReversalMatcher creates a new reversal pattern matcher.
func NewReversalMatcher() *ReversalMatcher {
	return &ReversalMatcher{}
}

func (m *ReversalMatcher) Name() string {
	return "ReversalMatcher"
}

// shape describes one formation in "tops" orientation. Bottoms reuse the
// same test on negated prices.
type shape struct {
	name  analysis.PatternName
	size  int
	sign  int
	test  func(v []float64, props analysis.ScanProperties) bool
	roles func(sign int) []analysis.PivotRole
	line  func(window []analysis.Pivot) analysis.Line
}

var shapes = []shape{
	{analysis.DoubleTop, 4, 1, isDoubleTop, doubleRoles, breakoutNeckline},
	{analysis.DoubleBottom, 4, -1, isDoubleTop, doubleRoles, breakoutNeckline},
	{analysis.TripleTop, 5, 1, isTripleTop, tripleRoles, troughNeckline},
	{analysis.TripleBottom, 5, -1, isTripleTop, tripleRoles, troughNeckline},
	{analysis.HeadAndShoulders, 5, 1, isHeadAndShoulders, shoulderRoles, troughNeckline},
	{analysis.InverseHeadAndShoulders, 5, -1, isHeadAndShoulders, shoulderRoles, troughNeckline},
}

// FindPatterns returns every formation whose first pivot is zigzag.Pivots[index].
func (m *ReversalMatcher) FindPatterns(candles []models.Candle, zigzag *analysis.ZigzagResult, index int, props analysis.ScanProperties) ([]analysis.Pattern, error) {
	if index < 0 || index >= zigzag.Len() {
		verr := apperrors.NewValidationError("index", index, "outside the pivot sequence")
		verr.Err = apperrors.ErrInvalidWindow
		return nil, verr
	}

	var found []analysis.Pattern
	for _, s := range shapes {
		if p, ok := m.match(s, candles, zigzag.Pivots, index, props); ok {
			found = append(found, p)
		}
	}
	return found, nil
}

func (m *ReversalMatcher) match(s shape, candles []models.Candle, pivots []analysis.Pivot, index int, props analysis.ScanProperties) (analysis.Pattern, bool) {
	if index+s.size > len(pivots) {
		return analysis.Pattern{}, false
	}
	window := pivots[index : index+s.size]
	if window[0].Direction != s.sign {
		return analysis.Pattern{}, false
	}
	if window[s.size-1].Point.Index-window[0].Point.Index < props.MinPeriodsLapsed {
		return analysis.Pattern{}, false
	}

	v := make([]float64, s.size)
	for k, p := range window {
		v[k] = float64(s.sign) * p.Point.Price
	}
	if !alternates(v) || !s.test(v, props) {
		return analysis.Pattern{}, false
	}

	roles := s.roles(s.sign)
	pp := make([]analysis.PatternPivot, s.size)
	for k, p := range window {
		pp[k] = analysis.PatternPivot{
			Point:     p.Point,
			Direction: p.Direction,
			Role:      roles[k],
		}
	}

	direction := analysis.PatternBearish
	if s.sign < 0 {
		direction = analysis.PatternBullish
	}

	pattern := analysis.Pattern{
		Name:        s.name,
		Direction:   direction,
		Pivots:      pp,
		SupportLine: s.line(window),
	}
	pattern.ExtraProps = priceActionMetrics(candles, pattern, s.sign, extreme(window, s.sign), props)
	return pattern, true
}

// alternates reports whether v zigzags high, low, high, ... in tops orientation.
func alternates(v []float64) bool {
	for k := 0; k+1 < len(v); k++ {
		if k%2 == 0 && v[k] <= v[k+1] {
			return false
		}
		if k%2 == 1 && v[k] >= v[k+1] {
			return false
		}
	}
	return true
}

// v = [top, neckline, top, breakout]
func isDoubleTop(v []float64, props analysis.ScanProperties) bool {
	height := math.Max(v[0], v[2]) - v[1]
	if height <= 0 {
		return false
	}
	return math.Abs(v[0]-v[2]) <= props.FlatRatio*height && v[3] < v[1]
}

// v = [top, neckline, top, neckline, top]
func isTripleTop(v []float64, props analysis.ScanProperties) bool {
	top := math.Max(v[0], math.Max(v[2], v[4]))
	lowestTop := math.Min(v[0], math.Min(v[2], v[4]))
	height := top - math.Min(v[1], v[3])
	if height <= 0 {
		return false
	}
	return top-lowestTop <= props.FlatRatio*height
}

// v = [left shoulder, neckline, head, neckline, right shoulder]
func isHeadAndShoulders(v []float64, props analysis.ScanProperties) bool {
	neck := (v[1] + v[3]) / 2
	height := v[2] - neck
	if height <= 0 {
		return false
	}
	higherShoulder := math.Max(v[0], v[4])
	if v[2]-higherShoulder < props.HeadRatio*height {
		return false
	}
	if math.Abs(v[0]-v[4]) > props.ShoulderSymmetry*height {
		return false
	}
	return math.Min(v[0], v[4]) > math.Max(v[1], v[3])
}

func extremeRole(sign int) analysis.PivotRole {
	if sign > 0 {
		return analysis.RoleTop
	}
	return analysis.RoleBottom
}

func doubleRoles(sign int) []analysis.PivotRole {
	e := extremeRole(sign)
	return []analysis.PivotRole{e, analysis.RoleNeckline, e, analysis.RoleBreakout}
}

func tripleRoles(sign int) []analysis.PivotRole {
	e := extremeRole(sign)
	return []analysis.PivotRole{e, analysis.RoleNeckline, e, analysis.RoleNeckline, e}
}

func shoulderRoles(int) []analysis.PivotRole {
	return []analysis.PivotRole{
		analysis.RoleLeftShoulder,
		analysis.RoleNeckline,
		analysis.RoleHead,
		analysis.RoleNeckline,
		analysis.RoleRightShoulder,
	}
}

// breakoutNeckline runs flat from the neckline pivot to the breakout bar.
func breakoutNeckline(window []analysis.Pivot) analysis.Line {
	neck := window[1].Point
	end := window[len(window)-1].Point
	return analysis.Line{
		P1: neck,
		P2: analysis.Point{Time: end.Time, Price: neck.Price, Index: end.Index},
	}
}

// troughNeckline joins the two inner neckline pivots.
func troughNeckline(window []analysis.Pivot) analysis.Line {
	return analysis.Line{P1: window[1].Point, P2: window[3].Point}
}

// extreme returns the most extreme price among the pattern's outer pivots.
func extreme(window []analysis.Pivot, sign int) float64 {
	best := window[0].Point.Price
	for k := 2; k < len(window); k += 2 {
		p := window[k].Point.Price
		if float64(sign)*p > float64(sign)*best {
			best = p
		}
	}
	return best
}
