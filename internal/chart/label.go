package chart

import (
	"fmt"
	"strconv"
	"strings"

	"chart-patterns/internal/analysis"
)

// LabelAnchorIndex is the pattern pivot that carries the callout.
const LabelAnchorIndex = 2

const (
	labelOffsetX    = 10
	labelOffsetY    = 40
	peakNudge       = 1.01
	troughNudge     = 0.99
	missingMetric   = "n/a"
	markerArea      = 10 * 10
	markerAlpha     = 0.5
	lineWidth       = 1.5
	lineAlpha       = 0.5
	boxPad          = 0.5
	boxAlpha        = 0.7
	boxLineWidth    = 1
	arrowStyle      = "->"
	arrowConnection = "arc3,rad=0"
)

// LabelAnchor returns the pivot the callout points at.
func LabelAnchor(p analysis.Pattern) (analysis.PatternPivot, bool) {
	if len(p.Pivots) <= LabelAnchorIndex {
		return analysis.PatternPivot{}, false
	}
	return p.Pivots[LabelAnchorIndex], true
}

// Placement is where a callout goes relative to its anchor.
type Placement struct {
	At     XY
	Offset XY
	VAlign VerticalAlign
}

// PlaceLabel keeps the callout clear of the marker: above a peak, below a trough.
func PlaceLabel(anchor analysis.PatternPivot, row int) Placement {
	if anchor.Direction > 0 {
		return Placement{
			At:     XY{X: float64(row), Y: anchor.Point.Price * peakNudge},
			Offset: XY{X: labelOffsetX, Y: labelOffsetY},
			VAlign: AlignBottom,
		}
	}
	return Placement{
		At:     XY{X: float64(row), Y: anchor.Point.Price * troughNudge},
		Offset: XY{X: labelOffsetX, Y: -labelOffsetY},
		VAlign: AlignTop,
	}
}

// LabelText is the pattern name, followed by four metric lines when the
// pattern carries a price action metric.
func LabelText(p analysis.Pattern) string {
	action, ok := p.ExtraProps.Get(analysis.MetricPriceAction)
	if !ok {
		return string(p.Name)
	}

	lines := []string{
		string(p.Name),
		"action: " + strconv.FormatFloat(action, 'f', -1, 64),
		"retrace: " + percentMetric(p.ExtraProps, analysis.MetricMaxRetraceShortPeriod),
		"mid profit: " + percentMetric(p.ExtraProps, analysis.MetricMaxProfitMidPeriod),
		"long profit: " + percentMetric(p.ExtraProps, analysis.MetricMaxProfitLongPeriod),
	}
	return strings.Join(lines, "\n")
}

func percentMetric(props analysis.ExtraProps, key analysis.MetricKey) string {
	v, ok := props.Get(key)
	if !ok {
		return missingMetric
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func calloutStyle(color Color, placement Placement) AnnotationStyle {
	return AnnotationStyle{
		Offset:    placement.Offset,
		TextColor: color,
		HAlign:    AlignLeft,
		VAlign:    placement.VAlign,
		Box: BoxStyle{
			Shape:     "round",
			Pad:       boxPad,
			FaceColor: White,
			Alpha:     boxAlpha,
			EdgeColor: color,
			LineWidth: boxLineWidth,
		},
		Arrow: ArrowStyle{
			Style:      arrowStyle,
			Connection: arrowConnection,
			Color:      color,
		},
	}
}
