package chart

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/analysis/patterns"
	"chart-patterns/internal/analysis/zigzag"
	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

var baseTime = time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

func lineSeries(waypoints ...[2]float64) []models.Candle {
	last := int(waypoints[len(waypoints)-1][0])
	candles := make([]models.Candle, last+1)
	for w := 0; w+1 < len(waypoints); w++ {
		r0, p0 := int(waypoints[w][0]), waypoints[w][1]
		r1, p1 := int(waypoints[w+1][0]), waypoints[w+1][1]
		for k := r0; k <= r1; k++ {
			price := p0 + (p1-p0)*float64(k-r0)/float64(r1-r0)
			candles[k] = models.Candle{
				Timestamp: baseTime.Add(time.Duration(k) * 24 * time.Hour),
				Open:      price,
				High:      price,
				Low:       price,
				Close:     price,
			}
		}
	}
	return candles
}

// headAndShoulders has zigzag pivots at rows 5, 10, 15, 20, 25, 30 with
// 2/2 windows and exactly one head and shoulders at rows 5..25.
func headAndShoulders() []models.Candle {
	return lineSeries(
		[2]float64{0, 100},
		[2]float64{5, 110},
		[2]float64{10, 104},
		[2]float64{15, 120},
		[2]float64{20, 104},
		[2]float64{25, 110},
		[2]float64{30, 95},
		[2]float64{40, 100},
	)
}

func newTestReversal(t *testing.T, cfg ReversalConfig, logger zerolog.Logger) *Reversal {
	t.Helper()
	if cfg.BackCandles == 0 {
		cfg.BackCandles = 2
	}
	if cfg.ForwardCandles == 0 {
		cfg.ForwardCandles = 2
	}
	r, err := NewReversal(cfg, logger)
	require.NoError(t, err)
	return r
}

func extractFixture(t *testing.T) []analysis.Pattern {
	t.Helper()
	_, found, err := patterns.ExtractChartPatterns(headAndShoulders(), 2, 2, 55, analysis.DefaultScanProperties())
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found
}

func countWarnings(buf *bytes.Buffer) int {
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `"level":"warn"`) {
			n++
		}
	}
	return n
}

func TestDefaultReversalConfig(t *testing.T) {
	cfg := DefaultReversalConfig()
	assert.Equal(t, 5, cfg.BackCandles)
	assert.Equal(t, 5, cfg.ForwardCandles)
	assert.Equal(t, 55, cfg.PivotLimit)
	assert.Equal(t, models.FieldNone, cfg.Item)
	assert.Nil(t, cfg.Scan)
	assert.False(t, cfg.ShowPivots)
	assert.Empty(t, cfg.Patterns)
}

func TestNewReversal_FillsUnsetOptions(t *testing.T) {
	offset := 2
	r, err := NewReversal(ReversalConfig{ForwardCandles: 3, Scan: &analysis.ScanOverrides{Offset: &offset}}, zerolog.Nop())
	require.NoError(t, err)

	cfg := r.Config()
	assert.Equal(t, 5, cfg.BackCandles)
	assert.Equal(t, 3, cfg.ForwardCandles)
	assert.Equal(t, 55, cfg.PivotLimit)

	want := analysis.DefaultScanProperties()
	want.Offset = 2
	assert.Equal(t, want, r.ScanProperties())
}

func TestNewReversal_RejectsUnknownItem(t *testing.T) {
	_, err := NewReversal(ReversalConfig{Item: "volume"}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))
}

func TestRender_DerivedPattern(t *testing.T) {
	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{}, zerolog.Nop())
	require.NoError(t, r.Render(headAndShoulders(), rec))

	require.Len(t, rec.Ops, 3)
	assert.Equal(t, OpScatter, rec.Ops[0].Kind)
	assert.Equal(t, OpLine, rec.Ops[1].Kind)
	assert.Equal(t, OpAnnotate, rec.Ops[2].Kind)
	assert.Empty(t, rec.Filter(OpLabel))

	scatter := rec.Ops[0]
	assert.Equal(t, []float64{5, 10, 15, 20, 25}, scatter.Xs)
	assert.Equal(t, DarkRed, scatter.Marker.Color)
	assert.Equal(t, 0.5, scatter.Marker.Alpha)

	line := rec.Ops[1]
	assert.Equal(t, []float64{10, 20}, line.Xs)
	assert.Equal(t, []float64{104, 104}, line.Ys)
	assert.True(t, line.Line.Dashed)
	assert.Equal(t, 1.5, line.Line.Width)
	assert.Equal(t, 0.5, line.Line.Alpha)

	callout := rec.Ops[2]
	assert.Equal(t, "Head and Shoulders\naction: 1\nretrace: 0.00%\nmid profit: 13.64%\nlong profit: 13.64%", callout.Text)
	assert.Equal(t, 15.0, callout.At.X)
	assert.InDelta(t, 120*1.01, callout.At.Y, 1e-9)
	assert.Equal(t, XY{X: 10, Y: 40}, callout.Annotation.Offset)
	assert.Equal(t, AlignBottom, callout.Annotation.VAlign)
	assert.Equal(t, AlignLeft, callout.Annotation.HAlign)
	assert.Equal(t, DarkRed, callout.Annotation.TextColor)
	assert.Equal(t, BoxStyle{Shape: "round", Pad: 0.5, FaceColor: White, Alpha: 0.7, EdgeColor: DarkRed, LineWidth: 1}, callout.Annotation.Box)
	assert.Equal(t, ArrowStyle{Style: "->", Connection: "arc3,rad=0", Color: DarkRed}, callout.Annotation.Arrow)
}

func TestRender_ShowPivots(t *testing.T) {
	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{ShowPivots: true}, zerolog.Nop())
	require.NoError(t, r.Render(headAndShoulders(), rec))

	first := rec.Ops[0]
	require.Equal(t, OpScatter, first.Kind)
	assert.Equal(t, Purple, first.Marker.Color)
	assert.Equal(t, MarkerPoint, first.Marker.Marker)
	assert.Equal(t, []float64{5, 10, 15, 20, 25, 30}, first.Xs)

	var labels []string
	for _, op := range rec.Filter(OpLabel) {
		labels = append(labels, op.Text)
	}
	assert.Equal(t, []string{"5", "10", "15", "20", "25", "30"}, labels)
}

func TestRender_SuppliedPatternsWarnOnceWithoutPivots(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder()
	supplied := extractFixture(t)

	r := newTestReversal(t, ReversalConfig{ShowPivots: true, Patterns: supplied}, zerolog.New(&buf))
	require.NoError(t, r.Render(headAndShoulders(), rec))

	assert.Equal(t, 1, countWarnings(&buf))
	for _, op := range rec.Filter(OpScatter) {
		assert.NotEqual(t, Purple, op.Marker.Color)
	}

	var labels []string
	for _, op := range rec.Filter(OpLabel) {
		labels = append(labels, op.Text)
	}
	assert.Equal(t, []string{"5", "10", "15", "20", "25"}, labels)
}

func TestRender_SuppliedPatternsWithoutShowPivotsDoNotWarn(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReversal(t, ReversalConfig{Patterns: extractFixture(t)}, zerolog.New(&buf))
	require.NoError(t, r.Render(headAndShoulders(), NewRecorder()))
	assert.Equal(t, 0, countWarnings(&buf))
}

func TestRender_ColorsCycle(t *testing.T) {
	p := extractFixture(t)[0]
	supplied := make([]analysis.Pattern, 6)
	for i := range supplied {
		supplied[i] = p
	}

	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{Patterns: supplied}, zerolog.Nop())
	require.NoError(t, r.Render(headAndShoulders(), rec))

	lines := rec.Filter(OpLine)
	require.Len(t, lines, 6)
	want := []Color{DarkRed, DarkBlue, DarkGreen, DarkOrange, DarkRed, DarkBlue}
	for i, op := range lines {
		assert.Equal(t, want[i], op.Line.Color, "pattern %d", i)
	}
}

func TestRender_MissingTimeFailsBeforeDrawing(t *testing.T) {
	p := extractFixture(t)[0]
	bad := p
	bad.Pivots = append([]analysis.PatternPivot(nil), p.Pivots...)
	bad.Pivots[3].Point.Time = baseTime.Add(-time.Hour)

	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{Patterns: []analysis.Pattern{p, bad}}, zerolog.Nop())
	err := r.Render(headAndShoulders(), rec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTimeNotInSeries))
	assert.Empty(t, rec.Ops)
}

func TestRender_TooFewPivots(t *testing.T) {
	p := extractFixture(t)[0]
	p.Pivots = p.Pivots[:2]

	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{Patterns: []analysis.Pattern{p}}, zerolog.Nop())
	err := r.Render(headAndShoulders(), rec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMalformedPattern))
	assert.Empty(t, rec.Ops)
}

func TestRender_ThreePivotPatternAnchorsOnLast(t *testing.T) {
	candles := headAndShoulders()
	at := func(row int, price float64, dir int) analysis.PatternPivot {
		return analysis.PatternPivot{
			Point:     analysis.Point{Time: candles[row].Timestamp, Price: price, Index: row},
			Direction: dir,
		}
	}
	p := analysis.Pattern{
		Name:   "Custom",
		Pivots: []analysis.PatternPivot{at(5, 110, 1), at(10, 104, -1), at(15, 120, 1)},
		SupportLine: analysis.Line{
			P1: analysis.Point{Time: candles[10].Timestamp, Price: 104},
			P2: analysis.Point{Time: candles[20].Timestamp, Price: 104},
		},
	}

	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{Patterns: []analysis.Pattern{p}}, zerolog.Nop())
	require.NoError(t, r.Render(candles, rec))

	callout := rec.Filter(OpAnnotate)
	require.Len(t, callout, 1)
	assert.Equal(t, "Custom", callout[0].Text)
	assert.Equal(t, 15.0, callout[0].At.X)
}

func TestRender_ShortSeriesSurfacesDetectorError(t *testing.T) {
	rec := NewRecorder()
	r, err := NewReversal(ReversalConfig{}, zerolog.Nop())
	require.NoError(t, err)

	err = r.Render(headAndShoulders()[:9], rec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientData))
	assert.Empty(t, rec.Ops)
}

type stubDetector struct{ err error }

func (d stubDetector) Name() string { return "stub" }

func (d stubDetector) Calculate([]models.Candle) (*analysis.ZigzagResult, error) {
	return nil, d.err
}

func TestRender_PropagatesDetectorError(t *testing.T) {
	boom := errors.New("detector exploded")
	e := patterns.NewExtractor(zerolog.Nop())
	e.NewDetector = func(zigzag.Config) analysis.PivotDetector { return stubDetector{err: boom} }

	r := newTestReversal(t, ReversalConfig{}, zerolog.Nop())
	r.SetExtractor(e)

	err := r.Render(headAndShoulders(), NewRecorder())
	assert.Equal(t, boom, err)
}

func TestRender_ItemSelectsColumn(t *testing.T) {
	candles := headAndShoulders()
	for i := range candles {
		candles[i].High += 50
		candles[i].Low -= 50
	}

	rec := NewRecorder()
	r := newTestReversal(t, ReversalConfig{Item: models.FieldClose}, zerolog.Nop())
	require.NoError(t, r.Render(candles, rec))
	require.Len(t, rec.Filter(OpAnnotate), 1)
	assert.Equal(t, []float64{110, 104, 120, 104, 110}, rec.Filter(OpScatter)[0].Ys)
}

func TestProperty_ColorFor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("color is palette[i mod 4]", prop.ForAll(
		func(i int) bool {
			return ColorFor(i) == Palette[i%4] && ColorFor(i) == ColorFor(i+4)
		},
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}

func TestProperty_PlaceLabel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("peaks get labels above, troughs below", prop.ForAll(
		func(price float64, row int, peak bool) bool {
			dir := analysis.DirectionDown
			if peak {
				dir = analysis.DirectionUp
			}
			pl := PlaceLabel(analysis.PatternPivot{Point: analysis.Point{Price: price}, Direction: dir}, row)
			if pl.At.X != float64(row) || pl.Offset.X != 10 {
				return false
			}
			if peak {
				return pl.At.Y == price*1.01 && pl.Offset.Y == 40 && pl.VAlign == AlignBottom
			}
			return pl.At.Y == price*0.99 && pl.Offset.Y == -40 && pl.VAlign == AlignTop
		},
		gen.Float64Range(1, 10000),
		gen.IntRange(0, 5000),
		gen.Bool(),
	))

	properties.Property("label has five lines with price action, else one", prop.ForAll(
		func(withAction bool, action float64) bool {
			p := analysis.Pattern{Name: analysis.DoubleTop}
			if withAction {
				p.ExtraProps = analysis.ExtraProps{analysis.MetricPriceAction: action}
			}
			lines := strings.Split(LabelText(p), "\n")
			if withAction {
				return len(lines) == 5 && lines[0] == "Double Top"
			}
			return len(lines) == 1 && lines[0] == "Double Top"
		},
		gen.Bool(),
		gen.Float64Range(-1, 1),
	))

	properties.TestingRun(t)
}

func TestLabelText(t *testing.T) {
	p := analysis.Pattern{
		Name: analysis.InverseHeadAndShoulders,
		ExtraProps: analysis.ExtraProps{
			analysis.MetricPriceAction:           -1,
			analysis.MetricMaxRetraceShortPeriod: 0.01234,
			analysis.MetricMaxProfitLongPeriod:   0.5,
		},
	}
	assert.Equal(t,
		"Inverse Head and Shoulders\naction: -1\nretrace: 1.23%\nmid profit: n/a\nlong profit: 50.00%",
		LabelText(p))

	p.ExtraProps = analysis.ExtraProps{analysis.MetricMaxProfitMidPeriod: 0.2}
	assert.Equal(t, "Inverse Head and Shoulders", LabelText(p))
}
