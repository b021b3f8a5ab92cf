package chart

import (
	"fmt"
	"io"
	"math"
	"strings"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

// Format is an image output format.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// ParseFormat parses an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatSVG:
		return f, nil
	case "":
		return FormatPNG, nil
	default:
		verr := apperrors.NewValidationError("format", s, "must be one of: png, svg")
		verr.Err = apperrors.ErrConfigInvalid
		return "", verr
	}
}

const (
	annotationFontSize = 9.0
	labelFontSize      = 7.0
	arrowHead          = 6.0
	dashOn             = 6.0
	dashOff            = 4.0
)

var closeLineColor = drawing.ColorFromHex("708090")

// Canvas is a Surface backed by go-chart. Drawing calls are recorded and
// replayed in data coordinates when the chart is rendered, so Canvas is
// also the chart series that carries the overlay.
type Canvas struct {
	*Recorder

	Title  string
	Width  int
	Height int

	candles []models.Candle
}

var (
	_ Surface        = (*Canvas)(nil)
	_ gochart.Series = (*Canvas)(nil)
)

// NewCanvas creates a canvas that plots the close of candles.
func NewCanvas(title string, candles []models.Candle, width, height int) *Canvas {
	return &Canvas{
		Recorder: NewRecorder(),
		Title:    title,
		Width:    width,
		Height:   height,
		candles:  candles,
	}
}

// GetName implements chart.Series.
func (c *Canvas) GetName() string { return "patterns" }

// GetStyle implements chart.Series.
func (c *Canvas) GetStyle() gochart.Style { return gochart.Style{} }

// GetYAxis implements chart.Series.
func (c *Canvas) GetYAxis() gochart.YAxisType { return gochart.YAxisPrimary }

// Validate implements chart.Series.
func (c *Canvas) Validate() error { return nil }

// Chart builds the go-chart chart: a close line plus the recorded overlay.
func (c *Canvas) Chart() gochart.Chart {
	xs := make([]float64, len(c.candles))
	closes := make([]float64, len(c.candles))
	for i, candle := range c.candles {
		xs[i] = float64(i)
		closes[i] = candle.Close
	}

	return gochart.Chart{
		Title:  c.Title,
		Width:  c.Width,
		Height: c.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			ValueFormatter: c.formatRow,
		},
		YAxis: gochart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.2f", f)
				}
				return ""
			},
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				Name:    "close",
				Style:   gochart.Style{StrokeColor: closeLineColor, StrokeWidth: 1},
				XValues: xs,
				YValues: closes,
			},
			c,
		},
	}
}

// Save renders the chart to w.
func (c *Canvas) Save(w io.Writer, format Format) error {
	if len(c.candles) < 2 {
		return apperrors.NewDataError("candles", "", "need at least 2 rows to draw a chart", apperrors.ErrInsufficientData)
	}
	provider := gochart.PNG
	if format == FormatSVG {
		provider = gochart.SVG
	}
	graph := c.Chart()
	if err := graph.Render(provider, w); err != nil {
		return apperrors.Wrap(err, "failed to render chart")
	}
	return nil
}

func (c *Canvas) formatRow(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return ""
	}
	i := int(math.Round(f))
	if i < 0 || i >= len(c.candles) {
		return ""
	}
	return c.candles[i].Timestamp.Format("2006-01-02")
}

// Render implements chart.Series by replaying the recorded ops.
func (c *Canvas) Render(r gochart.Renderer, box gochart.Box, xrange, yrange gochart.Range, style gochart.Style) {
	if style.Font != nil {
		r.SetFont(style.Font)
	}
	p := projection{box: box, xrange: xrange, yrange: yrange, scale: r.GetDPI() / 72.0}

	for _, op := range c.Ops {
		switch op.Kind {
		case OpScatter:
			drawMarkers(r, p, op)
		case OpLine:
			drawLine(r, p, op)
		case OpLabel:
			drawLabel(r, p, op)
		case OpAnnotate:
			drawCallout(r, p, op)
		}
		r.ResetStyle()
	}
}

type projection struct {
	box    gochart.Box
	xrange gochart.Range
	yrange gochart.Range
	scale  float64
}

func (p projection) pixel(x, y float64) (int, int) {
	return p.box.Left + p.xrange.Translate(x), p.box.Bottom - p.yrange.Translate(y)
}

func (p projection) points(v float64) int {
	return int(math.Round(v * p.scale))
}

func withAlpha(c Color, alpha float64) drawing.Color {
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(alpha * 255))}
}

func drawMarkers(r gochart.Renderer, p projection, op Op) {
	if op.Marker == nil {
		return
	}
	radius := math.Sqrt(op.Marker.Size) / 2 * p.scale
	if op.Marker.Marker == MarkerPoint {
		radius /= 2
	}
	color := withAlpha(op.Marker.Color, op.Marker.Alpha)
	for i := range op.Xs {
		x, y := p.pixel(op.Xs[i], op.Ys[i])
		r.SetFillColor(color)
		r.SetStrokeColor(color)
		r.SetStrokeWidth(1)
		r.Circle(radius, x, y)
		r.FillStroke()
	}
}

func drawLine(r gochart.Renderer, p projection, op Op) {
	if op.Line == nil || len(op.Xs) < 2 {
		return
	}
	r.SetStrokeColor(withAlpha(op.Line.Color, op.Line.Alpha))
	r.SetStrokeWidth(op.Line.Width * p.scale)
	if op.Line.Dashed {
		r.SetStrokeDashArray([]float64{dashOn, dashOff})
	}
	x, y := p.pixel(op.Xs[0], op.Ys[0])
	r.MoveTo(x, y)
	for i := 1; i < len(op.Xs); i++ {
		x, y = p.pixel(op.Xs[i], op.Ys[i])
		r.LineTo(x, y)
	}
	r.Stroke()
}

func drawLabel(r gochart.Renderer, p projection, op Op) {
	if op.At == nil {
		return
	}
	x, y := p.pixel(op.At.X, op.At.Y)
	r.SetFontColor(withAlpha(Black, 1))
	r.SetFontSize(labelFontSize)
	r.Text(op.Text, x+p.points(2), y-p.points(2))
}

func drawCallout(r gochart.Renderer, p projection, op Op) {
	if op.At == nil || op.Annotation == nil {
		return
	}
	style := op.Annotation
	ax, ay := p.pixel(op.At.X, op.At.Y)
	tx := ax + p.points(style.Offset.X)
	ty := ay - p.points(style.Offset.Y)

	r.SetFontSize(annotationFontSize)
	lines := strings.Split(op.Text, "\n")
	var textW, lineH int
	for _, line := range lines {
		m := r.MeasureText(line)
		if m.Width() > textW {
			textW = m.Width()
		}
		if m.Height() > lineH {
			lineH = m.Height()
		}
	}
	gap := lineH / 3
	pad := p.points(style.Box.Pad * annotationFontSize)
	boxW := textW + 2*pad
	boxH := len(lines)*lineH + (len(lines)-1)*gap + 2*pad

	top := ty
	if style.VAlign == AlignBottom {
		top = ty - boxH
	}

	drawArrow(r, style.Arrow, tx, ty, ax, ay)

	r.SetFillColor(withAlpha(style.Box.FaceColor, style.Box.Alpha))
	r.SetStrokeColor(withAlpha(style.Box.EdgeColor, 1))
	r.SetStrokeWidth(style.Box.LineWidth * p.scale)
	roundedRect(r, tx, top, boxW, boxH, pad)
	r.FillStroke()

	r.SetFontColor(withAlpha(style.TextColor, 1))
	r.SetFontSize(annotationFontSize)
	for i, line := range lines {
		baseline := top + pad + (i+1)*lineH + i*gap
		r.Text(line, tx+pad, baseline)
	}
}

func drawArrow(r gochart.Renderer, style ArrowStyle, fromX, fromY, toX, toY int) {
	r.SetStrokeColor(withAlpha(style.Color, 1))
	r.SetStrokeWidth(1)
	r.MoveTo(fromX, fromY)
	r.LineTo(toX, toY)
	r.Stroke()

	angle := math.Atan2(float64(toY-fromY), float64(toX-fromX))
	for _, side := range []float64{-0.45, 0.45} {
		hx := toX - int(math.Round(arrowHead*math.Cos(angle+side)))
		hy := toY - int(math.Round(arrowHead*math.Sin(angle+side)))
		r.MoveTo(toX, toY)
		r.LineTo(hx, hy)
		r.Stroke()
	}
}

func roundedRect(r gochart.Renderer, left, top, w, h, radius int) {
	if radius*2 > w {
		radius = w / 2
	}
	if radius*2 > h {
		radius = h / 2
	}
	right, bottom := left+w, top+h

	r.MoveTo(left+radius, top)
	r.LineTo(right-radius, top)
	r.QuadCurveTo(right, top, right, top+radius)
	r.LineTo(right, bottom-radius)
	r.QuadCurveTo(right, bottom, right-radius, bottom)
	r.LineTo(left+radius, bottom)
	r.QuadCurveTo(left, bottom, left, bottom-radius)
	r.LineTo(left, top+radius)
	r.QuadCurveTo(left, top, left+radius, top)
	r.Close()
}
