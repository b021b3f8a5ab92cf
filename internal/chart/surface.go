// Package chart draws reversal pattern overlays onto a drawing surface.
package chart

// XY is a point in data coordinates: X is the row position, Y the price.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Color is a named RGB color.
type Color struct {
	Name string `json:"name"`
	R    uint8  `json:"-"`
	G    uint8  `json:"-"`
	B    uint8  `json:"-"`
}

var (
	DarkRed    = Color{Name: "darkred", R: 0x8b, G: 0x00, B: 0x00}
	DarkBlue   = Color{Name: "darkblue", R: 0x00, G: 0x00, B: 0x8b}
	DarkGreen  = Color{Name: "darkgreen", R: 0x00, G: 0x64, B: 0x00}
	DarkOrange = Color{Name: "darkorange", R: 0xff, G: 0x8c, B: 0x00}
	Purple     = Color{Name: "purple", R: 0x80, G: 0x00, B: 0x80}
	White      = Color{Name: "white", R: 0xff, G: 0xff, B: 0xff}
	Black      = Color{Name: "black", R: 0x00, G: 0x00, B: 0x00}
)

// Palette is cycled through by pattern position.
var Palette = []Color{DarkRed, DarkBlue, DarkGreen, DarkOrange}

// ColorFor returns the palette color of the i-th pattern.
func ColorFor(i int) Color {
	n := len(Palette)
	return Palette[((i%n)+n)%n]
}

// MarkerShape is a scatter marker.
type MarkerShape string

const (
	MarkerPoint  MarkerShape = "."
	MarkerCircle MarkerShape = "o"
)

// MarkerStyle styles scatter markers. Size is the marker area in points².
type MarkerStyle struct {
	Color  Color       `json:"color"`
	Size   float64     `json:"size"`
	Alpha  float64     `json:"alpha"`
	Marker MarkerShape `json:"marker"`
}

// LineStyle styles a line segment.
type LineStyle struct {
	Color  Color   `json:"color"`
	Width  float64 `json:"width"`
	Alpha  float64 `json:"alpha"`
	Dashed bool    `json:"dashed"`
}

// VerticalAlign positions callout text relative to its offset point.
type VerticalAlign string

const (
	AlignTop    VerticalAlign = "top"
	AlignBottom VerticalAlign = "bottom"
)

// HorizontalAlign positions callout text relative to its offset point.
type HorizontalAlign string

const AlignLeft HorizontalAlign = "left"

// BoxStyle styles the callout box.
type BoxStyle struct {
	Shape     string  `json:"shape"`
	Pad       float64 `json:"pad"`
	FaceColor Color   `json:"face_color"`
	Alpha     float64 `json:"alpha"`
	EdgeColor Color   `json:"edge_color"`
	LineWidth float64 `json:"line_width"`
}

// ArrowStyle styles the arrow from callout to anchor.
type ArrowStyle struct {
	Style      string `json:"style"`
	Connection string `json:"connection"`
	Color      Color  `json:"color"`
}

// AnnotationStyle positions and styles a callout. Offset is in points,
// positive Y is up.
type AnnotationStyle struct {
	Offset    XY              `json:"offset"`
	TextColor Color           `json:"text_color"`
	HAlign    HorizontalAlign `json:"h_align"`
	VAlign    VerticalAlign   `json:"v_align"`
	Box       BoxStyle        `json:"box"`
	Arrow     ArrowStyle      `json:"arrow"`
}

// Surface is the drawing target of the overlay. Implementations own
// coordinate transforms and rendering.
type Surface interface {
	Scatter(xs, ys []float64, style MarkerStyle)
	Line(xs, ys []float64, style LineStyle)
	Annotate(text string, at XY, style AnnotationStyle)
	Label(text string, at XY)
}
