package chart

import (
	"fmt"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/analysis/patterns"
	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/logging"
	"chart-patterns/internal/models"
)

// ReversalConfig holds the overlay options. Zero values take the defaults.
type ReversalConfig struct {
	// Item selects a single price column before extraction.
	Item models.SeriesField `json:"item,omitempty" mapstructure:"item"`

	BackCandles    int `json:"back_candles" mapstructure:"back_candles" default:"5"`
	ForwardCandles int `json:"forward_candles" mapstructure:"forward_candles" default:"5"`
	PivotLimit     int `json:"pivot_limit" mapstructure:"pivot_limit" default:"55"`

	Scan *analysis.ScanOverrides `json:"scan,omitempty" mapstructure:"scan"`

	// ShowPivots draws every zigzag pivot. Ignored when Patterns is set.
	ShowPivots bool `json:"show_pivots" mapstructure:"show_pivots"`

	// Patterns skips extraction and draws these instead.
	Patterns []analysis.Pattern `json:"patterns,omitempty" mapstructure:"-"`
}

// DefaultReversalConfig returns the default options.
func DefaultReversalConfig() ReversalConfig {
	var cfg ReversalConfig
	_ = defaults.Set(&cfg)
	return cfg
}

// Reversal draws reversal patterns found in a price series.
type Reversal struct {
	cfg       ReversalConfig
	scanProps analysis.ScanProperties
	extractor *patterns.Extractor
	logger    zerolog.Logger
}

// NewReversal fills unset options with defaults and resolves the scan
// properties.
func NewReversal(cfg ReversalConfig, logger zerolog.Logger) (*Reversal, error) {
	supplied := cfg.Patterns
	cfg.Patterns = nil
	if err := defaults.Set(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}
	cfg.Patterns = supplied

	item, err := models.ParseSeriesField(string(cfg.Item))
	if err != nil {
		verr := apperrors.NewValidationError("item", cfg.Item, err.Error())
		verr.Err = apperrors.ErrConfigInvalid
		return nil, verr
	}
	cfg.Item = item

	props, err := analysis.NewScanProperties(cfg.Scan)
	if err != nil {
		return nil, err
	}

	return &Reversal{
		cfg:       cfg,
		scanProps: props,
		extractor: patterns.NewExtractor(logger),
		logger:    logger.With().Str("component", "reversal").Logger(),
	}, nil
}

// Config returns the resolved options.
func (r *Reversal) Config() ReversalConfig {
	return r.cfg
}

// ScanProperties returns the resolved scan properties.
func (r *Reversal) ScanProperties() analysis.ScanProperties {
	return r.scanProps
}

// SetExtractor replaces the pattern extractor.
func (r *Reversal) SetExtractor(e *patterns.Extractor) {
	r.extractor = e
}

// Extract selects the configured item and runs pattern extraction.
func (r *Reversal) Extract(candles []models.Candle) (*analysis.ZigzagResult, []analysis.Pattern, error) {
	series, err := models.Select(candles, r.cfg.Item)
	if err != nil {
		return nil, nil, err
	}
	return r.extractor.Extract(series, r.cfg.BackCandles, r.cfg.ForwardCandles, r.cfg.PivotLimit, r.scanProps)
}

// Render draws the patterns onto surface. Every pattern is resolved against
// the series before the first drawing call, so a bad pattern leaves the
// surface untouched.
func (r *Reversal) Render(candles []models.Candle, surface Surface) error {
	series, err := models.Select(candles, r.cfg.Item)
	if err != nil {
		return err
	}

	var (
		zz    *analysis.ZigzagResult
		found []analysis.Pattern
	)
	supplied := len(r.cfg.Patterns) > 0
	if supplied {
		found = r.cfg.Patterns
		if r.cfg.ShowPivots {
			r.logger.Warn().Msg("Pivots are not drawn when patterns are supplied directly")
		}
	} else {
		zz, found, err = r.extractor.Extract(series, r.cfg.BackCandles, r.cfg.ForwardCandles, r.cfg.PivotLimit, r.scanProps)
		if err != nil {
			return err
		}
	}

	req := newRenderRequest(series)
	plans, err := req.plan(found)
	if err != nil {
		return err
	}

	if !supplied && r.cfg.ShowPivots {
		drawPivots(surface, zz)
	}

	for _, p := range plans {
		logging.LogPattern(r.logger, p.index, string(p.pattern.Name), p.pattern.Start().Time, p.pattern.End().Time, p.placement.At.Y)
		drawPattern(surface, p, supplied)
	}
	return nil
}

// renderRequest holds per-call state: the resolved series and a lookup from
// timestamp to row position.
type renderRequest struct {
	candles []models.Candle
	rows    map[int64]int
}

func newRenderRequest(candles []models.Candle) *renderRequest {
	rows := make(map[int64]int, len(candles))
	for i, c := range candles {
		key := c.Timestamp.UnixNano()
		if _, ok := rows[key]; !ok {
			rows[key] = i
		}
	}
	return &renderRequest{candles: candles, rows: rows}
}

func (req *renderRequest) row(t time.Time) (int, error) {
	i, ok := req.rows[t.UnixNano()]
	if !ok {
		return 0, apperrors.NewDataError("candles", "", fmt.Sprintf("no row at %s", t.Format(time.RFC3339)), apperrors.ErrTimeNotInSeries)
	}
	return i, nil
}

type patternPlan struct {
	index     int
	pattern   analysis.Pattern
	color     Color
	xs, ys    []float64
	lineXs    []float64
	lineYs    []float64
	placement Placement
	text      string
}

func (req *renderRequest) plan(found []analysis.Pattern) ([]patternPlan, error) {
	plans := make([]patternPlan, 0, len(found))
	for i, p := range found {
		if len(p.Pivots) < analysis.MinPatternPivots {
			verr := apperrors.NewValidationError(fmt.Sprintf("patterns[%d].pivots", i), len(p.Pivots),
				fmt.Sprintf("must have at least %d pivots", analysis.MinPatternPivots))
			verr.Err = apperrors.ErrMalformedPattern
			return nil, verr
		}

		plan := patternPlan{
			index:   i,
			pattern: p,
			color:   ColorFor(i),
			xs:      make([]float64, len(p.Pivots)),
			ys:      make([]float64, len(p.Pivots)),
			text:    LabelText(p),
		}
		for k, pv := range p.Pivots {
			row, err := req.row(pv.Point.Time)
			if err != nil {
				return nil, apperrors.Wrapf(err, "pattern %d pivot %d", i, k)
			}
			plan.xs[k] = float64(row)
			plan.ys[k] = pv.Point.Price
		}

		startRow, err := req.row(p.SupportLine.P1.Time)
		if err != nil {
			return nil, apperrors.Wrapf(err, "pattern %d support line start", i)
		}
		endRow, err := req.row(p.SupportLine.P2.Time)
		if err != nil {
			return nil, apperrors.Wrapf(err, "pattern %d support line end", i)
		}
		plan.lineXs = []float64{float64(startRow), float64(endRow)}
		plan.lineYs = []float64{p.SupportLine.P1.Price, p.SupportLine.P2.Price}

		anchor, _ := LabelAnchor(p)
		plan.placement = PlaceLabel(anchor, int(plan.xs[LabelAnchorIndex]))

		plans = append(plans, plan)
	}
	return plans, nil
}

func drawPivots(surface Surface, zz *analysis.ZigzagResult) {
	if zz.Len() == 0 {
		return
	}
	xs := make([]float64, zz.Len())
	ys := make([]float64, zz.Len())
	for i, pv := range zz.Pivots {
		xs[i] = float64(pv.Point.Index)
		ys[i] = pv.Point.Price
	}
	surface.Scatter(xs, ys, MarkerStyle{Color: Purple, Size: markerArea, Alpha: markerAlpha, Marker: MarkerPoint})
	for i, pv := range zz.Pivots {
		surface.Label(strconv.Itoa(pv.Point.Index), XY{X: xs[i], Y: ys[i]})
	}
}

func drawPattern(surface Surface, p patternPlan, labelPivots bool) {
	surface.Scatter(p.xs, p.ys, MarkerStyle{Color: p.color, Size: markerArea, Alpha: markerAlpha, Marker: MarkerCircle})
	if labelPivots {
		for k := range p.xs {
			surface.Label(strconv.Itoa(int(p.xs[k])), XY{X: p.xs[k], Y: p.ys[k]})
		}
	}
	surface.Line(p.lineXs, p.lineYs, LineStyle{Color: p.color, Width: lineWidth, Alpha: lineAlpha, Dashed: true})
	surface.Annotate(p.text, p.placement.At, calloutStyle(p.color, p.placement))
}
