package patterns

import (
	"github.com/rs/zerolog"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/analysis/zigzag"
	"chart-patterns/internal/models"
)

// DetectorFactory builds the pivot detector for one extraction.
type DetectorFactory func(cfg zigzag.Config) analysis.PivotDetector

// DefaultDetector builds a zigzag detector.
func DefaultDetector(cfg zigzag.Config) analysis.PivotDetector {
	return zigzag.New(cfg)
}

// Extractor runs pivot detection once over a series and then asks the
// matcher for patterns at every pivot index.
type Extractor struct {
	NewDetector DetectorFactory
	Matcher     analysis.PatternMatcher
	Logger      zerolog.Logger
}

// NewExtractor creates an extractor with the zigzag detector and the
// reversal matcher.
func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{
		NewDetector: DefaultDetector,
		Matcher:     NewReversalMatcher(),
		Logger:      logger,
	}
}

// Extract returns the zigzag and every matched pattern in scan order.
// Errors from the detector or matcher are returned as they are.
func (e *Extractor) Extract(candles []models.Candle, backCandles, forwardCandles, pivotLimit int, props analysis.ScanProperties) (*analysis.ZigzagResult, []analysis.Pattern, error) {
	detector := e.NewDetector(zigzag.Config{
		BackCandles:    backCandles,
		ForwardCandles: forwardCandles,
		PivotLimit:     pivotLimit,
		Offset:         0,
	})

	zz, err := detector.Calculate(candles)
	if err != nil {
		return nil, nil, err
	}

	var found []analysis.Pattern
	for i := props.Offset; i < zz.Len(); i++ {
		matched, err := e.Matcher.FindPatterns(candles, zz, i, props)
		if err != nil {
			return nil, nil, err
		}
		found = append(found, matched...)
	}

	e.Logger.Debug().
		Str("detector", detector.Name()).
		Str("matcher", e.Matcher.Name()).
		Int("rows", len(candles)).
		Int("pivots", zz.Len()).
		Int("patterns", len(found)).
		Msg("Chart patterns extracted")

	return zz, found, nil
}

// ExtractChartPatterns runs the default extractor without logging.
func ExtractChartPatterns(candles []models.Candle, backCandles, forwardCandles, pivotLimit int, props analysis.ScanProperties) (*analysis.ZigzagResult, []analysis.Pattern, error) {
	return NewExtractor(zerolog.Nop()).Extract(candles, backCandles, forwardCandles, pivotLimit, props)
}
