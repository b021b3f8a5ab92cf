package patterns

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/models"
)

// priceActionMetrics measures what price did after the pattern completed.
// sign is +1 for bearish (tops) and -1 for bullish (bottoms) formations.
// It returns nil when disabled or when no bar follows the last pivot.
func priceActionMetrics(candles []models.Candle, p analysis.Pattern, sign int, extreme float64, props analysis.ScanProperties) analysis.ExtraProps {
	if !props.CalcPriceAction || props.ShortPeriod <= 0 || props.MidPeriod <= 0 || props.LongPeriod <= 0 {
		return nil
	}
	end := p.End().Index
	if end < 0 || end >= len(candles)-1 {
		return nil
	}
	entry := candles[end].Close
	if entry == 0 {
		return nil
	}

	shortHighs, shortLows := lookForward(candles, end, props.ShortPeriod)
	midHighs, midLows := lookForward(candles, end, props.MidPeriod)
	longHighs, longLows := lookForward(candles, end, props.LongPeriod)

	var retrace, midProfit, longProfit float64
	if sign > 0 {
		retrace = (floats.Max(shortHighs) - entry) / entry
		midProfit = (entry - floats.Min(midLows)) / entry
		longProfit = (entry - floats.Min(longLows)) / entry
	} else {
		retrace = (entry - floats.Min(shortLows)) / entry
		midProfit = (floats.Max(midHighs) - entry) / entry
		longProfit = (floats.Max(longHighs) - entry) / entry
	}

	return analysis.ExtraProps{
		analysis.MetricPriceAction:           priceAction(candles, end, props.MidPeriod, sign, p.SupportLine.P1.Price, extreme),
		analysis.MetricMaxRetraceShortPeriod: math.Max(0, retrace),
		analysis.MetricMaxProfitMidPeriod:    math.Max(0, midProfit),
		analysis.MetricMaxProfitLongPeriod:   math.Max(0, longProfit),
	}
}

// lookForward returns highs and lows of up to period bars after end.
func lookForward(candles []models.Candle, end, period int) ([]float64, []float64) {
	last := end + period
	if last > len(candles)-1 {
		last = len(candles) - 1
	}
	highs := make([]float64, 0, last-end)
	lows := make([]float64, 0, last-end)
	for i := end + 1; i <= last; i++ {
		highs = append(highs, candles[i].High)
		lows = append(lows, candles[i].Low)
	}
	return highs, lows
}

// priceAction is +1 when a close crosses the neckline in the expected
// direction, -1 when price first runs past the pattern extreme, 0 otherwise.
func priceAction(candles []models.Candle, end, period, sign int, neckline, extreme float64) float64 {
	last := end + period
	if last > len(candles)-1 {
		last = len(candles) - 1
	}
	for i := end + 1; i <= last; i++ {
		c := candles[i]
		if sign > 0 {
			if c.High > extreme {
				return -1
			}
			if c.Close < neckline {
				return 1
			}
		} else {
			if c.Low < extreme {
				return -1
			}
			if c.Close > neckline {
				return 1
			}
		}
	}
	return 0
}
