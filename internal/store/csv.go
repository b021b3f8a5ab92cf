package store

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
	"chart-patterns/pkg/utils"
)

// csvCandle is one row of a candle file. The timestamp is parsed separately
// so both date-only and full timestamps are accepted.
type csvCandle struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    int64   `csv:"volume"`
}

// ReadCandlesCSV decodes candles with a timestamp,open,high,low,close,volume
// header. Rows are returned in time order.
func ReadCandlesCSV(r io.Reader) ([]models.Candle, error) {
	var rows []*csvCandle
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := utils.ParseTimestamp(row.Timestamp)
		if err != nil {
			return nil, apperrors.NewDataError("candles", "", fmt.Sprintf("row %d", i+1), err)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

// LoadCandlesCSV reads a candle file from disk.
func LoadCandlesCSV(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	candles, err := ReadCandlesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(candles) == 0 {
		return nil, apperrors.NewDataError("candles", path, "file has no rows", apperrors.ErrDataNotFound)
	}
	return candles, nil
}

// WriteCandlesCSV encodes candles with a header row.
func WriteCandlesCSV(w io.Writer, candles []models.Candle) error {
	rows := make([]*csvCandle, len(candles))
	for i, c := range candles {
		rows[i] = &csvCandle{
			Timestamp: c.Timestamp.Format(time.RFC3339),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to encode candles: %w", err)
	}
	return nil
}

// SaveCandlesCSV writes a candle file to disk.
func SaveCandlesCSV(path string, candles []models.Candle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCandlesCSV(f, candles); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
