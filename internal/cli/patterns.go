package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/chart"
	"chart-patterns/internal/logging"
	"chart-patterns/internal/models"
	"chart-patterns/internal/store"
	"chart-patterns/pkg/utils"
)

// addPatternCommands adds pattern detection and rendering commands.
func addPatternCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRenderCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newPatternsCmd(app))
}

func addReversalFlags(cmd *cobra.Command) {
	cmd.Flags().String("item", "", "price column to scan: open, high, low, close")
	cmd.Flags().Int("back", 0, "candles before a pivot (default from config)")
	cmd.Flags().Int("forward", 0, "candles after a pivot (default from config)")
	cmd.Flags().Int("pivot-limit", 0, "most recent pivots kept (default from config)")
	cmd.Flags().Int("offset", 0, "first pivot index to scan from")
}

// reversalConfigFromFlags applies changed flags over the configured options.
func reversalConfigFromFlags(cmd *cobra.Command, app *App) chart.ReversalConfig {
	cfg := app.Config.Reversal
	flags := cmd.Flags()

	if flags.Changed("item") {
		item, _ := flags.GetString("item")
		cfg.Item = models.SeriesField(item)
	}
	if flags.Changed("back") {
		cfg.BackCandles, _ = flags.GetInt("back")
	}
	if flags.Changed("forward") {
		cfg.ForwardCandles, _ = flags.GetInt("forward")
	}
	if flags.Changed("pivot-limit") {
		cfg.PivotLimit, _ = flags.GetInt("pivot-limit")
	}
	if flags.Changed("offset") {
		offset, _ := flags.GetInt("offset")
		scan := analysis.ScanOverrides{}
		if cfg.Scan != nil {
			scan = *cfg.Scan
		}
		scan.Offset = &offset
		cfg.Scan = &scan
	}
	if flags.Lookup("show-pivots") != nil && flags.Changed("show-pivots") {
		cfg.ShowPivots, _ = flags.GetBool("show-pivots")
	}
	return cfg
}

func newRenderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Draw reversal patterns over a price chart",
		Long: `Find reversal patterns in a candle series and draw them over a close
price chart. Each pattern gets its pivots, a dashed support line and a
callout with its name and metrics.

With --stored, patterns saved by 'scan --save' are drawn instead of
running detection.`,
		Example: `  chartpatterns render --csv infy.csv --out infy.png
  chartpatterns render --symbol INFY --format svg --show-pivots
  chartpatterns render --symbol INFY --stored
  chartpatterns render --csv infy.csv --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			logger := logging.WithOperation(logging.FromContext(cmd.Context()), "render")

			src, err := candleSourceFromFlags(cmd, app)
			if err != nil {
				return err
			}
			candles, err := app.loadCandles(cmd.Context(), src)
			if err != nil {
				return err
			}

			cfg := reversalConfigFromFlags(cmd, app)
			if stored, _ := cmd.Flags().GetBool("stored"); stored {
				if src.Symbol == "" {
					return fmt.Errorf("--stored needs --symbol")
				}
				found, err := storedPatterns(cmd, app, src)
				if err != nil {
					return err
				}
				if len(found) == 0 {
					output.Warning("No stored patterns for %s in range; run 'scan --save' first", src.Title())
					return nil
				}
				cfg.Patterns = found
			}

			rev, err := chart.NewReversal(cfg, logger)
			if err != nil {
				return err
			}

			width, height := app.Config.Chart.Width, app.Config.Chart.Height
			if cmd.Flags().Changed("width") {
				width, _ = cmd.Flags().GetInt("width")
			}
			if cmd.Flags().Changed("height") {
				height, _ = cmd.Flags().GetInt("height")
			}
			canvas := chart.NewCanvas(src.Title(), candles, width, height)

			if err := rev.Render(candles, canvas); err != nil {
				return err
			}

			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				return output.JSON(canvas.Recorder)
			}

			formatFlag, _ := cmd.Flags().GetString("format")
			if formatFlag == "" {
				formatFlag = app.Config.Chart.Format
			}
			format, err := chart.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = strings.ReplaceAll(src.Title(), " ", "_") + "." + string(format)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := canvas.Save(f, format); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			drawn := len(canvas.Filter(chart.OpAnnotate))
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"file": out, "patterns": drawn})
			}
			output.Success("✓ Drew %d patterns to %s", drawn, out)
			return nil
		},
	}

	addCandleFlags(cmd)
	addReversalFlags(cmd)
	cmd.Flags().Bool("show-pivots", false, "draw every zigzag pivot")
	cmd.Flags().Bool("stored", false, "draw stored patterns instead of detecting")
	cmd.Flags().StringP("out", "o", "", "output file (default: <series>.<format>)")
	cmd.Flags().StringP("format", "f", "", "image format: png or svg (default from config)")
	cmd.Flags().Int("width", 0, "image width in pixels")
	cmd.Flags().Int("height", 0, "image height in pixels")
	cmd.Flags().Bool("dry-run", false, "print the drawing operations as JSON instead of an image")
	return cmd
}

func storedPatterns(cmd *cobra.Command, app *App, src candleSource) ([]analysis.Pattern, error) {
	ds, err := app.Store()
	if err != nil {
		return nil, err
	}
	rows, err := ds.GetPatterns(cmd.Context(), store.PatternFilter{
		Symbol:    src.Symbol,
		Timeframe: src.Timeframe,
		StartDate: src.From,
		EndDate:   src.To,
	})
	if err != nil {
		return nil, err
	}
	// Rows are newest first and may overlap the range edges. Keep the ones
	// fully inside it, oldest first.
	var found []analysis.Pattern
	for i := len(rows) - 1; i >= 0; i-- {
		p := rows[i].Pattern
		if p.Start().Time.Before(src.From) || p.End().Time.After(src.To) {
			continue
		}
		found = append(found, p)
	}
	return found, nil
}

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List reversal patterns in a candle series",
		Example: `  chartpatterns scan --csv infy.csv
  chartpatterns scan --symbol INFY --save
  chartpatterns scan --symbol TCS --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			logger := logging.WithOperation(logging.FromContext(cmd.Context()), "scan")

			src, err := candleSourceFromFlags(cmd, app)
			if err != nil {
				return err
			}
			candles, err := app.loadCandles(cmd.Context(), src)
			if err != nil {
				return err
			}

			rev, err := chart.NewReversal(reversalConfigFromFlags(cmd, app), logger)
			if err != nil {
				return err
			}
			zz, found, err := rev.Extract(candles)
			if err != nil {
				return err
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				if src.Symbol == "" {
					return fmt.Errorf("--save needs --symbol")
				}
				ds, err := app.Store()
				if err != nil {
					return err
				}
				if err := ds.SavePatterns(cmd.Context(), src.Symbol, src.Timeframe, found); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(found)
			}

			output.Bold("%s: %d candles, %d pivots, %d patterns", src.Title(), len(candles), zz.Len(), len(found))
			if len(found) == 0 {
				return nil
			}
			t := output.NewTable("#", "Pattern", "Direction", "Start", "End", "Action", "Retrace", "Mid profit", "Long profit")
			for i, p := range found {
				t.AppendRow([]interface{}{
					i,
					p.Name,
					output.Direction(p.Direction),
					FormatDate(p.Start().Time),
					FormatDate(p.End().Time),
					FormatPriceAction(p.ExtraProps),
					FormatMetric(p.ExtraProps, analysis.MetricMaxRetraceShortPeriod),
					FormatMetric(p.ExtraProps, analysis.MetricMaxProfitMidPeriod),
					FormatMetric(p.ExtraProps, analysis.MetricMaxProfitLongPeriod),
				})
			}
			t.Render()
			return nil
		},
	}

	addCandleFlags(cmd)
	addReversalFlags(cmd)
	cmd.Flags().Bool("save", false, "store the patterns in the SQLite database")
	return cmd
}

func newPatternsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Stored pattern queries",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored patterns",
		Example: `  chartpatterns patterns list --symbol INFY
  chartpatterns patterns list --name "Double Top" --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			filter := store.PatternFilter{}
			filter.Symbol, _ = cmd.Flags().GetString("symbol")
			filter.Symbol = strings.ToUpper(filter.Symbol)
			filter.Timeframe, _ = cmd.Flags().GetString("timeframe")
			name, _ := cmd.Flags().GetString("name")
			filter.Name = analysis.PatternName(name)
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			if from, _ := cmd.Flags().GetString("from"); from != "" {
				t, err := utils.ParseDate(from)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				filter.StartDate = t
			}
			if to, _ := cmd.Flags().GetString("to"); to != "" {
				t, err := utils.ParseDate(to)
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				filter.EndDate = t.AddDate(0, 0, 1)
			}

			ds, err := app.Store()
			if err != nil {
				return err
			}
			rows, err := ds.GetPatterns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Info("No stored patterns")
				return nil
			}
			t := output.NewTable("ID", "Symbol", "TF", "Pattern", "Direction", "Start", "End", "Neckline", "Detected")
			for _, r := range rows {
				t.AppendRow([]interface{}{
					r.ID,
					r.Symbol,
					r.Timeframe,
					r.Pattern.Name,
					output.Direction(r.Pattern.Direction),
					FormatDate(r.Pattern.Start().Time),
					FormatDate(r.Pattern.End().Time),
					FormatPrice(r.Pattern.SupportLine.P1.Price),
					FormatDateTime(r.DetectedAt),
				})
			}
			t.Render()
			return nil
		},
	}

	listCmd.Flags().StringP("symbol", "s", "", "filter by symbol")
	listCmd.Flags().StringP("timeframe", "t", "", "filter by timeframe")
	listCmd.Flags().String("name", "", "filter by pattern name")
	listCmd.Flags().String("from", "", "patterns ending on or after this date")
	listCmd.Flags().String("to", "", "patterns starting on or before this date")
	listCmd.Flags().IntP("limit", "l", 50, "maximum rows (0 for all)")
	cmd.AddCommand(listCmd)

	return cmd
}
