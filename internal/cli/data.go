package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chart-patterns/internal/broker"
	"chart-patterns/internal/logging"
	"chart-patterns/internal/models"
	"chart-patterns/internal/store"
	"chart-patterns/pkg/utils"
)

// candleSource describes where a command reads candles from.
type candleSource struct {
	CSV       string
	Symbol    string
	Exchange  string
	Timeframe string
	From      time.Time
	To        time.Time
}

// Title names the series in chart titles and output files.
func (s candleSource) Title() string {
	if s.CSV != "" {
		return strings.TrimSuffix(filepath.Base(s.CSV), filepath.Ext(s.CSV))
	}
	return fmt.Sprintf("%s %s", s.Symbol, s.Timeframe)
}

func addCandleFlags(cmd *cobra.Command) {
	cmd.Flags().String("csv", "", "read candles from a CSV file (timestamp,open,high,low,close,volume)")
	cmd.Flags().StringP("symbol", "s", "", "trading symbol to load from Kite (cached in SQLite)")
	cmd.Flags().StringP("exchange", "e", "", "exchange (default from config)")
	cmd.Flags().StringP("timeframe", "t", "", "candle interval (default from config)")
	cmd.Flags().String("from", "", "first date, YYYY-MM-DD (default: lookback_days before --to)")
	cmd.Flags().String("to", "", "last date, YYYY-MM-DD (default: last market close)")
}

// candleSourceFromFlags resolves the candle flags against the config.
func candleSourceFromFlags(cmd *cobra.Command, app *App) (candleSource, error) {
	var src candleSource
	src.CSV, _ = cmd.Flags().GetString("csv")
	src.Symbol, _ = cmd.Flags().GetString("symbol")
	src.Exchange, _ = cmd.Flags().GetString("exchange")
	src.Timeframe, _ = cmd.Flags().GetString("timeframe")

	if src.CSV != "" && src.Symbol != "" {
		return src, fmt.Errorf("--csv and --symbol are mutually exclusive")
	}
	if src.CSV == "" && src.Symbol == "" {
		return src, fmt.Errorf("one of --csv or --symbol is required")
	}

	src.Symbol = strings.ToUpper(src.Symbol)
	if src.Exchange == "" {
		src.Exchange = app.Config.Data.Exchange
	}
	src.Exchange = strings.ToUpper(src.Exchange)
	if src.Timeframe == "" {
		src.Timeframe = app.Config.Data.Timeframe
	}

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	var err error
	if to != "" {
		if src.To, err = utils.ParseDate(to); err != nil {
			return src, fmt.Errorf("invalid --to: %w", err)
		}
		src.To = src.To.Add(24*time.Hour - time.Second)
	} else {
		src.To = utils.LastMarketClose(time.Now())
	}
	if from != "" {
		if src.From, err = utils.ParseDate(from); err != nil {
			return src, fmt.Errorf("invalid --from: %w", err)
		}
	} else {
		src.From = src.To.AddDate(0, 0, -app.Config.Data.LookbackDays)
	}
	if src.From.After(src.To) {
		return src, fmt.Errorf("--from is after --to")
	}

	return src, nil
}

// loadCandles reads the series for src, going through the SQLite cache for
// Kite symbols.
func (a *App) loadCandles(ctx context.Context, src candleSource) ([]models.Candle, error) {
	if src.CSV != "" {
		return store.LoadCandlesCSV(src.CSV)
	}

	ds, err := a.Store()
	if err != nil {
		return nil, err
	}
	cache := store.NewCandleCache(ds, a.Config.Store.StaleAfter, a.Logger)

	candles, cached, err := cache.GetCandles(ctx, src.Symbol, src.Timeframe, src.From, src.To, a.fetchFunc(src.Exchange))
	if err != nil {
		return nil, err
	}
	logger := logging.WithSymbol(a.Logger, src.Symbol)
	logger.Debug().
		Bool("cached", cached).
		Int("candles", len(candles)).
		Msg("Loaded candles")
	return candles, nil
}

// fetchFunc adapts the Kite broker to the cache's fetch hook.
func (a *App) fetchFunc(exchange string) store.FetchFunc {
	return func(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
		zb, err := a.Broker()
		if err != nil {
			return nil, err
		}
		return zb.GetHistorical(ctx, broker.HistoricalRequest{
			Symbol:    symbol,
			Exchange:  models.Exchange(exchange),
			Timeframe: timeframe,
			From:      from,
			To:        to,
		})
	}
}

// addDataCommands adds candle download commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newFetchCmd(app))
}

func newFetchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <symbol>...",
		Short: "Download candles from Kite into the local cache",
		Long: `Download historical candles from Zerodha Kite Connect and store them in
the SQLite cache. Series synced within stale_after are not fetched again.`,
		Example: `  chartpatterns fetch INFY TCS --timeframe day --from 2023-01-01
  chartpatterns fetch RELIANCE --out reliance.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			out, _ := cmd.Flags().GetString("out")
			if out != "" && len(args) > 1 {
				return fmt.Errorf("--out takes a single symbol")
			}

			type fetched struct {
				Symbol        string    `json:"symbol"`
				Timeframe     string    `json:"timeframe"`
				Candles       int       `json:"candles"`
				First         time.Time `json:"first"`
				Last          time.Time `json:"last"`
				CachedThrough time.Time `json:"cached_through"`
				Freshness     string    `json:"freshness"`
			}
			var results []fetched

			for _, symbol := range args {
				if err := cmd.Flags().Set("symbol", symbol); err != nil {
					return err
				}
				src, err := candleSourceFromFlags(cmd, app)
				if err != nil {
					return err
				}
				candles, err := app.loadCandles(cmd.Context(), src)
				if err != nil {
					output.Error("%s: %v", src.Symbol, err)
					return err
				}

				r := fetched{Symbol: src.Symbol, Timeframe: src.Timeframe, Candles: len(candles)}
				if len(candles) > 0 {
					r.First = candles[0].Timestamp
					r.Last = candles[len(candles)-1].Timestamp
				}
				ds, err := app.Store()
				if err != nil {
					return err
				}
				if r.CachedThrough, err = ds.GetCandlesFreshness(cmd.Context(), src.Symbol, src.Timeframe); err != nil {
					return err
				}
				cache := store.NewCandleCache(ds, app.Config.Store.StaleAfter, app.Logger)
				r.Freshness = store.FormatFreshness(cache.Freshness(src.Symbol, src.Timeframe))
				results = append(results, r)

				if out != "" {
					if err := store.SaveCandlesCSV(out, candles); err != nil {
						return err
					}
				}
			}

			if output.IsJSON() {
				return output.JSON(results)
			}
			t := output.NewTable("Symbol", "Timeframe", "Candles", "From", "To", "Cached through", "Freshness")
			for _, r := range results {
				t.AppendRow([]interface{}{
					r.Symbol, r.Timeframe, r.Candles,
					FormatDate(r.First), FormatDate(r.Last), FormatDateTime(r.CachedThrough), r.Freshness,
				})
			}
			t.Render()
			if out != "" {
				output.Success("✓ Wrote %s", out)
			}
			return nil
		},
	}

	addCandleFlags(cmd)
	_ = cmd.Flags().MarkHidden("csv")
	_ = cmd.Flags().MarkHidden("symbol")
	cmd.Flags().StringP("out", "o", "", "also write the candles to this CSV file")
	return cmd
}
