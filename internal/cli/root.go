package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chart-patterns/internal/broker"
	"chart-patterns/internal/config"
	"chart-patterns/internal/logging"
	"chart-patterns/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies. The store and broker are opened
// on first use so commands that read CSV files need neither.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	store  store.DataStore
	broker *broker.ZerodhaBroker
}

// NewApp creates the application dependencies.
func NewApp(cfg *config.Config, configDir string, logger zerolog.Logger) *App {
	return &App{
		Config:    cfg,
		ConfigDir: configDir,
		Logger:    logger,
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chartpatterns",
		Short: "Find and draw reversal chart patterns",
		Long: `chartpatterns scans OHLCV series for reversal formations (double and
triple tops and bottoms, head and shoulders) and draws them over a price chart.

Candles come from a CSV file or from Zerodha Kite Connect, cached in SQLite.

Use 'chartpatterns help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), app.Logger))
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/chart-patterns)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addPatternCommands(rootCmd, app)

	return rootCmd
}

// Execute runs the root command and closes the app afterwards, also when
// the command fails.
func Execute(ctx context.Context, app *App, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	if cerr := app.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Store opens the SQLite store on first use.
func (a *App) Store() (store.DataStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")
	a.store = s
	return s, nil
}

// Broker creates the Kite client on first use.
func (a *App) Broker() (*broker.ZerodhaBroker, error) {
	if a.broker != nil {
		return a.broker, nil
	}
	if err := a.Config.RequireKite(); err != nil {
		return nil, err
	}
	creds := a.Config.Credentials.Zerodha
	a.broker = broker.NewZerodhaBroker(broker.ZerodhaConfig{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
		UserID:    creds.UserID,
		TokenPath: filepath.Join(a.ConfigDir, "session.json"),
	}, a.Logger)
	a.Logger.Debug().Msg("Zerodha broker initialized")
	return a.broker, nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("chartpatterns v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write configuration templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")
			written, err := config.InitTemplates(app.ConfigDir, force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string][]string{"written": written})
			}
			if len(written) == 0 {
				output.Info("Configuration already exists in %s (use --force to overwrite)", app.ConfigDir)
				return nil
			}
			for _, path := range written {
				output.Success("✓ Wrote %s", path)
			}
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite existing files")
	cmd.AddCommand(initCmd)

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	r := cfg.Reversal
	output.Bold("Reversal")
	output.Printf("  Item:            %s\n", orDefault(string(r.Item), "close"))
	output.Printf("  Back candles:    %d\n", r.BackCandles)
	output.Printf("  Forward candles: %d\n", r.ForwardCandles)
	output.Printf("  Pivot limit:     %d\n", r.PivotLimit)
	output.Printf("  Show pivots:     %v\n", r.ShowPivots)
	output.Println()

	output.Bold("Chart")
	output.Printf("  Size:            %dx%d\n", cfg.Chart.Width, cfg.Chart.Height)
	output.Printf("  Format:          %s\n", cfg.Chart.Format)
	output.Println()

	output.Bold("Data")
	output.Printf("  Exchange:        %s\n", cfg.Data.Exchange)
	output.Printf("  Timeframe:       %s\n", cfg.Data.Timeframe)
	output.Printf("  Lookback:        %d days\n", cfg.Data.LookbackDays)
	output.Printf("  Store:           %s\n", cfg.Store.Path)
	output.Printf("  Stale after:     %s\n", cfg.Store.StaleAfter)
	output.Println()

	output.Bold("Kite")
	if cfg.Credentials.Zerodha.APIKey != "" {
		output.Printf("  API key:         %s\n", maskSecret(cfg.Credentials.Zerodha.APIKey))
	} else {
		output.Printf("  API key:         (not set)\n")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
