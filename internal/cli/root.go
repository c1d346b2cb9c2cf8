// Package cli provides the command-line interface of the alert daemon.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"market-alerts/internal/analysis/indicators"
	"market-alerts/internal/config"
	"market-alerts/internal/logging"
	"market-alerts/internal/marketdata"
	"market-alerts/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-03-01"
)

// App holds the application dependencies. Config and Logger are set before
// any subcommand runs; the store and provider are opened on demand.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger

	store store.AdminStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "alertd",
		Short: "Market alert monitoring daemon",
		Long: `alertd watches price and indicator alerts on market instruments.

It polls each instrument that has active alerts, faster while users are
looking at it, evaluates every alert and delivers notifications when a
condition is met.

Use 'alertd run' to start monitoring and 'alertd alerts' to manage alerts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/market-alerts)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))
	rootCmd.AddCommand(newIndicatorsCmd(app))

	return rootCmd
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.ConfigDir = dir
	a.Config = cfg

	lc := cfg.Logging
	logCfg := logging.DefaultLogConfig()
	logCfg.Level = lc.Level
	logCfg.Console, logCfg.JSON, logCfg.File = lc.Console, lc.JSON, lc.File
	if lc.FilePath != "" {
		logCfg.FilePath = lc.FilePath
	}
	if lc.MaxSize > 0 {
		logCfg.MaxSize, logCfg.MaxBackups, logCfg.MaxAge = lc.MaxSize, lc.MaxBackups, lc.MaxAge
	}
	// One-shot commands print their own output; keep the console quiet.
	if cmd.Name() != "run" {
		logCfg.Console = false
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

// Store opens the alert store on first use.
func (a *App) Store() (store.AdminStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Store.Path, a.Logger)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// Provider builds the rate-limited market data provider.
func (a *App) Provider() (marketdata.Provider, error) {
	kc := a.Config.Credentials.Kite
	kite, err := marketdata.NewKiteProvider(marketdata.KiteConfig{
		APIKey:      kc.APIKey,
		AccessToken: kc.AccessToken,
		SessionPath: filepath.Join(a.ConfigDir, "session.json"),
		Timeout:     a.Config.Monitor.FetchTimeout,
	})
	if err != nil {
		return nil, err
	}
	md := a.Config.MarketData
	return marketdata.NewRateLimitedProvider(kite, md.RateLimit, md.RateBurst, a.Config.Monitor.FetchTimeout), nil
}

// Engine builds the indicator engine from the [indicators] section.
func (a *App) Engine() *indicators.Engine {
	return indicators.NewEngine(a.Config.IndicatorDefaults())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("alertd v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
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
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
				return
			}
			output.Println(app.ConfigDir)
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	m := cfg.Monitor
	output.Bold("Monitor")
	output.Printf("  Active interval:  %s\n", m.ActiveInterval)
	output.Printf("  Idle interval:    %s\n", m.IdleInterval)
	output.Printf("  Activity timeout: %s\n", m.ActivityTimeout)
	output.Printf("  Max instruments:  %d (%s)\n", m.MaxInstruments, m.Priority)
	output.Println()

	md := cfg.MarketData
	output.Bold("Market data")
	output.Printf("  Cache TTL:        %s\n", md.CacheTTL)
	output.Printf("  Candles:          %d x %s\n", md.WindowLength, md.CandleInterval)
	output.Printf("  Rate limit:       %.1f/s (burst %d)\n", md.RateLimit, md.RateBurst)
	output.Printf("  Kite API key:     %s\n", logging.MaskSecret(cfg.Credentials.Kite.APIKey))
	output.Println()

	output.Bold("Store")
	output.Printf("  Path:             %s\n", cfg.Store.Path)
	output.Println()

	n := cfg.Notifications
	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", n.Enabled)
	output.Printf("  Webhook:          %v\n", n.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", n.Telegram.Enabled)
	output.Printf("  Log:              %v\n", n.Log.Enabled)
	output.Printf("  Terminal:         %v\n", n.Terminal.Enabled)
}
