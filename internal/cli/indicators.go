package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"market-alerts/internal/analysis/indicators"
	"market-alerts/internal/evaluator"
	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

func newIndicatorsCmd(app *App) *cobra.Command {
	var (
		interval string
		length   int
		trend    bool
		evaluate bool
	)

	cmd := &cobra.Command{
		Use:   "indicators <symbol>",
		Short: "Fetch market data once and print the indicator snapshot",
		Long: `Fetch a quote and candle window for one instrument and print the values
alerts are evaluated against. With --evaluate, also report which of the
instrument's active alerts would fire on this data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.NormalizeSymbol(args[0])
			if interval == "" {
				interval = app.Config.MarketData.CandleInterval
			}
			if length <= 0 {
				length = app.Config.MarketData.WindowLength
			}

			provider, err := app.Provider()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			quote, err := provider.Quote(ctx, symbol)
			if err != nil {
				return err
			}
			window, err := provider.Candles(ctx, symbol, interval, length)
			if err != nil {
				return err
			}
			md := models.MarketData{
				Symbol:        symbol,
				Price:         quote.Price,
				Volume:        quote.Volume,
				ChangePercent: quote.ChangePercent,
				Window:        window,
				FetchedAt:     time.Now(),
			}

			engine := app.Engine()
			variant := models.VariantMACrossAbove
			if trend {
				variant = models.VariantMAGoldenCross
			}
			snap := engine.Compute(window, indicators.ConfigFor(variant, nil, engine.Defaults()), nil)

			var verdicts []alertVerdict
			if evaluate {
				verdicts, err = evaluateStored(app, cmd, engine, md)
				if err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":         symbol,
					"price":          md.Price,
					"change_percent": md.ChangePercent,
					"volume":         md.Volume,
					"candles":        len(window),
					"sufficient":     snap.Sufficient(),
					"values":         snap.Flatten(),
					"alerts":         verdicts,
				})
			}
			printSnapshot(output, md, &snap)
			if evaluate {
				printVerdicts(output, verdicts)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "candle interval (default from config)")
	cmd.Flags().IntVar(&length, "length", 0, "candles to fetch (default from config)")
	cmd.Flags().BoolVar(&trend, "trend", false, "use the golden/death cross moving averages")
	cmd.Flags().BoolVar(&evaluate, "evaluate", false, "evaluate the symbol's active alerts")
	return cmd
}

func printSnapshot(output *Output, md models.MarketData, snap *indicators.Snapshot) {
	c := snap.Current
	lines := []string{
		fmt.Sprintf("Price:       %s (%s)", utils.FormatPrice(md.Price), utils.FormatPercent(md.ChangePercent)),
		fmt.Sprintf("Volume:      %s", utils.FormatVolume(md.Volume)),
		fmt.Sprintf("RSI(%d):     %.2f", snap.Config.RSIPeriod, c.RSI.Value),
		fmt.Sprintf("MACD:        %.4f  signal %.4f  hist %.4f", c.MACD.Line, c.MACD.Signal, c.MACD.Histogram),
		fmt.Sprintf("%s %d/%d:  %s / %s", snap.Config.MAType, snap.Config.MAFast, snap.Config.MASlow,
			utils.FormatPrice(c.FastMA.Value), utils.FormatPrice(c.SlowMA.Value)),
		fmt.Sprintf("Bollinger:   %s / %s / %s  bw %.4f", utils.FormatPrice(c.Bands.Lower),
			utils.FormatPrice(c.Bands.Middle), utils.FormatPrice(c.Bands.Upper), c.Bands.Bandwidth),
		fmt.Sprintf("Williams %%R: %.2f", c.WilliamsR.Value),
		fmt.Sprintf("Trend:       %s", utils.FormatPercent(snap.Trend.Value)),
		fmt.Sprintf("Volatility:  %.2f%%", snap.Volatility.Value),
	}
	if !snap.Sufficient() {
		lines = append(lines, output.ColoredString(ColorYellow, fmt.Sprintf("Only %d candles: some values use a shorter period", len(md.Window))))
	}
	output.Box(md.Symbol, lines)
}

type alertVerdict struct {
	AlertID   string `json:"alert_id"`
	Condition string `json:"condition"`
	Triggered bool   `json:"triggered"`
	Error     string `json:"error,omitempty"`
}

func evaluateStored(app *App, cmd *cobra.Command, engine *indicators.Engine, md models.MarketData) ([]alertVerdict, error) {
	st, err := app.Store()
	if err != nil {
		return nil, err
	}
	alerts, err := st.LoadActive(cmd.Context(), md.Symbol)
	if err != nil {
		return nil, err
	}

	ev := evaluator.New(engine)
	snaps := make(map[string]*indicators.Snapshot)
	out := make([]alertVerdict, 0, len(alerts))
	for _, a := range alerts {
		var snap *indicators.Snapshot
		if a.Variant.Family() == models.FamilyIndicator {
			cfg := engine.ConfigFor(a)
			if snap = snaps[cfg.Key()]; snap == nil {
				s := engine.Compute(md.Window, cfg, nil)
				snap = &s
				snaps[cfg.Key()] = snap
			}
		}
		d, err := ev.Evaluate(a, md, snap)
		v := alertVerdict{AlertID: a.ID, Condition: DescribeCondition(a), Triggered: d.Triggered}
		if err != nil {
			v.Error = err.Error()
		}
		out = append(out, v)
	}
	return out, nil
}

func printVerdicts(output *Output, verdicts []alertVerdict) {
	output.Println()
	if len(verdicts) == 0 {
		output.Dim("No active alerts on this symbol")
		return
	}
	table := NewTable(output, "ID", "CONDITION", "NOW")
	for _, v := range verdicts {
		now := output.ColoredString(ColorDim, "no")
		switch {
		case v.Error != "":
			now = output.ColoredString(ColorYellow, "n/a")
		case v.Triggered:
			now = output.ColoredString(ColorGreen, "yes")
		}
		table.AddRow(TruncateString(v.AlertID, 8), v.Condition, now)
	}
	table.Render()
}

// location is the trading session's timezone, or local time.
func (a *App) location() *time.Location {
	if a.Config != nil {
		if s, err := a.Config.Session(); err == nil && s.Location != nil {
			return s.Location
		}
	}
	return time.Local
}
