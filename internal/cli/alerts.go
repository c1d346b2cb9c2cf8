package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
)

func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alerts",
		Aliases: []string{"alert"},
		Short:   "Manage alerts",
	}
	cmd.AddCommand(newAlertsListCmd(app))
	cmd.AddCommand(newAlertsShowCmd(app))
	cmd.AddCommand(newAlertsAddCmd(app))
	cmd.AddCommand(newAlertsStatusCmd(app, "pause", models.StatusPaused))
	cmd.AddCommand(newAlertsStatusCmd(app, "resume", models.StatusActive))
	return cmd
}

func newAlertsListCmd(app *App) *cobra.Command {
	var filter store.AlertFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			filter.Status = models.AlertStatus(status)
			alerts, err := st.ListAlerts(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("No alerts")
				return nil
			}

			loc := app.location()
			table := NewTable(output, "ID", "USER", "SYMBOL", "CONDITION", "STATUS", "TRIGGERS", "LAST TRIGGER")
			for _, a := range alerts {
				last := "-"
				if r := a.LastTrigger(); r != nil {
					last = FormatDateTime(r.TriggeredAt, loc)
				}
				table.AddRow(
					TruncateString(a.ID, 8),
					a.UserID,
					a.Symbol,
					TruncateString(DescribeCondition(a), 40),
					output.Status(a.Status, a.Enabled),
					FormatTriggers(a),
					last,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.UserID, "user", "", "filter by user id")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, paused, triggered, expired)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum alerts to list")
	return cmd
}

func newAlertsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an alert and its trigger history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			a, err := resolveAlert(cmd, st, args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(a)
			}

			loc := app.location()
			lines := []string{
				"Symbol:    " + a.Symbol,
				"User:      " + a.UserID,
				"Condition: " + DescribeCondition(a),
				"Status:    " + output.Status(a.Status, a.Enabled),
				"Triggers:  " + FormatTriggers(a),
				"Cooldown:  " + FormatDuration(a.Policy.MinInterval),
			}
			if a.Policy.ConfirmationDelay > 0 {
				lines = append(lines, "Confirm:   "+FormatDuration(a.Policy.ConfirmationDelay))
			}
			if a.Policy.TradingHoursOnly {
				lines = append(lines, "Session:   trading hours only")
			}
			if a.ExpiresAt != nil {
				lines = append(lines, "Expires:   "+FormatDateTime(*a.ExpiresAt, loc))
			}
			for _, c := range a.Notify.Channels {
				lines = append(lines, fmt.Sprintf("Notify:    %s %s", c.Channel, c.Destination))
			}
			output.Box("Alert "+a.ID, lines)

			if len(a.History) == 0 {
				return nil
			}
			output.Println()
			table := NewTable(output, "TRIGGERED", "PRICE", "DELIVERY")
			for _, r := range a.History {
				table.AddRow(FormatDateTime(r.TriggeredAt, loc), fmt.Sprintf("%.2f", r.Price), describeOutcomes(output, r.Outcomes))
			}
			table.Render()
			return nil
		},
	}
}

func describeOutcomes(output *Output, outcomes []models.NotificationOutcome) string {
	if len(outcomes) == 0 {
		return "-"
	}
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		if o.Success {
			parts[i] = output.ColoredString(ColorGreen, o.Channel+" ok")
		} else {
			parts[i] = output.ColoredString(ColorRed, o.Channel+" failed")
		}
	}
	return strings.Join(parts, ", ")
}

// resolveAlert accepts a full id or a unique prefix of one.
func resolveAlert(cmd *cobra.Command, st store.AdminStore, id string) (*models.Alert, error) {
	a, err := st.Get(cmd.Context(), id)
	if err == nil || !apperrors.Is(err, apperrors.ErrAlertNotFound) {
		return a, err
	}

	all, lerr := st.ListAlerts(cmd.Context(), store.AlertFilter{})
	if lerr != nil {
		return nil, lerr
	}
	var match *models.Alert
	for _, c := range all {
		if strings.HasPrefix(c.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("alert id prefix %q is ambiguous", id)
			}
			match = c
		}
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

func newAlertsStatusCmd(app *App, verb string, target models.AlertStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			a, err := resolveAlert(cmd, st, args[0])
			if err != nil {
				return err
			}
			if err := checkTransition(a, target); err != nil {
				return err
			}
			if err := st.PersistStatus(cmd.Context(), a.ID, target, target == models.StatusActive); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"id": a.ID, "status": string(target)})
			}
			output.Success("Alert %s is now %s", a.ID, target)
			return nil
		},
	}
}

// checkTransition allows pause of active alerts and resume of paused ones.
// Triggered and expired alerts are final.
func checkTransition(a *models.Alert, target models.AlertStatus) error {
	switch {
	case target == models.StatusPaused && a.Status == models.StatusActive:
		return nil
	case target == models.StatusActive && a.Status == models.StatusPaused:
		if a.TriggerCount() >= a.Policy.MaxTriggers {
			return fmt.Errorf("alert %s has used all %d triggers", a.ID, a.Policy.MaxTriggers)
		}
		return nil
	}
	return fmt.Errorf("cannot move alert %s from %s to %s", a.ID, a.Status, target)
}

// addOptions are the flags of 'alerts add'.
type addOptions struct {
	User    string
	Symbol  string
	Variant string

	Price      float64
	Percent    float64
	Direction  string
	Multiplier float64
	Lookback   int

	Period     int
	Fast       int
	Slow       int
	Signal     int
	MAType     string
	Overbought float64
	Oversold   float64
	Threshold  float64
	HasThresh  bool

	MaxTriggers  int
	MinInterval  time.Duration
	Confirmation time.Duration
	TradingHours bool
	ExpiresIn    time.Duration
	Notify       []string
}

// buildAlert turns addOptions into a validated alert.
func buildAlert(o addOptions, now time.Time) (*models.Alert, error) {
	variant, err := models.ParseVariant(strings.ToLower(o.Variant))
	if err != nil {
		return nil, err
	}

	var target *models.TargetParams
	var ind *models.IndicatorConfig
	if variant.Family() == models.FamilyBasic {
		target = &models.TargetParams{
			TargetPrice:      o.Price,
			PercentThreshold: o.Percent,
			Direction:        models.ChangeDirection(strings.ToLower(o.Direction)),
			VolumeMultiplier: o.Multiplier,
			VolumeLookback:   o.Lookback,
		}
	} else {
		ind = &models.IndicatorConfig{
			Period:       o.Period,
			FastPeriod:   o.Fast,
			SlowPeriod:   o.Slow,
			SignalPeriod: o.Signal,
			MAType:       models.MAType(strings.ToLower(o.MAType)),
			Overbought:   o.Overbought,
			Oversold:     o.Oversold,
		}
		if o.HasThresh {
			th := o.Threshold
			ind.CustomThreshold = &th
		}
	}

	var channels []models.ChannelTarget
	for _, n := range o.Notify {
		channel, dest, _ := strings.Cut(n, ":")
		if channel == "" {
			return nil, apperrors.NewValidationError("notify", n, "expected channel[:destination]")
		}
		channels = append(channels, models.ChannelTarget{Channel: strings.ToLower(channel), Destination: dest})
	}

	a, err := models.NewAlert(uuid.NewString(), o.User, o.Symbol, variant, target, ind, models.TriggerPolicy{
		MinInterval:       o.MinInterval,
		MaxTriggers:       o.MaxTriggers,
		TradingHoursOnly:  o.TradingHours,
		ConfirmationDelay: o.Confirmation,
	}, models.NotificationTarget{Channels: channels})
	if err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = now, now
	if o.ExpiresIn > 0 {
		exp := now.Add(o.ExpiresIn)
		a.ExpiresAt = &exp
	}
	return a, nil
}

func newAlertsAddCmd(app *App) *cobra.Command {
	var o addOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an alert",
		Example: `  alertd alerts add --symbol INFY --variant price_above --price 1650 --notify telegram:12345
  alertd alerts add --symbol NIFTY50 --variant rsi_overbought --overbought 75 --max-triggers 3 --cooldown 1h
  alertd alerts add --symbol TCS --variant ma_golden_cross --notify webhook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			o.HasThresh = cmd.Flags().Changed("threshold")

			a, err := buildAlert(o, time.Now())
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := st.SaveAlert(cmd.Context(), a); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(a)
			}
			output.Success("Created alert %s", a.ID)
			output.Printf("  %s %s\n", a.Symbol, DescribeCondition(a))
			if len(a.Notify.Channels) == 0 {
				output.Warning("No --notify channel given: triggers are recorded but not delivered")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.User, "user", "local", "owner of the alert")
	f.StringVar(&o.Symbol, "symbol", "", "instrument symbol")
	f.StringVar(&o.Variant, "variant", "", "condition, e.g. price_above, rsi_overbought, ma_golden_cross")
	f.Float64Var(&o.Price, "price", 0, "target price (price_above, price_below)")
	f.Float64Var(&o.Percent, "percent", 0, "percent threshold (percent_change)")
	f.StringVar(&o.Direction, "direction", "either", "up, down or either (percent_change)")
	f.Float64Var(&o.Multiplier, "multiplier", 2, "volume multiple over the average (volume_spike)")
	f.IntVar(&o.Lookback, "lookback", 0, "candles in the volume average (volume_spike)")
	f.IntVar(&o.Period, "period", 0, "indicator period")
	f.IntVar(&o.Fast, "fast", 0, "fast period (MACD, MA)")
	f.IntVar(&o.Slow, "slow", 0, "slow period (MACD, MA)")
	f.IntVar(&o.Signal, "signal", 0, "signal period (MACD)")
	f.StringVar(&o.MAType, "ma-type", "", "sma or ema")
	f.Float64Var(&o.Overbought, "overbought", 0, "overbought level (RSI, Williams %R)")
	f.Float64Var(&o.Oversold, "oversold", 0, "oversold level (RSI, Williams %R)")
	f.Float64Var(&o.Threshold, "threshold", 0, "custom threshold (rsi_above/below, bb_bandwidth, williams_above/below)")
	f.IntVar(&o.MaxTriggers, "max-triggers", 1, "times the alert may fire")
	f.DurationVar(&o.MinInterval, "cooldown", 0, "minimum time between triggers")
	f.DurationVar(&o.Confirmation, "confirm", 0, "how long the condition must hold before firing")
	f.BoolVar(&o.TradingHours, "trading-hours", false, "only fire during the trading session")
	f.DurationVar(&o.ExpiresIn, "expires-in", 0, "expire the alert after this long")
	f.StringArrayVar(&o.Notify, "notify", nil, "channel[:destination], repeatable")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}
