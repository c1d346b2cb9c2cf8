package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"market-alerts/internal/activity"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/evaluator"
	"market-alerts/internal/lifecycle"
	"market-alerts/internal/marketdata"
	"market-alerts/internal/metrics"
	"market-alerts/internal/notify"
	"market-alerts/internal/scheduler"
	"market-alerts/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start monitoring alerts",
		Long: `Start the monitoring loop. Every instrument with an active alert is
polled; activity events posted to the HTTP endpoint switch it to the
faster interval. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, app)
		},
	}
}

func runDaemon(ctx context.Context, app *App) error {
	cfg := app.Config
	logger := app.Logger

	st, err := app.Store()
	if err != nil {
		return err
	}
	provider, err := app.Provider()
	if err != nil {
		return err
	}
	session, err := cfg.Session()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewWithRegistry()
	}

	engine := app.Engine()
	cache := marketdata.NewCache(provider, marketdata.CacheConfig{
		TTL:            cfg.MarketData.CacheTTL,
		CandleInterval: cfg.MarketData.CandleInterval,
		WindowLength:   cfg.MarketData.WindowLength,
		Shards:         cfg.MarketData.Shards,
	}, m, logger)

	router := notify.NewRouterFromConfig(cfg.Notifications, m, logger)
	manager := lifecycle.NewManager(st, router, lifecycle.Config{
		DispatchTimeout: cfg.Monitor.DispatchTimeout,
		Retry: utils.RetryConfig{
			MaxAttempts:   cfg.Lifecycle.PersistAttempts,
			InitialDelay:  cfg.Lifecycle.PersistBackoff,
			MaxDelay:      cfg.Lifecycle.PersistMaxBackoff,
			BackoffFactor: 2,
		},
		Session: session,
	}, m, logger)

	mc := cfg.Monitor
	sched := scheduler.New(scheduler.Config{
		ActiveInterval:    mc.ActiveInterval,
		IdleInterval:      mc.IdleInterval,
		MaxInstruments:    mc.MaxInstruments,
		Priority:          mc.Priority,
		DiscoveryInterval: mc.DiscoveryInterval,
		ActivityBuffer:    mc.ActivityBuffer,
		FetchTimeout:      mc.FetchTimeout,
	}, scheduler.Deps{
		Store:     st,
		Data:      cache,
		Engine:    engine,
		Evaluator: evaluator.New(engine),
		Lifecycle: manager,
		Tracker:   activity.NewTracker(mc.ActivityTimeout, cfg.MarketData.Shards),
		Metrics:   m,
	}, logger)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = newHTTPServer(cfg.Metrics.Addr, cfg.Metrics.Path, cfg.Metrics.ActivityPath, m, sched, logger)
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("HTTP endpoint listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP endpoint failed")
			}
		}()
	}

	logger.Info().
		Strs("channels", router.Channels()).
		Dur("active_interval", mc.ActiveInterval).
		Dur("idle_interval", mc.IdleInterval).
		Msg("Starting alert monitor")

	// A failed initial sync is retried by discovery.
	_ = sched.Start(ctx)

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown")
		}
		cancel()
	}
	sched.Stop()
	return nil
}

// activitySink receives user activity events.
type activitySink interface {
	NotifyActivity(userID, symbol string) error
}

type activityRequest struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
}

func newHTTPServer(addr, metricsPath, activityPath string, m *metrics.Metrics, sink activitySink, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	if m != nil {
		mux.Handle(metricsPath, m.Handler())
	}
	mux.Handle(activityPath, activityHandler(sink, logger))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// activityHandler accepts POST {"user_id": "...", "symbol": "..."}.
func activityHandler(sink activitySink, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req activityRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		err := sink.NotifyActivity(req.UserID, req.Symbol)
		var verr *apperrors.ValidationError
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case apperrors.As(err, &verr):
			http.Error(w, verr.Error(), http.StatusBadRequest)
		case apperrors.Is(err, apperrors.ErrBackpressure):
			logger.Warn().Str("symbol", req.Symbol).Msg("Activity queue full")
			http.Error(w, "activity queue full", http.StatusTooManyRequests)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
