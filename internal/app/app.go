package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"payment-router/internal/alerting"
	"payment-router/internal/analyzer"
	"payment-router/internal/config"
	"payment-router/internal/dispatch"
	"payment-router/internal/logging"
	"payment-router/internal/metrics"
	"payment-router/internal/payment"
	"payment-router/internal/probe"
	"payment-router/internal/registry"
	"payment-router/internal/risk"
	"payment-router/internal/routing"
	"payment-router/internal/scheduler"
	"payment-router/internal/service"
	"payment-router/internal/storage"
	"payment-router/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; it defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) newRegistry() (*registry.Registry, []payment.Processor, error) {
	procs, health, err := a.Config.Catalog()
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New(nil)
	for _, p := range procs {
		if err := reg.Register(p, health[p.ID]); err != nil {
			return nil, nil, err
		}
	}
	return reg, procs, nil
}

func (a *App) newAnalyzer() (*analyzer.Analyzer, *risk.Classifier, error) {
	an, err := analyzer.New(a.Config.AnalyzerSettings())
	if err != nil {
		return nil, nil, err
	}
	classifier, err := risk.NewClassifier(a.Config.Thresholds())
	if err != nil {
		return nil, nil, err
	}
	return an, classifier, nil
}

func (a *App) newDispatcher(procs []payment.Processor) (dispatch.Dispatcher, error) {
	return dispatch.NewSimulated(a.Config.Dispatch.Seed, a.Config.DispatchProfiles(procs), a.Config.Dispatch.Sleep)
}

func (a *App) newAlerts() *alerting.Fanout {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	channels := make(map[string]alerting.Notifier)
	for _, name := range a.Config.Alerting.Channels {
		switch name {
		case "log":
			channels[name] = alerting.NewLogNotifier(a.Logger)
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if cfg.Enabled {
				channels[name] = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
			}
		}
	}
	if len(channels) == 0 {
		return nil
	}
	return alerting.NewFanout(channels, a.Config.Alerting.Cooldown, nil)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRouter(reg *registry.Registry, d dispatch.Dispatcher, store *storage.Store) (*service.Router, error) {
	an, classifier, err := a.newAnalyzer()
	if err != nil {
		return nil, err
	}
	deps := service.RouterDeps{
		Registry:   reg,
		Engine:     routing.NewEngine(nil),
		Classifier: classifier,
		Analyzer:   an,
		Dispatcher: d,
	}
	if store != nil {
		deps.Decisions = store
		deps.Assessments = store
	}
	return service.NewRouter(deps, service.RouterOptions{
		MaxAttempts: a.Config.Routing.MaxAttempts,
		Window:      a.Config.Analyzer.Window,
	}, a.Logger)
}

func (a *App) newMonitor(reg *registry.Registry, checker probe.Checker, store *storage.Store) (*service.Monitor, error) {
	deps := service.MonitorDeps{Registry: reg, Checker: checker}
	if store != nil {
		deps.Events = store
		deps.Locker = store
	}
	if alerts := a.newAlerts(); alerts != nil {
		deps.Alerts = alerts
	}
	return service.NewMonitor(deps, service.MonitorOptions{
		MinSuccessRate: a.Config.Monitor.MinSuccessRate,
		MaxLatency:     a.Config.Monitor.MaxLatency,
		Concurrency:    a.Config.Monitor.Concurrency,
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		EventRetention: a.Config.Monitor.EventRetention,
		Channels:       a.Config.Alerting.Channels,
	}, a.Logger)
}

// RunOptions adjust the monitor loop.
type RunOptions struct {
	// Once runs a single monitor tick and exits without the metrics listener.
	Once bool
	// MetricsListen overrides metrics.listen.
	MetricsListen string
}

// Run executes the long-running health monitor and metrics listener.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	reg, _, err := a.newRegistry()
	if err != nil {
		return err
	}
	checker := probe.NewHTTP(probe.Options{
		Timeout:   a.Config.Monitor.ProbeTimeout,
		UserAgent: a.Config.Monitor.UserAgent,
	}, a.Logger)
	monitor, err := a.newMonitor(reg, checker, store)
	if err != nil {
		return err
	}

	if opts.Once {
		return monitor.Tick(ctx, time.Now().UTC())
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    true,
	}, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Metrics.Enabled {
		listen := a.Config.Metrics.Listen
		if opts.MetricsListen != "" {
			listen = opts.MetricsListen
		}
		srv := metrics.NewServer(listen, a.Config.Metrics.Path, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return sched.Run(gctx, monitor.Tick) })

	a.Logger.Info().Str("version", version.String()).Int("processors", reg.Len()).Msg("starting health monitor")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("health monitor stopped")
	return nil
}

func (a *App) freeze(ctx context.Context, monitor *service.Monitor, ids []string) error {
	for _, id := range ids {
		if _, err := monitor.SetHealth(ctx, id, payment.HealthFrozen, "frozen by operator"); err != nil {
			return fmt.Errorf("freeze %s: %w", id, err)
		}
	}
	return nil
}
