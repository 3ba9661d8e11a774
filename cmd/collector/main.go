package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketcore/internal/collector"
	"marketcore/internal/config"
	"marketcore/internal/consistency"
	"marketcore/internal/health"
	"marketcore/internal/orderbook"
	"marketcore/internal/pipeline"
	"marketcore/internal/sink"
	"marketcore/internal/store"
	"marketcore/pkg/conn"
)

const (
	shutdownTimeout = 30 * time.Second
	httpTimeout     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("collector: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "config.yaml", "yaml config file")
	envFlag := flag.String("env", "", "dotenv file loaded before the config")
	flag.Parse()

	if *envFlag != "" {
		if err := godotenv.Load(*envFlag); err != nil {
			return err
		}
	} else {
		_ = godotenv.Load()
	}

	holder, err := config.Open(*configFlag)
	if err != nil {
		return err
	}
	cfg := holder.Get()

	if cfg.Profiling.Enabled {
		profiler, err := startProfiler(cfg.Profiling)
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	registry := health.NewRegistry()
	deps := pipeline.Deps{
		Engine:   orderbook.NewEngine(cfg.BookResolver()),
		Checker:  consistency.NewChecker(cfg.Consistency.Thresholds(), consistency.NewHistory(cfg.Consistency.HistorySize)),
		Health:   registry,
		Settings: cfg.StreamSettings(),
	}

	if cfg.Store.Enabled {
		repo, err := store.Open(conn.Option{
			Host:       cfg.Store.Host,
			Port:       cfg.Store.Port,
			User:       cfg.Store.User,
			Password:   cfg.Store.Password,
			Database:   cfg.Store.Database,
			SSLMode:    cfg.Store.SSLMode,
			ConnString: cfg.Store.ConnString,
		})
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		deps.ResultSinks = append(deps.ResultSinks, repo)
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logs.Warnf("redis %s not reachable yet, err: %+v", cfg.Redis.Addr, err)
		}
		cancel()

		publisher, err := sink.NewRedis(client, sink.Option{Prefix: cfg.Redis.Prefix, SnapshotTTL: cfg.Redis.SnapshotTTL})
		if err != nil {
			return err
		}
		deps.ResultSinks = append(deps.ResultSinks, publisher)
		deps.SnapshotSinks = append(deps.SnapshotSinks, publisher)
	}

	svc := pipeline.New(pipelineOption(cfg), deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sys.Shutdown():
			stop()
		case <-ctx.Done():
		}
	}()

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(registry, svc),
		ReadHeaderTimeout: httpTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("metrics server %s, err: %+v", cfg.MetricsAddr, err)
		}
	}()

	subs, err := cfg.SubscriptionList()
	if err != nil {
		return err
	}
	logResults(svc.Reconfigure(subs))

	holder.OnChange(func(_, next config.Config) { apply(svc, next) })
	holder.Watch()

	logs.Infof("collector started, subscriptions: %d, metrics: %s", len(subs), cfg.MetricsAddr)
	runErr := svc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if err := svc.Shutdown(shutdownTimeout); err != nil {
		logs.Errorf("collector shutdown, err: %+v", err)
	}
	logs.Info("collector stopped")
	return runErr
}

func pipelineOption(cfg config.Config) pipeline.Option {
	opt := pipeline.Option{
		MonitorInterval:   cfg.MonitorInterval,
		BatchWindow:       cfg.BatchWindow,
		SnapshotMaxAge:    cfg.SnapshotMaxAge,
		UpdatesCapacity:   cfg.Staging.Updates,
		TradesCapacity:    cfg.Staging.Trades,
		SnapshotsCapacity: cfg.Staging.Snapshots,
		Overflow:          cfg.Staging.Policy(),
		BlockTimeout:      cfg.Staging.BlockTimeout,
		CleanBand:         cfg.CleanBand,
	}
	if cfg.Affinity.Enabled {
		opt.ProcessCPUs = []int{cfg.Affinity.ProcessCPU}
	}
	return opt
}

// apply pushes a reloaded config into the running service. Staging sizes and
// affinity only take effect after a restart.
func apply(svc *pipeline.Service, cfg config.Config) {
	if err := svc.SetThresholds(cfg.Consistency.Thresholds()); err != nil {
		logs.Warnf("reload thresholds, err: %+v", err)
	}
	svc.SetBookResolver(cfg.BookResolver())
	svc.UpdateSettings(cfg.StreamSettings())

	subs, err := cfg.SubscriptionList()
	if err != nil {
		logs.Warnf("reload subscriptions, err: %+v", err)
		return
	}
	logResults(svc.Reconfigure(subs))
}

func logResults(results []collector.Result) {
	for _, r := range results {
		if r.Err != nil {
			logs.Warnf("subscription %s %s, err: %+v", r.Subscription, r.Action, r.Err)
			continue
		}
		if r.Action != collector.ActionKept {
			logs.Infof("subscription %s %s", r.Subscription, r.Action)
		}
	}
}

func newMux(registry *health.Registry, svc *pipeline.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := svc.Health()
		payload, err := sonic.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if len(status.Degraded) != 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(payload)
	})
	return mux
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{})  { logs.Infof(format, args...) }
func (profilerLogger) Debugf(format string, args ...interface{}) { logs.Debugf(format, args...) }
func (profilerLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }

func startProfiler(cfg config.Profiling) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
