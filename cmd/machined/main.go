package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ringtail/che/internal/api"
	"github.com/ringtail/che/internal/config"
	"github.com/ringtail/che/internal/create"
	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/logging"
	"github.com/ringtail/che/internal/metrics"
	natsclient "github.com/ringtail/che/internal/nats"
	"github.com/ringtail/che/internal/notify"
	"github.com/ringtail/che/internal/panel"
	"github.com/ringtail/che/internal/server"
	"github.com/ringtail/che/internal/storage"
	"github.com/ringtail/che/internal/telemetry"
	"github.com/ringtail/che/internal/tracker"
	"github.com/ringtail/che/internal/workspace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg        config.Config
		configPath string
	)
	cmd := &cobra.Command{
		Use:   "machined",
		Short: "Track workspace machine lifecycles",
		Long: `machined listens for machine lifecycle events of a workspace, resolves
them against the workspace API, and keeps the machine registry, the selection
and the machine panel up to date. It serves the result over HTTP and gRPC.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := config.LoadConfigFile(configPath, &cfg); err != nil {
					return err
				}
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "config file")
	f.StringVar(&cfg.GRPCAddr, "grpc-addr", "", "gRPC listen address (default :50051)")
	f.StringVar(&cfg.HTTPAddr, "http-addr", "", "HTTP shim listen address (default :8080)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Prometheus listen address (default :9090)")
	f.StringVar(&cfg.WorkspaceAPI, "workspace-api", "", "workspace API base URL")
	f.StringVar(&cfg.APIToken, "api-token", "", "workspace API bearer token")
	f.StringVar(&cfg.WorkspaceID, "workspace", "", "workspace to track at startup")
	f.DurationVar(&cfg.RequestTimeout, "request-timeout", 0, "workspace API request timeout (default 10s)")
	f.StringVar(&cfg.NATSURL, "nats", "", "NATS URL; empty disables the bridge")
	f.StringVar(&cfg.SubjectPrefix, "subject-prefix", "", "NATS subject prefix (default che)")
	f.StringVar(&cfg.Storage.Driver, "storage", "", "storage driver: badger or sqlite")
	f.StringVar(&cfg.Storage.Path, "db", "", "storage path")
	f.BoolVar(&cfg.Tracing, "tracing", false, "export spans to stdout")
	f.StringVar(&cfg.LogLevel, "log-level", "", "log level (default info)")
	f.StringVar(&cfg.LogFormat, "log-format", "", "log format: json or console")
	return cmd
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tp, shutdownTracing, err := telemetry.Setup("machined", cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	// Create storage
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()
	journal := storage.NewJournal(store, log, 0)

	wsClient, err := workspace.NewClient(cfg.WorkspaceAPI, cfg.APIToken, cfg.RequestTimeout)
	if err != nil {
		return err
	}
	chaos := workspace.NewChaos(wsClient)

	var nc *natsclient.Client
	if cfg.NATSURL != "" {
		nc, err = natsclient.Connect(cfg.NATSURL, "machined", log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
	}
	subjects := natsclient.Subjects{Prefix: cfg.SubjectPrefix}

	notifyOpts := notify.Options{Logger: log}
	if nc != nil {
		notifyOpts.Publisher = nc
		notifyOpts.Subject = subjects.Notifications()
	}
	notes := notify.NewManager(notifyOpts)
	view := panel.NewView()

	tr, err := tracker.New(tracker.Options{
		Fetcher:  chaos,
		Display:  view,
		Notifier: notes,
		Tracer:   tp.Tracer("github.com/ringtail/che/tracker"),
		Metrics:  collector,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	tr.Bus().Subscribe(journal.Handle, events.KindMachineState)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		_ = tr.Run(ctx)
	}()
	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		journal.Run(ctx)
	}()

	if nc != nil {
		bridge := natsclient.NewBridge(nc, tr, subjects, log)
		if err := bridge.Start(tr.Bus()); err != nil {
			stop()
			return fmt.Errorf("start nats bridge: %w", err)
		}
		defer bridge.Stop()
	}

	if cfg.WorkspaceID != "" {
		if err := tr.Refresh(ctx, cfg.WorkspaceID); err != nil {
			log.Warn("initial refresh", zap.String("workspace_id", cfg.WorkspaceID), zap.Error(err))
		}
	}

	errCh := make(chan error, 3)

	// Start gRPC server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stop()
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	server.New(tr, cfg.WorkspaceID, log).RegisterGRPC(grpcServer)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	// Start HTTP shim
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewHTTPHandler(api.Deps{
			Tracker:       tr,
			Panel:         view,
			Notifications: notes,
			Journal:       journal,
			Creator:       create.NewService(wsClient, tr, cfg.WorkspaceID, log),
			Chaos:         chaos,
			WorkspaceID:   cfg.WorkspaceID,
			Logger:        log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP shim listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	// Metrics endpoint
	metricsMux := http.NewServeMux()
	api.RegisterMetrics(metricsMux, reg)
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("Prometheus metrics available", zap.String("addr", cfg.MetricsAddr+"/metrics"))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown initiated")
	case runErr = <-errCh:
		log.Error("server failed, shutting down", zap.Error(runErr))
	}
	stop()

	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", zap.Error(err))
	}
	<-trackerDone
	<-journalDone
	log.Info("shutdown complete")
	return runErr
}
