package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/action"
	"github.com/pitabwire/dastyar/internal/capability"
	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/lookup"
	"github.com/pitabwire/dastyar/internal/metadata"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/openapi"
	"github.com/pitabwire/dastyar/internal/search"
	"github.com/pitabwire/dastyar/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

// serve wires every component, runs the server until ctx is done and shuts
// down in reverse order.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "dastyar", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	defs, err := loadDefinitions(cfg)
	if err != nil {
		return err
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	st, pg, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if pg != nil {
		defer pg.Close()
		if cfg.Database.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("store: %w", err)
			}
		}
	}

	rdb, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		return fmt.Errorf("static policy: %w", err)
	}
	resolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL, metrics)

	broker, runBroker, brokerCheck, err := openBroker(cfg, pg, rdb, logger, metrics)
	if err != nil {
		return err
	}
	idempotency, idempotencyCheck, err := openIdempotency(cfg.Idempotency, rdb, logger)
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer bgCancel()

	if runBroker != nil {
		go func() {
			if err := runBroker(bgCtx); err != nil {
				logger.Error("job broker stopped", zap.Error(err))
			}
		}()
	}

	updater := jobs.NewStatusUpdater(st, broker, logger, metrics)
	var enqueuer jobs.Enqueuer
	var dispatcher *jobs.Dispatcher
	if cfg.Jobs.Webhook.Enabled {
		dispatcher = jobs.NewDispatcher(cfg.Jobs, cfg.Server.PublicURL, updater, logger, metrics)
		dispatcher.Start(bgCtx)
		enqueuer = dispatcher
	}

	checker := dependency.NewChecker(st, registry, logger, metrics)
	svc := action.NewService(st, registry, checker, logger, metrics)

	lookups := lookup.NewProvider(registry, cfg.Lookup.Cache, logger, metrics)
	lookups.Register(lookup.SourceClients, lookup.Clients(svc.GetAllClientNames))

	doc, err := openapi.Build(defs, version)
	if err != nil {
		return fmt.Errorf("openapi: %w", err)
	}

	tokens := transport.NewTokenIssuer(cfg.Auth)
	deny := openDenylist(rdb)
	rowActions := metadata.NewActionProvider(openapi.BasePath)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.All()) > 0 },
		Store:             observability.CheckFunc(st.Ping),
		JobBroker:         brokerCheck,
		IdempotencyStore:  idempotencyCheck,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Gatherer:     prometheus.DefaultGatherer,
		Registry:     registry,
		Store:        st,
		Actions:      svc,
		Checker:      checker,
		Capabilities: resolver,
		Lookups:      lookups,
		Search:       search.NewProvider(registry, svc.Rows(), cfg.Search, logger, metrics),
		Menu:         metadata.NewMenuProvider(registry, svc.Rows(), logger),
		Tables:       metadata.NewTableProvider(registry, rowActions, cfg.Table),
		Forms:        metadata.NewFormProvider(registry, st, lookups, rowActions, logger),
		RowActions:   rowActions,
		JobConfig:    jobs.NewConfig(registry, logger),
		Submitter:    jobs.NewSubmitter(st, enqueuer, logger, metrics),
		Broker:       broker,
		Updater:      updater,
		Idempotency:  idempotency,
		Tokens:       tokens,
		Accounts:     transport.NewAccounts(st, tokens, deny, cfg.Auth, logger, metrics),
		Denylist:     deny,
		Readiness:    readiness,
		OpenAPI:      doc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go reloadOnHangup(bgCtx, cfg, registry, resolver, lookups, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
		zap.String("job_broker", cfg.Jobs.Broker),
		zap.Bool("postgres", pg != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Queued webhooks drain before the broker goes away.
	if dispatcher != nil {
		dispatcher.Stop()
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// reloadOnHangup reloads the definitions and the role policy on SIGHUP. A
// reload that fails validation keeps the running configuration.
func reloadOnHangup(
	ctx context.Context,
	cfg *config.Config,
	registry *definition.Registry,
	resolver *capability.Resolver,
	lookups *lookup.Provider,
	logger *zap.Logger,
) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		defs, err := loadDefinitions(cfg)
		if err != nil {
			logger.Error("definition reload failed", zap.Error(err))
			continue
		}
		registry.Replace(defs)
		lookups.InvalidateAll()

		if err := resolver.Sync(); err != nil {
			logger.Error("policy reload failed", zap.Error(err))
		}
		logger.Info("configuration reloaded",
			zap.Int("definitions", len(defs)),
			zap.String("checksum", registry.Checksum()),
		)
	}
}
