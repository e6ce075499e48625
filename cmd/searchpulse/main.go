package main

import (
	"context"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/searchpulse/pkg/access"
	"github.com/platinummonkey/searchpulse/pkg/api"
	"github.com/platinummonkey/searchpulse/pkg/collector"
	"github.com/platinummonkey/searchpulse/pkg/config"
	"github.com/platinummonkey/searchpulse/pkg/insights"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/reconciler"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/reports"
	"github.com/platinummonkey/searchpulse/pkg/searchconsole"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

func main() {
	startupLog := logrus.New()
	startupLog.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	ctx := context.Background()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.URL,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnLifetime)
	if err != nil {
		startupLog.Fatalf("Failed to open database: %v", err)
	}

	if err := registry.RunMigrations(ctx, st.DB(), cfg.Database.Driver); err != nil {
		startupLog.Fatalf("Failed to run registry migrations: %v", err)
	}
	if err := store.RunMigrations(ctx, st.DB()); err != nil {
		startupLog.Fatalf("Failed to run store migrations: %v", err)
	}
	startupLog.Infof("Database ready (%s)", cfg.Database.Driver)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		startupLog.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	reg := registry.NewStore(st.DB())
	scoper := access.NewScoper(reg)

	tokens := analyticsTokenSource()
	fetcher := searchconsole.NewClient(tokens, cfg.Collector.FetchTimeout,
		searchconsole.WithRowLimit(cfg.Collector.RowLimit))
	coll := collector.New(fetcher, st, logger, metrics, cfg.Collector.ReportingLagDays)
	rec := reconciler.New(coll, st, logger, metrics,
		cfg.Collector.ReportingLagDays, cfg.Collector.MaxParallelSites)

	agg := reports.New(st, buildSynthesizer(cfg, logger, metrics), logger, metrics,
		cfg.Collector.ReportingLagDays, cfg.Insights.TopN)

	server := api.NewServer(st, reg, scoper, agg, rec, logger, metrics,
		cfg.Collector.DefaultWindowDays, cfg.Insights.TaskCount, cfg.Observability.OTelEnabled)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, st, metrics, promRegistry, logger)

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		})
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return st.Close()
	})

	if path := os.Getenv("SEARCHPULSE_CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, func(updated *config.Config) {
			logger.WithField("path", path).Info("configuration file reloaded")
		})
		if err != nil {
			logger.WithError(err).Warn("config file watching disabled")
		} else {
			shutdown.RegisterShutdownFunc(func(context.Context) error {
				return watcher.Close()
			})
		}
	}

	go func() {
		startupLog.Infof("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLog.Fatalf("API server failed: %v", err)
		}
	}()

	// Poll connection pool stats into the gauges
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := st.DB().Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		startupLog.Errorf("Shutdown finished with errors: %v", err)
		os.Exit(1)
	}
}

// analyticsTokenSource builds the OAuth token source for the upstream
// analytics API. Token issuance and refresh live outside the service; only
// access tokens are consumed here.
func analyticsTokenSource() oauth2.TokenSource {
	token := os.Getenv("SEARCHPULSE_ANALYTICS_TOKEN")
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

func buildSynthesizer(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) insights.Synthesizer {
	baseline := insights.NewBaseline()
	if !cfg.Insights.EnrichmentEnabled {
		return baseline
	}
	enricher := insights.NewHTTPEnricher(cfg.Insights.EnrichmentURL, cfg.Insights.EnrichmentModel,
		cfg.Insights.EnrichmentAPIKey, cfg.Insights.EnrichmentTimeout)
	return insights.NewEnriched(baseline, enricher, logger, metrics)
}
