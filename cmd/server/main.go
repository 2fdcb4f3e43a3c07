package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "storesearch/searchclient/internal/api/http"
	"storesearch/searchclient/internal/app"
	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/metrics"
	"storesearch/searchclient/internal/search"
	"storesearch/searchclient/internal/telemetry"
)

const serviceName = "storesearch"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("catalogEndpoint", cfg.CatalogEndpoint),
		slog.String("catalogLang", cfg.CatalogLang),
		slog.Int("catalogRatePerMinute", cfg.CatalogRatePerMinute),
		slog.Int("maxConcurrent", cfg.MaxConcurrent),
		slog.Bool("hasOTLP", strings.TrimSpace(cfg.OTLPEndpoint) != ""),
		slog.String("configFile", cfg.ConfigFile),
	)

	catalogClient := catalog.NewClient(catalog.Config{
		Endpoint:      cfg.CatalogEndpoint,
		Lang:          cfg.CatalogLang,
		UserAgent:     cfg.UserAgent,
		RatePerMinute: cfg.CatalogRatePerMinute,
		Client:        &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	// Artwork hosts are arbitrary, so the asset client carries the proxy's
	// redirect checks. FetchAsset does not draw on the search rate budget.
	assetClient := catalog.NewClient(catalog.Config{
		Endpoint:  cfg.CatalogEndpoint,
		UserAgent: cfg.UserAgent,
		Client:    apihttp.NewImageProxyClient(),
	})

	server := apihttp.NewServer(catalogClient,
		apihttp.WithLogger(logger),
		apihttp.WithAssets(assetClient),
		apihttp.WithHealth(search.NewHealth()),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithSearchConfig(search.Config{
			Debounce:      cfg.Debounce,
			SingleLimit:   cfg.SingleLimit,
			FanOutLimit:   cfg.FanOutLimit,
			Lang:          catalogClient.Lang(),
			MaxConcurrent: cfg.MaxConcurrent,
			QueryTimeout:  cfg.RequestTimeout,
		}),
	)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE and websocket sessions outlive any fixed write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	logger.Info("store search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("store search service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: app.ParseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}
