package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "storesearch/searchclient/internal/api/http"
	"storesearch/searchclient/internal/app"
	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/search"
	"storesearch/searchclient/internal/tui"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var showVersion bool
	var configPath string
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configPath, "config", "", "path to a config file")
	flag.Parse()

	if showVersion {
		fmt.Printf("storesearch %s\n", Version)
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var (
		cfg app.Config
		err error
	)
	if configPath != "" {
		cfg, err = app.LoadConfigFile(configPath)
	} else {
		cfg, err = app.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := app.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		logger = app.NullLogger()
	} else {
		defer closer.Close()
	}
	slog.SetDefault(logger)
	logger.Info("starting storesearch", "version", Version)

	catalogClient := catalog.NewClient(catalog.Config{
		Endpoint:      cfg.CatalogEndpoint,
		Lang:          cfg.CatalogLang,
		UserAgent:     cfg.UserAgent,
		RatePerMinute: cfg.CatalogRatePerMinute,
		Client:        &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	assetClient := catalog.NewClient(catalog.Config{
		Endpoint:  cfg.CatalogEndpoint,
		UserAgent: cfg.UserAgent,
		Client:    apihttp.NewImageProxyClient(),
	})
	artwork := search.NewArtworkLoader(assetClient, logger)

	orchestrator := search.NewOrchestrator(catalogClient, search.Config{
		Debounce:      cfg.Debounce,
		SingleLimit:   cfg.SingleLimit,
		FanOutLimit:   cfg.FanOutLimit,
		Lang:          catalogClient.Lang(),
		MaxConcurrent: cfg.MaxConcurrent,
		QueryTimeout:  cfg.RequestTimeout,
	},
		search.WithLogger(logger),
		search.WithArtwork(artwork),
		search.WithHealth(search.NewHealth()),
	)
	defer orchestrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting TUI")
	if err := tui.Run(ctx, orchestrator, artwork); err != nil {
		logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}
	logger.Info("shutting down")
	return nil
}
