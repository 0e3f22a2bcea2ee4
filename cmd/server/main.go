package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/endpoint-selector/internal/application"
	"github.com/eugenenazirov/endpoint-selector/internal/config"
	"github.com/eugenenazirov/endpoint-selector/internal/logging"
)

var signalNotify = signal.Notify

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func main() {
	kingpinApp := kingpin.New("endpoint-selector", "Endpoint Selector - resolves the selected network endpoint to its RPC, API and metrics URLs")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	hostname := kingpinApp.Flag("hostname", "Page hostname used to pick the default endpoint").String()
	pageURL := kingpinApp.Flag("page-url", "Full page URL; its scheme selects the local cluster port").String()
	storeDriver := kingpinApp.Flag("store", "Selection store driver (file, memory)").String()
	storePath := kingpinApp.Flag("store-path", "Path of the file store").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile:  *configFile,
		Port:        port,
		Hostname:    hostname,
		PageURL:     pageURL,
		StoreDriver: storeDriver,
		StorePath:   storePath,
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

func shutdown(app shutdowner, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
	}
}
