package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eugenenazirov/endpoint-selector/internal/api"
	"github.com/eugenenazirov/endpoint-selector/internal/config"
	"github.com/eugenenazirov/endpoint-selector/internal/selector"
	"github.com/eugenenazirov/endpoint-selector/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg      config.Config
	storage  storage.Store
	selector *selector.Selector
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	sel := NewSelector(cfg, store, logger)
	handler := api.NewHandler(sel)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		cfg:      cfg,
		storage:  store,
		selector: sel,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   NewServer(cfg, BuildRootHandler(apiRouter)),
	}, nil
}

// NewStore opens the selection store named by cfg.StoreDriver.
func NewStore(cfg config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return storage.NewMemoryStorage(), nil
	case config.StoreFile:
		return storage.NewFileStorage(cfg.StorePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewSelector builds a selector for the configured page environment.
func NewSelector(cfg config.Config, store storage.Store, logger *zap.Logger) *selector.Selector {
	return selector.New(cfg.Environment, store, logger,
		selector.WithStorageKey(cfg.StorageKey),
		selector.WithReadTimeout(cfg.LoadTimeout),
		selector.WithWriteTimeout(cfg.PersistTimeout),
	)
}

// BuildRootHandler constructs the root HTTP handler that routes API requests
// and sends the bare root to the endpoint listing.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/endpoints", http.StatusTemporaryRedirect)
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start applies the persisted endpoint selection, then starts the HTTP
// server in a goroutine. A slow store delays startup by at most LoadTimeout;
// after that the default selection is served.
func (a *App) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LoadTimeout)
	defer cancel()
	if err := a.selector.Load(ctx); err != nil {
		a.logger.Warn("endpoint selection not loaded, serving default",
			zap.String("endpoint", string(a.selector.EndpointName())),
			zap.Error(err),
		)
	}

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the HTTP server and waits for pending selection writes.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if shutdownErr := a.server.Shutdown(ctx); shutdownErr != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(shutdownErr))
		err = multierr.Append(err, shutdownErr)
		if closeErr := a.server.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("forced close: %w", closeErr))
		}
	}
	if flushErr := a.selector.Flush(ctx); flushErr != nil {
		err = multierr.Append(err, flushErr)
	}
	return err
}

// Server returns the HTTP server instance.
func (a *App) Server() *http.Server {
	return a.server
}

// Selector returns the endpoint selector owned by the application.
func (a *App) Selector() *selector.Selector {
	return a.selector
}
