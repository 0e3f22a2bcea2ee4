package selector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eugenenazirov/endpoint-selector/internal/endpoint"
	"github.com/eugenenazirov/endpoint-selector/internal/storage"
)

const (
	// DefaultStorageKey is the key the selection is persisted under.
	DefaultStorageKey   = "endpointName"
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// URLSet is a consistent snapshot of every URL derived from one selection.
type URLSet struct {
	Name                endpoint.Name `json:"name"`
	RPCURL              string        `json:"rpcUrl"`
	APIURL              string        `json:"apiUrl"`
	APIWebsocketURL     string        `json:"apiWebsocketUrl"`
	MetricsDashboardURL string        `json:"metricsDashboardUrl"`
}

// Option configures a Selector.
type Option func(*Selector)

// WithStorageKey overrides the key used to persist the selection.
func WithStorageKey(key string) Option {
	return func(s *Selector) {
		s.key = key
	}
}

// WithReadTimeout bounds the storage read performed by Load. It applies to
// the shared read, independently of any caller's context.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithWriteTimeout bounds each background persistence write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Selector holds the current endpoint selection. It is safe for concurrent use.
type Selector struct {
	env          endpoint.Environment
	table        *endpoint.Table
	store        storage.Store
	logger       *zap.Logger
	key          string
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu         sync.RWMutex
	current    endpoint.Name
	generation uint64

	loadGroup singleflight.Group
	loaded    atomic.Bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

// New resolves the default selection for env. The local endpoint is dropped
// from the table when env names a known public hostname.
func New(env endpoint.Environment, store storage.Store, logger *zap.Logger, opts ...Option) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	table := endpoint.NewTable(env)
	s := &Selector{
		env:          env,
		table:        table,
		store:        store,
		logger:       logger,
		key:          DefaultStorageKey,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		current:      endpoint.ResolveDefault(env, table),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load applies the persisted selection, if any, over the default. Storage
// failures and stale values are logged and leave the default in place.
// Concurrent callers share one read, which runs detached from their contexts
// and is bounded by the read timeout. Load only returns an error when ctx ends
// before the read completes; the read itself carries on for the other callers.
func (s *Selector) Load(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result := s.loadGroup.DoChan("load", func() (any, error) {
		if s.loaded.Load() {
			return nil, nil
		}
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()

		s.load(readCtx)
		// A read cut short by the timeout is retried by the next caller.
		if readCtx.Err() == nil {
			s.loaded.Store(true)
		}
		return nil, nil
	})

	select {
	case <-result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Selector) load(ctx context.Context) {
	s.mu.RLock()
	startGeneration := s.generation
	s.mu.RUnlock()

	raw, ok, err := s.store.Get(ctx, s.key)
	switch {
	case err != nil:
		s.logger.Warn("unable to load endpoint name from storage, using default",
			zap.String("endpoint", string(s.EndpointName())),
			zap.Error(err),
		)
	case !ok:
		s.logger.Debug("no persisted endpoint name", zap.String("key", s.key))
	default:
		name, valid := endpoint.ParseName(raw, s.table)
		if !valid {
			s.logger.Warn("ignoring unknown persisted endpoint name", zap.String("stored", raw))
			break
		}
		s.mu.Lock()
		// A selection made while the read was in flight wins.
		if s.generation == startGeneration {
			s.current = name
		}
		s.mu.Unlock()
	}

	s.logger.Info("endpoint config loaded", zap.String("endpoint", string(s.EndpointName())))
}

// EndpointName returns the current selection.
func (s *Selector) EndpointName() endpoint.Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Endpoints lists the selectable endpoints in table order.
func (s *Selector) Endpoints() []endpoint.Descriptor {
	return s.table.Descriptors()
}

// Environment returns the page context the selector was built for.
func (s *Selector) Environment() endpoint.Environment {
	return s.env
}

// SetEndpointName switches the selection to name. The new value is visible
// to readers before SetEndpointName returns; persisting it happens in the
// background and never reverts the selection on failure.
func (s *Selector) SetEndpointName(name endpoint.Name) error {
	if !s.table.Contains(name) {
		return fmt.Errorf("%w: %s", endpoint.ErrUnknownEndpoint, name)
	}

	s.mu.Lock()
	s.current = name
	s.generation++
	s.mu.Unlock()

	s.logger.Info("endpoint name changed", zap.String("endpoint", string(name)))
	s.persistAsync()
	return nil
}

// persistAsync writes the latest selection. Writes are serialized and each
// one reads the selection under the write lock, so the last write to land
// always carries the newest name.
func (s *Selector) persistAsync() {
	s.pendingMu.Lock()
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
	s.pendingMu.Unlock()

	go func() {
		defer s.writeDone()

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()

		name := s.EndpointName()
		if err := s.store.Set(ctx, s.key, string(name)); err != nil {
			s.logger.Warn("failed to persist endpoint name",
				zap.String("endpoint", string(name)),
				zap.Error(err),
			)
		}
	}()
}

func (s *Selector) writeDone() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending--
	if s.pending == 0 {
		close(s.idle)
	}
}

// Flush blocks until no background write is pending. Writes started while
// Flush waits are included. It is safe to call concurrently with
// SetEndpointName.
func (s *Selector) Flush(ctx context.Context) error {
	s.pendingMu.Lock()
	if s.pending == 0 {
		s.pendingMu.Unlock()
		return nil
	}
	idle := s.idle
	s.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush endpoint writes: %w", ctx.Err())
	}
}

// RPCURL returns the base RPC URL of the current selection.
func (s *Selector) RPCURL() string {
	return s.rpcURL(s.EndpointName())
}

// APIURL returns the API URL derived from the current RPC URL.
func (s *Selector) APIURL() string {
	return s.apiURL(s.EndpointName())
}

// APIWebsocketURL returns the websocket variant of APIURL.
func (s *Selector) APIWebsocketURL() string {
	return s.websocketURL(s.apiURL(s.EndpointName()))
}

// MetricsDashboardURL returns the metrics dashboard link for the current selection.
func (s *Selector) MetricsDashboardURL() string {
	return endpoint.MetricsDashboardURL(s.EndpointName(), s.env.Hostname)
}

// URLs derives every URL from a single read of the selection.
func (s *Selector) URLs() URLSet {
	name := s.EndpointName()
	api := s.apiURL(name)
	return URLSet{
		Name:                name,
		RPCURL:              s.rpcURL(name),
		APIURL:              api,
		APIWebsocketURL:     s.websocketURL(api),
		MetricsDashboardURL: endpoint.MetricsDashboardURL(name, s.env.Hostname),
	}
}

func (s *Selector) rpcURL(name endpoint.Name) string {
	entry, ok := s.table.Lookup(name)
	if !ok {
		s.logger.Error("selected endpoint missing from table", zap.String("endpoint", string(name)))
		return ""
	}
	return entry.URL
}

func (s *Selector) apiURL(name endpoint.Name) string {
	api, err := endpoint.APIURL(s.rpcURL(name))
	if err != nil {
		s.logDerivationError("api", err)
		return ""
	}
	return api
}

func (s *Selector) websocketURL(api string) string {
	ws, err := endpoint.WebsocketURL(api)
	if err != nil {
		s.logDerivationError("websocket", err)
		return ""
	}
	return ws
}

func (s *Selector) logDerivationError(kind string, err error) {
	s.logger.Error("unable to derive endpoint url", zap.String("kind", kind), zap.Error(err))
}
