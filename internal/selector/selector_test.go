package selector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eugenenazirov/endpoint-selector/internal/endpoint"
	"github.com/eugenenazirov/endpoint-selector/internal/storage"
)

var (
	devEnv    = endpoint.Environment{Hostname: "localhost", PageURL: "http://localhost:3000/"}
	publicEnv = endpoint.Environment{Hostname: "testnet.solana.com", PageURL: "https://testnet.solana.com/"}
	errBroken = errors.New("disk on fire")
)

type fakeStore struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	setErr error
	gets   int
	sets   int

	getStarted chan struct{}
	getGate    chan struct{}
	setGate    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]string{}}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	f.gets++
	started, gate := f.getStarted, f.getGate
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	value, ok := f.values[key]
	return value, ok, nil
}

func (f *fakeStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	gate := f.setGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	return nil
}

func (f *fakeStore) value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeStore) counts() (gets, sets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.sets
}

func flush(t *testing.T, s *Selector) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
}

func TestNewDefaultsOnPublicHostname(t *testing.T) {
	s := New(publicEnv, newFakeStore(), zaptest.NewLogger(t))

	if got := s.EndpointName(); got != endpoint.Testnet {
		t.Fatalf("expected %s, got %s", endpoint.Testnet, got)
	}
	for _, d := range s.Endpoints() {
		if d.Name == endpoint.Local {
			t.Fatalf("expected local endpoint to be hidden on a public hostname")
		}
	}
}

func TestNewDefaultsOnDevHostname(t *testing.T) {
	s := New(devEnv, newFakeStore(), zaptest.NewLogger(t))

	if got := s.EndpointName(); got != endpoint.TestnetEdge {
		t.Fatalf("expected %s, got %s", endpoint.TestnetEdge, got)
	}

	want := []endpoint.Descriptor{
		{Name: endpoint.Local, FriendlyName: "Local Cluster"},
		{Name: endpoint.TestnetEdge, FriendlyName: "Edge Development Testnet"},
		{Name: endpoint.TestnetBeta, FriendlyName: "Beta Development Testnet"},
		{Name: endpoint.Testnet, FriendlyName: "Public Testnet"},
		{Name: endpoint.TDS, FriendlyName: "Tour de SOL"},
	}
	if diff := cmp.Diff(want, s.Endpoints()); diff != "" {
		t.Fatalf("unexpected endpoints (-want +got):\n%s", diff)
	}
}

func TestSetEndpointNameRejectsUnknownNames(t *testing.T) {
	store := newFakeStore()
	s := New(publicEnv, store, zaptest.NewLogger(t))

	for _, name := range []endpoint.Name{"", "mainnet", "TDS", endpoint.Local} {
		err := s.SetEndpointName(name)
		if !errors.Is(err, endpoint.ErrUnknownEndpoint) {
			t.Fatalf("expected ErrUnknownEndpoint for %q, got %v", name, err)
		}
		if got := s.EndpointName(); got != endpoint.Testnet {
			t.Fatalf("selection changed to %s after rejected write", got)
		}
	}

	flush(t, s)
	if _, sets := store.counts(); sets != 0 {
		t.Fatalf("expected no persistence attempts, got %d", sets)
	}
}

func TestSetEndpointNameIsVisibleImmediately(t *testing.T) {
	store := newFakeStore()
	store.setErr = errBroken
	s := New(devEnv, store, zaptest.NewLogger(t))

	for _, d := range s.Endpoints() {
		if err := s.SetEndpointName(d.Name); err != nil {
			t.Fatalf("SetEndpointName(%s) returned error: %v", d.Name, err)
		}
		if got := s.EndpointName(); got != d.Name {
			t.Fatalf("expected %s, got %s", d.Name, got)
		}
	}
	flush(t, s)
}

func TestSetEndpointNamePersistsInBackground(t *testing.T) {
	store := newFakeStore()
	s := New(devEnv, store, zaptest.NewLogger(t))

	if err := s.SetEndpointName(endpoint.TDS); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}
	if err := s.SetEndpointName(endpoint.TestnetBeta); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}
	flush(t, s)

	if value, ok := store.value(DefaultStorageKey); !ok || value != string(endpoint.TestnetBeta) {
		t.Fatalf("expected persisted %s, got %q (ok=%v)", endpoint.TestnetBeta, value, ok)
	}
}

func TestSetEndpointNamePersistenceFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newFakeStore()
	store.setErr = errBroken
	s := New(devEnv, store, zap.New(core))

	if err := s.SetEndpointName(endpoint.TDS); err != nil {
		t.Fatalf("persistence failure must not surface, got %v", err)
	}
	flush(t, s)

	if got := s.EndpointName(); got != endpoint.TDS {
		t.Fatalf("expected selection to survive failed write, got %s", got)
	}
	if logs.FilterMessage("failed to persist endpoint name").Len() != 1 {
		t.Fatalf("expected persistence failure to be logged, got %v", logs.All())
	}
}

func TestFlushHonorsContext(t *testing.T) {
	store := newFakeStore()
	store.setGate = make(chan struct{})
	s := New(devEnv, store, zaptest.NewLogger(t))

	if err := s.SetEndpointName(endpoint.TDS); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	close(store.setGate)
	flush(t, s)
	if value, ok := store.value(DefaultStorageKey); !ok || value != string(endpoint.TDS) {
		t.Fatalf("expected persisted %s, got %q (ok=%v)", endpoint.TDS, value, ok)
	}
}

func TestFlushConcurrentWithSelection(t *testing.T) {
	store := newFakeStore()
	s := New(devEnv, store, zaptest.NewLogger(t))
	names := []endpoint.Name{endpoint.TDS, endpoint.Testnet, endpoint.TestnetBeta, endpoint.Local}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := s.SetEndpointName(names[i%len(names)]); err != nil {
				t.Errorf("SetEndpointName returned error: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.Flush(ctx); err != nil {
				t.Errorf("Flush returned error: %v", err)
			}
		}()
	}
	wg.Wait()
	flush(t, s)

	if value, ok := store.value(DefaultStorageKey); !ok || value != string(s.EndpointName()) {
		t.Fatalf("expected persisted %s, got %q (ok=%v)", s.EndpointName(), value, ok)
	}
}

func TestLoadAppliesPersistedSelection(t *testing.T) {
	store := newFakeStore()
	store.values[DefaultStorageKey] = string(endpoint.TDS)
	s := New(devEnv, store, zaptest.NewLogger(t))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TDS {
		t.Fatalf("expected %s, got %s", endpoint.TDS, got)
	}
}

func TestLoadKeepsDefault(t *testing.T) {
	testCases := []struct {
		name   string
		env    endpoint.Environment
		stored *string
		getErr error
		want   endpoint.Name
	}{
		{name: "absent", env: devEnv, want: endpoint.TestnetEdge},
		{name: "unknown name", env: devEnv, stored: ptr("mainnet"), want: endpoint.TestnetEdge},
		{name: "empty value", env: devEnv, stored: ptr(""), want: endpoint.TestnetEdge},
		{name: "padded name", env: devEnv, stored: ptr(" tds\n"), want: endpoint.TestnetEdge},
		{name: "local on public host", env: publicEnv, stored: ptr("local"), want: endpoint.Testnet},
		{name: "storage failure", env: publicEnv, getErr: errBroken, want: endpoint.Testnet},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.getErr = tc.getErr
			if tc.stored != nil {
				store.values[DefaultStorageKey] = *tc.stored
			}
			s := New(tc.env, store, zaptest.NewLogger(t))

			if err := s.Load(context.Background()); err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if got := s.EndpointName(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestLoadRunsOnce(t *testing.T) {
	store := newFakeStore()
	store.values[DefaultStorageKey] = string(endpoint.TestnetBeta)
	store.getStarted = make(chan struct{})
	store.getGate = make(chan struct{})
	s := New(devEnv, store, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Load(context.Background()); err != nil {
				t.Errorf("Load returned error: %v", err)
			}
		}()
	}

	<-store.getStarted
	close(store.getGate)
	wg.Wait()

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if gets, _ := store.counts(); gets != 1 {
		t.Fatalf("expected a single storage read, got %d", gets)
	}
	if got := s.EndpointName(); got != endpoint.TestnetBeta {
		t.Fatalf("expected %s, got %s", endpoint.TestnetBeta, got)
	}
}

func TestLoadRetriesAfterCancellation(t *testing.T) {
	store := storage.NewMemoryStorage()
	if err := store.Set(context.Background(), DefaultStorageKey, string(endpoint.TDS)); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	s := New(devEnv, store, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TestnetEdge {
		t.Fatalf("expected default after cancelled load, got %s", got)
	}

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TDS {
		t.Fatalf("expected %s after retry, got %s", endpoint.TDS, got)
	}
}

func TestLoadIgnoresOtherCallersCancellation(t *testing.T) {
	store := newFakeStore()
	store.values[DefaultStorageKey] = string(endpoint.TDS)
	store.getStarted = make(chan struct{})
	store.getGate = make(chan struct{})
	s := New(devEnv, store, zaptest.NewLogger(t))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	first := make(chan error, 1)
	go func() {
		first <- s.Load(firstCtx)
	}()
	<-store.getStarted

	second := make(chan error, 1)
	go func() {
		second <- s.Load(context.Background())
	}()

	cancelFirst()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to see context.Canceled, got %v", err)
	}

	close(store.getGate)
	if err := <-second; err != nil {
		t.Fatalf("expected second caller to succeed, got %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TDS {
		t.Fatalf("expected %s to be applied, got %s", endpoint.TDS, got)
	}
	if gets, _ := store.counts(); gets != 1 {
		t.Fatalf("expected a single storage read, got %d", gets)
	}
}

func TestLoadRetriesAfterReadTimeout(t *testing.T) {
	store := newFakeStore()
	store.values[DefaultStorageKey] = string(endpoint.TDS)
	store.getGate = make(chan struct{})
	s := New(devEnv, store, zaptest.NewLogger(t), WithReadTimeout(10*time.Millisecond))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TestnetEdge {
		t.Fatalf("expected default after timed out read, got %s", got)
	}

	store.mu.Lock()
	store.getGate = nil
	store.mu.Unlock()

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TDS {
		t.Fatalf("expected %s after retry, got %s", endpoint.TDS, got)
	}
}

func TestSelectionDuringLoadWins(t *testing.T) {
	store := newFakeStore()
	store.values[DefaultStorageKey] = string(endpoint.TDS)
	store.getStarted = make(chan struct{})
	store.getGate = make(chan struct{})
	s := New(devEnv, store, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		done <- s.Load(context.Background())
	}()

	<-store.getStarted
	if err := s.SetEndpointName(endpoint.TestnetBeta); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}
	close(store.getGate)

	if err := <-done; err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.EndpointName(); got != endpoint.TestnetBeta {
		t.Fatalf("expected explicit selection to win, got %s", got)
	}
}

func TestURLsForTourDeSol(t *testing.T) {
	s := New(devEnv, newFakeStore(), zaptest.NewLogger(t))
	if err := s.SetEndpointName(endpoint.TDS); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}

	if got := s.RPCURL(); got != "https://tds.solana.com:8443" {
		t.Fatalf("unexpected rpc url %s", got)
	}
	if got := s.APIURL(); got != "https://:3443" {
		t.Fatalf("unexpected api url %s", got)
	}
	if got := s.APIWebsocketURL(); got != "wss://:3443" {
		t.Fatalf("unexpected websocket url %s", got)
	}

	want := URLSet{
		Name:                endpoint.TDS,
		RPCURL:              "https://tds.solana.com:8443",
		APIURL:              "https://:3443",
		APIWebsocketURL:     "wss://:3443",
		MetricsDashboardURL: s.MetricsDashboardURL(),
	}
	if diff := cmp.Diff(want, s.URLs()); diff != "" {
		t.Fatalf("unexpected url set (-want +got):\n%s", diff)
	}
}

func TestURLsForLocalCluster(t *testing.T) {
	s := New(devEnv, newFakeStore(), zaptest.NewLogger(t))
	if err := s.SetEndpointName(endpoint.Local); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}

	got := s.URLs()
	if got.RPCURL != "http://localhost:8899" {
		t.Fatalf("unexpected rpc url %s", got.RPCURL)
	}
	if got.APIURL != "http://:3001" {
		t.Fatalf("unexpected api url %s", got.APIURL)
	}
	if got.APIWebsocketURL != "ws://:3001" {
		t.Fatalf("unexpected websocket url %s", got.APIWebsocketURL)
	}
	if got.MetricsDashboardURL != endpoint.MetricsDashboardURL(endpoint.Local, "localhost") {
		t.Fatalf("unexpected metrics url %s", got.MetricsDashboardURL)
	}
}

func TestWithStorageKey(t *testing.T) {
	store := newFakeStore()
	s := New(devEnv, store, zaptest.NewLogger(t), WithStorageKey("custom"), WithWriteTimeout(time.Second))

	if err := s.SetEndpointName(endpoint.TDS); err != nil {
		t.Fatalf("SetEndpointName returned error: %v", err)
	}
	flush(t, s)

	if value, ok := store.value("custom"); !ok || value != string(endpoint.TDS) {
		t.Fatalf("expected value under custom key, got %q (ok=%v)", value, ok)
	}
}

func ptr(s string) *string { return &s }
