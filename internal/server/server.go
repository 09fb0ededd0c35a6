// Package server orchestrates all components: bus, namespaces, dispatcher,
// offload and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/morezero/streamcall/internal/config"
	"github.com/morezero/streamcall/pkg/bootstrap"
	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/commsutil"
	"github.com/morezero/streamcall/pkg/db"
	"github.com/morezero/streamcall/pkg/dispatcher"
	"github.com/morezero/streamcall/pkg/events"
	"github.com/morezero/streamcall/pkg/handler"
	"github.com/morezero/streamcall/pkg/middleware"
	"github.com/morezero/streamcall/pkg/offload"
	"github.com/morezero/streamcall/pkg/registry"
	"github.com/morezero/streamcall/pkg/store"
	"github.com/morezero/streamcall/pkg/transport"
)

const logPrefix = "server:server"

// registryForServer is what the HTML pages read.
type registryForServer interface {
	Health() *registry.HealthOutput
	Describe(prefix string) (*registry.DescribeOutput, error)
}

// Server is the streamcall orchestrator.
type Server struct {
	cfg          *config.Config
	boot         *bootstrap.ResolvedBootstrap
	broker       *commsserver.Server
	bus          bus.Bus
	busURL       string
	pool         *pgxpool.Pool
	registry     *registry.Registry
	reg          registryForServer
	watchers     []*registry.Watcher
	dispatcher   *dispatcher.Dispatcher
	orchestrator offload.Orchestrator
	handler      http.Handler
	httpServer   *http.Server
	ready        atomic.Bool
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	logs := setupLogging(cfg)
	defer logs.Close()

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting streamcall", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		s.Close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer stop()
	s.Shutdown(shutdownCtx)
	cancel()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New builds every component. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	return newServer(ctx, cfg, nil)
}

func newServer(ctx context.Context, cfg *config.Config, orch offload.Orchestrator) (*Server, error) {
	s := &Server{cfg: cfg, orchestrator: orch}
	if err := s.build(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.cfg

	// Step 1: Load bootstrap config
	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}
	s.boot = bootstrap.CreateResolvedBootstrap(bootstrapCfg)

	// Step 2: Bus, through an embedded broker when asked
	s.busURL = cfg.BusURL
	if cfg.BusEmbedded {
		broker, err := commsutil.StartEmbedded("127.0.0.1", cfg.BusEmbeddedPort)
		if err != nil {
			return fmt.Errorf("%s - failed to start embedded broker: %w", logPrefix, err)
		}
		s.broker = broker
		s.busURL = broker.ClientURL()
	}
	b, err := bus.Open(s.busURL, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("%s - failed to open bus: %w", logPrefix, err)
	}
	s.bus = b
	if s.busURL == "" {
		slog.Info(fmt.Sprintf("%s - Using in-process bus", logPrefix))
	} else {
		slog.Info(fmt.Sprintf("%s - Connected to bus at %s", logPrefix, s.busURL))
	}

	// Step 3: Namespaces
	publisher := events.NewBusPublisher(b, &events.BusPublisherOpts{GlobalTopic: s.boot.GlobalChangeTopic()})
	reg, err := loadNamespaces(ctx, cfg, s.boot, publisher)
	if err != nil {
		return err
	}
	s.registry, s.reg = reg, reg
	for _, prefix := range s.boot.Prefixes() {
		if !s.boot.Watching(prefix, cfg.Watch) {
			continue
		}
		w, err := reg.Watch(ctx, prefix, nil)
		if err != nil {
			return fmt.Errorf("%s - failed to watch %q: %w", logPrefix, prefix, err)
		}
		s.watchers = append(s.watchers, w)
	}

	// Step 4: Middlewares
	mws, err := middleware.Resolve(s.boot.Middlewares())
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}

	// Step 5: Offload
	var offloader dispatcher.Offloader
	if ocfg, ok := s.offloadConfig(); ok {
		if s.busURL == "" {
			return fmt.Errorf("%s - offload needs a relayed bus (BUS_URL or BUS_EMBEDDED)", logPrefix)
		}
		st, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		if s.orchestrator == nil {
			s.orchestrator = offload.NewProcessOrchestrator()
		}
		offloader = offload.NewOffloader(offload.NewOffloaderParams{
			Bus:          b,
			Orchestrator: s.orchestrator,
			Store:        st,
			Config:       ocfg,
		})
		slog.Info(fmt.Sprintf("%s - Offloading streams to %v (store %s)", logPrefix, ocfg.Command, cfg.HandoffStore))
	}

	// Step 6: Dispatcher and HTTP surface
	s.dispatcher = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Registry:    s.boot.WithAliases(reg),
		Bus:         b,
		Middlewares: mws,
		Offloader:   offloader,
		Config:      dispatcher.Config{ExposeStack: cfg.ExposeStack},
	})

	tcfg := transport.DefaultConfig()
	tcfg.RequestTimeout = cfg.RequestTimeout
	tcfg.WatchTopic = s.boot.GlobalChangeTopic()
	api := transport.NewHandler(transport.NewHandlerParams{
		Dispatcher: s.dispatcher,
		Registry:   reg,
		Bus:        b,
		Ready:      s.ready.Load,
		Config:     tcfg,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome())
	mux.HandleFunc("GET /namespace/", s.handleNamespace())
	mux.Handle("/", api)
	s.handler = mux
	return nil
}

// loadNamespaces loads every namespace of the bootstrap. A namespace that
// fails its first load stops startup.
func loadNamespaces(ctx context.Context, cfg *config.Config, boot *bootstrap.ResolvedBootstrap, publisher events.EventPublisher) (*registry.Registry, error) {
	catalog := handler.NewCatalog()
	handler.RegisterBuiltins(catalog)

	regConfig := registry.DefaultConfig()
	if cfg.WatchDebounce > 0 {
		regConfig.Debounce = cfg.WatchDebounce
	}
	reg := registry.NewRegistry(registry.NewRegistryParams{
		Loader:    &registry.ManifestLoader{Catalog: catalog, APIVersion: registry.APIVersion},
		Publisher: publisher,
		Config:    regConfig,
	})
	for _, prefix := range boot.Prefixes() {
		ns := boot.Get(prefix)
		if _, err := reg.Load(ctx, prefix, ns.Manifest); err != nil {
			return nil, fmt.Errorf("%s - failed to load namespace %q: %w", logPrefix, prefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded namespace %q from %s", logPrefix, prefix, ns.Manifest))
	}
	return reg, nil
}

// offloadConfig merges the bootstrap offload section over the environment.
func (s *Server) offloadConfig() (offload.Config, bool) {
	cfg := s.cfg
	boot := s.boot.Offload()
	if !cfg.Offload && (boot == nil || !boot.Enabled) {
		return offload.Config{}, false
	}

	ocfg := offload.DefaultConfig()
	ocfg.Namespace = cfg.OffloadNamespace
	ocfg.Image = cfg.OffloadImage
	ocfg.Command = cfg.OffloadCommand
	ocfg.HandshakeTimeout = cfg.HandshakeTimeout
	ocfg.InlineLimit = cfg.HandoffInlineLimit
	ocfg.MaxRuntime = cfg.OffloadMaxRuntime
	ocfg.ExposeStack = cfg.ExposeStack
	ocfg.Env = map[string]string{}
	if boot != nil {
		if boot.Namespace != "" {
			ocfg.Namespace = boot.Namespace
		}
		if boot.Image != "" {
			ocfg.Image = boot.Image
		}
		if len(boot.Command) > 0 {
			ocfg.Command = boot.Command
		}
		if d := boot.MaxRuntimeDuration(); d > 0 {
			ocfg.MaxRuntime = d
		}
		for k, v := range boot.Env {
			ocfg.Env[k] = v
		}
	}
	if len(ocfg.Command) == 0 {
		if exe, err := os.Executable(); err == nil {
			ocfg.Command = []string{exe}
		}
	}
	// Workers join the same relay and never offload again.
	ocfg.Env["BUS_URL"] = s.busURL
	ocfg.Env["BUS_EMBEDDED"] = "false"
	ocfg.Env["OFFLOAD"] = "false"
	return ocfg, true
}

// openStore opens the hand-off store, connecting to the database first when
// the store is postgres.
func (s *Server) openStore(ctx context.Context) (store.Store, error) {
	st, pool, err := openStore(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return st, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool, error) {
	params := store.OpenParams{
		TTL: cfg.HandoffTTL,
		S3: store.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
	}

	var pool *pgxpool.Pool
	if cfg.HandoffStore == config.StorePostgres {
		var err error
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		params.Repository = db.NewRepository(pool)
	}

	st, err := store.Open(ctx, cfg.HandoffStore, params)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, fmt.Errorf("%s - failed to open hand-off store: %w", logPrefix, err)
	}
	return st, pool, nil
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and marks the server ready.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, addr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, addr, err)
	case <-time.After(100 * time.Millisecond):
	}
	s.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - streamcall is ready", logPrefix))
	return nil
}

// Shutdown stops accepting calls, lets running streams finish within ctx
// and releases everything.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
			_ = s.httpServer.Close()
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Wait(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - %d streams still running at shutdown", logPrefix, s.dispatcher.Active()))
		}
	}
	s.Close()
}

// Close releases every component without waiting.
func (s *Server) Close() {
	for _, w := range s.watchers {
		w.Close()
	}
	s.watchers = nil
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - bus close: %v", logPrefix, err))
		}
		s.bus = nil
	}
	if s.broker != nil {
		s.broker.Shutdown()
		s.broker = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
