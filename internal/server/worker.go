package server

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/morezero/streamcall/internal/config"
	"github.com/morezero/streamcall/pkg/bootstrap"
	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/dispatcher"
	"github.com/morezero/streamcall/pkg/events"
	"github.com/morezero/streamcall/pkg/middleware"
	"github.com/morezero/streamcall/pkg/offload"
	"github.com/morezero/streamcall/pkg/stream"
)

const workerLogPrefix = "server:worker"

// RunWorker serves one offloaded call announced on res, then exits.
func RunWorker(res string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", workerLogPrefix, err)
	}
	logs := setupLogging(cfg)
	defer logs.Close()

	if err := cfg.ValidateForWorker(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runWorker(ctx, cfg, res)
}

func runWorker(ctx context.Context, cfg *config.Config, res string) error {
	slog.Info(fmt.Sprintf("%s - Worker %s/%s starting for %s", workerLogPrefix, cfg.WorkerNamespace, cfg.WorkerName, res))

	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", workerLogPrefix, err)
	}
	boot := bootstrap.CreateResolvedBootstrap(bootstrapCfg)

	reg, err := loadNamespaces(ctx, cfg, boot, &events.NoOpPublisher{})
	if err != nil {
		return err
	}
	mws, err := middleware.Resolve(boot.Middlewares())
	if err != nil {
		return fmt.Errorf("%s - %w", workerLogPrefix, err)
	}

	b, err := bus.Open(cfg.BusURL, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("%s - failed to open bus: %w", workerLogPrefix, err)
	}
	defer b.Close()

	st, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	var ref *stream.WorkerRef
	if cfg.WorkerName != "" {
		ref = &stream.WorkerRef{Name: cfg.WorkerName, Namespace: cfg.WorkerNamespace}
	}
	d := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Registry:    boot.WithAliases(reg),
		Bus:         b,
		Middlewares: mws,
		Config:      dispatcher.Config{ExposeStack: cfg.ExposeStack, Worker: ref},
	})

	w := offload.NewWorker(offload.NewWorkerParams{
		Bus:              b,
		Dispatcher:       d,
		Store:            st,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ExposeStack:      cfg.ExposeStack,
	})
	if err := w.Run(ctx, res); err != nil {
		return fmt.Errorf("%s - %w", workerLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Worker for %s finished", workerLogPrefix, res))
	return nil
}
