package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"candleflow/internal/adapter/handler"
	"candleflow/internal/adapter/storage"
	"candleflow/internal/application/service"
	"candleflow/internal/application/usecase"
	"candleflow/internal/concurrency/fanin"
	"candleflow/internal/concurrency/worker"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
	"candleflow/internal/infrastructure/config"
	"candleflow/internal/infrastructure/logger"
	"candleflow/internal/infrastructure/server"
)

var servePort int

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "Run the chart service with its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
		log.Info("starting candleflow", "mode", cfg.Mode, "storage", cfg.Storage.Driver, "charts", len(cfg.Charts))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app := &App{config: cfg, logger: log}
		return app.Run(ctx)
	},
}

func init() {
	serveCMD.Flags().IntVarP(&servePort, "port", "p", 0, "override server.port")
}

type App struct {
	config      *config.Config
	logger      *slog.Logger
	store       *storage.SQLStore
	cache       port.CachePort
	modes       *service.ModeService
	controllers map[string]*service.Controller
	archive     *service.ArchiveService
	server      *server.Server
}

// Run поднимает все компоненты и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	cfg, log := a.config, a.logger

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store
	defer store.Close()

	cacheAdapter, redisEnabled, err := openCache(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	a.cache = cacheAdapter
	defer cacheAdapter.Close()

	mode, _ := model.ParseDataMode(cfg.Mode)
	a.modes = service.NewModeService(mode, streamFactory(cfg, store, log), log)
	stream, err := a.modes.Start(ctx)
	if err != nil {
		return err
	}

	if err := a.startControllers(ctx, stream); err != nil {
		return err
	}

	views := make([]<-chan model.View, 0, len(a.controllers))
	sources := make([]service.ViewSource, 0, len(a.controllers))
	charts := make(map[string]usecase.Chart, len(a.controllers))
	for symbol, c := range a.controllers {
		views = append(views, c.Views())
		sources = append(sources, c)
		charts[symbol] = c
	}

	// процессинг View не зависит от ctx: он завершается, когда контроллеры закроют Views
	pool := worker.NewPool(cfg.Workers.Count, cacheAdapter, store, "candleflow", log)
	processed := pool.Start(context.Background(), fanin.FanIn(context.Background(), views...))
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range processed {
		}
	}()

	a.archive = service.NewArchiveService(store, log)
	a.archive.SetSources(sources...)
	a.archive.Start(ctx, cfg.Archive.Interval)

	var cachePing handler.Pinger
	if redisEnabled {
		cachePing = cacheAdapter
	}
	mux := http.NewServeMux()
	handler.NewChartHandler(usecase.NewChartUseCase(charts, cacheAdapter, "candleflow"), log).Register(mux)
	handler.NewStreamHandler(a.modes, log).Register(mux)
	handler.NewModeHandler(a.modes, log).Register(mux)
	mux.HandleFunc("GET /health", handler.NewHealthHandler(store, cachePing, a.modes, log).Check)

	a.server = server.NewServer(server.Options{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, mux, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(drained)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("shutdown complete")
	return err
}

// startControllers поднимает по контроллеру на график. Ошибка истории
// не фатальна: график останется незагруженным до следующего переключения.
func (a *App) startControllers(ctx context.Context, stream port.StreamPort) error {
	a.controllers = make(map[string]*service.Controller, len(a.config.Charts))
	targets := make([]service.Rebinder, 0, len(a.config.Charts))

	for _, ch := range a.config.Charts {
		tf, err := model.ParseTimeframe(ch.Timeframe)
		if err != nil {
			return err
		}
		c := service.NewController(controllerConfig(a.config, ch.Symbol, tf), a.store, stream, a.logger)
		if err := c.Start(ctx); err != nil {
			a.logger.Error("chart failed to load", "symbol", ch.Symbol, "timeframe", tf.String(), "error", err)
		}
		a.controllers[ch.Symbol] = c
		targets = append(targets, c)
	}
	a.modes.Attach(targets...)
	return nil
}

func (a *App) shutdown(drained <-chan struct{}) error {
	a.logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	for _, c := range a.controllers {
		c.Stop()
	}
	<-drained

	a.archive.Stop()

	if err := a.modes.Stop(); err != nil {
		a.logger.Error("failed to stop stream", "error", err)
	}
	return errors.Join(errs...)
}
