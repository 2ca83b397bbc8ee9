package app

import (
	"context"
	"fmt"
	"io"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/entity"
	"github.com/vk/cutlet/internal/lifecycle"
	"github.com/vk/cutlet/internal/watch"
	"golang.org/x/sync/errgroup"
)

// configExtensions are the files the watcher reacts to.
var configExtensions = []string{".hcl", ".hcl.json"}

// Run starts the entities of the loaded configuration and blocks until ctx
// is cancelled or a stop is requested, then shuts everything down. Lines
// read from console are dispatched as commands; a nil console disables it.
func (a *App) Run(ctx context.Context, console io.Reader) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	defer a.timer.Close()

	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	report, err := a.apply(ctx, a.doc)
	if err != nil {
		a.shutdown(ctx)
		return err
	}
	if report.Err() != nil {
		a.logger.Warn("Some entities failed during startup.", "failed", len(report.Failed))
	}
	if a.manager.Status().Count(lifecycle.Started) == 0 {
		a.logger.Error("No entity started, shutting down.")
		a.shutdown(ctx)
		return ErrNothingStarted
	}
	a.logger.Info("🚀 Entities started.", "started", len(report.Started), "failed", len(report.Failed))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		select {
		case <-a.stop:
			a.logger.Info("Stop requested.")
		case <-gctx.Done():
			if ctx.Err() != nil {
				a.logger.Info("Shutdown signal received.")
			}
		}
		cancel()
		return nil
	})
	g.Go(func() error {
		a.reloadLoop(gctx)
		return nil
	})
	if a.config.Watch {
		w := watch.New(a.config.ConfigPaths, configExtensions, func(context.Context) { a.RequestReload() })
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				a.logger.Error("Configuration watcher failed, reloads must be requested manually.", "error", err)
			}
			return nil
		})
	}
	if a.healthCheckServer() {
		g.Go(func() error { return a.serveHealthCheck() })
		g.Go(func() error {
			<-gctx.Done()
			return a.closeHealthCheckServer()
		})
	}
	if console != nil {
		lines := readLines(gctx, console)
		g.Go(func() error {
			a.consoleLoop(gctx, lines)
			return nil
		})
	}

	err = g.Wait()
	a.shutdown(ctx)
	a.logger.Info("🏁 Shutdown complete.")
	return err
}

// apply builds the descriptor table of doc and runs one reload cycle.
func (a *App) apply(ctx context.Context, doc *config.Document) (*lifecycle.Report, error) {
	table, err := entity.Build(doc, a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build entity table: %w", err)
	}
	for id, err := range table.Invalid() {
		a.logger.Warn("Entity cannot start.", "entity", id, "error", err)
	}
	return a.manager.Apply(ctx, table)
}

func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.reloads:
			a.reload(ctx)
		}
	}
}

// reload loads the configuration again and applies it. A configuration that
// cannot be loaded or built is logged and leaves the running entities alone.
func (a *App) reload(ctx context.Context) {
	doc, err := a.loader.Load(ctx, a.config.ConfigPaths...)
	if err != nil {
		a.logger.Error("Reload skipped, configuration could not be loaded.", "error", err)
		return
	}
	report, err := a.apply(ctx, doc)
	if err != nil {
		a.logger.Error("Reload skipped.", "error", err)
		return
	}
	if err := report.Err(); err != nil {
		a.logger.Warn("Reload finished with failures.", "cycle", report.Cycle, "error", err)
	}
}

// shutdown stops every entity. It ignores the cancellation of ctx; each
// stop hook is bounded by the grace period instead.
func (a *App) shutdown(ctx context.Context) {
	if err := a.manager.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("Lifecycle shutdown failed.", "error", err)
	}
}
