package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/lifecycle"
	"github.com/vk/cutlet/internal/metrics"
	"github.com/vk/cutlet/internal/permission"
	"github.com/vk/cutlet/internal/registry"
	"github.com/vk/cutlet/internal/timer"
)

// ErrNothingStarted is returned by Run when the initial reload cycle left
// no entity in the Started state.
var ErrNothingStarted = errors.New("no entity reached the started state")

// App is the main application object, holding all dependencies.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	ctx      context.Context
	config   *Config
	loader   config.Loader
	registry *registry.Registry
	bus      *event.Bus
	timer    *timer.Scheduler
	commands *command.Registry
	metrics  *metrics.Metrics
	manager  *lifecycle.Manager
	doc      *config.Document

	httpServer *http.Server
	reloads    chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewApp creates the application: it registers the modules, freezes the
// registry and loads the configuration. With no modules the built-in ones
// are registered. A registration conflict or an unreadable configuration is
// returned as an error.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured.", "level", cfg.LogLevel, "format", cfg.LogFormat)

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := registry.New()
	if err := reg.RegisterModules(modules...); err != nil {
		return nil, fmt.Errorf("failed to register modules: %w", err)
	}
	reg.Freeze()
	logger.Debug("Registry frozen.", "types", reg.Types())

	doc, err := loader.Load(ctx, cfg.ConfigPaths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyRuntime(doc); err != nil {
		return nil, &config.LoadError{Source: strings.Join(doc.Sources, ", "), Err: err}
	}

	bus := event.NewBus()
	a := &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		loader:   loader,
		registry: reg,
		bus:      bus,
		timer:    timer.New(ctx),
		commands: command.NewRegistry(permission.Default, bus),
		metrics:  metrics.New(),
		doc:      doc,
		reloads:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	a.metrics.Subscribe(bus)
	a.manager = lifecycle.New(reg,
		lifecycle.WithWorkers(cfg.Workers),
		lifecycle.WithGracePeriod(cfg.GracePeriod),
		lifecycle.WithServices(registry.Services{Bus: bus, Timer: a.timer, Commands: a.commands}),
	)
	if err := a.registerCommands(); err != nil {
		return nil, err
	}
	return a, nil
}

// Manager exposes the lifecycle manager, mainly for tests.
func (a *App) Manager() *lifecycle.Manager {
	return a.manager
}

// Commands exposes the command registry.
func (a *App) Commands() *command.Registry {
	return a.commands
}

// RequestReload asks the run loop for a reload cycle. Requests made while
// one is pending are coalesced.
func (a *App) RequestReload() {
	select {
	case a.reloads <- struct{}{}:
	default:
	}
}

// RequestStop asks Run to shut down.
func (a *App) RequestStop() {
	a.stopOnce.Do(func() { close(a.stop) })
}
