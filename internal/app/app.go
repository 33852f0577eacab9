package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"autotrader/internal/config"
	"autotrader/internal/engine"
	"autotrader/internal/gateway/notifier"
	"autotrader/internal/logger"
	apihttp "autotrader/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App wires the orchestrator, its HTTP surface and the persistence backend.
type App struct {
	cfg     *config.Config
	orch    *engine.Orchestrator
	ctrl    apihttp.Controller
	advisor advisorOptions
	http    *apihttp.Server
	relay   *notifier.Relay
	closers []io.Closer
	Summary *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves the HTTP API and keeps the orchestrator alive until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.orch == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	if a.cfg.App.AutoStart {
		if err := a.orch.Start(); err != nil {
			logger.Warnf("auto start failed: %v", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("api http server error: %w", err)
			}
			return nil
		})
	}
	if a.relay != nil {
		group.Go(func() error { return a.relay.Run(ctx) })
	}
	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return group.Wait()
}

// Reload applies a freshly loaded config. Only the bot settings and
// provider routing are mutable while running.
func (a *App) Reload(ctx context.Context, cfg *config.Config) error {
	if a == nil || a.orch == nil || cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if err := a.orch.UpdateConfig(ctx, cfg.Bot); err != nil {
		return fmt.Errorf("apply bot config: %w", err)
	}
	if a.advisor != nil {
		a.advisor.SetOptions(routingOptions(cfg.Providers))
	}
	a.cfg.Bot = cfg.Bot.Clone()
	a.cfg.Providers.Preferred = cfg.Providers.Preferred
	a.cfg.Providers.EnableFallback = cfg.Providers.EnableFallback
	a.cfg.Providers.RetryAttempts = cfg.Providers.RetryAttempts
	return nil
}

// Watch reloads the config file at path whenever it changes.
func (a *App) Watch(ctx context.Context, path string) error {
	return config.Watch(path, func(cfg *config.Config) {
		if err := a.Reload(ctx, cfg); err != nil {
			logger.Errorf("config reload rejected: %v", err)
		}
	})
}

// Orchestrator exposes the engine instance for tests and tooling.
func (a *App) Orchestrator() *engine.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orch
}

// Controller is what the HTTP API drives.
func (a *App) Controller() apihttp.Controller {
	if a == nil {
		return nil
	}
	return a.ctrl
}

// Close stops the bot, flushes state and releases the store.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
