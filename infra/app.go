package infra

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/grand-thief-cash/taskmesh/infra/autowire"
	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/config"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/infra/hooks"
	"github.com/grand-thief-cash/taskmesh/infra/registry"
)

// App 组装配置, 容器与生命周期
type App struct {
	container        *core.Container
	lifecycleManager *core.LifecycleManager
	configManager    *config.ConfigManager

	bootOnce sync.Once
	bootErr  error

	shutdownTimeout time.Duration
}

func NewApp(env string, configPath string) *App {
	abs := configPath
	if p, err := filepath.Abs(configPath); err == nil {
		abs = p
	}
	container := core.NewContainer()
	lm := core.NewLifecycleManagerWithManager(container, hooks.GetGlobalHookManager())
	return &App{
		configManager:    config.NewConfigManager(env, abs),
		container:        container,
		lifecycleManager: lm,
		shutdownTimeout:  30 * time.Second,
	}
}

func (app *App) SetShutdownTimeout(d time.Duration) { app.shutdownTimeout = d }

// SetBizConfig 必须在 Run 之前调用, b 为业务配置指针
func (app *App) SetBizConfig(b any) { app.configManager.SetBizConfig(b) }

func (app *App) boot() error {
	app.bootOnce.Do(func() {
		if err := app.configManager.LoadConfig(); err != nil {
			app.bootErr = fmt.Errorf("load config failed: %w", err)
			return
		}
		cfg := app.configManager.GetConfig()
		if err := registry.BuildAndRegisterAll(cfg, app.container); err != nil {
			app.bootErr = fmt.Errorf("register components failed: %w", err)
			return
		}
		if err := autowire.InjectAll(app.container); err != nil {
			app.bootErr = err
		}
	})
	return app.bootErr
}

func (app *App) GetComponent(name string) (core.Component, error) {
	return app.container.Resolve(name)
}

func (app *App) Container() *core.Container { return app.container }

func (app *App) GetConfig() *config.AppConfig { return app.configManager.GetConfig() }

func (app *App) AddHook(name string, phase hooks.Phase, fn hooks.HookFunc, priority int) error {
	return app.lifecycleManager.AddHook(name, phase, fn, priority)
}

// Run 监听 SIGINT/SIGTERM, 收到信号后优雅退出
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunWithContext(ctx)
}

// Start boots the app and starts every component without blocking.
func (app *App) Start(ctx context.Context) error {
	if err := app.boot(); err != nil {
		return err
	}
	return app.lifecycleManager.StartAll(ctx)
}

// RunWithContext starts components and blocks until ctx is done, then shuts down.
func (app *App) RunWithContext(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logging.Info(context.Background(), "shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	app.Shutdown(shutdownCtx)
	return nil
}

func (app *App) Shutdown(ctx context.Context) {
	app.lifecycleManager.StopAll(ctx)
}
