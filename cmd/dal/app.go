package main

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dal/runtime-go/pkg/config"
	"dal/runtime-go/pkg/interpreter"
	"dal/runtime-go/pkg/providers"
	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
	"dal/runtime-go/pkg/txn"
)

// programOutput receives print output from executed programs.
type programOutput struct{ io.Writer }

// runtimeApp is what the CLI needs from a started application.
type runtimeApp struct {
	Engine  *interpreter.Engine
	Auditor *security.Auditor
	Logger  *zap.Logger

	app *fx.App
}

func (a *runtimeApp) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// newRuntimeApp assembles the engine and its collaborators from cfg and
// starts them.
func newRuntimeApp(ctx context.Context, cfg *config.Config, out io.Writer) (*runtimeApp, error) {
	ra := &runtimeApp{}
	ra.app = fx.New(
		fx.Supply(cfg, programOutput{out}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			zl := &fxevent.ZapLogger{Logger: l.Named("fx")}
			zl.UseLogLevel(zapcore.DebugLevel)
			return zl
		}),
		fx.Provide(
			provideLogger,
			provideTransactions,
			provideAuditor,
			provideRegistry,
			provideProviders,
			provideExecutor,
			provideEngine,
		),
		fx.Populate(&ra.Engine, &ra.Auditor, &ra.Logger),
	)
	if err := ra.app.Err(); err != nil {
		return nil, err
	}
	if err := ra.app.Start(ctx); err != nil {
		return nil, err
	}
	return ra, nil
}

func provideLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		return nil, err
	}
	interpreter.SetLogger(logger.Named("interpreter"))
	txn.SetLogger(logger.Named("txn"))
	security.SetLogger(logger.Named("security"))
	providers.SetLogger(logger.Named("providers"))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Sync on a terminal reports EINVAL on some platforms.
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func provideTransactions(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*txn.Manager, error) {
	tc := cfg.Transactions
	storage, err := tc.OpenStorage()
	if err != nil {
		return nil, err
	}
	var observers []txn.Observer
	if tc.LogPath != "" {
		eventLog, err := txn.OpenEventLog(tc.LogPath)
		if err != nil {
			return nil, multierr.Append(err, storage.Close())
		}
		observers = append(observers, eventLog)
	}
	manager, err := txn.NewManager(storage, tc.ManagerOptions(), observers...)
	if err != nil {
		for _, o := range observers {
			if c, ok := o.(io.Closer); ok {
				err = multierr.Append(err, c.Close())
			}
		}
		return nil, multierr.Append(err, storage.Close())
	}
	logger.Debug("transaction manager ready",
		zap.String("storage", string(tc.Storage)),
		zap.String("path", tc.Path))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return manager.Close() },
	})
	return manager, nil
}

func provideAuditor(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*security.Auditor, error) {
	auditor, err := cfg.Audit.Auditor(logger.Named("audit"))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return auditor.Close() },
	})
	return auditor, nil
}

func provideRegistry(cfg *config.Config) *security.Registry {
	return cfg.Security.Registry()
}

func provideProviders(cfg *config.Config) ([]runtime.Provider, error) {
	return cfg.Providers()
}

func provideExecutor(cfg *config.Config) interpreter.Executor {
	if cfg.Runtime.Workers > 0 {
		return interpreter.NewBoundedExecutor(cfg.Runtime.Workers)
	}
	return interpreter.NewGoroutineExecutor()
}

type engineParams struct {
	fx.In

	Lifecycle    fx.Lifecycle
	Config       *config.Config
	Output       programOutput
	Transactions *txn.Manager
	Auditor      *security.Auditor
	Registry     *security.Registry
	Executor     interpreter.Executor
	Providers    []runtime.Provider
}

func provideEngine(p engineParams) (*interpreter.Engine, error) {
	opts := p.Config.EngineOptions()
	opts.Output = p.Output.Writer
	opts.Transactions = p.Transactions
	opts.Auditor = p.Auditor
	opts.Registry = p.Registry
	opts.Executor = p.Executor
	opts.Providers = p.Providers

	engine, err := interpreter.New(opts)
	if err != nil {
		return nil, err
	}
	if caller := p.Config.Security.Principal(); caller.ID != "" {
		engine.SetCurrentCaller(caller)
	}
	// Appended after the manager and auditor hooks, so it stops first.
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return engine.Close() },
	})
	return engine, nil
}
