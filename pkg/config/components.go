package config

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dal/runtime-go/pkg/interpreter"
	"dal/runtime-go/pkg/providers"
	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
	"dal/runtime-go/pkg/txn"
)

// BuildLogger creates the process logger. json selects the production
// encoder, console the development one.
func (l LoggingConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("config: logging.level: %w", err)
	}
	var zc zap.Config
	if l.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func (t TransactionConfig) ManagerOptions() txn.Options {
	return txn.Options{
		DefaultTimeout: Millis(t.DefaultTimeoutMS),
		LockWait:       Millis(t.LockWaitMS),
		MaxActive:      t.MaxActive,
		MaxKeys:        t.MaxKeys,
		History:        t.FinishedHistory,
	}
}

// OpenStorage opens the configured committed-state backend.
func (t TransactionConfig) OpenStorage() (txn.Storage, error) {
	switch t.Storage {
	case StorageMemory, "":
		return txn.NewMemoryStorage(), nil
	case StorageFile:
		return txn.OpenFileStorage(t.Path)
	case StorageSQLite:
		return txn.OpenSQLiteStorage(t.Path)
	case StorageBadger:
		return txn.OpenBadgerStorage(t.Path)
	default:
		return nil, fmt.Errorf("config: unknown storage %q", t.Storage)
	}
}

// Auditor builds an auditor with the configured sinks. The caller owns it
// and closes it to release the file sink.
func (a AuditConfig) Auditor(logger *zap.Logger) (*security.Auditor, error) {
	var sinks []security.Sink
	for _, name := range a.Sinks {
		switch name {
		case "memory":
		case "log":
			sinks = append(sinks, security.LogSink{Logger: logger})
		case "file":
			fs, err := security.OpenFileSink(a.File)
			if err != nil {
				return nil, multierr.Append(err, security.NewAuditor(sinks...).Close())
			}
			sinks = append(sinks, fs)
		default:
			return nil, fmt.Errorf("config: unknown audit sink %q", name)
		}
	}
	return security.NewAuditor(sinks...), nil
}

// Registry builds the capability registry with configured roles and grants.
func (s SecurityConfig) Registry() *security.Registry {
	reg := security.NewRegistry(s.Roles)
	for _, g := range s.Grants {
		reg.Grant(g.Principal, g.Resource, g.Operations...)
	}
	return reg
}

func (s SecurityConfig) Principal() security.Principal {
	return security.Principal{ID: s.Caller.ID, Roles: append([]string(nil), s.Caller.Roles...)}
}

// EngineOptions maps the runtime and agent sections onto interpreter options.
// Collaborators are left for the caller to fill in.
func (c *Config) EngineOptions() interpreter.Options {
	nested, _ := interpreter.ParseNestedTxnPolicy(c.Runtime.NestedTxn)
	scope, _ := security.ParseLimitScope(c.Runtime.LimitScope)
	return interpreter.Options{
		MaxCallDepth:     c.Runtime.MaxCallDepth,
		NestedTxn:        nested,
		LimitScope:       scope,
		ExecutionTimeout: Millis(c.Runtime.ExecutionTimeoutMS),
		ReceiveTimeout:   Millis(c.Agents.ReceiveTimeoutMS),
		AgentHistory:     c.Agents.History,
	}
}

// Oracle builds the oracle provider and its sources.
func (o OracleConfig) Oracle() (*providers.Oracle, error) {
	sources := make(map[string]providers.Source, len(o.Sources))
	for name, src := range o.Sources {
		if src.URL != "" {
			s, err := providers.NewHTTPSource(src.URL, Millis(o.TimeoutMS))
			if err != nil {
				return nil, err
			}
			sources[name] = s
			continue
		}
		v, err := runtime.FromNative(src.Value)
		if err != nil {
			return nil, fmt.Errorf("config: oracle.sources.%s: %w", name, err)
		}
		sources[name] = providers.StaticSource{Value: v}
	}
	return providers.NewOracle(providers.OracleOptions{
		CacheTTL:      Millis(o.CacheTTLMS),
		CacheSize:     o.CacheSize,
		RatePerSecond: o.RatePerSecond,
		Burst:         o.Burst,
		Timeout:       Millis(o.TimeoutMS),
		MaxParallel:   o.MaxParallel,
	}, sources), nil
}

// Providers builds every external namespace provider.
func (c *Config) Providers() ([]runtime.Provider, error) {
	oracle, err := c.Oracle.Oracle()
	if err != nil {
		return nil, err
	}
	return []runtime.Provider{
		oracle,
		providers.NewChain(),
		providers.NewAI(providers.EchoModel{Name: c.AI.Model}, Millis(c.AI.TimeoutMS)),
		providers.Crypto{},
	}, nil
}
