package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dal/runtime-go/pkg/interpreter"
	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
runtime:
  nested_txn: reject
  limit_scope: global
  execution_timeout_ms: 2500
transactions:
  storage: sqlite
  path: state.db
  max_keys: 50
audit:
  sinks: [memory, log]
security:
  roles:
    operator: [read, operate]
  grants:
    - principal: bob
      resource: Bank::transfer
      operations: [write]
  caller:
    id: alice
    roles: [operator]
oracle:
  sources:
    a: {value: "100"}
    b: {value: {usd: 100}}
    feed: {url: "https://prices.example.com/{query}"}
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path)

	require.Equal(t, interpreter.DefaultMaxCallDepth, cfg.Runtime.MaxCallDepth)
	opts := cfg.EngineOptions()
	require.Equal(t, interpreter.NestedTxnReject, opts.NestedTxn)
	require.Equal(t, security.LimitGlobal, opts.LimitScope)
	require.Equal(t, 2500*time.Millisecond, opts.ExecutionTimeout)
	require.Equal(t, interpreter.DefaultReceiveTimeout, opts.ReceiveTimeout)

	require.Equal(t, StorageSQLite, cfg.Transactions.Storage)
	require.Equal(t, 50, cfg.Transactions.ManagerOptions().MaxKeys)
	require.Equal(t, 30*time.Second, cfg.Transactions.ManagerOptions().LockWait)

	reg := cfg.Security.Registry()
	caller := cfg.Security.Principal()
	require.True(t, reg.Check(caller, "anything", "operate"))
	require.False(t, reg.Check(caller, "anything", "write"))
	require.True(t, reg.Check(security.Principal{ID: "bob"}, "Bank::transfer", "write"))

	oracle, err := cfg.Oracle.Oracle()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "feed"}, oracle.Sources())
	resp, err := oracle.Fetch(context.Background(), "b", "ignored")
	require.NoError(t, err)
	require.True(t, runtime.Equal(runtime.NewMap().With("usd", runtime.Int(100)), resp.Data))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "runtime:\n  max_depth: 3\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "max_depth")
}

func TestEmptyFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, StorageMemory, cfg.Transactions.Storage)
	require.Equal(t, []string{"memory"}, cfg.Audit.Sinks)
}

func TestValidateAggregatesIssues(t *testing.T) {
	cfg := Default()
	cfg.Runtime.NestedTxn = "flatten"
	cfg.Runtime.LimitScope = "tenant"
	cfg.Transactions.Storage = "file"
	cfg.Audit.Sinks = []string{"file", "kafka"}
	cfg.Oracle.Sources = map[string]OracleSource{
		"both":    {URL: "https://x", Value: 1},
		"neither": {},
		"ftp":     {URL: "ftp://x"},
	}
	cfg.Logging.Format = "xml"
	cfg.Agents.History = -1

	err := cfg.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 10)
	require.Contains(t, err.Error(), "transactions.path is required for file storage")
	require.Contains(t, err.Error(), `audit.sinks[1] "kafka"`)
	require.Contains(t, err.Error(), "agents.history must not be negative")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DAL_TX_STORAGE":      "BADGER",
		"DAL_TX_STORAGE_PATH": "/var/lib/dal",
		"DAL_TX_TIMEOUT_MS":   "1500",
		"DAL_TX_MAX_ACTIVE":   "8",
		"DAL_LOG_LEVEL":       "warn",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	require.Equal(t, StorageBadger, cfg.Transactions.Storage)
	require.Equal(t, "/var/lib/dal", cfg.Transactions.Path)
	require.Equal(t, 1500*time.Millisecond, cfg.Transactions.ManagerOptions().DefaultTimeout)
	require.Equal(t, 8, cfg.Transactions.MaxActive)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())

	env["DAL_TX_MAX_KEYS"] = "lots"
	require.ErrorContains(t, Default().ApplyEnv(lookup), "DAL_TX_MAX_KEYS")
}

func TestComponentsFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Transactions.Storage = StorageFile
	cfg.Transactions.Path = filepath.Join(dir, "state.json")
	cfg.Audit.Sinks = []string{"memory", "file"}
	cfg.Audit.File = filepath.Join(dir, "audit", "audit.jsonl")
	require.NoError(t, cfg.Validate())

	storage, err := cfg.Transactions.OpenStorage()
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	auditor, err := cfg.Audit.Auditor(zap.NewNop())
	require.NoError(t, err)
	auditor.Record("alice", "Bank::transfer", security.Allow, "completed")
	require.NoError(t, auditor.Close())
	data, err := os.ReadFile(cfg.Audit.File)
	require.NoError(t, err)
	require.Contains(t, string(data), `"resource":"Bank::transfer"`)

	provs, err := cfg.Providers()
	require.NoError(t, err)
	require.Len(t, provs, 4)

	logger, err := cfg.Logging.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}
