package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"dal/runtime-go/pkg/interpreter"
	"dal/runtime-go/pkg/security"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "dal.yml"

// Config is the parsed contents of dal.yml.
type Config struct {
	Path string `yaml:"-"`

	Runtime      RuntimeConfig     `yaml:"runtime"`
	Transactions TransactionConfig `yaml:"transactions"`
	Audit        AuditConfig       `yaml:"audit"`
	Security     SecurityConfig    `yaml:"security"`
	Agents       AgentsConfig      `yaml:"agents"`
	Oracle       OracleConfig      `yaml:"oracle"`
	AI           AIConfig          `yaml:"ai"`
	Logging      LoggingConfig     `yaml:"logging"`
}

type RuntimeConfig struct {
	MaxCallDepth       int    `yaml:"max_call_depth"`
	NestedTxn          string `yaml:"nested_txn"`
	LimitScope         string `yaml:"limit_scope"`
	ExecutionTimeoutMS int64  `yaml:"execution_timeout_ms"`
	// Workers bounds concurrently running agents; zero means unbounded.
	Workers int64 `yaml:"workers"`
}

// StorageKind selects the committed-state backend.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageFile   StorageKind = "file"
	StorageSQLite StorageKind = "sqlite"
	StorageBadger StorageKind = "badger"
)

func (k StorageKind) IsValid() bool {
	switch k {
	case StorageMemory, StorageFile, StorageSQLite, StorageBadger:
		return true
	}
	return false
}

type TransactionConfig struct {
	Storage          StorageKind `yaml:"storage"`
	Path             string      `yaml:"path"`
	DefaultTimeoutMS int64       `yaml:"default_timeout_ms"`
	LockWaitMS       int64       `yaml:"lock_wait_ms"`
	MaxActive        int         `yaml:"max_active"`
	MaxKeys          int         `yaml:"max_keys"`
	LogPath          string      `yaml:"log_path"`
	FinishedHistory  int         `yaml:"finished_history"`
}

type AuditConfig struct {
	// Sinks lists memory, log and file. Records are always kept in memory.
	Sinks []string `yaml:"sinks"`
	File  string   `yaml:"file"`
}

type Grant struct {
	Principal  string   `yaml:"principal"`
	Resource   string   `yaml:"resource"`
	Operations []string `yaml:"operations"`
}

type CallerConfig struct {
	ID    string   `yaml:"id"`
	Roles []string `yaml:"roles"`
}

type SecurityConfig struct {
	// Roles replaces the built-in role table when set.
	Roles  map[string][]string `yaml:"roles"`
	Grants []Grant             `yaml:"grants"`
	// Caller is the principal used by the CLI when none is given on the command line.
	Caller CallerConfig `yaml:"caller"`
}

type AgentsConfig struct {
	ReceiveTimeoutMS int64 `yaml:"receive_timeout_ms"`
	// History bounds how many finished agents can still be awaited.
	History int `yaml:"history"`
}

// OracleSource is either a static value or an HTTP endpoint.
type OracleSource struct {
	Value any    `yaml:"value"`
	URL   string `yaml:"url"`
}

type OracleConfig struct {
	CacheTTLMS    int64                   `yaml:"cache_ttl_ms"`
	CacheSize     int                     `yaml:"cache_size"`
	RatePerSecond float64                 `yaml:"rate_per_second"`
	Burst         int                     `yaml:"burst"`
	TimeoutMS     int64                   `yaml:"timeout_ms"`
	MaxParallel   int                     `yaml:"max_parallel"`
	Sources       map[string]OracleSource `yaml:"sources"`
}

type AIConfig struct {
	Model     string `yaml:"model"`
	TimeoutMS int64  `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxCallDepth: interpreter.DefaultMaxCallDepth,
			NestedTxn:    string(interpreter.NestedTxnReuse),
			LimitScope:   string(security.LimitPrincipal),
		},
		Transactions: TransactionConfig{
			Storage:    StorageMemory,
			LockWaitMS: 30_000,
		},
		Audit:   AuditConfig{Sinks: []string{"memory"}},
		Agents:  AgentsConfig{ReceiveTimeoutMS: interpreter.DefaultReceiveTimeout.Milliseconds(), History: interpreter.DefaultAgentHistory},
		Oracle:  OracleConfig{CacheSize: 256, Burst: 1, TimeoutMS: 10_000},
		AI:      AIConfig{Model: "mock"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// ValidationError aggregates configuration validation failures.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "config: invalid configuration"
	}
	var b strings.Builder
	b.WriteString("config validation failed:")
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", absPath, err)
	}
	defer file.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", absPath, err)
	}
	cfg.Path = absPath
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or DefaultFile when path is empty. A missing
// DefaultFile yields Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultFile); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(DefaultFile)
}

// ApplyEnv overrides settings from DAL_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs ValidationError
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	num := func(name string, set func(int64)) {
		v, ok := lookup(name)
		if !ok {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs.Issues = append(errs.Issues, fmt.Sprintf("%s=%q is not an integer", name, v))
			return
		}
		set(n)
	}

	if v, ok := lookup("DAL_TX_STORAGE"); ok {
		c.Transactions.Storage = StorageKind(strings.ToLower(v))
	}
	str("DAL_TX_STORAGE_PATH", &c.Transactions.Path)
	str("DAL_TX_LOG_PATH", &c.Transactions.LogPath)
	num("DAL_TX_TIMEOUT_MS", func(n int64) { c.Transactions.DefaultTimeoutMS = n })
	num("DAL_TX_MAX_ACTIVE", func(n int64) { c.Transactions.MaxActive = int(n) })
	num("DAL_TX_MAX_KEYS", func(n int64) { c.Transactions.MaxKeys = int(n) })
	str("DAL_LOG_LEVEL", &c.Logging.Level)

	if len(errs.Issues) > 0 {
		return &errs
	}
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationError
	add := func(format string, args ...any) {
		errs.Issues = append(errs.Issues, fmt.Sprintf(format, args...))
	}

	if c.Runtime.MaxCallDepth < 0 {
		add("runtime.max_call_depth must not be negative")
	}
	if _, err := interpreter.ParseNestedTxnPolicy(c.Runtime.NestedTxn); err != nil {
		add("runtime.nested_txn: %v", err)
	}
	if _, err := security.ParseLimitScope(c.Runtime.LimitScope); err != nil {
		add("runtime.limit_scope: %v", err)
	}
	if c.Runtime.ExecutionTimeoutMS < 0 {
		add("runtime.execution_timeout_ms must not be negative")
	}
	if c.Runtime.Workers < 0 {
		add("runtime.workers must not be negative")
	}

	tx := c.Transactions
	if !tx.Storage.IsValid() {
		add("transactions.storage %q must be one of memory, file, sqlite, badger", tx.Storage)
	}
	if (tx.Storage == StorageFile || tx.Storage == StorageSQLite) && tx.Path == "" {
		add("transactions.path is required for %s storage", tx.Storage)
	}
	for name, v := range map[string]int64{
		"default_timeout_ms": tx.DefaultTimeoutMS,
		"lock_wait_ms":       tx.LockWaitMS,
		"max_active":         int64(tx.MaxActive),
		"max_keys":           int64(tx.MaxKeys),
		"finished_history":   int64(tx.FinishedHistory),
	} {
		if v < 0 {
			add("transactions.%s must not be negative", name)
		}
	}

	for i, sink := range c.Audit.Sinks {
		switch sink {
		case "memory", "log":
		case "file":
			if c.Audit.File == "" {
				add("audit.file is required for the file sink")
			}
		default:
			add("audit.sinks[%d] %q must be one of memory, log, file", i, sink)
		}
	}

	for role, ops := range c.Security.Roles {
		if role == "" {
			add("security.roles contains an empty role name")
		}
		if len(ops) == 0 {
			add("security.roles.%s must list at least one operation", role)
		}
	}
	for i, g := range c.Security.Grants {
		if g.Principal == "" || g.Resource == "" {
			add("security.grants[%d] needs principal and resource", i)
		}
		if len(g.Operations) == 0 {
			add("security.grants[%d] must list at least one operation", i)
		}
	}

	if c.Agents.ReceiveTimeoutMS < 0 {
		add("agents.receive_timeout_ms must not be negative")
	}
	if c.Agents.History < 0 {
		add("agents.history must not be negative")
	}

	o := c.Oracle
	if o.CacheTTLMS < 0 || o.CacheSize < 0 || o.TimeoutMS < 0 || o.MaxParallel < 0 {
		add("oracle settings must not be negative")
	}
	if o.RatePerSecond < 0 {
		add("oracle.rate_per_second must not be negative")
	}
	names := make([]string, 0, len(o.Sources))
	for name := range o.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := o.Sources[name]
		switch {
		case src.URL != "" && src.Value != nil:
			add("oracle.sources.%s sets both url and value", name)
		case src.URL == "" && src.Value == nil:
			add("oracle.sources.%s needs a url or a value", name)
		case src.URL != "":
			if u, err := url.Parse(src.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				add("oracle.sources.%s url %q must be http or https", name, src.URL)
			}
		}
	}

	if c.AI.TimeoutMS < 0 {
		add("ai.timeout_ms must not be negative")
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		add("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format %q must be json or console", c.Logging.Format)
	}

	if len(errs.Issues) > 0 {
		sort.Strings(errs.Issues)
		return &errs
	}
	return nil
}

func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
