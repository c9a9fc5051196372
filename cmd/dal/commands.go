package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/config"
	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(opts globalOptions) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if opts.caller != "" {
		cfg.Security.Caller = config.CallerConfig{ID: opts.caller, Roles: opts.roles}
	} else if len(opts.roles) > 0 {
		cfg.Security.Caller.Roles = opts.roles
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readProgram(path string) (*ast.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	prog, err := ast.DecodeProgram(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}

// session loads configuration and the program, then starts the runtime.
// The returned stop function must be called once the caller is done.
func session(opts globalOptions, programPath string, stdout io.Writer) (*runtimeApp, *ast.Program, context.Context, func() error, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	prog, err := readProgram(programPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	app, err := newRuntimeApp(ctx, cfg, stdout)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, err
	}
	stop := func() error {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		return app.Stop(stopCtx)
	}
	return app, prog, ctx, stop, nil
}

func runProgram(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "run expects exactly one program file")
		return exitUsage
	}
	app, prog, ctx, stop, err := session(opts, args[0], stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	result, runErr := app.Engine.Execute(ctx, prog)
	return finish(app, opts, result, runErr, stop, stdout, stderr)
}

func runCall(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "call expects a program file and a function name")
		return exitUsage
	}
	callArgs := make([]runtime.Value, 0, len(args)-2)
	for _, raw := range args[2:] {
		callArgs = append(callArgs, parseArgument(raw))
	}

	app, prog, ctx, stop, err := session(opts, args[0], stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	var result runtime.Value
	runErr := app.Engine.Load(prog)
	if runErr == nil {
		result, runErr = app.Engine.CallFunction(ctx, args[1], callArgs...)
	}
	return finish(app, opts, result, runErr, stop, stdout, stderr)
}

func runCheckConfig(opts globalOptions, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	source := cfg.Path
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(stdout, "config ok (%s): storage=%s audit=%v nested_txn=%s limit_scope=%s\n",
		source, cfg.Transactions.Storage, cfg.Audit.Sinks, cfg.Runtime.NestedTxn, cfg.Runtime.LimitScope)
	return exitOK
}

// parseArgument reads a command line argument as JSON, falling back to a
// plain string.
func parseArgument(raw string) runtime.Value {
	if v, err := runtime.ParseJSONValue([]byte(raw)); err == nil {
		return v
	}
	return runtime.String(raw)
}

func finish(app *runtimeApp, opts globalOptions, result runtime.Value, runErr error, stop func() error, stdout, stderr io.Writer) int {
	code := exitOK
	if runErr != nil {
		reportError(app.Logger, runErr, stderr)
		code = exitFailure
	} else if result != nil && result.Kind() != runtime.KindNull {
		fmt.Fprintln(stdout, runtime.Format(result))
	}
	if opts.showAudit {
		writeAudit(app.Auditor.Records(), stdout)
	}
	if err := stop(); err != nil {
		fmt.Fprintf(stderr, "shutdown: %v\n", err)
		if code == exitOK {
			code = exitFailure
		}
	}
	return code
}

func reportError(logger *zap.Logger, err error, stderr io.Writer) {
	var rtErr *runtime.Error
	if errors.As(err, &rtErr) {
		fmt.Fprintf(stderr, "%s: %s\n", rtErr.Kind, rtErr.Message)
	} else {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	logger.Debug("execution failed", zap.Error(err))
}

func writeAudit(records []security.Record, w io.Writer) {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		_ = enc.Encode(rec)
	}
}
