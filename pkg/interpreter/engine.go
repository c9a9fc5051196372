package interpreter

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
	"dal/runtime-go/pkg/txn"
)

const (
	DefaultMaxCallDepth   = 256
	DefaultReceiveTimeout = 30 * time.Second
	DefaultAgentHistory   = 1024

	programFrame = "<program>"
)

// Options configures an Engine. Nil collaborators are replaced by in-memory
// defaults owned by the engine.
type Options struct {
	MaxCallDepth     int
	NestedTxn        NestedTxnPolicy
	LimitScope       security.LimitScope
	ExecutionTimeout time.Duration
	ReceiveTimeout   time.Duration
	// AgentHistory is how many finished agents stay awaitable.
	AgentHistory int
	Output       io.Writer

	Transactions *txn.Manager
	Registry     *security.Registry
	Auditor      *security.Auditor
	Executor     Executor
	Providers    []runtime.Provider
}

func (o Options) withDefaults() Options {
	if o.MaxCallDepth <= 0 {
		o.MaxCallDepth = DefaultMaxCallDepth
	}
	if o.NestedTxn == "" {
		o.NestedTxn = NestedTxnReuse
	}
	if o.LimitScope == "" {
		o.LimitScope = security.LimitPrincipal
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.AgentHistory <= 0 {
		o.AgentHistory = DefaultAgentHistory
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
	return o
}

// Engine loads and executes programs. It is safe for concurrent use; each
// Execute or CallFunction runs its own call chain.
type Engine struct {
	opts     Options
	global   *runtime.Environment
	dispatch *DispatchTable
	txns     *txn.Manager
	ownsTxns bool
	registry *security.Registry
	auditor  *security.Auditor
	guard    *security.ReentrancyGuard
	limiter  *security.Limiter
	executor Executor
	agents   sync.Map
	finished *lru.Cache[string, *agent]
	caller   atomic.Pointer[security.Principal]

	lifetime  context.Context
	shutdown  context.CancelFunc
	loadMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	finished, err := lru.New[string, *agent](opts.AgentHistory)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		opts:     opts,
		global:   runtime.NewEnvironment(nil),
		dispatch: newDispatchTable(),
		txns:     opts.Transactions,
		registry: opts.Registry,
		auditor:  opts.Auditor,
		guard:    security.NewReentrancyGuard(),
		limiter:  security.NewLimiter(opts.LimitScope),
		executor: opts.Executor,
		finished: finished,
	}
	if e.txns == nil {
		m, err := txn.NewManager(txn.NewMemoryStorage(), txn.Options{})
		if err != nil {
			return nil, err
		}
		e.txns = m
		e.ownsTxns = true
	}
	if e.registry == nil {
		e.registry = security.NewRegistry(nil)
	}
	if e.auditor == nil {
		e.auditor = security.NewAuditor()
	}
	if e.executor == nil {
		e.executor = NewGoroutineExecutor()
	}
	e.lifetime, e.shutdown = context.WithCancel(context.Background())

	for _, p := range append(e.hostProviders(), opts.Providers...) {
		if err := e.dispatch.RegisterProvider(p); err != nil {
			return nil, multierr.Append(err, e.Close())
		}
	}
	Logger().Debug("engine ready",
		zap.Int("max_call_depth", opts.MaxCallDepth),
		zap.String("nested_txn", string(opts.NestedTxn)),
		zap.String("limit_scope", string(opts.LimitScope)),
		zap.Strings("namespaces", e.dispatch.Namespaces()))
	return e, nil
}

// RegisterProvider adds a namespace of built-ins after construction.
func (e *Engine) RegisterProvider(p runtime.Provider) error {
	return e.dispatch.RegisterProvider(p)
}

// SetCurrentCaller sets the principal used when a context carries none.
func (e *Engine) SetCurrentCaller(p security.Principal) {
	e.caller.Store(&p)
}

func (e *Engine) Dispatch() *DispatchTable { return e.dispatch }
func (e *Engine) Transactions() *txn.Manager { return e.txns }
func (e *Engine) Auditor() *security.Auditor { return e.auditor }
func (e *Engine) Registry() *security.Registry { return e.registry }
func (e *Engine) Guard() *security.ReentrancyGuard { return e.guard }
func (e *Engine) Limiter() *security.Limiter { return e.limiter }

// Load validates and registers every top-level function and service of prog.
// Nothing is registered when any declaration fails.
func (e *Engine) Load(prog *ast.Program) error {
	if prog == nil {
		return runtime.NewError(runtime.LoadError, "nil program")
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	functions := make(map[string]*userFunction)
	services := make(map[string]*serviceType)
	for _, stmt := range prog.Body {
		switch def := stmt.(type) {
		case *ast.FunctionDefinition:
			if _, dup := functions[def.Name]; dup {
				return runtime.NewError(runtime.LoadError, "function %s declared twice", def.Name)
			}
			if _, dup := services[def.Name]; dup {
				return runtime.NewError(runtime.LoadError, "%s declared as both function and service", def.Name)
			}
			fn, err := newUserFunction(e, def, nil)
			if err != nil {
				return err
			}
			functions[def.Name] = fn
		case *ast.ServiceDefinition:
			if _, dup := services[def.Name]; dup {
				return runtime.NewError(runtime.LoadError, "service %s declared twice", def.Name)
			}
			if _, dup := functions[def.Name]; dup {
				return runtime.NewError(runtime.LoadError, "%s declared as both function and service", def.Name)
			}
			svc, err := newServiceType(e, def)
			if err != nil {
				return err
			}
			services[def.Name] = svc
		}
	}
	if err := e.dispatch.define(functions, services); err != nil {
		return err
	}
	Logger().Debug("program loaded", zap.Int("functions", len(functions)), zap.Int("services", len(services)))
	return nil
}

// Execute loads prog and runs its top-level statements in a program frame of
// their own. Bindings made by those statements are dropped when Execute
// returns and are not visible to declared functions.
// The result is the value of the last statement or of a top-level return.
func (e *Engine) Execute(ctx context.Context, prog *ast.Program) (runtime.Value, error) {
	if err := e.Load(prog); err != nil {
		return nil, err
	}
	ctx, cancel := e.deadline(ctx)
	defer cancel()
	ec := e.newContext(ctx)
	frame, err := ec.stack.Push(programFrame, "", e.global)
	if err != nil {
		return nil, err
	}
	defer ec.stack.Pop()

	var result runtime.Value = runtime.Null
	for _, stmt := range prog.Body {
		switch stmt.(type) {
		case *ast.FunctionDefinition, *ast.ServiceDefinition:
			continue
		}
		val, err := ec.evaluateStatement(stmt, frame.Scope)
		if err != nil {
			if _, ok := err.(returnSignal); ok {
				return settle(nil, err)
			}
			_, err = settle(nil, err)
			e.logFailure("execute", ec, err)
			return nil, err
		}
		result = val
	}
	return result, nil
}

// CallFunction invokes a user function, service constructor or built-in by
// name, e.g. "transfer", "Bank" or "oracle::fetch".
func (e *Engine) CallFunction(ctx context.Context, name string, args ...runtime.Value) (runtime.Value, error) {
	callee, err := e.dispatch.Resolve(name)
	if err != nil {
		return nil, err
	}
	return e.invoke(ctx, callee, nil, args)
}

// CallMethod invokes method on a service instance.
func (e *Engine) CallMethod(ctx context.Context, instance runtime.HandleValue, method string, args ...runtime.Value) (runtime.Value, error) {
	m, err := e.method(instance, method)
	if err != nil {
		return nil, err
	}
	return e.invoke(ctx, m, &instance, args)
}

// CallValue invokes a function value returned by an earlier execution.
func (e *Engine) CallValue(ctx context.Context, fn runtime.Value, args ...runtime.Value) (runtime.Value, error) {
	callee, receiver, err := e.callableFromValue(fn)
	if err != nil {
		return nil, err
	}
	return e.invoke(ctx, callee, receiver, args)
}

func (e *Engine) invoke(ctx context.Context, callee Callable, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	ctx, cancel := e.deadline(ctx)
	defer cancel()
	ec := e.newContext(ctx)
	val, err := ec.call(callee, receiver, args)
	if err != nil {
		e.logFailure(callee.Name(), ec, err)
		return nil, err
	}
	return val, nil
}

func (e *Engine) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.opts.ExecutionTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.ExecutionTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) logFailure(what string, ec *ExecutionContext, err error) {
	fields := []zap.Field{zap.String("call", what), zap.String("principal", ec.principal.ID), zap.Error(err)}
	if kind, ok := runtime.KindOf(err); ok {
		fields = append(fields, zap.Stringer("kind", kind))
	}
	Logger().Debug("uncaught error", fields...)
}

// Close stops running agents and releases owned resources.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.shutdown()
		e.stopAgents()
		e.executor.Wait()
		if e.ownsTxns {
			e.closeErr = multierr.Append(e.closeErr, e.txns.Close())
		}
		if e.opts.Auditor == nil {
			e.closeErr = multierr.Append(e.closeErr, e.auditor.Close())
		}
	})
	return e.closeErr
}
