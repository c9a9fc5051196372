package interpreter

import (
	"context"
	"errors"

	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
	"dal/runtime-go/pkg/txn"
)

// ExecutionContext is the state of one logical call chain. It is owned by a
// single goroutine; spawned agents receive their own.
type ExecutionContext struct {
	ctx       context.Context
	engine    *Engine
	principal security.Principal
	stack     *runtime.CallStack
	tx        *activeTxn
	agent     *agent
}

type activeTxn struct {
	id        string
	isolation txn.Isolation
	nested    int
}

func (e *Engine) newContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		ctx = context.Background()
	}
	principal, ok := PrincipalFrom(ctx)
	if !ok {
		if p := e.caller.Load(); p != nil {
			principal = *p
		}
	}
	return &ExecutionContext{
		ctx:       ctx,
		engine:    e,
		principal: principal,
		stack:     runtime.NewCallStack(e.opts.MaxCallDepth),
	}
}

// fork builds the context of a spawned agent: same principal, fresh stack and
// no active transaction.
func (ec *ExecutionContext) fork(ctx context.Context, a *agent) *ExecutionContext {
	return &ExecutionContext{
		ctx:       ctx,
		engine:    ec.engine,
		principal: ec.principal,
		stack:     runtime.NewCallStack(ec.engine.opts.MaxCallDepth),
		agent:     a,
	}
}

func (ec *ExecutionContext) Context() context.Context { return ec.ctx }
func (ec *ExecutionContext) Principal() security.Principal { return ec.principal }
func (ec *ExecutionContext) Depth() int { return ec.stack.Depth() }

// TransactionID returns the active transaction id, or "".
func (ec *ExecutionContext) TransactionID() string {
	if ec.tx == nil {
		return ""
	}
	return ec.tx.id
}

func (ec *ExecutionContext) checkCancelled() error {
	if err := ec.ctx.Err(); err != nil {
		return runtime.WrapError(runtime.Timeout, err, "execution cancelled: %v", err)
	}
	return nil
}

type principalKey struct{}

// WithPrincipal attaches the caller identity used by Execute and CallFunction.
func WithPrincipal(ctx context.Context, p security.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (security.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(security.Principal)
	return p, ok
}

type execContextKey struct{}

func contextWithExec(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

func execFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	if ec, ok := ctx.Value(execContextKey{}).(*ExecutionContext); ok {
		return ec
	}
	return nil
}

// State access goes through the active transaction when there is one and
// through a single-operation read-committed transaction otherwise.

func (ec *ExecutionContext) readState(key string) (runtime.Value, bool, error) {
	m := ec.engine.txns
	if ec.tx != nil {
		v, ok, err := m.Read(ec.tx.id, key)
		return v, ok, txnError(err)
	}
	v, ok, err := m.Get(key)
	return v, ok, txnError(err)
}

func (ec *ExecutionContext) writeState(key string, v runtime.Value) error {
	if ec.tx != nil {
		return txnError(ec.engine.txns.Write(ec.tx.id, key, v))
	}
	return ec.autocommit(func(id string) error { return ec.engine.txns.Write(id, key, v) })
}

func (ec *ExecutionContext) deleteState(key string) error {
	if ec.tx != nil {
		return txnError(ec.engine.txns.Delete(ec.tx.id, key))
	}
	return ec.autocommit(func(id string) error { return ec.engine.txns.Delete(id, key) })
}

func (ec *ExecutionContext) autocommit(op func(id string) error) error {
	m := ec.engine.txns
	id, err := m.Begin(ec.ctx, txn.ReadCommitted, 0)
	if err != nil {
		return txnError(err)
	}
	if err := op(id); err != nil {
		_ = m.Rollback(id)
		return txnError(err)
	}
	return txnError(m.Commit(id))
}

// txnError maps transaction manager failures onto runtime error kinds.
func txnError(err error) error {
	if err == nil {
		return nil
	}
	var rtErr *runtime.Error
	if errors.As(err, &rtErr) {
		return rtErr
	}
	switch {
	case errors.Is(err, txn.ErrConflict):
		return runtime.WrapError(runtime.TransactionConflict, err, "%v", err)
	case errors.Is(err, txn.ErrExpired), errors.Is(err, txn.ErrNotActive), errors.Is(err, txn.ErrNotFound):
		return runtime.WrapError(runtime.TransactionExpired, err, "%v", err)
	case errors.Is(err, txn.ErrLimitExceeded):
		return runtime.WrapError(runtime.ResourceLimitExceeded, err, "%v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return runtime.WrapError(runtime.Timeout, err, "%v", err)
	default:
		return runtime.WrapError(runtime.ProviderError, err, "state: %v", err)
	}
}
