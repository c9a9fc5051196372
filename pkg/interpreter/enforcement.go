package interpreter

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
	"dal/runtime-go/pkg/txn"
)

// NestedTxnPolicy decides what a @txn call does when a transaction is
// already active on the call chain.
type NestedTxnPolicy string

const (
	// NestedTxnReuse joins the active transaction inside a savepoint.
	NestedTxnReuse NestedTxnPolicy = "reuse"
	// NestedTxnReject fails the inner call with TransactionConflict.
	NestedTxnReject NestedTxnPolicy = "reject"
)

func ParseNestedTxnPolicy(s string) (NestedTxnPolicy, error) {
	switch NestedTxnPolicy(s) {
	case NestedTxnReuse, NestedTxnReject:
		return NestedTxnPolicy(s), nil
	case "":
		return NestedTxnReuse, nil
	default:
		return "", fmt.Errorf("unknown nested transaction policy %q", s)
	}
}

// enforce composes the attribute wrapper for f once, at load time. The call
// runs auth, limit, guard, transaction, body, commit or rollback, release and
// finally audit, in that order.
func (e *Engine) enforce(f *userFunction) invokeFunc {
	body := f.runBody
	p := f.policy
	if !p.enforced() {
		return body
	}
	secure := p.auth == authSecure
	resource := f.Name()

	return func(ec *ExecutionContext, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
		instanceID := ""
		if receiver != nil {
			instanceID = receiver.ID
		}
		deny := func(err *runtime.Error) (runtime.Value, error) {
			if secure {
				e.audit(ec, resource, security.Deny, err.Message)
			}
			return nil, err
		}

		if secure {
			if err := e.authorize(ec, resource, p.permission); err != nil {
				return deny(err)
			}
		}
		limitKey := ""
		if p.limit > 0 {
			limitKey = e.limiter.Key(resource, ec.principal.ID, instanceID)
			if _, err := e.limiter.Take(limitKey, p.limit); err != nil {
				return deny(runtime.WrapError(runtime.ResourceLimitExceeded, err, "%s allows %d calls", resource, p.limit))
			}
		}
		release := func() {}
		if secure {
			r, err := e.guard.Acquire(security.GuardKey{InstanceID: instanceID, Method: f.name})
			if err != nil {
				// Rejected re-entries do not count against the limit.
				if limitKey != "" {
					e.limiter.Refund(limitKey)
				}
				return deny(runtime.WrapError(runtime.ReentrancyViolation, err, "%s is already executing", resource))
			}
			release = r
		}

		val, err := func() (runtime.Value, error) {
			defer release()
			return e.transactional(ec, resource, p.txn, func() (runtime.Value, error) {
				return body(ec, receiver, args)
			})
		}()

		if secure {
			reason := "completed"
			if err != nil {
				reason = "failed: " + err.Error()
			}
			e.audit(ec, resource, security.Allow, reason)
		}
		return val, err
	}
}

func (e *Engine) authorize(ec *ExecutionContext, resource, permission string) *runtime.Error {
	p := ec.principal
	if p.IsDefault() {
		return runtime.NewError(runtime.AccessDenied, "%s requires an authenticated caller", resource)
	}
	if permission != "" && !e.registry.Check(p, resource, permission) {
		return runtime.NewError(runtime.AccessDenied, "%s lacks %q on %s", p.ID, permission, resource)
	}
	return nil
}

func (e *Engine) audit(ec *ExecutionContext, resource string, decision security.Decision, reason string) {
	e.auditor.Record(ec.principal.ID, resource, decision, reason)
}

// transactional runs body inside the transaction described by txAttr. Any error
// from body rolls back before it propagates.
func (e *Engine) transactional(ec *ExecutionContext, resource string, txAttr *Attribute, body func() (runtime.Value, error)) (runtime.Value, error) {
	if txAttr == nil {
		return body()
	}
	if ec.tx != nil {
		return e.nestedTransaction(ec, resource, txAttr, body)
	}

	id, err := e.txns.Begin(ec.ctx, txAttr.Isolation, txAttr.Timeout)
	if err != nil {
		return nil, txnError(err)
	}
	ec.tx = &activeTxn{id: id, isolation: txAttr.Isolation}
	defer func() { ec.tx = nil }()

	val, err := body()
	if err != nil {
		if rbErr := e.txns.Rollback(id); rbErr != nil && !errors.Is(rbErr, txn.ErrExpired) && !errors.Is(rbErr, txn.ErrNotActive) {
			Logger().Warn("rollback failed", zap.String("tx", id), zap.String("function", resource), zap.Error(rbErr))
		}
		return nil, err
	}
	if err := e.txns.Commit(id); err != nil {
		return nil, txnError(err)
	}
	return val, nil
}

func (e *Engine) nestedTransaction(ec *ExecutionContext, resource string, txAttr *Attribute, body func() (runtime.Value, error)) (runtime.Value, error) {
	outer := ec.tx
	if e.opts.NestedTxn == NestedTxnReject {
		return nil, runtime.NewError(runtime.TransactionConflict, "%s: nested transaction rejected while %s is active", resource, outer.id)
	}
	if txAttr.Isolation > outer.isolation {
		return nil, runtime.NewError(runtime.TransactionConflict, "%s: cannot raise isolation from %s to %s inside %s",
			resource, outer.isolation, txAttr.Isolation, outer.id)
	}

	outer.nested++
	defer func() { outer.nested-- }()
	name := fmt.Sprintf("nested_%d", outer.nested)
	if err := e.txns.Savepoint(outer.id, name); err != nil {
		return nil, txnError(err)
	}
	val, err := body()
	if err != nil {
		if rbErr := e.txns.RollbackTo(outer.id, name); rbErr != nil {
			Logger().Warn("savepoint rollback failed", zap.String("tx", outer.id), zap.String("savepoint", name), zap.Error(rbErr))
			return nil, err
		}
		_ = e.txns.ReleaseSavepoint(outer.id, name)
		return nil, err
	}
	if err := e.txns.ReleaseSavepoint(outer.id, name); err != nil {
		return nil, txnError(err)
	}
	return val, nil
}
