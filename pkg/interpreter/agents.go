package interpreter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dal/runtime-go/pkg/runtime"
)

type AgentStatus int

const (
	AgentRunning AgentStatus = iota
	AgentResolved
	AgentFailed
	AgentCancelled
)

func (s AgentStatus) String() string {
	switch s {
	case AgentRunning:
		return "running"
	case AgentResolved:
		return "resolved"
	case AgentFailed:
		return "failed"
	case AgentCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type message struct {
	from  string
	value runtime.Value
}

// mailbox is an unbounded FIFO with a single consumer.
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push never blocks. It reports false once the owner has finished.
func (m *mailbox) push(msg message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) pop(ctx context.Context, timeout time.Duration) (message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue[0] = message{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return msg, nil
		}
		m.mu.Unlock()
		select {
		case <-m.notify:
		case <-ctx.Done():
			return message{}, runtime.WrapError(runtime.Timeout, ctx.Err(), "receive cancelled: %v", ctx.Err())
		case <-expired:
			return message{}, runtime.NewError(runtime.Timeout, "receive timed out after %s", timeout)
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

type agent struct {
	handle  runtime.HandleValue
	mailbox *mailbox
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status AgentStatus
	result runtime.Value
	err    error
}

func (a *agent) finish(val runtime.Value, err error) {
	a.mu.Lock()
	switch {
	case err == nil:
		a.status = AgentResolved
		a.result = val
	case errors.Is(err, context.Canceled):
		a.status = AgentCancelled
		a.err = err
	default:
		a.status = AgentFailed
		a.err = err
	}
	a.mu.Unlock()
	a.mailbox.close()
	a.cancel()
	close(a.done)
	if err != nil {
		Logger().Debug("agent finished with error", zap.String("agent", a.handle.ID), zap.Error(err))
	}
}

func (a *agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// await blocks until the agent finishes and returns its result or rethrows
// its error.
func (a *agent) await(ctx context.Context, timeout time.Duration) (runtime.Value, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, runtime.WrapError(runtime.Timeout, ctx.Err(), "await %s cancelled: %v", a.handle.ID, ctx.Err())
	case <-expired:
		return nil, runtime.NewError(runtime.Timeout, "await %s timed out after %s", a.handle.ID, timeout)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		var rtErr *runtime.Error
		if errors.As(a.err, &rtErr) {
			return nil, rtErr
		}
		if a.status == AgentCancelled {
			return nil, runtime.WrapError(runtime.Timeout, a.err, "agent %s was stopped", a.handle.ID)
		}
		return nil, runtime.WrapError(runtime.ProviderError, a.err, "agent %s failed: %v", a.handle.ID, a.err)
	}
	return a.result, nil
}

// spawn starts callee as an independent agent. Arity is checked in the
// spawning chain so mistakes surface there.
func (e *Engine) spawn(parent *ExecutionContext, callee Callable, receiver *runtime.HandleValue, args []runtime.Value) (runtime.HandleValue, error) {
	if err := checkArity(callee, len(args)); err != nil {
		return runtime.HandleValue{}, err
	}
	ctx, cancel := context.WithCancel(e.lifetime)
	a := &agent{
		handle:  runtime.HandleValue{Type: runtime.HandleAgent, ID: "agent_" + uuid.NewString(), Name: callee.Name()},
		mailbox: newMailbox(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.agents.Store(a.handle.ID, a)
	child := parent.fork(ctx, a)
	e.executor.Go(ctx, func(ctx context.Context) (runtime.Value, error) {
		return child.call(callee, receiver, args)
	}, func(val runtime.Value, err error) {
		a.finish(val, err)
		e.retire(a)
	})
	Logger().Debug("agent spawned", zap.String("agent", a.handle.ID), zap.String("function", callee.Name()))
	return a.handle, nil
}

func (e *Engine) agentOf(v runtime.Value) (*agent, error) {
	h, ok := v.(runtime.HandleValue)
	if !ok || h.Type != runtime.HandleAgent {
		return nil, typeMismatch("expected an agent handle, got %s", describe(v))
	}
	if a, ok := e.agents.Load(h.ID); ok {
		return a.(*agent), nil
	}
	if a, ok := e.finished.Get(h.ID); ok {
		return a, nil
	}
	return nil, runtime.NewError(runtime.NameError, "unknown agent %q", h.ID)
}

// retire moves a finished agent from the running set into the bounded
// history. The oldest finished agents are forgotten first.
func (e *Engine) retire(a *agent) {
	e.finished.Add(a.handle.ID, a)
	e.agents.Delete(a.handle.ID)
}

// RunningAgents reports how many spawned agents have not finished.
func (e *Engine) RunningAgents() int {
	n := 0
	e.agents.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (e *Engine) stopAgents() {
	e.agents.Range(func(_, v any) bool {
		v.(*agent).cancel()
		return true
	})
}
