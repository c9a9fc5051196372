package security

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrReentrancy    = errors.New("reentrancy violation")
	ErrLimitExceeded = errors.New("resource limit exceeded")
)

// GuardKey identifies one executing method of one instance.
type GuardKey struct {
	InstanceID string
	Method     string
}

func (k GuardKey) String() string {
	if k.InstanceID == "" {
		return k.Method
	}
	return k.InstanceID + "::" + k.Method
}

// ReentrancyGuard tracks currently executing keys. Distinct keys never
// contend with each other.
type ReentrancyGuard struct {
	held sync.Map
}

func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{}
}

// Acquire claims key and returns its release function. Release is idempotent.
func (g *ReentrancyGuard) Acquire(key GuardKey) (func(), error) {
	token := new(int)
	if _, loaded := g.held.LoadOrStore(key, token); loaded {
		return nil, fmt.Errorf("%s already executing: %w", key, ErrReentrancy)
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.held.CompareAndDelete(key, token) })
	}, nil
}

// Held reports whether key is currently claimed.
func (g *ReentrancyGuard) Held(key GuardKey) bool {
	_, ok := g.held.Load(key)
	return ok
}

// Active lists the claimed keys in sorted order.
func (g *ReentrancyGuard) Active() []GuardKey {
	var out []GuardKey
	g.held.Range(func(k, _ any) bool {
		out = append(out, k.(GuardKey))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// LimitScope selects how @limit counters are partitioned.
type LimitScope string

const (
	LimitGlobal    LimitScope = "global"
	LimitPrincipal LimitScope = "principal"
	LimitInstance  LimitScope = "instance"
)

func ParseLimitScope(s string) (LimitScope, error) {
	switch LimitScope(s) {
	case LimitGlobal, LimitPrincipal, LimitInstance:
		return LimitScope(s), nil
	case "":
		return LimitPrincipal, nil
	default:
		return "", fmt.Errorf("unknown limit scope %q", s)
	}
}

// Limiter counts invocations of limited functions.
type Limiter struct {
	mu       sync.Mutex
	scope    LimitScope
	counters map[string]int64
}

func NewLimiter(scope LimitScope) *Limiter {
	if scope == "" {
		scope = LimitPrincipal
	}
	return &Limiter{scope: scope, counters: make(map[string]int64)}
}

func (l *Limiter) Scope() LimitScope { return l.scope }

// Key builds the counter key for one call under the configured scope.
func (l *Limiter) Key(function, principalID, instanceID string) string {
	switch l.scope {
	case LimitPrincipal:
		return "principal:" + principalID + "|" + function
	case LimitInstance:
		return "instance:" + instanceID + "|" + function
	default:
		return "global|" + function
	}
}

// Take increments the counter for key unless it already reached limit.
func (l *Limiter) Take(key string, limit int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.counters[key]
	if current >= limit {
		return current, fmt.Errorf("%s reached %d of %d: %w", key, current, limit, ErrLimitExceeded)
	}
	l.counters[key] = current + 1
	return current + 1, nil
}

// Refund returns a slot taken for a call that was rejected before its body ran.
func (l *Limiter) Refund(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.counters[key]; n > 1 {
		l.counters[key] = n - 1
	} else {
		delete(l.counters, key)
	}
}

// Count returns the current value for key.
func (l *Limiter) Count(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters[key]
}

// Reset clears every counter.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.counters = make(map[string]int64)
	l.mu.Unlock()
}
