package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dal/runtime-go/pkg/runtime"
)

type pendingWrite struct {
	value   runtime.Value
	deleted bool
}

type cachedRead struct {
	value runtime.Value
	found bool
}

type savepoint struct {
	name   string
	writes map[string]pendingWrite
	order  []string
}

type transaction struct {
	id        string
	isolation Isolation
	started   time.Time
	deadline  time.Time
	writes    map[string]pendingWrite
	order     []string
	// reads holds the committed version observed per key; commit validation
	// compares it against the current version.
	reads      map[string]uint64
	cache      map[string]cachedRead
	savepoints []savepoint
	timer      *time.Timer
	serial     bool
}

type finishState struct {
	status  Status
	expired bool
}

type dirtyWrite struct {
	txID  string
	write pendingWrite
}

// Manager coordinates transactions over a Storage. All state changes run
// under one mutex, which also orders commits globally.
type Manager struct {
	mu        sync.Mutex
	storage   Storage
	opts      Options
	seq       uint64
	versions  map[string]uint64
	active    map[string]*transaction
	finished  *lru.Cache[string, finishState]
	dirty     map[string][]dirtyWrite
	serial    chan struct{}
	observers []Observer
	closed    bool
}

func NewManager(storage Storage, opts Options, observers ...Observer) (*Manager, error) {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	opts = opts.withDefaults()
	finished, err := lru.New[string, finishState](opts.History)
	if err != nil {
		return nil, fmt.Errorf("txn: history cache: %w", err)
	}
	return &Manager{
		storage:   storage,
		opts:      opts,
		versions:  make(map[string]uint64),
		active:    make(map[string]*transaction),
		finished:  finished,
		dirty:     make(map[string][]dirtyWrite),
		serial:    make(chan struct{}, 1),
		observers: observers,
	}, nil
}

// AddObserver registers an observer for subsequent events.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Begin starts a transaction. A zero timeout falls back to Options.DefaultTimeout.
// Serializable transactions wait for the serialization slot first.
func (m *Manager) Begin(ctx context.Context, isolation Isolation, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	serial := isolation == Serializable
	if serial {
		if err := m.acquireSerial(ctx, timeout); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		if serial {
			m.releaseSerial()
		}
		return "", fmt.Errorf("txn: manager closed: %w", ErrNotActive)
	}
	if len(m.active) >= m.opts.MaxActive {
		if serial {
			m.releaseSerial()
		}
		return "", fmt.Errorf("txn: %d active transactions: %w", len(m.active), ErrLimitExceeded)
	}
	m.seq++
	now := time.Now()
	tx := &transaction{
		id:        fmt.Sprintf("tx_%d", m.seq),
		isolation: isolation,
		started:   now,
		writes:    make(map[string]pendingWrite),
		reads:     make(map[string]uint64),
		cache:     make(map[string]cachedRead),
		serial:    serial,
	}
	if timeout > 0 {
		tx.deadline = now.Add(timeout)
		id := tx.id
		tx.timer = time.AfterFunc(timeout, func() { m.expire(id) })
	}
	m.active[tx.id] = tx
	m.emit(Event{Type: EventBegin, TxID: tx.id, Isolation: isolation})
	Logger().Debug("transaction begin", zap.String("tx", tx.id), zap.Stringer("isolation", isolation), zap.Duration("timeout", timeout))
	return tx.id, nil
}

func (m *Manager) acquireSerial(ctx context.Context, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	wait := m.opts.LockWait
	if timeout > 0 && timeout < wait {
		wait = timeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case m.serial <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("txn: waiting for serializable slot: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("txn: serializable slot busy after %s: %w", wait, ErrConflict)
	}
}

func (m *Manager) releaseSerial() {
	select {
	case <-m.serial:
	default:
	}
}

// Read returns the value of key as seen by the transaction.
func (m *Manager) Read(id, key string) (runtime.Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return nil, false, err
	}
	defer m.emit(Event{Type: EventRead, TxID: id, Isolation: tx.isolation, Key: key})

	if w, ok := tx.writes[key]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	switch tx.isolation {
	case ReadUncommitted:
		if stack := m.dirty[key]; len(stack) > 0 {
			w := stack[len(stack)-1].write
			if w.deleted {
				return nil, false, nil
			}
			return w.value, true, nil
		}
		return m.readCommittedLocked(key)
	case RepeatableRead, Serializable:
		if c, ok := tx.cache[key]; ok {
			return c.value, c.found, nil
		}
		v, found, err := m.readCommittedLocked(key)
		if err != nil {
			return nil, false, err
		}
		tx.cache[key] = cachedRead{value: v, found: found}
		if _, seen := tx.reads[key]; !seen {
			tx.reads[key] = m.versions[key]
		}
		return v, found, nil
	default:
		return m.readCommittedLocked(key)
	}
}

func (m *Manager) readCommittedLocked(key string) (runtime.Value, bool, error) {
	v, found, err := m.storage.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("txn: read %s: %w", key, err)
	}
	return v, found, nil
}

// Write buffers value for key until commit.
func (m *Manager) Write(id, key string, value runtime.Value) error {
	return m.buffer(id, key, pendingWrite{value: value})
}

// Delete buffers removal of key until commit.
func (m *Manager) Delete(id, key string) error {
	return m.buffer(id, key, pendingWrite{deleted: true})
}

func (m *Manager) buffer(id, key string, w pendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if _, exists := tx.writes[key]; !exists {
		if len(tx.writes) >= m.opts.MaxKeys {
			return fmt.Errorf("txn: %s exceeds %d keys: %w", id, m.opts.MaxKeys, ErrLimitExceeded)
		}
		tx.order = append(tx.order, key)
	}
	if tx.isolation.validates() {
		if _, seen := tx.reads[key]; !seen {
			tx.reads[key] = m.versions[key]
		}
	}
	tx.writes[key] = w
	m.dirty[key] = append(m.dirty[key], dirtyWrite{txID: id, write: w})
	m.emit(Event{Type: EventWrite, TxID: id, Isolation: tx.isolation, Key: key})
	return nil
}

// Commit validates and applies the write set. On ErrConflict or a storage
// failure the transaction is rolled back.
func (m *Manager) Commit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if tx.isolation.validates() {
		for key, seen := range tx.reads {
			if current := m.versions[key]; current != seen {
				m.finishLocked(tx, StatusRolledBack, false)
				m.emit(Event{Type: EventConflict, TxID: id, Isolation: tx.isolation, Key: key,
					Detail: fmt.Sprintf("read version %d, committed version %d", seen, current)})
				return fmt.Errorf("txn: %s: key %s changed since read: %w", id, key, ErrConflict)
			}
		}
	}
	batch := make([]Write, 0, len(tx.order))
	for _, key := range tx.order {
		w, ok := tx.writes[key]
		if !ok {
			continue
		}
		batch = append(batch, Write{Key: key, Value: w.value, Delete: w.deleted})
	}
	if len(batch) > 0 {
		if err := m.storage.Apply(batch); err != nil {
			m.finishLocked(tx, StatusRolledBack, false)
			m.emit(Event{Type: EventRollback, TxID: id, Isolation: tx.isolation, Detail: err.Error()})
			Logger().Error("transaction apply failed", zap.String("tx", id), zap.Error(err))
			return fmt.Errorf("txn: commit %s: %w", id, err)
		}
	}
	for _, w := range batch {
		m.versions[w.Key]++
	}
	m.finishLocked(tx, StatusCommitted, false)
	m.emit(Event{Type: EventCommit, TxID: id, Isolation: tx.isolation, Detail: fmt.Sprintf("%d writes", len(batch))})
	return nil
}

// Rollback discards the write set.
func (m *Manager) Rollback(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	m.finishLocked(tx, StatusRolledBack, false)
	m.emit(Event{Type: EventRollback, TxID: id, Isolation: tx.isolation})
	return nil
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	if !ok {
		return
	}
	m.finishLocked(tx, StatusRolledBack, true)
	m.emit(Event{Type: EventTimeout, TxID: id, Isolation: tx.isolation})
	Logger().Warn("transaction expired", zap.String("tx", id), zap.Time("deadline", tx.deadline))
}

// Savepoint records the current write set under name.
func (m *Manager) Savepoint(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	sp := savepoint{name: name, writes: make(map[string]pendingWrite, len(tx.writes)), order: append([]string(nil), tx.order...)}
	for k, w := range tx.writes {
		sp.writes[k] = w
	}
	tx.savepoints = append(tx.savepoints, sp)
	m.emit(Event{Type: EventSavepointCreated, TxID: id, Isolation: tx.isolation, Detail: name})
	return nil
}

// RollbackTo restores the write set recorded by the latest savepoint named
// name. The savepoint stays usable; later ones are discarded.
func (m *Manager) RollbackTo(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	idx := tx.findSavepoint(name)
	if idx < 0 {
		return fmt.Errorf("txn: %s: %q: %w", id, name, ErrSavepointNotFound)
	}
	sp := tx.savepoints[idx]
	tx.savepoints = tx.savepoints[:idx+1]
	m.clearDirtyLocked(tx)
	tx.writes = make(map[string]pendingWrite, len(sp.writes))
	for k, w := range sp.writes {
		tx.writes[k] = w
	}
	tx.order = append([]string(nil), sp.order...)
	for _, k := range tx.order {
		m.dirty[k] = append(m.dirty[k], dirtyWrite{txID: id, write: tx.writes[k]})
	}
	m.emit(Event{Type: EventSavepointRolledBack, TxID: id, Isolation: tx.isolation, Detail: name})
	return nil
}

// ReleaseSavepoint forgets name and every later savepoint.
func (m *Manager) ReleaseSavepoint(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	idx := tx.findSavepoint(name)
	if idx < 0 {
		return fmt.Errorf("txn: %s: %q: %w", id, name, ErrSavepointNotFound)
	}
	tx.savepoints = tx.savepoints[:idx]
	return nil
}

func (tx *transaction) findSavepoint(name string) int {
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

// Get reads committed state outside any transaction.
func (m *Manager) Get(key string) (runtime.Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCommittedLocked(key)
}

// Info describes a live or recently finished transaction.
func (m *Manager) Info(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.active[id]; ok {
		return Info{
			ID: tx.id, Isolation: tx.isolation, Status: StatusActive,
			Started: tx.started, Deadline: tx.deadline,
			Writes: len(tx.writes), Reads: len(tx.reads),
		}, nil
	}
	if st, ok := m.finished.Get(id); ok {
		return Info{ID: id, Status: st.status, Expired: st.expired}, nil
	}
	return Info{}, fmt.Errorf("txn: %s: %w", id, ErrNotFound)
}

// ActiveCount reports the number of active transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close rolls back active transactions and closes the storage.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, tx := range m.active {
		m.finishLocked(tx, StatusRolledBack, false)
		m.emit(Event{Type: EventRollback, TxID: tx.id, Isolation: tx.isolation, Detail: "manager closed"})
	}
	var err error
	for _, o := range m.observers {
		if c, ok := o.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return multierr.Append(err, m.storage.Close())
}

func (m *Manager) lookupLocked(id string) (*transaction, error) {
	if tx, ok := m.active[id]; ok {
		if !tx.deadline.IsZero() && time.Now().After(tx.deadline) {
			m.finishLocked(tx, StatusRolledBack, true)
			m.emit(Event{Type: EventTimeout, TxID: id, Isolation: tx.isolation})
			return nil, fmt.Errorf("txn: %s: %w", id, ErrExpired)
		}
		return tx, nil
	}
	if st, ok := m.finished.Get(id); ok {
		if st.expired {
			return nil, fmt.Errorf("txn: %s: %w", id, ErrExpired)
		}
		return nil, fmt.Errorf("txn: %s is %s: %w", id, st.status, ErrNotActive)
	}
	return nil, fmt.Errorf("txn: %s: %w", id, ErrNotFound)
}

func (m *Manager) finishLocked(tx *transaction, status Status, expired bool) {
	if tx.timer != nil {
		tx.timer.Stop()
	}
	delete(m.active, tx.id)
	m.clearDirtyLocked(tx)
	m.finished.Add(tx.id, finishState{status: status, expired: expired})
	if tx.serial {
		tx.serial = false
		m.releaseSerial()
	}
}

func (m *Manager) clearDirtyLocked(tx *transaction) {
	for _, key := range tx.order {
		stack := m.dirty[key]
		kept := stack[:0]
		for _, d := range stack {
			if d.txID != tx.id {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(m.dirty, key)
			continue
		}
		m.dirty[key] = kept
	}
}

func (m *Manager) emit(ev Event) {
	if len(m.observers) == 0 {
		return
	}
	ev.Time = time.Now()
	for _, o := range m.observers {
		o.OnEvent(ev)
	}
}
