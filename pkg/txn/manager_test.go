package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dal/runtime-go/pkg/runtime"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := NewManager(NewMemoryStorage(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func seed(t *testing.T, m *Manager, key string, v runtime.Value) {
	t.Helper()
	id, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, key, v))
	require.NoError(t, m.Commit(id))
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "balance:A", runtime.Int(100))

	id, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, "balance:A", runtime.Int(50)))

	committed, ok, err := m.Get("balance:A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runtime.Int(100), committed)

	own, _, err := m.Read(id, "balance:A")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(50), own)

	require.NoError(t, m.Commit(id))
	committed, _, err = m.Get("balance:A")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(50), committed)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "balance:A", runtime.Int(100))

	id, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, "balance:A", runtime.Int(50)))
	require.NoError(t, m.Rollback(id))

	v, _, err := m.Get("balance:A")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(100), v)

	err = m.Write(id, "balance:A", runtime.Int(1))
	require.ErrorIs(t, err, ErrNotActive)
}

func TestReadUncommittedSeesDirtyWrites(t *testing.T) {
	m := newTestManager(t, Options{})
	writer, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(writer, "k", runtime.String("dirty")))

	dirtyReader, err := m.Begin(context.Background(), ReadUncommitted, 0)
	require.NoError(t, err)
	v, ok, err := m.Read(dirtyReader, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runtime.String("dirty"), v)

	cleanReader, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	_, ok, err = m.Read(cleanReader, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Rollback(writer))
	_, ok, err = m.Read(dirtyReader, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRepeatableReadIsStable(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "k", runtime.Int(1))

	reader, err := m.Begin(context.Background(), RepeatableRead, 0)
	require.NoError(t, err)
	v, _, err := m.Read(reader, "k")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(1), v)

	seed(t, m, "k", runtime.Int(2))

	v, _, err = m.Read(reader, "k")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(1), v)

	committed, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	v, _, err = m.Read(committed, "k")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(2), v)
}

func TestRepeatableReadConflictOnCommit(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "k", runtime.Int(1))

	a, err := m.Begin(context.Background(), RepeatableRead, 0)
	require.NoError(t, err)
	b, err := m.Begin(context.Background(), RepeatableRead, 0)
	require.NoError(t, err)

	_, _, err = m.Read(a, "k")
	require.NoError(t, err)
	_, _, err = m.Read(b, "k")
	require.NoError(t, err)
	require.NoError(t, m.Write(a, "k", runtime.Int(10)))
	require.NoError(t, m.Write(b, "k", runtime.Int(20)))

	require.NoError(t, m.Commit(a))
	err = m.Commit(b)
	require.ErrorIs(t, err, ErrConflict)

	v, _, err := m.Get("k")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(10), v)

	info, err := m.Info(b)
	require.NoError(t, err)
	require.Equal(t, StatusRolledBack, info.Status)
}

func TestSerializableConflictsWithLowerIsolationCommit(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "k", runtime.Int(1))

	ser, err := m.Begin(context.Background(), Serializable, 0)
	require.NoError(t, err)
	_, _, err = m.Read(ser, "k")
	require.NoError(t, err)

	seed(t, m, "k", runtime.Int(5))

	require.NoError(t, m.Write(ser, "k", runtime.Int(2)))
	require.ErrorIs(t, m.Commit(ser), ErrConflict)
}

func TestSerializableIncrementsDoNotLoseUpdates(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "counter", runtime.Int(0))

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Begin(context.Background(), Serializable, 0)
			if err != nil {
				errs <- err
				return
			}
			v, _, err := m.Read(id, "counter")
			if err != nil {
				errs <- err
				return
			}
			next := v.(runtime.IntValue).Val + 1
			if err := m.Write(id, "counter", runtime.Int(next)); err != nil {
				errs <- err
				return
			}
			errs <- m.Commit(id)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	v, _, err := m.Get("counter")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(100), v)
}

func TestTimeoutExpiresTransaction(t *testing.T) {
	m := newTestManager(t, Options{})
	seed(t, m, "k", runtime.Int(1))

	var mu sync.Mutex
	var events []EventType
	m.AddObserver(ObserverFunc(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	}))

	id, err := m.Begin(context.Background(), ReadCommitted, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, "k", runtime.Int(2)))

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)

	_, _, err = m.Read(id, "k")
	require.ErrorIs(t, err, ErrExpired)
	require.ErrorIs(t, m.Commit(id), ErrExpired)

	v, _, err := m.Get("k")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(1), v)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, events, EventTimeout)
}

func TestSerializableSlotTimesOut(t *testing.T) {
	m := newTestManager(t, Options{LockWait: 20 * time.Millisecond})
	holder, err := m.Begin(context.Background(), Serializable, 0)
	require.NoError(t, err)

	_, err = m.Begin(context.Background(), Serializable, 0)
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.Commit(holder))
	next, err := m.Begin(context.Background(), Serializable, 0)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(next))
}

func TestSavepoints(t *testing.T) {
	m := newTestManager(t, Options{})
	id, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, "a", runtime.Int(1)))
	require.NoError(t, m.Savepoint(id, "sp1"))
	require.NoError(t, m.Write(id, "a", runtime.Int(2)))
	require.NoError(t, m.Write(id, "b", runtime.Int(3)))

	require.NoError(t, m.RollbackTo(id, "sp1"))
	v, _, err := m.Read(id, "a")
	require.NoError(t, err)
	require.Equal(t, runtime.Int(1), v)
	_, ok, err := m.Read(id, "b")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.ReleaseSavepoint(id, "sp1"))
	require.ErrorIs(t, m.RollbackTo(id, "sp1"), ErrSavepointNotFound)
	require.NoError(t, m.Commit(id))

	keys, err := m.storage.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, keys)
}

func TestLimits(t *testing.T) {
	m := newTestManager(t, Options{MaxActive: 1, MaxKeys: 1})
	id, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)

	_, err = m.Begin(context.Background(), ReadCommitted, 0)
	require.ErrorIs(t, err, ErrLimitExceeded)

	require.NoError(t, m.Write(id, "a", runtime.Int(1)))
	require.NoError(t, m.Write(id, "a", runtime.Int(2)))
	require.ErrorIs(t, m.Write(id, "b", runtime.Int(1)), ErrLimitExceeded)
}

func TestUnknownTransaction(t *testing.T) {
	m := newTestManager(t, Options{})
	_, _, err := m.Read("tx_999", "k")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestParseIsolation(t *testing.T) {
	cases := map[string]Isolation{
		"serializable":     Serializable,
		"ReadCommitted":    ReadCommitted,
		"repeatable_read":  RepeatableRead,
		"read uncommitted": ReadUncommitted,
		"":                 ReadCommitted,
	}
	for in, want := range cases {
		got, err := ParseIsolation(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseIsolation("snapshot")
	require.Error(t, err)
}
