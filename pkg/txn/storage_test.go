package txn

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dal/runtime-go/pkg/runtime"
)

func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	list := runtime.NewList(runtime.Int(1), runtime.String("two"))
	m := runtime.NewMap().With("nested", list).With("ok", runtime.Bool(true))

	require.NoError(t, s.Apply([]Write{
		{Key: "int", Value: runtime.Int(42)},
		{Key: "map", Value: m},
		{Key: "gone", Value: runtime.Null},
	}))
	require.NoError(t, s.Apply([]Write{{Key: "gone", Delete: true}}))

	v, ok, err := s.Get("int")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runtime.Int(42), v)

	v, ok, err = s.Get("map")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, runtime.Equal(m, v))

	_, ok, err = s.Get("gone")
	require.NoError(t, err)
	require.False(t, ok)

	keys, err := s.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"int", "map"}, keys)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func TestFileStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := OpenFileStorage(path)
	require.NoError(t, err)
	exerciseStorage(t, s)
	require.NoError(t, s.Close())

	reopened, err := OpenFileStorage(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get("int")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runtime.Int(42), v)
}

func TestSQLiteStorage(t *testing.T) {
	s, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStorage(t, s)
}

func TestBadgerStorageInMemory(t *testing.T) {
	s, err := OpenBadgerStorage("")
	require.NoError(t, err)
	defer s.Close()
	exerciseStorage(t, s)
}

func TestManagerOverSQLite(t *testing.T) {
	s, err := OpenSQLiteStorage(":memory:")
	require.NoError(t, err)
	m, err := NewManager(s, Options{})
	require.NoError(t, err)
	defer m.Close()

	id, err := m.Begin(context.Background(), Serializable, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, "svc/bank/total", runtime.Int(7)))
	require.NoError(t, m.Commit(id))

	v, ok, err := m.Get("svc/bank/total")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runtime.Int(7), v)
}

func TestEventLogWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.log")
	log, err := OpenEventLog(path)
	require.NoError(t, err)
	m, err := NewManager(NewMemoryStorage(), Options{}, log)
	require.NoError(t, err)

	id, err := m.Begin(context.Background(), ReadCommitted, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(id, "k", runtime.Int(1)))
	require.NoError(t, m.Commit(id))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		require.Equal(t, id, line["tx"])
		kinds = append(kinds, line["event"].(string))
	}
	require.Equal(t, []string{"begin", "write", "commit"}, kinds)
}
