package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/interpreter"
	"dal/runtime-go/pkg/runtime"
)

func staticSources(vals map[string]string) map[string]Source {
	out := make(map[string]Source, len(vals))
	for name, v := range vals {
		out[name] = StaticSource{Value: runtime.String(v)}
	}
	return out
}

func TestConsensusPicksMajority(t *testing.T) {
	o := NewOracle(OracleOptions{}, staticSources(map[string]string{"a": "100", "b": "100", "c": "999"}))

	resp, err := o.FetchWithConsensus(context.Background(), []string{"a", "b", "c"}, "price", 0.66)
	require.NoError(t, err)
	require.Equal(t, runtime.String("100"), resp.Data)
	require.InDelta(t, 2.0/3.0, resp.Confidence, 1e-9)
	require.Equal(t, 3, resp.Responded)

	_, err = o.FetchWithConsensus(context.Background(), []string{"a", "b", "c"}, "price", 0.9)
	require.ErrorContains(t, err, "failed to reach consensus (threshold: 90.0%)")
}

func TestConsensusSkipsFailingSources(t *testing.T) {
	sources := staticSources(map[string]string{"a": "7", "b": "7"})
	sources["down"] = SourceFunc(func(context.Context, string) (runtime.Value, error) {
		return nil, errors.New("connection refused")
	})
	o := NewOracle(OracleOptions{}, sources)

	resp, err := o.FetchWithConsensus(context.Background(), []string{"a", "down", "b", "missing"}, "q", 1)
	require.NoError(t, err)
	require.Equal(t, runtime.String("7"), resp.Data)
	require.Equal(t, 2, resp.Responded)
	require.Equal(t, 1.0, resp.Confidence)

	_, err = o.FetchWithConsensus(context.Background(), []string{"down"}, "q", 0.5)
	require.Error(t, err)
}

func TestConsensusComparesStructurally(t *testing.T) {
	price := func(n int64) runtime.Value { return runtime.NewMap().With("usd", runtime.Int(n)) }
	v, agreement, ok := Consensus([]runtime.Value{price(5), price(6), price(5), price(5)}, 0.7)
	require.True(t, ok)
	require.True(t, runtime.Equal(price(5), v))
	require.Equal(t, 0.75, agreement)

	_, _, ok = Consensus(nil, 0)
	require.False(t, ok)
}

func TestFetchCachesAnswers(t *testing.T) {
	var calls atomic.Int32
	o := NewOracle(OracleOptions{CacheTTL: time.Minute, CacheSize: 8}, map[string]Source{
		"counter": SourceFunc(func(context.Context, string) (runtime.Value, error) {
			return runtime.Int(int64(calls.Add(1))), nil
		}),
	})
	for i := 0; i < 3; i++ {
		resp, err := o.Fetch(context.Background(), "counter", "q")
		require.NoError(t, err)
		require.Equal(t, runtime.Int(1), resp.Data)
	}
	_, err := o.Fetch(context.Background(), "counter", "other")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	_, err = o.Fetch(context.Background(), "nope", "q")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestFetchHonoursRateLimit(t *testing.T) {
	o := NewOracle(OracleOptions{RatePerSecond: 1, Burst: 1}, staticSources(map[string]string{"slow": "x"}))
	_, err := o.Fetch(context.Background(), "slow", "q")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = o.Fetch(ctx, "slow", "q")
	require.Error(t, err)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "broken" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pair": "` + r.URL.Query().Get("q") + `", "price": 100}`))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, time.Second)
	require.NoError(t, err)
	v, err := src.Fetch(context.Background(), "ETH/USD")
	require.NoError(t, err)
	want := runtime.NewMap().With("pair", runtime.String("ETH/USD")).With("price", runtime.Int(100))
	require.True(t, runtime.Equal(want, v), runtime.Format(v))

	_, err = src.Fetch(context.Background(), "broken")
	require.ErrorContains(t, err, "502")

	_, err = NewHTTPSource("ftp://example.com", time.Second)
	require.Error(t, err)
}

func TestOracleThroughEngine(t *testing.T) {
	o := NewOracle(OracleOptions{}, staticSources(map[string]string{"a": "100", "b": "100", "c": "999"}))
	e, err := interpreter.New(interpreter.Options{Providers: []runtime.Provider{o}})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	got, err := e.Execute(context.Background(), ast.Prog(
		ast.Let("r", ast.CallNS("oracle", "fetch_with_consensus",
			ast.List(ast.Str("a"), ast.Str("b"), ast.Str("c")), ast.Str("price"), ast.Flt(0.66))),
		ast.List(ast.Member(ast.ID("r"), "data"), ast.Bin(">=", ast.Member(ast.ID("r"), "confidence_score"), ast.Flt(0.66))),
	))
	require.NoError(t, err)
	require.True(t, runtime.Equal(runtime.NewList(runtime.String("100"), runtime.Bool(true)), got), runtime.Format(got))

	_, err = e.Execute(context.Background(), ast.Prog(
		ast.CallNS("oracle", "fetch_with_consensus", ast.List(ast.Str("a"), ast.Str("c")), ast.Str("price"), ast.Int(1)),
	))
	require.True(t, runtime.IsKind(err, runtime.ProviderError), "got %v", err)
}
