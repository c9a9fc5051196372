package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dal/runtime-go/pkg/runtime"
)

const OracleNamespace = "oracle"

var ErrUnknownSource = errors.New("oracle: unknown source")

// OracleOptions tunes caching, rate limiting and fan-out.
type OracleOptions struct {
	// CacheTTL of zero disables the response cache.
	CacheTTL  time.Duration
	CacheSize int
	// RatePerSecond of zero leaves sources unthrottled.
	RatePerSecond float64
	Burst         int
	// Timeout bounds one fetch or one consensus round.
	Timeout     time.Duration
	MaxParallel int
	Now         func() time.Time
}

// Response is one source's answer, or the winning answer of a consensus
// round.
type Response struct {
	Data       runtime.Value
	Source     string
	Sources    []string
	Responded  int
	Confidence float64
	Timestamp  time.Time
}

func (r Response) Value() runtime.MapValue {
	m := runtime.NewMap().
		With("data", r.Data).
		With("confidence_score", runtime.Float(r.Confidence))
	if r.Source != "" {
		m = m.With("source", runtime.String(r.Source))
	}
	if len(r.Sources) > 0 {
		m = m.With("sources", stringList(r.Sources)).
			With("responded", runtime.Int(int64(r.Responded)))
	}
	return m.With("timestamp", runtime.Int(r.Timestamp.Unix()))
}

// Oracle resolves named sources and reconciles their answers.
type Oracle struct {
	opts OracleOptions

	mu       sync.RWMutex
	sources  map[string]Source
	limiters map[string]*rate.Limiter
	cache    *expirable.LRU[string, runtime.Value]
}

func NewOracle(opts OracleOptions, sources map[string]Source) *Oracle {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	o := &Oracle{
		opts:     opts,
		sources:  make(map[string]Source, len(sources)),
		limiters: make(map[string]*rate.Limiter, len(sources)),
	}
	if opts.CacheTTL > 0 {
		o.cache = expirable.NewLRU[string, runtime.Value](opts.CacheSize, nil, opts.CacheTTL)
	}
	for name, src := range sources {
		o.Register(name, src)
	}
	return o
}

// Register adds or replaces a source.
func (o *Oracle) Register(name string, src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[name] = src
	if o.opts.RatePerSecond > 0 {
		o.limiters[name] = rate.NewLimiter(rate.Limit(o.opts.RatePerSecond), o.opts.Burst)
	}
	if o.cache != nil {
		o.cache.Purge()
	}
}

// Sources lists registered source names in order.
func (o *Oracle) Sources() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.sources))
	for name := range o.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (o *Oracle) lookup(name string) (Source, *rate.Limiter, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	src, ok := o.sources[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownSource, name)
	}
	return src, o.limiters[name], nil
}

func (o *Oracle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.Timeout > 0 {
		return context.WithTimeout(ctx, o.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// Fetch queries a single source.
func (o *Oracle) Fetch(ctx context.Context, source, query string) (Response, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	data, err := o.fetch(ctx, source, query)
	if err != nil {
		return Response{}, err
	}
	return Response{Data: data, Source: source, Confidence: 1, Timestamp: o.opts.Now()}, nil
}

func (o *Oracle) fetch(ctx context.Context, source, query string) (runtime.Value, error) {
	key := source + "\x00" + query
	if o.cache != nil {
		if v, ok := o.cache.Get(key); ok {
			return v, nil
		}
	}
	src, limiter, err := o.lookup(source)
	if err != nil {
		return nil, err
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("oracle: %s rate limit: %w", source, err)
		}
	}
	v, err := src.Fetch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("oracle: %s: %w", source, err)
	}
	if o.cache != nil {
		o.cache.Add(key, v)
	}
	return v, nil
}

// FetchWithConsensus queries every source concurrently and returns the most
// agreed answer when its share of responding sources reaches threshold.
// Sources that fail are left out of the count.
func (o *Oracle) FetchWithConsensus(ctx context.Context, sources []string, query string, threshold float64) (Response, error) {
	if len(sources) == 0 {
		return Response{}, errors.New("oracle: consensus needs at least one source")
	}
	if threshold < 0 || threshold > 1 {
		return Response{}, fmt.Errorf("oracle: threshold %v outside [0, 1]", threshold)
	}
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	answers := make([]runtime.Value, len(sources))
	var g errgroup.Group
	if o.opts.MaxParallel > 0 {
		g.SetLimit(o.opts.MaxParallel)
	}
	for i, name := range sources {
		i, name := i, name
		g.Go(func() error {
			v, err := o.fetch(ctx, name, query)
			if err != nil {
				Logger().Warn("oracle source failed", zap.String("source", name), zap.Error(err))
				return nil
			}
			answers[i] = v
			return nil
		})
	}
	_ = g.Wait()

	var responded []runtime.Value
	for _, v := range answers {
		if v != nil {
			responded = append(responded, v)
		}
	}
	winner, agreement, ok := Consensus(responded, threshold)
	if !ok {
		return Response{}, fmt.Errorf("failed to reach consensus (threshold: %.1f%%)", threshold*100)
	}
	Logger().Debug("oracle consensus",
		zap.Strings("sources", sources),
		zap.Int("responded", len(responded)),
		zap.Float64("agreement", agreement))
	return Response{
		Data:       winner,
		Sources:    append([]string(nil), sources...),
		Responded:  len(responded),
		Confidence: agreement,
		Timestamp:  o.opts.Now(),
	}, nil
}

// Consensus groups equal answers and returns the most common one if its
// share reaches threshold. Ties go to the answer seen first.
func Consensus(answers []runtime.Value, threshold float64) (runtime.Value, float64, bool) {
	if len(answers) == 0 {
		return nil, 0, false
	}
	type group struct {
		value runtime.Value
		count int
	}
	var groups []*group
	for _, a := range answers {
		var found *group
		for _, g := range groups {
			if runtime.Equal(g.value, a) {
				found = g
				break
			}
		}
		if found == nil {
			found = &group{value: a}
			groups = append(groups, found)
		}
		found.count++
	}
	best := groups[0]
	for _, g := range groups[1:] {
		if g.count > best.count {
			best = g
		}
	}
	agreement := float64(best.count) / float64(len(answers))
	if agreement < threshold {
		return nil, agreement, false
	}
	return best.value, agreement, true
}

func (o *Oracle) Namespace() string { return OracleNamespace }

func (o *Oracle) Builtins() []runtime.Builtin {
	return []runtime.Builtin{
		runtime.Fixed("fetch", 2, func(call *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			resp, err := o.Fetch(call.Context, str(args, 0), str(args, 1))
			if err != nil {
				return nil, o.fail("fetch", err)
			}
			return resp.Value(), nil
		}, runtime.KindString, runtime.AnyKind),
		runtime.Fixed("fetch_with_consensus", 3, func(call *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			names, err := stringElems(args[0].(runtime.ListValue))
			if err != nil {
				return nil, err
			}
			threshold, err := number(args[2])
			if err != nil {
				return nil, err
			}
			resp, err := o.FetchWithConsensus(call.Context, names, str(args, 1), threshold)
			if err != nil {
				return nil, o.fail("fetch_with_consensus", err)
			}
			return resp.Value(), nil
		}, runtime.KindList, runtime.AnyKind, runtime.AnyKind),
		runtime.Fixed("sources", 0, func(*runtime.NativeCall, []runtime.Value) (runtime.Value, error) {
			return stringList(o.Sources()), nil
		}),
	}
}

func (o *Oracle) fail(fn string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return runtime.WrapError(runtime.Timeout, err, "%s::%s: %v", OracleNamespace, fn, err)
	}
	return providerError(OracleNamespace, fn, err)
}
