package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
	"github.com/jonwraymond/rpclink/procedure"
	"github.com/jonwraymond/rpclink/transformer"
)

type testCtx struct {
	user string
}

func testCreateContext(user string) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		return &testCtx{user: user}, nil
	}
}

// usersRouter serves users.get and users.rename and counts executions.
type usersRouter struct {
	*procedure.Router
	gets    atomic.Int32
	renames atomic.Int32
	tags    chan string
}

func newUsersRouter(t *testing.T) *usersRouter {
	t.Helper()
	r := &usersRouter{Router: procedure.NewRouter(), tags: make(chan string, 64)}
	if err := r.Query("users.get", func(_ context.Context, req procedure.Request) (any, error) {
		r.gets.Add(1)
		r.tags <- req.Tag
		in, _ := req.Input.(map[string]any)
		if in["id"] == 404 {
			return nil, procedure.NewError(procedure.CodeNotFound, "no such user")
		}
		return map[string]any{"id": in["id"], "name": "Ada"}, nil
	}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if err := r.Mutation("users.rename", func(context.Context, procedure.Request) (any, error) {
		r.renames.Add(1)
		return "ok", nil
	}); err != nil {
		t.Fatalf("Mutation() error = %v", err)
	}
	return r
}

func buildLink(t *testing.T, opts LinkOptions, createContext func(context.Context) (any, error)) link.Link {
	t.Helper()
	l, err := link.Compose(link.Runtime{CreateContext: createContext}, NewLink(opts))
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	return l
}

func exec(t *testing.T, l link.Link, op link.Operation) (link.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return observable.ToPromise(link.Execute(ctx, l, op)).Await(ctx)
}

func getUser(id any) link.Operation {
	return link.Operation{Type: link.OpQuery, Path: "users.get", Input: map[string]any{"id": id}}
}

func TestNewLink_ConfigurationErrors(t *testing.T) {
	r := newUsersRouter(t)

	tests := []struct {
		name    string
		opts    LinkOptions
		rt      link.Runtime
		wantErr error
	}{
		{"missing create context", LinkOptions{Caller: r}, link.Runtime{}, ErrMissingCreateContext},
		{"missing caller", LinkOptions{}, link.Runtime{CreateContext: testCreateContext("a")}, ErrMissingCaller},
		{"half a transformer", LinkOptions{Caller: r, Transformer: transformer.Transformer{Input: transformer.JSON()}}, link.Runtime{CreateContext: testCreateContext("a")}, transformer.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := link.Compose(tt.rt, NewLink(tt.opts))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compose() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLink_QueryServedFromStoreOnSecondCall(t *testing.T) {
	r := newUsersRouter(t)
	store := NewMemoryStore()
	l := buildLink(t, LinkOptions{Caller: r, Store: store}, testCreateContext("alice"))

	for i := 0; i < 2; i++ {
		env, err := exec(t, l, getUser(1))
		if err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
		if env.Result.Type != link.ResultData {
			t.Errorf("result type = %q, want data", env.Result.Type)
		}
		user, ok := env.Result.Data.(map[string]any)
		if !ok {
			t.Fatalf("data = %T, want map", env.Result.Data)
		}
		if user["id"] != json.Number("1") || user["name"] != "Ada" {
			t.Errorf("data = %v, want {id:1 name:Ada}", user)
		}
	}

	if n := r.gets.Load(); n != 1 {
		t.Errorf("procedure executions = %d, want 1", n)
	}

	tag, _ := NewDefaultTagger().Tag("users.get", map[string]any{"id": 1}, nil)
	if _, ok := store.Get(context.Background(), Key("users.get", tag)); !ok {
		t.Errorf("store has no entry under %q", Key("users.get", tag))
	}
	if got := <-r.tags; got != tag {
		t.Errorf("request tag = %q, want %q", got, tag)
	}

	if err := store.InvalidateTag(context.Background(), tag); err != nil {
		t.Fatalf("InvalidateTag() error = %v", err)
	}
	if _, err := exec(t, l, getUser(1)); err != nil {
		t.Fatalf("call after invalidation error = %v", err)
	}
	if n := r.gets.Load(); n != 2 {
		t.Errorf("procedure executions after invalidation = %d, want 2", n)
	}
}

func TestLink_DistinctInputsComputeSeparately(t *testing.T) {
	r := newUsersRouter(t)
	l := buildLink(t, LinkOptions{Caller: r}, testCreateContext("alice"))

	for _, id := range []int{1, 2, 1, 2} {
		if _, err := exec(t, l, getUser(id)); err != nil {
			t.Fatalf("exec error = %v", err)
		}
	}
	if n := r.gets.Load(); n != 2 {
		t.Errorf("procedure executions = %d, want 2", n)
	}
}

func TestLink_CacheContextSeparatesUsers(t *testing.T) {
	r := newUsersRouter(t)
	store := NewMemoryStore()
	opts := LinkOptions{
		Caller: r,
		Store:  store,
		CacheContext: func(reqCtx any) []any {
			return []any{reqCtx.(*testCtx).user}
		},
	}

	alice := buildLink(t, opts, testCreateContext("alice"))
	bob := buildLink(t, opts, testCreateContext("bob"))

	for _, l := range []link.Link{alice, bob, alice, bob} {
		if _, err := exec(t, l, getUser(1)); err != nil {
			t.Fatalf("exec error = %v", err)
		}
	}
	if n := r.gets.Load(); n != 2 {
		t.Errorf("procedure executions = %d, want 2 (one per user)", n)
	}
	if store.Len() != 2 {
		t.Errorf("store entries = %d, want 2", store.Len())
	}
}

func TestLink_MutationAlwaysExecutes(t *testing.T) {
	r := newUsersRouter(t)
	store := NewMemoryStore()
	l := buildLink(t, LinkOptions{Caller: r, Store: store}, testCreateContext("alice"))

	op := link.Operation{Type: link.OpMutation, Path: "users.rename", Input: map[string]any{"id": 1}}
	for i := 0; i < 3; i++ {
		env, err := exec(t, l, op)
		if err != nil {
			t.Fatalf("exec error = %v", err)
		}
		if env.Result.Data != "ok" {
			t.Errorf("data = %v, want ok", env.Result.Data)
		}
	}
	if n := r.renames.Load(); n != 3 {
		t.Errorf("mutation executions = %d, want 3", n)
	}
	if store.Len() != 0 {
		t.Errorf("store entries = %d, want 0", store.Len())
	}
}

func TestLink_SubscriptionForwardedToNext(t *testing.T) {
	r := newUsersRouter(t)
	var forwarded atomic.Bool
	next := func(_ context.Context, op link.Operation, _ link.NextFunc) link.ResultObservable {
		forwarded.Store(true)
		return observable.Of(link.DataEnvelope("from next"))
	}

	l, err := link.Compose(link.Runtime{CreateContext: testCreateContext("a")}, NewLink(LinkOptions{Caller: r}), link.Static(next))
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	env, err := exec(t, l, link.Operation{Type: link.OpSubscription, Path: "users.watch"})
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if !forwarded.Load() || env.Result.Data != "from next" {
		t.Errorf("subscription not forwarded: %+v", env)
	}
}

// recordingStore wraps a Store and records the options of each call.
type recordingStore struct {
	Store
	mu   sync.Mutex
	opts []Options
}

func (s *recordingStore) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts Options) ([]byte, error) {
	s.mu.Lock()
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
	return s.Store.GetOrCompute(ctx, key, compute, opts)
}

func TestLink_RevalidateOverrideAppliesToOneCall(t *testing.T) {
	r := newUsersRouter(t)
	store := &recordingStore{Store: NewMemoryStore()}
	l := buildLink(t, LinkOptions{
		Caller: r,
		Store:  store,
		Policy: Policy{Revalidate: link.RevalidateAfter(60)},
	}, testCreateContext("alice"))

	override := getUser(1)
	override.Context = link.Context{}.WithRevalidate(link.NoRevalidate())

	for _, op := range []link.Operation{override, getUser(2)} {
		if _, err := exec(t, l, op); err != nil {
			t.Fatalf("exec error = %v", err)
		}
	}

	if len(store.opts) != 2 {
		t.Fatalf("store calls = %d, want 2", len(store.opts))
	}
	if got := store.opts[0].Revalidate.String(); got != "false" {
		t.Errorf("first call revalidate = %s, want false", got)
	}
	if got := store.opts[1].Revalidate.String(); got != "60" {
		t.Errorf("second call revalidate = %s, want 60", got)
	}
	if len(store.opts[0].Tags) != 1 {
		t.Errorf("tags = %v, want exactly the cache tag", store.opts[0].Tags)
	}
}

func TestLink_RevalidateOverrideRejectsOlderEntry(t *testing.T) {
	r := newUsersRouter(t)
	clock := newFakeClock()
	l := buildLink(t, LinkOptions{
		Caller: r,
		Store:  NewMemoryStore(WithClock(clock.Now)),
		Policy: Policy{Revalidate: link.RevalidateAfter(60)},
	}, testCreateContext("alice"))

	withWindow := func(r link.Revalidate) link.Operation {
		op := getUser(1)
		op.Context = link.Context{}.WithRevalidate(r)
		return op
	}

	steps := []struct {
		name      string
		advance   time.Duration
		op        link.Operation
		wantCalls int32
	}{
		{"first call stores", 0, getUser(1), 1},
		{"default window serves", 10 * time.Second, getUser(1), 1},
		{"shorter window recomputes", 0, withWindow(link.RevalidateAfter(5)), 2},
		{"entry rewritten by override serves default", 0, getUser(1), 2},
		{"zero window always recomputes", 0, withWindow(link.RevalidateAfter(0)), 3},
		{"zero window dropped the entry", 0, getUser(1), 4},
	}
	for _, step := range steps {
		clock.Advance(step.advance)
		if _, err := exec(t, l, step.op); err != nil {
			t.Fatalf("%s: exec error = %v", step.name, err)
		}
		if got := r.gets.Load(); got != step.wantCalls {
			t.Fatalf("%s: executions = %d, want %d", step.name, got, step.wantCalls)
		}
	}
}

func TestLink_LongPathQueryIsCached(t *testing.T) {
	path := strings.Repeat("nested.", 35) + "get"
	var calls atomic.Int32
	r := procedure.NewRouter()
	if err := r.Query(path, func(context.Context, procedure.Request) (any, error) {
		calls.Add(1)
		return "deep", nil
	}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	l := buildLink(t, LinkOptions{Caller: r, Store: NewMemoryStore()}, testCreateContext("alice"))

	op := link.Operation{Type: link.OpQuery, Path: path, Input: map[string]any{"id": 1}}
	for range 2 {
		env, err := exec(t, l, op)
		if err != nil {
			t.Fatalf("exec error = %v", err)
		}
		if env.Result.Data != "deep" {
			t.Fatalf("data = %v, want deep", env.Result.Data)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("executions = %d, want 1", calls.Load())
	}
}

func TestLink_ConcurrentQueriesComputeOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	caller := procedure.CallerFunc(func(context.Context, procedure.Request) (any, error) {
		calls.Add(1)
		<-release
		return "slow", nil
	})
	l := buildLink(t, LinkOptions{Caller: caller}, testCreateContext("alice"))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := exec(t, l, link.Operation{Type: link.OpQuery, Path: "slow", Input: "x"})
			if err == nil && env.Result.Data != "slow" {
				err = errors.New("unexpected data")
			}
			errs <- err
		}()
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("exec error = %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("procedure executions = %d, want 1", got)
	}
}

func TestLink_ProcedureErrorNormalizedAndNotCached(t *testing.T) {
	r := newUsersRouter(t)
	l := buildLink(t, LinkOptions{Caller: r}, testCreateContext("alice"))

	for i := 0; i < 2; i++ {
		_, err := exec(t, l, getUser(404))
		var ce *link.ClientError
		if !errors.As(err, &ce) {
			t.Fatalf("error %T is not a *link.ClientError", err)
		}
		if ce.Code != procedure.CodeNotFound || ce.Path != "users.get" {
			t.Errorf("ClientError = %+v, want NOT_FOUND on users.get", ce)
		}
	}
	if n := r.gets.Load(); n != 2 {
		t.Errorf("procedure executions = %d, want 2", n)
	}
}

func TestLink_CreateContextFailure(t *testing.T) {
	r := newUsersRouter(t)
	sessionErr := errors.New("no session")
	l := buildLink(t, LinkOptions{Caller: r}, func(context.Context) (any, error) { return nil, sessionErr })

	_, err := exec(t, l, getUser(1))
	if !errors.Is(err, sessionErr) {
		t.Errorf("error = %v, want %v", err, sessionErr)
	}
	if n := r.gets.Load(); n != 0 {
		t.Errorf("procedure executions = %d, want 0", n)
	}
}

type failingCodec struct{ transformer.DataTransformer }

func (failingCodec) Deserialize([]byte) (any, error) { return nil, transformer.ErrDecode }

func TestLink_DeserializeFailure(t *testing.T) {
	r := newUsersRouter(t)
	l := buildLink(t, LinkOptions{
		Caller:      r,
		Transformer: transformer.Transformer{Input: transformer.JSON(), Output: failingCodec{transformer.JSON()}},
	}, testCreateContext("alice"))

	_, err := exec(t, l, getUser(1))
	if !errors.Is(err, transformer.ErrDecode) {
		t.Errorf("error = %v, want ErrDecode", err)
	}
}

func TestLink_SerializeFailure(t *testing.T) {
	caller := procedure.CallerFunc(func(context.Context, procedure.Request) (any, error) {
		return make(chan int), nil
	})
	store := NewMemoryStore()
	l := buildLink(t, LinkOptions{Caller: caller, Store: store}, testCreateContext("alice"))

	_, err := exec(t, l, link.Operation{Type: link.OpQuery, Path: "bad"})
	if !errors.Is(err, transformer.ErrSerialize) {
		t.Errorf("error = %v, want ErrSerialize", err)
	}
	if store.Len() != 0 {
		t.Errorf("store entries = %d, want 0", store.Len())
	}
}

func TestLink_UnsubscribeDiscardsButStores(t *testing.T) {
	r := newUsersRouter(t)
	store := NewMemoryStore()
	l := buildLink(t, LinkOptions{Caller: r, Store: store}, testCreateContext("alice"))

	var delivered atomic.Int32
	sub := link.Execute(context.Background(), l, getUser(7)).Subscribe(observable.Funcs[link.Envelope]{
		OnNext: func(link.Envelope) { delivered.Add(1) },
	})
	sub.Unsubscribe()

	deadline := time.Now().Add(time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 1 {
		t.Fatalf("store entries = %d, want 1", store.Len())
	}
	if n := delivered.Load(); n != 0 {
		t.Errorf("delivered %d values after unsubscribe, want 0", n)
	}
}

func TestLink_HitMissMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r := newUsersRouter(t)
	l := buildLink(t, LinkOptions{Caller: r, Meter: mp.Meter("test")}, testCreateContext("alice"))

	for i := 0; i < 3; i++ {
		if _, err := exec(t, l, getUser(1)); err != nil {
			t.Fatalf("exec error = %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	if got := counterValue(rm, "rpc.cache.misses"); got != 1 {
		t.Errorf("rpc.cache.misses = %d, want 1", got)
	}
	if got := counterValue(rm, "rpc.cache.hits"); got != 2 {
		t.Errorf("rpc.cache.hits = %d, want 2", got)
	}
}

func counterValue(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
