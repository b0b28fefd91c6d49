package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/gateway"
)

type countingQuery struct {
	calls atomic.Int64
	err   error
}

func (q *countingQuery) fn(ctx context.Context, key Key) (any, error) {
	n := q.calls.Add(1)
	if q.err != nil {
		return nil, q.err
	}
	return fmt.Sprintf("%s#%d", key, n), nil
}

func jsonRaw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	cache := New(opts)
	t.Cleanup(cache.Close)
	return cache
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFetch_CachesForever(t *testing.T) {
	query := &countingQuery{}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"/api/buses"}

	first, err := cache.Fetch(context.Background(), key, query.fn)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	second, err := cache.Fetch(context.Background(), key, query.fn)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if first != second {
		t.Errorf("second fetch = %v, want cached %v", second, first)
	}
	if got := query.calls.Load(); got != 1 {
		t.Errorf("query calls = %d, want 1", got)
	}
}

func TestFetch_DeduplicatesConcurrentFetches(t *testing.T) {
	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context, key Key) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "snapshot", nil
	}

	cache := newTestCache(t, DefaultOptions())
	key := Key{"snapshot"}

	results := make([]any, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = cache.Fetch(context.Background(), key, fn)
	}()
	<-started
	go func() {
		defer wg.Done()
		results[1], _ = cache.Fetch(context.Background(), key, fn)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("query calls = %d, want 1", got)
	}
	if results[0] != "snapshot" || results[1] != "snapshot" {
		t.Errorf("results = %v, want both snapshot", results)
	}
}

func TestFetch_DeduplicatesNetworkRequests(t *testing.T) {
	var requests atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		_, _ = io.WriteString(w, `[{"id":"bus-1"}]`)
	}))
	defer server.Close()

	gw, err := gateway.New(gateway.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	opts := DefaultOptions()
	opts.QueryFunc = DefaultQueryFunc(gw, Throw)
	cache := newTestCache(t, opts)

	type bus struct {
		ID string `json:"id"`
	}
	results := make([][]bus, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = FetchAs[[]bus](context.Background(), cache, Key{"/api/buses"}, nil)
		}(i)
	}
	waitFor(t, "first request", func() bool { return requests.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := requests.Load(); got != 1 {
		t.Errorf("network requests = %d, want 1", got)
	}
	for i, got := range results {
		if len(got) != 1 || got[0].ID != "bus-1" {
			t.Errorf("caller %d got %v", i, got)
		}
	}
}

func TestFetch_CallerCancelDoesNotFailSharedFetch(t *testing.T) {
	release := make(chan struct{})
	fn := func(ctx context.Context, key Key) (any, error) {
		<-release
		return "done", nil
	}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"slow"}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(ctx, key, fn)
		errs <- err
	}()
	waitFor(t, "loading state", func() bool {
		state, _ := cache.Peek(key)
		return state.Status == StatusLoading
	})
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v", err)
	}

	close(release)
	data, err := cache.Fetch(context.Background(), key, fn)
	if err != nil || data != "done" {
		t.Fatalf("second caller = %v, %v", data, err)
	}
}

func TestInvalidate_NextReadFetchesExactlyOnce(t *testing.T) {
	query := &countingQuery{}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"/api/alerts"}

	if _, err := cache.Fetch(context.Background(), key, query.fn); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if marked := cache.Invalidate(key); marked != 1 {
		t.Fatalf("Invalidate marked %d entries, want 1", marked)
	}
	state, _ := cache.Peek(key)
	if !state.Invalidated {
		t.Fatal("entry should be marked invalidated")
	}

	data, err := cache.Fetch(context.Background(), key, query.fn)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := cache.Fetch(context.Background(), key, query.fn); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if got := query.calls.Load(); got != 2 {
		t.Errorf("query calls = %d, want 2", got)
	}
	if data != "/api/alerts#2" {
		t.Errorf("data = %v", data)
	}
}

func TestInvalidate_MatchesPrefix(t *testing.T) {
	query := &countingQuery{}
	cache := newTestCache(t, DefaultOptions())
	keys := []Key{{"/api/alerts"}, {"/api/alerts", "a1"}, {"/api/buses"}}
	for _, key := range keys {
		if _, err := cache.Fetch(context.Background(), key, query.fn); err != nil {
			t.Fatalf("Fetch %v: %v", key, err)
		}
	}

	if marked := cache.Invalidate(Key{"/api/alerts"}); marked != 2 {
		t.Fatalf("marked = %d, want 2", marked)
	}
	for _, key := range keys {
		state, _ := cache.Peek(key)
		want := key[0] == "/api/alerts"
		if state.Invalidated != want {
			t.Errorf("%v invalidated = %v, want %v", key, state.Invalidated, want)
		}
	}
}

func TestFetch_FailureIsNotRetried(t *testing.T) {
	query := &countingQuery{err: &gateway.HTTPError{Status: 503, Text: "Service Unavailable"}}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"/api/buses"}

	_, err := cache.Fetch(context.Background(), key, query.fn)
	if err == nil || err.Error() != "503: Service Unavailable" {
		t.Fatalf("err = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if got := query.calls.Load(); got != 1 {
		t.Errorf("query calls = %d, want 1", got)
	}
	state, _ := cache.Peek(key)
	if state.Status != StatusError || state.Err != err {
		t.Errorf("state = %v / %v, want error state", state.Status, state.Err)
	}
}

func TestFetch_RetriesWhenEnabled(t *testing.T) {
	query := &countingQuery{err: errors.New("upstream down")}
	opts := DefaultOptions()
	opts.Retry = 2
	opts.RetryDelay = time.Millisecond
	cache := newTestCache(t, opts)

	if _, err := cache.Fetch(context.Background(), Key{"flaky"}, query.fn); err == nil {
		t.Fatal("expected error after retries")
	}
	if got := query.calls.Load(); got != 3 {
		t.Errorf("query calls = %d, want 3", got)
	}
}

func TestFetch_StaleTime(t *testing.T) {
	query := &countingQuery{}
	opts := DefaultOptions()
	opts.StaleTime = 10 * time.Millisecond
	cache := newTestCache(t, opts)
	key := Key{"short-lived"}

	_, _ = cache.Fetch(context.Background(), key, query.fn)
	_, _ = cache.Fetch(context.Background(), key, query.fn)
	if got := query.calls.Load(); got != 1 {
		t.Fatalf("calls before stale = %d, want 1", got)
	}
	time.Sleep(20 * time.Millisecond)
	_, _ = cache.Fetch(context.Background(), key, query.fn)
	if got := query.calls.Load(); got != 2 {
		t.Errorf("calls after stale = %d, want 2", got)
	}
}

func TestFetch_WithoutQueryFunc(t *testing.T) {
	cache := newTestCache(t, DefaultOptions())
	if _, err := cache.Fetch(context.Background(), Key{"nothing"}, nil); !errors.Is(err, ErrNoQueryFunc) {
		t.Fatalf("err = %v, want ErrNoQueryFunc", err)
	}
}

func TestObserve_ReceivesTransitions(t *testing.T) {
	query := &countingQuery{}
	cache := newTestCache(t, DefaultOptions())
	states := make(chan State, 8)

	sub, err := cache.Observe(context.Background(), Key{"snapshot"}, query.fn, func(state State) {
		states <- state
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer sub.Close()

	want := []Status{StatusIdle, StatusLoading, StatusSuccess}
	for i, status := range want {
		select {
		case got := <-states:
			if got.Status != status {
				t.Fatalf("transition %d = %v, want %v", i, got.Status, status)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", status)
		}
	}
}

func TestObserve_FailureProducesOneErrorState(t *testing.T) {
	query := &countingQuery{err: errors.New("500: boom")}
	cache := newTestCache(t, DefaultOptions())

	var mu sync.Mutex
	errorStates := 0
	sub, err := cache.Observe(context.Background(), Key{"broken"}, query.fn, func(state State) {
		if state.Status == StatusError {
			mu.Lock()
			errorStates++
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer sub.Close()

	waitFor(t, "error state", func() bool {
		state, _ := cache.Peek(Key{"broken"})
		return state.Status == StatusError
	})
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if errorStates != 1 {
		t.Errorf("error states = %d, want 1", errorStates)
	}
	if got := query.calls.Load(); got != 1 {
		t.Errorf("query calls = %d, want 1", got)
	}
}

func TestObserve_CloseStopsDelivery(t *testing.T) {
	cache := newTestCache(t, DefaultOptions())
	key := Key{"alerts"}
	cache.SetData(key, "v1")

	var deliveries atomic.Int64
	sub, err := cache.Observe(context.Background(), key, nil, func(State) {
		deliveries.Add(1)
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if got := deliveries.Load(); got != 1 {
		t.Fatalf("initial deliveries = %d, want 1", got)
	}

	sub.Close()
	sub.Close()
	cache.SetData(key, "v2")

	if got := deliveries.Load(); got != 1 {
		t.Errorf("deliveries after close = %d, want 1", got)
	}
}

func TestObserve_ContextEndDetaches(t *testing.T) {
	cache := newTestCache(t, DefaultOptions())
	key := Key{"events"}
	cache.SetData(key, "ready")

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := cache.Observe(ctx, key, nil, func(State) {}); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	cancel()

	waitFor(t, "observer detached", func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.entries[memoKey(key)].observers) == 0
	})
}

func TestObserve_InvalidateRefetchesObservedKey(t *testing.T) {
	query := &countingQuery{}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"snapshot"}

	sub, err := cache.Observe(context.Background(), key, query.fn, func(State) {})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer sub.Close()
	waitFor(t, "first fetch", func() bool { return query.calls.Load() == 1 })

	cache.Invalidate(key)
	waitFor(t, "background refetch", func() bool {
		state, _ := cache.Peek(key)
		return state.Status == StatusSuccess && !state.Invalidated
	})

	if _, err := cache.Fetch(context.Background(), key, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := query.calls.Load(); got != 2 {
		t.Errorf("query calls = %d, want 2", got)
	}
}

func TestObserve_RefetchInterval(t *testing.T) {
	query := &countingQuery{}
	opts := DefaultOptions()
	opts.RefetchInterval = 10 * time.Millisecond
	cache := newTestCache(t, opts)

	sub, err := cache.Observe(context.Background(), Key{"ticking"}, query.fn, func(State) {})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	waitFor(t, "periodic refetches", func() bool { return query.calls.Load() >= 3 })

	sub.Close()
	stopped := query.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := query.calls.Load(); got > stopped+1 {
		t.Errorf("refetches continued after last observer left: %d -> %d", stopped, got)
	}
}

func TestFocus(t *testing.T) {
	query := &countingQuery{}
	key := Key{"focused"}

	disabled := newTestCache(t, DefaultOptions())
	sub, _ := disabled.Observe(context.Background(), key, query.fn, func(State) {})
	defer sub.Close()
	waitFor(t, "mount fetch", func() bool { return query.calls.Load() == 1 })
	if n := disabled.Focus(context.Background()); n != 0 {
		t.Errorf("Focus with policy disabled refetched %d keys", n)
	}

	opts := DefaultOptions()
	opts.RefetchOnFocus = true
	enabled := newTestCache(t, opts)
	enabled.SetData(key, "cached")
	sub2, _ := enabled.Observe(context.Background(), key, query.fn, func(State) {})
	defer sub2.Close()
	if n := enabled.Focus(context.Background()); n != 1 {
		t.Errorf("Focus refetched %d keys, want 1", n)
	}
	if got := query.calls.Load(); got != 2 {
		t.Errorf("query calls = %d, want 2", got)
	}
}

func TestMutate_InvalidatesOnSuccessOnly(t *testing.T) {
	query := &countingQuery{}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"/api/alerts"}
	_, _ = cache.Fetch(context.Background(), key, query.fn)

	var failingCalls atomic.Int64
	_, err := cache.Mutate(context.Background(), func(ctx context.Context) (any, error) {
		failingCalls.Add(1)
		return nil, errors.New("409: conflict")
	}, key)
	if err == nil {
		t.Fatal("expected mutation error")
	}
	if got := failingCalls.Load(); got != 1 {
		t.Errorf("mutation calls = %d, want 1", got)
	}
	if state, _ := cache.Peek(key); state.Invalidated {
		t.Error("failed mutation must not invalidate")
	}

	if _, err := cache.Mutate(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, key); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if state, _ := cache.Peek(key); !state.Invalidated {
		t.Error("successful mutation should invalidate")
	}
}

func TestDefaultQueryFunc_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	gw, _ := gateway.New(gateway.WithBaseURL(server.URL))

	throwing := DefaultQueryFunc(gw, Throw)
	_, err := throwing(context.Background(), Key{"/api/me"})
	if !gateway.IsUnauthorized(err) {
		t.Fatalf("Throw: err = %v, want 401", err)
	}
	if err.Error() != "401: Unauthorized" {
		t.Errorf("Throw: message = %q", err)
	}

	nulling := DefaultQueryFunc(gw, ReturnNull)
	data, err := nulling(context.Background(), Key{"/api/me"})
	if err != nil || data != nil {
		t.Fatalf("ReturnNull: data=%v err=%v, want nil nil", data, err)
	}
}

func TestAs(t *testing.T) {
	type alert struct {
		ID string `json:"id"`
	}

	got, err := As[[]alert]([]byte(nil))
	if err == nil {
		t.Errorf("As on []byte should fail, got %v", got)
	}

	decoded, err := As[[]alert](jsonRaw(`[{"id":"a1"}]`))
	if err != nil || len(decoded) != 1 || decoded[0].ID != "a1" {
		t.Errorf("decoded = %v, err = %v", decoded, err)
	}

	zero, err := As[[]alert](nil)
	if err != nil || zero != nil {
		t.Errorf("nil data = %v, %v", zero, err)
	}

	same, err := As[string]("plain")
	if err != nil || same != "plain" {
		t.Errorf("typed data = %v, %v", same, err)
	}
}

func TestClose(t *testing.T) {
	cache := New(DefaultOptions())
	cache.Close()
	cache.Close()

	if _, err := cache.Fetch(context.Background(), Key{"x"}, (&countingQuery{}).fn); !errors.Is(err, ErrClosed) {
		t.Errorf("Fetch after Close err = %v", err)
	}
	if _, err := cache.Observe(context.Background(), Key{"x"}, nil, func(State) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Observe after Close err = %v", err)
	}
}

func TestMetrics(t *testing.T) {
	metrics := common.NewMetrics(prometheus.NewRegistry())
	opts := DefaultOptions()
	opts.Metrics = metrics
	cache := newTestCache(t, opts)
	query := &countingQuery{}

	_, _ = cache.Fetch(context.Background(), Key{"m"}, query.fn)
	_, _ = cache.Fetch(context.Background(), Key{"m"}, query.fn)
	cache.Invalidate(Key{"m"})

	if got := testutil.ToFloat64(metrics.QueryCacheHitsTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.QueryCacheHitsTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.QueryCacheInvalidationsTotal); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
}

func TestKey(t *testing.T) {
	key := Key{"/api/alerts", "a1"}
	if key.String() != "/api/alerts/a1" {
		t.Errorf("String = %q", key.String())
	}
	if !key.HasPrefix(Key{"/api/alerts"}) || key.HasPrefix(Key{"/api/buses"}) || (Key{"a"}).HasPrefix(key) {
		t.Error("HasPrefix mismatch")
	}
}

func TestInvalidate_InFlightFetchDoesNotOverwriteNewerResult(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	fn := func(ctx context.Context, key Key) (any, error) {
		if calls.Add(1) == 1 {
			<-release
			return "old", nil
		}
		return "new", nil
	}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"/api/snapshot"}

	oldResult := make(chan any, 1)
	go func() {
		data, _ := cache.Fetch(context.Background(), key, fn)
		oldResult <- data
	}()
	waitFor(t, "first fetch started", func() bool { return calls.Load() == 1 })

	cache.Invalidate(key)
	data, err := cache.Fetch(context.Background(), key, fn)
	if err != nil || data != "new" {
		t.Fatalf("fetch after invalidate = %v, %v", data, err)
	}

	close(release)
	if got := <-oldResult; got != "old" {
		t.Fatalf("first caller got %v, want old", got)
	}

	state, _ := cache.Peek(key)
	if state.Status != StatusSuccess || state.Data != "new" || state.Invalidated {
		t.Errorf("state after old fetch finished = %v %v invalidated=%v", state.Status, state.Data, state.Invalidated)
	}
	data, err = cache.Fetch(context.Background(), key, fn)
	if err != nil || data != "new" {
		t.Errorf("next read = %v, %v", data, err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("query calls = %d, want 2", got)
	}
}

func TestInvalidate_SupersededFetchKeepsEntryStale(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	fn := func(ctx context.Context, key Key) (any, error) {
		n := calls.Add(1)
		if n == 2 {
			<-release
		}
		return fmt.Sprintf("v%d", n), nil
	}
	cache := newTestCache(t, DefaultOptions())
	key := Key{"/api/alerts"}

	if _, err := cache.Fetch(context.Background(), key, fn); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	cache.Invalidate(key)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.Fetch(context.Background(), key, fn)
	}()
	waitFor(t, "refetch started", func() bool { return calls.Load() == 2 })
	cache.Invalidate(key)
	close(release)
	<-done

	state, _ := cache.Peek(key)
	if state.Status != StatusSuccess || state.Data != "v1" || !state.Invalidated {
		t.Fatalf("state = %v %v invalidated=%v, want v1 still invalidated", state.Status, state.Data, state.Invalidated)
	}
	data, err := cache.Fetch(context.Background(), key, fn)
	if err != nil || data != "v3" {
		t.Errorf("next read = %v, %v, want v3", data, err)
	}
}

func TestObserve_RacingFetchEndsOnLatestState(t *testing.T) {
	for i := 0; i < 50; i++ {
		release := make(chan struct{})
		fn := func(ctx context.Context, key Key) (any, error) {
			<-release
			return "ready", nil
		}
		cache := New(DefaultOptions())
		key := Key{"snapshot"}

		fetched := make(chan struct{})
		go func() {
			defer close(fetched)
			_, _ = cache.Fetch(context.Background(), key, fn)
		}()
		waitFor(t, "loading state", func() bool {
			state, _ := cache.Peek(key)
			return state.Status == StatusLoading
		})

		var mu sync.Mutex
		var last Status = -1
		go close(release)
		sub, err := cache.Observe(context.Background(), key, fn, func(state State) {
			mu.Lock()
			last = state.Status
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Observe: %v", err)
		}
		<-fetched

		waitFor(t, "success delivered", func() bool {
			mu.Lock()
			defer mu.Unlock()
			return last == StatusSuccess
		})
		time.Sleep(time.Millisecond)
		mu.Lock()
		if last != StatusSuccess {
			t.Fatalf("round %d: last delivered state = %v, want success", i, last)
		}
		mu.Unlock()

		sub.Close()
		cache.Close()
	}
}

func TestObserver_DropsOlderVersions(t *testing.T) {
	var got []string
	obs := &observer{listener: func(state State) {
		got = append(got, state.Data.(string))
	}}

	obs.deliver(State{Data: "second", version: 3})
	obs.deliver(State{Data: "first", version: 2})
	obs.deliver(State{Data: "third", version: 4})

	if len(got) != 2 || got[0] != "second" || got[1] != "third" {
		t.Errorf("delivered %v, want [second third]", got)
	}
}
