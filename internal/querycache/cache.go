// Package querycache keeps the last result of each query, deduplicates
// concurrent fetches of the same key and lets callers invalidate entries
// after a mutation.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

var (
	ErrClosed      = errors.New("query cache is closed")
	ErrNoQueryFunc = errors.New("no query function for key")
)

type Cache struct {
	opts Options

	mu           sync.Mutex
	entries      map[string]*entry
	nextObserver uint64
	closed       bool

	group singleflight.Group

	// In-flight fetches run under ctx, not the caller's, so one caller
	// giving up does not fail the others sharing the request.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		opts:    opts,
		entries: map[string]*entry{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close detaches every observer, cancels in-flight fetches and waits for
// background work to stop. Further calls fail with ErrClosed.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		for id, obs := range e.observers {
			obs.detached.Store(true)
			delete(e.observers, id)
		}
		if e.stopRefetcher != nil {
			e.stopRefetcher()
			e.stopRefetcher = nil
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) Options() Options {
	return c.opts
}

// Fetch returns the cached data for key while it is fresh, and otherwise
// runs fn (or the entry's last function, or the default one). Callers
// arriving while a fetch is in flight share its result.
func (c *Cache) Fetch(ctx context.Context, key Key, fn QueryFunc) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(key)
	if fn != nil {
		e.fn = fn
	}
	if c.freshLocked(e) {
		data := e.state.Data
		c.mu.Unlock()
		c.countLookup("hit")
		return data, nil
	}
	c.mu.Unlock()

	c.countLookup("miss")
	return c.fetch(ctx, e)
}

// FetchAs is Fetch with the result converted to T. Raw JSON produced by the
// default query function is decoded; nil data yields the zero value.
func FetchAs[T any](ctx context.Context, c *Cache, key Key, fn QueryFunc) (T, error) {
	data, err := c.Fetch(ctx, key, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](data)
}

func As[T any](data any) (T, error) {
	var out T
	switch value := data.(type) {
	case nil:
		return out, nil
	case T:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(value, &out); err != nil {
			return out, fmt.Errorf("decode query data: %w", err)
		}
		return out, nil
	}
	return out, fmt.Errorf("query data is %T, want %T", data, out)
}

// Peek reports the current state of key without fetching.
func (c *Cache) Peek(key Key) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[memoKey(key)]
	if !ok {
		return State{Key: key, Status: StatusIdle}, false
	}
	return e.state, true
}

// SetData stores data for key as a successful result.
func (c *Cache) SetData(key Key, data any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entryLocked(key)
	e.state.Status = StatusSuccess
	e.state.Data = data
	e.state.Err = nil
	e.state.UpdatedAt = time.Now()
	e.state.Invalidated = false
	observers, state := e.snapshotLocked()
	c.mu.Unlock()

	notify(observers, state)
}

// Remove drops key and detaches its observers.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := memoKey(key)
	e, ok := c.entries[hash]
	if !ok {
		return
	}
	for _, obs := range e.observers {
		obs.detached.Store(true)
	}
	if e.stopRefetcher != nil {
		e.stopRefetcher()
	}
	delete(c.entries, hash)
	c.group.Forget(hash)
}

// Invalidate marks every entry whose key starts with prefix as stale. The
// next read of such an entry fetches again; entries with observers are
// refetched right away. It returns the number of entries marked.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}

	marked := 0
	refetch := []*entry{}
	for hash, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.generation++
		e.state.Invalidated = true
		c.group.Forget(hash)
		marked++
		if len(e.observers) > 0 {
			refetch = append(refetch, e)
		}
	}
	c.wg.Add(len(refetch))
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.QueryCacheInvalidationsTotal.Add(float64(marked))
	}
	for _, e := range refetch {
		go func(e *entry) {
			defer c.wg.Done()
			_, _ = c.fetch(c.ctx, e)
		}(e)
	}
	return marked
}

// Mutate runs fn under the mutation retry policy and, when it succeeds,
// invalidates each of the given keys.
func (c *Cache) Mutate(ctx context.Context, fn MutationFunc, invalidate ...Key) (any, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	data, err := c.retry(ctx, c.opts.MutationRetry, func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}

	for _, key := range invalidate {
		c.Invalidate(key)
	}
	return data, nil
}

// Focus is the hook for "the consumer became visible again". It refetches
// observed keys when RefetchOnFocus is set and reports how many it ran.
func (c *Cache) Focus(ctx context.Context) int {
	if !c.opts.RefetchOnFocus {
		return 0
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	observed := []*entry{}
	for _, e := range c.entries {
		if len(e.observers) > 0 {
			observed = append(observed, e)
		}
	}
	c.mu.Unlock()

	for _, e := range observed {
		_, _ = c.fetch(ctx, e)
	}
	return len(observed)
}

func (c *Cache) entryLocked(key Key) *entry {
	hash := memoKey(key)
	e, ok := c.entries[hash]
	if !ok {
		e = newEntry(key)
		c.entries[hash] = e
	}
	return e
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.state.Status != StatusSuccess || e.state.Invalidated {
		return false
	}
	if c.opts.StaleTime == Forever {
		return true
	}
	return time.Since(e.state.UpdatedAt) < c.opts.StaleTime
}

func (c *Cache) fetch(ctx context.Context, e *entry) (any, error) {
	c.mu.Lock()
	fn := e.fn
	if fn == nil {
		fn = c.opts.QueryFunc
	}
	c.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("%w %q", ErrNoQueryFunc, e.key.String())
	}

	results := c.group.DoChan(memoKey(e.key), func() (any, error) {
		return c.run(e, fn)
	})

	select {
	case result := <-results:
		return result.Val, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(e *entry, fn QueryFunc) (any, error) {
	c.mu.Lock()
	generation := e.generation
	if e.running == 0 {
		e.settled = e.state.Status
	}
	e.running++
	e.state.Status = StatusLoading
	observers, state := e.snapshotLocked()
	c.mu.Unlock()
	notify(observers, state)

	data, err := c.retry(c.ctx, c.opts.Retry, func() (any, error) {
		return fn(c.ctx, e.key)
	})

	c.mu.Lock()
	e.running--
	publish := true
	switch {
	case e.generation == generation:
		if err != nil {
			e.state.Status = StatusError
			e.state.Err = err
			e.state.ErrorAt = time.Now()
		} else {
			e.state.Status = StatusSuccess
			e.state.Data = data
			e.state.Err = nil
			e.state.UpdatedAt = time.Now()
		}
		e.state.Invalidated = false
	case e.running == 0 && e.state.Status == StatusLoading:
		// Superseded and nothing newer settled the entry: keep the data it
		// had and leave it invalidated.
		e.state.Status = e.settled
	default:
		publish = false
	}
	observers, state = nil, State{}
	if publish {
		observers, state = e.snapshotLocked()
	}
	c.mu.Unlock()

	if err != nil {
		c.countFetch("error")
	} else {
		c.countFetch("success")
	}
	notify(observers, state)
	return data, err
}

func (c *Cache) retry(ctx context.Context, retries uint, operation func() (any, error)) (any, error) {
	if retries == 0 {
		return operation()
	}

	var policy backoff.BackOff = backoff.NewExponentialBackOff()
	if c.opts.RetryDelay > 0 {
		policy = backoff.NewConstantBackOff(c.opts.RetryDelay)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(retries+1),
	)
}

func (c *Cache) countLookup(result string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.QueryCacheHitsTotal.WithLabelValues(result).Inc()
	}
}

func (c *Cache) countFetch(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.QueryCacheFetchesTotal.WithLabelValues(outcome).Inc()
	}
}
