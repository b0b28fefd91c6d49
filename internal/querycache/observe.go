package querycache

import (
	"context"
	"sync"
	"time"
)

type Subscription struct {
	cache *Cache
	hash  string
	id    uint64
	obs   *observer

	once sync.Once
	mu   sync.Mutex
	stop func() bool
}

// Observe attaches listener to key. The listener first receives the current
// state, then every transition, never an older state after a newer one. An entry with no usable data (never fetched,
// failed or invalidated) is fetched in the background. The subscription is
// closed when ctx ends or Close is called, whichever comes first.
func (c *Cache) Observe(ctx context.Context, key Key, fn QueryFunc, listener Listener) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	e := c.entryLocked(key)
	if fn != nil {
		e.fn = fn
	}

	c.nextObserver++
	sub := &Subscription{
		cache: c,
		hash:  memoKey(key),
		id:    c.nextObserver,
		obs:   &observer{listener: listener},
	}
	e.observers[sub.id] = sub.obs

	mount := e.running == 0 && !c.freshLocked(e)
	if mount {
		c.wg.Add(1)
	}
	if len(e.observers) == 1 && c.opts.RefetchInterval > 0 {
		c.startRefetcherLocked(e)
	}
	state := e.state
	c.mu.Unlock()

	sub.obs.deliver(state)

	if mount {
		go func() {
			defer c.wg.Done()
			_, _ = c.fetch(c.ctx, e)
		}()
	}

	sub.mu.Lock()
	sub.stop = context.AfterFunc(ctx, sub.Close)
	sub.mu.Unlock()
	return sub, nil
}

// Close detaches the listener. No delivery starts after Close returns.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.obs.detached.Store(true)
		sub.mu.Lock()
		stop := sub.stop
		sub.mu.Unlock()
		if stop != nil {
			stop()
		}

		c := sub.cache
		c.mu.Lock()
		defer c.mu.Unlock()

		e, ok := c.entries[sub.hash]
		if !ok {
			return
		}
		delete(e.observers, sub.id)
		if len(e.observers) == 0 && e.stopRefetcher != nil {
			e.stopRefetcher()
			e.stopRefetcher = nil
		}
	})
}

func (c *Cache) startRefetcherLocked(e *entry) {
	ctx, cancel := context.WithCancel(c.ctx)
	e.stopRefetcher = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.RefetchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = c.fetch(ctx, e)
			}
		}
	}()
}
