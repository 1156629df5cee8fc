package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-resource-query/cache"
	"github.com/goliatone/go-resource-query/resource"
)

// ErrClosed is reported by reads on a closed cache.
var ErrClosed = errors.New("querycache: cache is closed")

// Cache tracks query results keyed by resource.Key. Fresh results live in a
// sturdyc store whose TTL is the stale time; entries keep the last result
// around so stale data can be served while a refetch runs.
type Cache struct {
	cfg     Config
	store   cache.Store
	keys    cache.KeySerializer
	entries *xsync.MapOf[string, *entry]
	logger  zerolog.Logger
	metrics *Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics sets the cache instruments.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithStore replaces the sturdyc store built from Config.Store.
func WithStore(store cache.Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithKeySerializer replaces the default key serializer.
func WithKeySerializer(keys cache.KeySerializer) Option {
	return func(c *Cache) { c.keys = keys }
}

// WithClock overrides the clock used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache from cfg.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		keys:    cache.NewDefaultKeySerializer(),
		entries: xsync.NewMapOf[string, *entry](),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.store == nil {
		store, err := cache.NewCacheService(cfg.storeConfig())
		if err != nil {
			return nil, fmt.Errorf("querycache: build store: %w", err)
		}
		c.store = store
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Config returns the cache policy.
func (c *Cache) Config() Config { return c.cfg }

// Len returns the number of tracked entries.
func (c *Cache) Len() int { return c.entries.Size() }

// StoreKey returns the store key for k. Keys of one resource share the
// resource prefix.
func (c *Cache) StoreKey(k resource.Key) string {
	var filter map[string]string
	if len(k.Filter) > 0 {
		filter = k.Filter
	}
	return c.keys.SerializeKey(k.Resource, string(k.Kind), k.ID, filter, k.SkipCount, k.MaxResultCount)
}

// acquire returns the live entry for key with its lock held.
func (c *Cache) acquire(key resource.Key) *entry {
	skey := c.StoreKey(key)
	for {
		e, loaded := c.entries.LoadOrCompute(skey, func() *entry {
			return newEntry(key, skey)
		})
		if !loaded {
			c.metrics.Entries.Inc()
		}

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

func (c *Cache) freshLocked(e *entry) bool {
	if !e.hasData || e.invalidated {
		return false
	}
	_, ok := cache.Get[any](c.ctx, c.store, e.storeKey)
	return ok
}

func (c *Cache) stateLocked(e *entry) state {
	return state{
		seq:        e.seq,
		status:     e.status,
		data:       e.data,
		hasData:    e.hasData,
		err:        e.err,
		fetchedAt:  e.fetchedAt,
		isStale:    e.hasData && !c.freshLocked(e),
		isFetching: e.flight != nil,
	}
}

// read serves a non blocking read and starts a fetch when the entry is not
// fresh. A failed entry stays failed until a Fetch, Refetch, Subscribe or
// invalidation retries it.
func (c *Cache) read(key resource.Key, fetch fetchFunc) state {
	if st, ok := c.precheck(key); !ok {
		return st
	}

	e := c.acquire(key)
	started := false
	if c.freshLocked(e) {
		c.metrics.Hits.WithLabelValues(key.Resource).Inc()
	} else {
		c.metrics.Misses.WithLabelValues(key.Resource).Inc()
		if e.flight == nil && e.status != StatusError {
			c.startLocked(e, fetch)
			started = true
		}
	}
	st := c.stateLocked(e)
	c.scheduleGCLocked(e)
	e.mu.Unlock()

	if started {
		c.notify(e)
	}
	return st
}

func (c *Cache) precheck(key resource.Key) (state, bool) {
	if c.closed.Load() {
		return state{status: StatusError, err: ErrClosed}, false
	}
	if !key.Enabled() {
		return state{status: StatusIdle}, false
	}
	if err := key.Validate(); err != nil {
		return state{status: StatusError, err: fmt.Errorf("querycache: invalid key %s: %w", key, err)}, false
	}
	return state{}, true
}

// fetch returns fresh data for key, joining the in-flight fetch when there is
// one. A joined fetch outdated by an invalidation is not returned; fetch
// waits for or starts the fetch that follows it.
func (c *Cache) fetch(ctx context.Context, key resource.Key, fn fetchFunc) (any, error) {
	if !key.Enabled() {
		return nil, resource.ErrEmptyID
	}

	for {
		if st, ok := c.precheck(key); !ok {
			return nil, st.err
		}

		e := c.acquire(key)
		if c.freshLocked(e) {
			data := e.data
			c.metrics.Hits.WithLabelValues(key.Resource).Inc()
			c.scheduleGCLocked(e)
			e.mu.Unlock()
			return data, nil
		}

		c.metrics.Misses.WithLabelValues(key.Resource).Inc()
		fl := e.flight
		started := false
		if fl == nil {
			fl = c.startLocked(e, fn)
			started = true
		}
		e.mu.Unlock()

		if started {
			c.notify(e)
		}

		select {
		case <-fl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		e.mu.Lock()
		outdated := fl.version != e.version
		e.mu.Unlock()
		if !outdated || fl.err != nil {
			return fl.data, fl.err
		}
	}
}

// startLocked launches a fetch for e. The caller holds e.mu.
func (c *Cache) startLocked(e *entry, fn fetchFunc) *flight {
	c.cancelGCLocked(e)

	fl := &flight{done: make(chan struct{}), version: e.version}
	e.flight = fl
	e.fetch = fn
	e.status = StatusLoading
	e.seq++

	c.metrics.Fetches.WithLabelValues(e.key.Resource).Inc()
	c.logger.Debug().Str("key", e.key.String()).Bool("stale_data", e.hasData).Msg("fetch started")

	go c.run(e, fl, fn)
	return fl
}

func (c *Cache) run(e *entry, fl *flight, fn fetchFunc) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
	defer cancel()

	data, err := cache.GetOrFetch(ctx, c.store, e.storeKey, func(ctx context.Context) (any, error) {
		return c.retry(ctx, e.key, fn)
	})

	c.settle(e, fl, fn, data, err)
}

func (c *Cache) retry(ctx context.Context, key resource.Key, fn fetchFunc) (any, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Retry)), ctx)

	op := func() (any, error) {
		data, err := fn(ctx)
		if err != nil && !resource.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}

	return backoff.RetryNotifyWithData(op, policy, func(err error, wait time.Duration) {
		c.metrics.Retries.WithLabelValues(key.Resource).Inc()
		c.logger.Warn().Err(err).Str("key", key.String()).Dur("backoff", wait).Msg("fetch failed, retrying")
	})
}

func (c *Cache) settle(e *entry, fl *flight, fn fetchFunc, data any, err error) {
	e.mu.Lock()

	fl.data, fl.err = data, err
	e.flight = nil
	outdated := e.version != fl.version

	if err != nil {
		e.status = StatusError
		e.err = err
		c.metrics.FetchErrors.WithLabelValues(e.key.Resource).Inc()
		if !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Str("key", e.key.String()).Msg("fetch failed")
		}
	} else {
		e.status = StatusSuccess
		e.err = nil
		e.data = data
		e.hasData = true
		e.fetchedAt = c.now()
		if !outdated {
			e.invalidated = false
		}
	}
	e.seq++

	if outdated && err == nil {
		// the result predates an invalidation, keep it out of the fresh store
		c.store.Delete(c.ctx, e.storeKey)
	}
	refetch := outdated && len(e.subs) > 0 && !c.closed.Load()
	if refetch {
		c.startLocked(e, fn)
	} else {
		c.scheduleGCLocked(e)
	}
	e.mu.Unlock()

	close(fl.done)
	c.notify(e)
}

// notify publishes the current state of e to its subscribers.
func (c *Cache) notify(e *entry) {
	e.mu.Lock()
	st := c.stateLocked(e)
	subs := e.subscribers()
	e.mu.Unlock()

	for _, s := range subs {
		s.send(st)
	}
}

// subscribe registers deliver on key and returns the unsubscribe func.
func (c *Cache) subscribe(key resource.Key, fn fetchFunc, deliver func(state)) func() {
	if st, ok := c.precheck(key); !ok {
		deliver(st)
		return func() {}
	}

	sub := &subscriber{deliver: deliver}

	e := c.acquire(key)
	c.cancelGCLocked(e)
	e.nextSub++
	id := e.nextSub
	e.subs[id] = sub

	if c.freshLocked(e) {
		c.metrics.Hits.WithLabelValues(key.Resource).Inc()
	} else {
		c.metrics.Misses.WithLabelValues(key.Resource).Inc()
		if e.flight == nil {
			c.startLocked(e, fn)
		}
	}
	e.mu.Unlock()

	c.notify(e)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.closed.Store(true)

			e.mu.Lock()
			delete(e.subs, id)
			c.scheduleGCLocked(e)
			e.mu.Unlock()
		})
	}
}

// refetch drops the fresh result for key and starts a new fetch unless one
// is already running.
func (c *Cache) refetch(key resource.Key, fn fetchFunc) {
	if _, ok := c.precheck(key); !ok {
		return
	}

	e := c.acquire(key)
	c.store.Delete(c.ctx, e.storeKey)
	started := false
	if e.flight == nil {
		c.startLocked(e, fn)
		started = true
	}
	e.mu.Unlock()

	if started {
		c.notify(e)
	}
}

func (c *Cache) peek(key resource.Key) state {
	if st, ok := c.precheck(key); !ok {
		return st
	}

	e, ok := c.entries.Load(c.StoreKey(key))
	if !ok {
		return state{status: StatusIdle}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return c.stateLocked(e)
}

// Invalidate marks every entry whose resource matches pred as stale and
// drops their fresh results. Entries with subscribers refetch right away;
// the rest refetch on their next read. It returns the number of entries
// touched.
func (c *Cache) Invalidate(pred func(resource string) bool) int {
	if pred == nil || c.closed.Load() {
		return 0
	}

	names := map[string]struct{}{}
	var matched []*entry
	c.entries.Range(func(_ string, e *entry) bool {
		if pred(e.key.Resource) {
			names[e.key.Resource] = struct{}{}
			matched = append(matched, e)
		}
		return true
	})

	for name := range names {
		if err := c.store.DeleteByPrefix(c.ctx, c.keys.Prefix(name)); err != nil {
			c.logger.Warn().Err(err).Str("resource", name).Msg("store prefix delete failed")
		}
	}

	for _, e := range matched {
		c.invalidateEntry(e)
	}

	for name := range names {
		c.logger.Debug().Str("resource", name).Msg("resource invalidated")
	}
	return len(matched)
}

func (c *Cache) invalidateEntry(e *entry) {
	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}

	e.version++
	e.invalidated = true
	e.seq++
	c.metrics.Invalidations.WithLabelValues(e.key.Resource).Inc()

	// a running fetch notices the version change when it settles
	if len(e.subs) > 0 && e.flight == nil && e.fetch != nil {
		c.startLocked(e, e.fetch)
	}
	e.mu.Unlock()

	c.notify(e)
}

// InvalidateResource invalidates every entry of the named resource.
func (c *Cache) InvalidateResource(name string) {
	if c.closed.Load() {
		return
	}
	c.store.DeleteByPrefix(c.ctx, c.keys.Prefix(name))
	c.Invalidate(func(resource string) bool { return resource == name })
}

// Reset drops every entry and stored result. Subscribers of dropped entries
// stop receiving updates.
func (c *Cache) Reset() {
	c.entries.Range(func(key string, e *entry) bool {
		e.mu.Lock()
		c.cancelGCLocked(e)
		e.evicted = true
		for _, s := range e.subs {
			s.closed.Store(true)
		}
		e.mu.Unlock()
		return true
	})
	c.entries.Clear()
	c.store.DeleteByPrefix(c.ctx, "")
	c.metrics.Entries.Set(0)
}

// Close cancels in-flight fetches and drops all entries.
func (c *Cache) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	c.Reset()
}

func (c *Cache) scheduleGCLocked(e *entry) {
	if e.gcTimer != nil || e.evicted || len(e.subs) > 0 || e.flight != nil {
		return
	}

	e.gcGen++
	gen := e.gcGen
	e.gcTimer = time.AfterFunc(c.cfg.GCTime, func() { c.evict(e, gen) })
}

func (c *Cache) cancelGCLocked(e *entry) {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	e.gcGen++
}

func (c *Cache) evict(e *entry, gen uint64) {
	removed := false
	c.entries.Compute(e.storeKey, func(cur *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return cur, true
		}
		if cur != e {
			return cur, false
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gcGen != gen || len(e.subs) > 0 || e.flight != nil {
			return cur, false
		}
		e.gcTimer = nil
		e.evicted = true
		removed = true
		return cur, true
	})

	if !removed {
		return
	}
	c.store.Delete(c.ctx, e.storeKey)
	c.metrics.Evictions.WithLabelValues(e.key.Resource).Inc()
	c.metrics.Entries.Dec()
	c.logger.Debug().Str("key", e.key.String()).Msg("entry evicted")
}
