package querycache

import "sync"

var (
	defaultMu    sync.Mutex
	defaultCache *Cache
)

// Init installs the process wide cache, closing the previous one.
func Init(cfg Config, opts ...Option) (*Cache, error) {
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	prev := defaultCache
	defaultCache = c
	defaultMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return c, nil
}

// Default returns the process wide cache, creating one with DefaultConfig
// when Init was not called.
func Default() *Cache {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultCache == nil {
		c, err := New(DefaultConfig())
		if err != nil {
			panic(err)
		}
		defaultCache = c
	}
	return defaultCache
}

// Teardown closes and forgets the process wide cache.
func Teardown() {
	defaultMu.Lock()
	c := defaultCache
	defaultCache = nil
	defaultMu.Unlock()

	if c != nil {
		c.Close()
	}
}
