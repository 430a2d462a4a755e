package mapkv

import "fmt"

// Option configures a Map at Open time. Options are applied in order;
// later options win where they conflict directly (e.g. two WithCache
// calls), but some combinations are rejected outright (WithCache on the
// Raw-bytes facade fails with ErrTypeMismatch).
type Option func(*mapConfig) error

type mapConfig struct {
	subDB        string
	maxDBs       int
	cacheFactory func() Cache
	lockFactory  func() LockPool
	codec        Codec
	forceNoCache bool // set by the Raw-bytes facade; rejects WithCache
}

func defaultConfig() *mapConfig {
	return &mapConfig{
		subDB:        defaultSubDB,
		maxDBs:       0,
		cacheFactory: NewLRU128,
		lockFactory:  func() LockPool { return NewLockPool() },
		codec:        StructuredCodec{},
	}
}

// WithSubDB opens the Map against a named sub-database rather than the
// store's default one. Opening a named sub-database requires a positive
// WithMaxDBs ceiling.
func WithSubDB(name string) Option {
	return func(c *mapConfig) error {
		c.subDB = name
		return nil
	}
}

// WithMaxDBs sets the maximum number of distinct named sub-databases the
// underlying store will allow to be opened over its lifetime. The
// default, 0, permits only the default sub-database.
func WithMaxDBs(n int) Option {
	return func(c *mapConfig) error {
		if n < 0 {
			return fmt.Errorf("%w: max_dbs must be >= 0, got %d", ErrConfigConflict, n)
		}

		c.maxDBs = n

		return nil
	}
}

// WithCache overrides the cache implementation, and pairs it with a
// matching lock pool: a no-op cache gets a no-op lock pool (there is no
// shared mutable cache state left to protect), anything else gets the
// real per-key lock pool. It conflicts with the Raw-bytes facade, which
// requires no-op caching to keep its identity codec meaningful.
func WithCache(factory func() Cache) Option {
	return func(c *mapConfig) error {
		if c.forceNoCache {
			return fmt.Errorf("%w: the raw-bytes facade does not support a cache", ErrTypeMismatch)
		}

		c.cacheFactory = factory

		if factory().Kind() == "noop" {
			c.lockFactory = func() LockPool { return NewNoopLockPool() }
		} else {
			c.lockFactory = func() LockPool { return NewLockPool() }
		}

		return nil
	}
}

// WithCodec overrides the serialization codec. Most callers should use
// one of the Open/OpenRaw/OpenCached facades instead of setting this
// directly.
func WithCodec(codec Codec) Option {
	return func(c *mapConfig) error {
		c.codec = codec
		return nil
	}
}

func withNoCache() Option {
	return func(c *mapConfig) error {
		c.forceNoCache = true
		c.cacheFactory = NewNoopCache
		c.lockFactory = func() LockPool { return NewNoopLockPool() }

		return nil
	}
}

func applyOptions(opts []Option) (*mapConfig, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
