package mailsync

import (
	"time"

	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
)

const (
	DefaultPageSize        = 100
	DefaultPrefetch        = 500
	DefaultRefreshInterval = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

type Option func(*Engine)

func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithPrefetch sets how many messages LoadInitial fetches before
// returning control to on demand pagination.
func WithPrefetch(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.prefetch = n
		}
	}
}

func WithRefreshInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithRequestTimeout bounds every call to the protocol client.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithCache(c *pagecache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithStore enables the persisted warm start.
func WithStore(s Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

func WithLogger(l log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock replaces the time source of the engine and of its cache.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}
