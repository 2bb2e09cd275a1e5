// Package pagecache holds the paginated message lists of mailboxes, keyed by
// mailbox and sort property. It does no network access.
//
// Every read returns a snapshot: callers may modify the returned Entry
// freely, only Set and Patch change the cache.
package pagecache

import (
	"errors"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	DefaultStaleAfter = 30 * time.Second
	DefaultEvictAfter = 5 * time.Minute
)

var ErrNotFound = errors.New("no cache entry")

type slot struct {
	entry *Entry
	pins  int
}

type Cache struct {
	mu         sync.Mutex
	slots      map[Key]*slot
	staleAfter time.Duration
	now        func() time.Time
	epoch      uint64
	// keys accessed within the eviction window, expiry re-armed on access
	recent *gocache.Cache

	observers []func(Key)
}

// New creates a cache. Entries older than staleAfter are reported stale,
// entries not accessed for evictAfter are dropped by Evict. Zero durations
// use the defaults.
func New(staleAfter, evictAfter time.Duration) *Cache {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if evictAfter <= 0 {
		evictAfter = DefaultEvictAfter
	}
	// no janitor, expired keys are collected by Evict
	return &Cache{
		slots:      make(map[Key]*slot),
		staleAfter: staleAfter,
		now:        time.Now,
		recent:     gocache.New(evictAfter, 0),
	}
}

func (c *Cache) touch(key Key) {
	c.recent.Set(key.String(), key, gocache.DefaultExpiration)
}

// WithClock replaces the time source of the staleness window.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// OnUpdate registers fn to be called after every change of an entry. It is
// called without any cache lock held.
func (c *Cache) OnUpdate(fn func(Key)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Cache) notify(keys ...Key) {
	c.mu.Lock()
	observers := make([]func(Key), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, key := range keys {
		for _, fn := range observers {
			fn(key)
		}
	}
}

// Get returns a snapshot of the entry. Stale is set when the entry was
// invalidated or is older than the staleness window.
func (c *Cache) Get(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	c.touch(key)
	e := s.entry.clone()
	if now.Sub(e.FetchedAt) > c.staleAfter {
		e.Stale = true
	}
	return e, true
}

// Set replaces the entry wholesale. A zero FetchedAt is set to now.
func (c *Cache) Set(key Key, e *Entry) {
	c.SetIf(key, e, nil)
}

// SetIf is Set, done only if cond returns true. cond is evaluated under the
// cache lock and must not call back into the cache.
func (c *Cache) SetIf(key Key, e *Entry, cond func() bool) bool {
	c.mu.Lock()
	if cond != nil && !cond() {
		c.mu.Unlock()
		return false
	}
	e = e.clone()
	now := c.now()
	if e.FetchedAt.IsZero() {
		e.FetchedAt = now
	}
	c.epoch++
	e.Epoch = c.epoch
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	} else {
		e.Version = s.entry.Version
	}
	e.Version++
	s.entry = e
	c.touch(key)
	c.mu.Unlock()
	c.notify(key)
	return true
}

// Invalidate clears the entry and marks it stale. The cursor is discarded,
// so the next load is a full one.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.epoch++
	s.entry = &Entry{
		Stale:   true,
		Epoch:   c.epoch,
		Version: s.entry.Version + 1,
	}
	c.mu.Unlock()
	c.notify(key)
}

// Patch atomically applies fn to a copy of the entry. The copy replaces the
// entry only when fn returns nil, otherwise the entry is left untouched and
// the error is returned.
func (c *Cache) Patch(key Key, fn func(*Entry) error) error {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	work := s.entry.clone()
	if err := fn(work); err != nil {
		c.mu.Unlock()
		return err
	}
	work.Epoch = s.entry.Epoch
	work.Version = s.entry.Version + 1
	s.entry = work
	c.touch(key)
	c.mu.Unlock()
	c.notify(key)
	return nil
}

func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	_, ok := c.slots[key]
	delete(c.slots, key)
	c.recent.Delete(key.String())
	c.mu.Unlock()
	if ok {
		c.notify(key)
	}
}

// DeleteMailbox drops the entries of a mailbox for every sort property.
func (c *Cache) DeleteMailbox(mailboxID string) {
	var keys []Key
	c.mu.Lock()
	for key := range c.slots {
		if key.MailboxID == mailboxID {
			keys = append(keys, key)
			delete(c.slots, key)
			c.recent.Delete(key.String())
		}
	}
	c.mu.Unlock()
	c.notify(keys...)
}

// Pin protects an entry from eviction while a mutation targets it. Every Pin
// must be paired with an Unpin.
func (c *Cache) Pin(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[key]; ok {
		s.pins++
	}
}

func (c *Cache) Unpin(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[key]; ok && s.pins > 0 {
		s.pins--
	}
}

// Evict drops entries that were not accessed for the eviction window,
// except pinned ones and those listed in keep.
func (c *Cache) Evict(keep ...Key) []Key {
	kept := make(map[Key]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	var evicted []Key
	c.mu.Lock()
	for key, s := range c.slots {
		if s.pins > 0 || kept[key] {
			continue
		}
		if _, ok := c.recent.Get(key.String()); !ok {
			delete(c.slots, key)
			evicted = append(evicted, key)
		}
	}
	c.recent.DeleteExpired()
	c.mu.Unlock()
	sort.Slice(evicted, func(i, j int) bool {
		return evicted[i].String() < evicted[j].String()
	})
	c.notify(evicted...)
	return evicted
}

// Keys returns the keys of all entries, sorted.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.slots))
	for key := range c.slots {
		keys = append(keys, key)
	}
	c.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
