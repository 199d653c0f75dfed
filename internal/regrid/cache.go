package regrid

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// WeightStore persists weight sets across processes. Load returns (nil, nil)
// when nothing is stored under key.
type WeightStore interface {
	Load(key Key) (*Weights, error)
	Save(w *Weights) error
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	DiskHits     int64 `json:"disk_hits"`
	Computations int64 `json:"computations"`
	Entries      int   `json:"entries"`
}

// Cache memoizes weight sets by key. Concurrent requests for the same key
// share one computation; failed computations are not stored.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*Weights
	group   singleflight.Group
	store   WeightStore

	hits         atomic.Int64
	misses       atomic.Int64
	diskHits     atomic.Int64
	computations atomic.Int64
}

// NewCache creates an empty cache. store may be nil.
func NewCache(store WeightStore) *Cache {
	return &Cache{
		entries: make(map[Key]*Weights),
		store:   store,
	}
}

func (c *Cache) lookup(key Key) (*Weights, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.entries[key]
	return w, ok
}

// Get returns the weights stored under key, calling compute at most once per
// key when they are absent.
func (c *Cache) Get(key Key, compute func() (*Weights, error)) (*Weights, error) {
	if w, ok := c.lookup(key); ok {
		c.hits.Add(1)
		cacheLookups.WithLabelValues("hit").Inc()
		return w, nil
	}
	c.misses.Add(1)
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if w, ok := c.lookup(key); ok {
			return w, nil
		}
		if w := c.loadStored(key); w != nil {
			c.insert(key, w)
			return w, nil
		}

		w, err := compute()
		if err != nil {
			return nil, err
		}
		c.computations.Add(1)
		weightComputations.WithLabelValues(string(key.Method)).Inc()
		c.insert(key, w)

		if c.store != nil {
			if err := c.store.Save(w); err != nil {
				log.Warn().Err(err).Str("method", string(key.Method)).Msg("failed to persist weights")
			}
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Weights), nil
}

func (c *Cache) loadStored(key Key) *Weights {
	if c.store == nil {
		return nil
	}
	w, err := c.store.Load(key)
	if err != nil {
		log.Warn().Err(err).Str("method", string(key.Method)).Msg("ignoring unreadable weight file")
		return nil
	}
	if w == nil {
		return nil
	}
	if err := w.Validate(); err != nil {
		log.Warn().Err(err).Msg("ignoring invalid weight file")
		return nil
	}
	c.diskHits.Add(1)
	cacheLookups.WithLabelValues("disk").Inc()
	return w
}

func (c *Cache) insert(key Key, w *Weights) {
	c.mu.Lock()
	c.entries[key] = w
	c.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		DiskHits:     c.diskHits.Load(),
		Computations: c.computations.Load(),
		Entries:      n,
	}
}
