// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package querycache implements C5, the Query Cache: an LRU, byte-budgeted
// cache of range-zip aggregation results, keyed by query signature plus
// candidate dependency chunk set, invalidated by the store's
// InsertEvent/RemoveEvent stream (spec §4.5).
//
// The map bookkeeping here is grounded on the teacher's
// tenant/dcache.Cache (a rocache map guarded by one mutex, with
// Hits()/Misses()-style accessors for statistics), but one piece is
// deliberately not carried over: dcache's lockID/cond.Wait
// inflight-coalescing, which blocks a second caller asking for an
// in-flight fill so that expensive disk I/O is never done twice. This
// cache's contract is the opposite: a miss may be computed by multiple
// callers in parallel, and the later Put simply wins, so Cache has no
// inflight map or condition variable, and Get/Put hold the cache mutex
// only for the map update itself, never while an aggregation is computed.
package querycache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
	"github.com/rerun-io/rerun-go/rangezip"
	"github.com/rerun-io/rerun-go/store"
)

// Logger is the minimal logging interface Cache uses for its own
// diagnostics, mirroring dcache.Logger so a caller can plug in whatever
// structured logger it already uses elsewhere without this package
// importing one directly.
type Logger interface {
	Printf(f string, args ...interface{})
}

type entry struct {
	chunk    *chunk.Chunk
	entity   entity.Path
	timeline index.Timeline
	deps     rangezip.DependencySet // precise, post-aggregation set
	byteSize uint64
}

// Cache is a byte-budgeted LRU of range-zip aggregation results. The zero
// value is not usable; construct with New.
type Cache struct {
	Logger Logger

	budget uint64

	mu      sync.Mutex
	entries map[Key]*entry
	used    uint64
	order   *lru.Cache[Key, struct{}] // recency tracker; values unused

	hits, misses, installs atomic.Int64
}

// New returns an empty Cache with the given byte budget.
func New(budget uint64) *Cache {
	// The recency tracker's own item-count capacity is set far above any
	// realistic entry count: eviction here is always byte-budget driven
	// (see evictLocked), never item-count driven, so golang-lru's built-in
	// capacity eviction must never be the thing that removes an entry.
	order, _ := lru.New[Key, struct{}](1 << 20)
	return &Cache{
		budget:  budget,
		entries: make(map[Key]*entry),
		order:   order,
	}
}

func (c *Cache) logf(f string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(f, args...)
	}
}

// Hits, Misses, and Installs report cache statistics for telemetry,
// matching dcache.Cache.Hits/Misses in shape.
func (c *Cache) Hits() int64     { return c.hits.Load() }
func (c *Cache) Misses() int64   { return c.misses.Load() }
func (c *Cache) Installs() int64 { return c.installs.Load() }

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes returns the cache's current resident byte count, which counts
// toward the process's total resident bytes alongside C6's store budget
// (spec §4.5 "Lifecycle").
func (c *Cache) UsedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Get looks up key, touching its recency on a hit.
func (c *Cache) Get(key Key) (*chunk.Chunk, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.order.Get(key) // touch recency
	}
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		return e.chunk, true
	}
	c.misses.Add(1)
	return nil, false
}

// Put installs agg under key, recording deps for future invalidation and
// evicting the coldest entries if the budget is now exceeded. If key is
// already present, the existing entry is replaced: this is the
// last-writer-wins install of spec §4.5. Put takes the cache mutex only
// for the map update and never waits to see whether another goroutine is
// installing the same key concurrently.
func (c *Cache) Put(key Key, e entity.Path, tl index.Timeline, agg *chunk.Chunk, deps rangezip.DependencySet) {
	sz := agg.ByteSize()
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.used -= old.byteSize
	}
	c.entries[key] = &entry{chunk: agg, entity: e, timeline: tl, deps: deps, byteSize: sz}
	c.used += sz
	c.order.Add(key, struct{}{})
	c.installs.Add(1)
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.used > c.budget {
		key, _, ok := c.order.RemoveOldest()
		if !ok {
			return
		}
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		delete(c.entries, key)
		c.used -= e.byteSize
	}
}

// EvictOldest drops the single coldest entry and reports how many bytes
// it freed, or (0, false) if the cache is empty. Package budget calls
// this directly (rather than Cache managing its own budget exclusively)
// so that one global Monitor can drain the cache ahead of the store, per
// spec §4.6 policy step 1, without the cache needing to know about the
// store's own byte count.
func (c *Cache) EvictOldest() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _, ok := c.order.RemoveOldest()
	if !ok {
		return 0, false
	}
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	delete(c.entries, key)
	c.used -= e.byteSize
	return e.byteSize, true
}

// candidates returns the cheap, envelope-only candidate chunk set a
// lookup for (e, tl, pov, extras, lo, hi) would consider (see Key's doc
// comment): every chunk store.RangeCandidates/LatestCandidates would
// return, without opening or scanning any of them.
func candidates(s *store.Store, e entity.Path, tl index.Timeline, pov string, extras []string, lo, hi index.Timestamp) rangezip.DependencySet {
	deps := make(rangezip.DependencySet)
	add := func(ids []chunk.ID) {
		for _, id := range ids {
			deps[id] = struct{}{}
		}
	}
	povKey := store.Key{Entity: e, Component: pov, Timeline: tl}
	timed, static := s.RangeCandidates(povKey, lo, hi)
	add(timed)
	add(static)
	for _, comp := range extras {
		key := store.Key{Entity: e, Component: comp, Timeline: tl}
		rtimed, rstatic := s.RangeCandidates(key, lo, hi)
		add(rtimed)
		add(rstatic)
		ltimed, lstatic := s.LatestCandidates(key, lo)
		add(ltimed)
		add(lstatic)
	}
	return deps
}

// Aggregate returns the cached range-zip aggregation for
// (e, tl, pov, extras, lo, hi), computing and installing it on a miss.
// This is the cache's one orchestration entry point: callers should use
// it instead of calling rangezip.Aggregate and Cache.Put separately, so
// the candidate-derived Key used for Get and Put always agree.
func (c *Cache) Aggregate(s *store.Store, e entity.Path, tl index.Timeline, pov string, extras []string, lo, hi index.Timestamp) (*chunk.Chunk, error) {
	key := NewKey(e, tl, pov, extras, lo, hi, candidates(s, e, tl, pov, extras, lo, hi))
	if hit, ok := c.Get(key); ok {
		return hit, nil
	}
	out, deps, err := rangezip.Aggregate(s, e, tl, pov, extras, lo, hi)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	c.Put(key, e, tl, out, deps)
	return out, nil
}

// OnInsert invalidates every cache entry for the same entity that indexes
// one of the inserted chunk's timelines (spec §4.5 "Invalidation": any
// event that adds or removes a chunk belonging to (entity, timeline)
// invalidates every cache entry whose dependency set intersects the
// affected entity/timeline/components). A fresh insert can only ever
// change what LatestAt/Range would return for its own entity's timelines,
// so scoping the scan to entity+timeline (rather than an exact dependency
// match, which an insert's candidate set can't cheaply provide before the
// fact) is deliberately conservative.
func (c *Cache) OnInsert(ev store.InsertEvent) {
	tls := make(map[index.Timeline]bool, len(ev.Chunk.Timelines()))
	for _, tl := range ev.Chunk.Timelines() {
		tls[tl] = true
	}
	c.invalidate(func(e *entry) bool {
		return e.entity == ev.Entity && tls[e.timeline]
	})
}

// OnRemove invalidates every cache entry that actually depended on the
// removed chunk, plus every entry for the same entity (a removal can
// newly expose an older row as "latest," which a dependency check on the
// departed chunk alone would not catch).
func (c *Cache) OnRemove(ev store.RemoveEvent) {
	c.invalidate(func(e *entry) bool {
		return e.entity == ev.Entity || e.deps.Contains(ev.ID)
	})
}

func (c *Cache) invalidate(affected func(*entry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if !affected(e) {
			continue
		}
		delete(c.entries, key)
		c.order.Remove(key)
		c.used -= e.byteSize
	}
	c.logf("querycache: invalidated, %d entries remain", len(c.entries))
}
