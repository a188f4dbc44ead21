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

// Package budget implements C6, Memory Budget & Eviction: a background
// task that tracks the store's (and cache's) resident byte size against a
// configured limit and evicts the oldest data first when it is exceeded
// (spec §4.6).
//
// The eviction control flow — maintain a bounded candidate heap of the
// worst (oldest) entries, drain it until enough space is freed, re-scan
// once it's exhausted — is carried over from the teacher's tenant cache
// eviction (which walked a filesystem hierarchy collecting file atimes
// into a bounded max-heap). Every disk operation there (os.Stat,
// filepath.WalkDir, os.Remove) is replaced here by calls into an
// in-memory store.Store (BytesByTimeline, IterChunks, Remove), since this
// component evicts chunks from memory, not files from a directory.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/heap"
	"github.com/rerun-io/rerun-go/index"
	"github.com/rerun-io/rerun-go/store"
)

// Logger is the minimal logging interface Monitor uses for its own
// diagnostics, matching the Printf-only shape used throughout this
// module's other components.
type Logger interface {
	Printf(f string, args ...interface{})
}

// Why names the reason an eviction happened, per spec §4.6
// "Observability": every eviction emits {why, bytes_freed, entity_scope}.
type Why string

const (
	WhyCache Why = "cache"
	WhyStore Why = "store"
)

// EvictionRecord is one eviction's telemetry record (spec §4.6
// "Observability"), delivered to external collaborators via Monitor.Events.
type EvictionRecord struct {
	Why         Why
	BytesFreed  uint64
	EntityScope entity.Path
}

// CacheEvictor is the subset of querycache.Cache's behavior Monitor needs:
// report current usage, and evict exactly one entry (the coldest) on
// request. Spec §4.6 policy step 1 prefers dropping cache entries over
// store chunks, so Monitor drains the cache before ever touching C2.
type CacheEvictor interface {
	UsedBytes() uint64
	EvictOldest() (bytesFreed uint64, ok bool)
}

type candidate struct {
	id     chunk.ID
	min    index.Index
	entity entity.Path
}

// evictHeap is a bounded max-heap (on Index recency) of eviction
// candidates for one timeline: the root holds the *most* recent (least
// evictable) member of the retained set, so a newly discovered older
// candidate can displace it once the buffer is full. sort() then drains
// the heap into ascending (oldest-first) order for draining by evict().
type evictHeap struct {
	lst       []candidate
	sorted    []candidate
	maxbuffer int
}

// candidateWorstFirst orders the heap so the most recent (numerically
// largest) Index sits at the root: same polarity as the teacher's
// atimeLRU, substituting "most recently accessed" with "most recent
// Index on the timeline."
func candidateWorstFirst(x, y candidate) bool {
	return y.min.Less(x.min)
}

func (e *evictHeap) max() index.Index { return e.lst[0].min }

func (e *evictHeap) push(c candidate) {
	heap.PushSlice(&e.lst, c, candidateWorstFirst)
	if len(e.lst) > e.maxbuffer {
		heap.PopSlice(&e.lst, candidateWorstFirst)
	}
}

// sort drains the heap into e.sorted in ascending (oldest-first) order.
func (e *evictHeap) sort() {
	if cap(e.sorted) >= len(e.lst) {
		e.sorted = e.sorted[:len(e.lst)]
	} else {
		e.sorted = make([]candidate, len(e.lst))
	}
	for i := len(e.sorted) - 1; i >= 0; i-- {
		e.sorted[i] = heap.PopSlice(&e.lst, candidateWorstFirst)
	}
}

// Monitor runs the background eviction loop of spec §4.6. The zero value
// is not usable; construct with NewMonitor.
type Monitor struct {
	Logger Logger

	// OnEvict, if non-nil, is called with the RemoveEvent of every chunk
	// this Monitor evicts from the store, after the removal is already
	// visible. A querycache.Cache wired here (via Cache.OnRemove) can then
	// invalidate any entry whose DependencySet named the evicted chunk.
	OnEvict func(store.RemoveEvent)

	store *store.Store
	cache CacheEvictor
	limit Limit

	interval time.Duration
	events   chan EvictionRecord

	mu    sync.Mutex
	heaps map[index.Timeline]*evictHeap

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor returns a Monitor evicting from s (and, if non-nil, cache)
// against limit, checking every interval (a non-positive interval falls
// back to 5 seconds).
func NewMonitor(s *store.Store, cache CacheEvictor, limit Limit, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		store:    s,
		cache:    cache,
		limit:    limit,
		interval: interval,
		events:   make(chan EvictionRecord, 64),
		heaps:    make(map[index.Timeline]*evictHeap),
	}
}

// Events returns the channel eviction telemetry records are delivered on.
// The channel is buffered; a caller that doesn't drain it will eventually
// see records dropped (logged via Logger) rather than block eviction.
func (m *Monitor) Events() <-chan EvictionRecord { return m.events }

// Start runs the eviction loop in a background goroutine until ctx is
// canceled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
}

// Close stops the eviction loop and waits for it to exit.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.RunOnce()
		}
	}
}

// RunOnce performs one pass of the eviction policy: while resident bytes
// exceed the resolved limit, evict cache entries first, then store
// chunks, oldest data first. It is exported so callers (and tests) can
// drive eviction synchronously instead of waiting on the ticker.
func (m *Monitor) RunOnce() {
	limit, err := m.limit.Resolve()
	if err != nil {
		m.errorf("budget: resolve limit: %v", err)
		return
	}
	for {
		used := m.store.ByteSize()
		if m.cache != nil {
			used += m.cache.UsedBytes()
		}
		if used <= limit {
			return
		}
		if m.evictFromCache() {
			continue
		}
		if !m.evictFromStore() {
			m.errorf("budget: resident bytes %d exceed limit %d with nothing left to evict", used, limit)
			return
		}
	}
}

func (m *Monitor) evictFromCache() bool {
	if m.cache == nil {
		return false
	}
	freed, ok := m.cache.EvictOldest()
	if !ok {
		return false
	}
	m.emit(EvictionRecord{Why: WhyCache, BytesFreed: freed})
	return true
}

// evictFromStore removes one chunk from the timeline currently holding
// the most non-static bytes, smallest Index first (spec §4.6 policy step
// 2). It acquires the store's writer role only for the single Remove
// call, per §4.6 "Concurrency."
func (m *Monitor) evictFromStore() bool {
	byTimeline := m.store.BytesByTimeline()
	if len(byTimeline) == 0 {
		return false
	}
	var worst index.Timeline
	var worstBytes uint64
	for tl, b := range byTimeline {
		if b > worstBytes {
			worst, worstBytes = tl, b
		}
	}

	m.mu.Lock()
	e, ok := m.heaps[worst]
	if !ok {
		e = &evictHeap{maxbuffer: 256}
		m.heaps[worst] = e
	}
	m.mu.Unlock()

	if len(e.sorted) == 0 {
		e.lst = e.lst[:0]
		m.fill(e, worst)
		e.sort()
		if len(e.sorted) == 0 {
			return false
		}
	}

	for i := range e.sorted {
		cand := e.sorted[i]
		ev, err := m.store.Remove(cand.id)
		if err != nil {
			// already gone (concurrently removed or never really there);
			// skip and keep draining the sorted list.
			continue
		}
		e.sorted = e.sorted[:copy(e.sorted, e.sorted[i+1:])]
		m.emit(EvictionRecord{Why: WhyStore, BytesFreed: ev.ByteSize, EntityScope: ev.Entity})
		if m.OnEvict != nil {
			m.OnEvict(ev)
		}
		return true
	}
	// the whole sorted list was stale; force a re-scan on the next call
	e.sorted = e.sorted[:0]
	return false
}

func (m *Monitor) fill(e *evictHeap, tl index.Timeline) {
	m.store.IterChunks(func(c *chunk.Chunk) {
		if c.IsStatic(tl) {
			return
		}
		min, _, ok := c.Envelope(tl)
		if !ok {
			return
		}
		if len(e.lst) < e.maxbuffer || min.Less(e.max()) {
			e.push(candidate{id: c.ID(), min: min, entity: c.Entity()})
		}
	})
}

func (m *Monitor) emit(r EvictionRecord) {
	select {
	case m.events <- r:
	default:
		m.errorf("budget: eviction event channel full, dropping record %+v", r)
	}
}

func (m *Monitor) errorf(f string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Printf(f, args...)
	}
}
