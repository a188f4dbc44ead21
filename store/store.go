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

// Package store implements C2, the Chunk Store: the authoritative,
// in-memory collection of every live chunk, plus the secondary indexes a
// query needs to find candidate chunks without scanning the whole store
// (spec §4.2).
//
// Concurrency follows the discipline the teacher's tenant.Manager and
// dcache.Cache use for their own bookkeeping maps: one sync.RWMutex guards
// all mutable state, writers (Insert, Remove) take the exclusive lock only
// for as long as it takes to update the maps, and readers (every query
// path) take the shared lock for the duration of one call. Because chunks
// are immutable and a reader only ever observes chunk pointers obtained
// while holding the read lock, every query sees a single consistent
// snapshot of the store for its whole duration (spec §4.2 "Concurrency").
package store

import (
	"fmt"
	"sync"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
)

// Store is the chunk store for one recording. The zero value is not
// usable; construct with New.
type Store struct {
	mu sync.RWMutex

	chunks map[chunk.ID]*chunk.Chunk

	// timed holds, per (entity, component, timeline), the envelope index
	// over that key's non-static rows.
	timed map[Key]*secondaryIndex
	// static holds, per (entity, component, timeline), the chunk ids that
	// carry static rows for that key. Static rows satisfy every query
	// regardless of the requested time range (spec §4.1 invariant 3), so
	// they are tracked separately from timed's timestamp-ordered entries
	// rather than shoehorned into them.
	static map[Key][]chunk.ID

	byteSize uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		chunks: make(map[chunk.ID]*chunk.Chunk),
		timed:  make(map[Key]*secondaryIndex),
		static: make(map[Key][]chunk.ID),
	}
}

// Insert adds c to the store and returns the InsertEvent describing it.
// Insert fails with ErrDuplicateChunkID if a chunk with the same ID is
// already present; the store is left unchanged in that case.
func (s *Store) Insert(c *chunk.Chunk) (InsertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.ID()
	if _, dup := s.chunks[id]; dup {
		return InsertEvent{}, fmt.Errorf("%w: %s", ErrDuplicateChunkID, id)
	}
	s.chunks[id] = c
	s.byteSize += c.ByteSize()

	for _, tl := range c.Timelines() {
		min, max, ok := c.Envelope(tl)
		if !ok {
			continue
		}
		for _, comp := range c.Components() {
			key := Key{Entity: c.Entity(), Component: comp, Timeline: tl}
			if c.IsStatic(tl) {
				s.static[key] = append(s.static[key], id)
				continue
			}
			cur, ok := s.timed[key]
			if !ok {
				cur = &secondaryIndex{}
			}
			s.timed[key] = cur.insert(envelope{min: min, max: max, id: id})
		}
	}

	return InsertEvent{Chunk: c, Entity: c.Entity(), ByteSize: c.ByteSize()}, nil
}

// Remove drops the chunk with the given id from the store and returns the
// RemoveEvent describing it. Remove fails with ErrUnknownChunk if no such
// chunk is present.
func (s *Store) Remove(id chunk.ID) (RemoveEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return RemoveEvent{}, fmt.Errorf("%w: %s", ErrUnknownChunk, id)
	}
	delete(s.chunks, id)
	s.byteSize -= c.ByteSize()

	for _, tl := range c.Timelines() {
		for _, comp := range c.Components() {
			key := Key{Entity: c.Entity(), Component: comp, Timeline: tl}
			if c.IsStatic(tl) {
				s.static[key] = removeID(s.static[key], id)
				if len(s.static[key]) == 0 {
					delete(s.static, key)
				}
				continue
			}
			cur, ok := s.timed[key]
			if !ok {
				continue
			}
			next := cur.remove(id)
			if next.empty() {
				delete(s.timed, key)
			} else {
				s.timed[key] = next
			}
		}
	}

	return RemoveEvent{ID: id, Entity: c.Entity(), ByteSize: c.ByteSize()}, nil
}

func removeID(ids []chunk.ID, target chunk.ID) []chunk.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Chunk returns the chunk with the given id, or (nil, false).
func (s *Store) Chunk(id chunk.ID) (*chunk.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	return c, ok
}

// IterChunks calls fn once for every chunk currently in the store, in
// unspecified order. IterChunks holds the store's read lock for the
// duration of the call; fn must not call back into the Store.
func (s *Store) IterChunks(fn func(*chunk.Chunk)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks {
		fn(c)
	}
}

// LatestCandidates returns the ids of every chunk that could hold the row
// a LatestAt(key, at) query would return: every non-static chunk whose
// envelope begins at or before at, plus every chunk carrying static rows
// for key. The caller (package query) is responsible for opening these
// chunks and picking the actual winner.
func (s *Store) LatestCandidates(key Key, at index.Timestamp) (timed, static []chunk.ID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.timed[key]; ok {
		timed = idx.upTo(at)
	}
	static = append(static, s.static[key]...)
	return timed, static
}

// RangeCandidates returns the ids of every chunk that could hold a row a
// Range(key, lo, hi) query would return: every non-static chunk whose
// envelope intersects [lo, hi], plus every chunk carrying static rows for
// key (static rows are always in range, per spec §4.1 invariant 3).
func (s *Store) RangeCandidates(key Key, lo, hi index.Timestamp) (timed, static []chunk.ID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.timed[key]; ok {
		timed = idx.overlapping(lo, hi)
	}
	static = append(static, s.static[key]...)
	return timed, static
}

// ByteSize returns the sum of ByteSize() across every chunk in the store.
func (s *Store) ByteSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byteSize
}

// Len returns the number of chunks in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// OldestNonStaticIndex returns the smallest Index among every non-static
// chunk envelope indexed on tl (across all entities and components), and
// true, or the zero Index and false if the store holds no non-static rows
// on tl.
func (s *Store) OldestNonStaticIndex(tl index.Timeline) (index.Index, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  index.Index
		found bool
	)
	for key, idx := range s.timed {
		if key.Timeline != tl || idx.empty() {
			continue
		}
		min := idx.entries[0].min
		for _, e := range idx.entries[1:] {
			if e.min.Less(min) {
				min = e.min
			}
		}
		if !found || min.Less(best) {
			best = min
			found = true
		}
	}
	return best, found
}

// BytesByTimeline sums, for every chunk holding non-static rows on a
// timeline, that chunk's ByteSize into the corresponding map entry. A
// chunk contributes at most once per timeline it carries, regardless of
// how many components it holds. Package budget uses this to pick "the
// timeline holding the most bytes" per spec §4.6's eviction policy.
func (s *Store) BytesByTimeline() map[index.Timeline]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[index.Timeline]uint64)
	for _, c := range s.chunks {
		for _, tl := range c.Timelines() {
			if c.IsStatic(tl) {
				continue
			}
			out[tl] += c.ByteSize()
		}
	}
	return out
}

// Entities returns the set of distinct entity paths the store currently
// holds chunks for.
func (s *Store) Entities() []entity.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[entity.Path]bool)
	for _, c := range s.chunks {
		seen[c.Entity()] = true
	}
	out := make([]entity.Path, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	return out
}
