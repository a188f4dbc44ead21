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

package store

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/index"
)

// envelope records one chunk's [min, max] Index range on the timeline a
// secondaryIndex is keyed on, plus the chunk id it points to. It plays the
// same role the teacher's SparseIndex range entries play for a blob's
// min/max column statistics: a cheap, coarse filter that lets lookups skip
// chunks that provably cannot contain a qualifying row, without opening
// the chunk itself.
type envelope struct {
	min, max index.Index
	id       chunk.ID
}

// secondaryIndex is the per-Key structure the store consults to find
// candidate chunks for a query on one (entity, component, timeline). It
// keeps one envelope per chunk, sorted by min Index, and answers
// range/prefix questions with binary search rather than a linear scan of
// every chunk the store holds.
//
// Chunks for the same entity/component/timeline may overlap arbitrarily
// (spec §4.2 "chunks may overlap"; there is no requirement that ingestion
// produce disjoint, time-ordered batches), so a secondaryIndex cannot
// assume at most one candidate and must be prepared to return several.
type secondaryIndex struct {
	entries []envelope // sorted by min, ascending
}

func (s *secondaryIndex) insert(e envelope) *secondaryIndex {
	out := &secondaryIndex{entries: make([]envelope, len(s.entries), len(s.entries)+1)}
	copy(out.entries, s.entries)
	pos := sort.Search(len(out.entries), func(i int) bool {
		return !out.entries[i].min.Less(e.min)
	})
	out.entries = slices.Insert(out.entries, pos, e)
	return out
}

func (s *secondaryIndex) remove(id chunk.ID) *secondaryIndex {
	out := &secondaryIndex{entries: append([]envelope(nil), s.entries...)}
	out.entries = slices.DeleteFunc(out.entries, func(e envelope) bool { return e.id == id })
	return out
}

func (s *secondaryIndex) empty() bool { return len(s.entries) == 0 }

// upTo returns the chunk ids of every envelope whose min Index is at most
// at's Timestamp, i.e. every chunk that could possibly hold a row with
// timestamp <= at on this timeline. A chunk whose min exceeds at holds no
// such row (min is, by definition, its smallest Index on this timeline).
func (s *secondaryIndex) upTo(at index.Timestamp) []chunk.ID {
	n := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].min.Timestamp > at
	})
	out := make([]chunk.ID, n)
	for i := 0; i < n; i++ {
		out[i] = s.entries[i].id
	}
	return out
}

// overlapping returns the chunk ids of every envelope that intersects the
// closed interval [lo, hi]. Unlike upTo this cannot binary search away the
// max-side check (entries are sorted by min only), so it scans; secondary
// indexes are expected to hold at most a few hundred chunks per key in
// practice, well within the range a linear scan handles comfortably.
func (s *secondaryIndex) overlapping(lo, hi index.Timestamp) []chunk.ID {
	var out []chunk.ID
	for _, e := range s.entries {
		if e.min.Timestamp > hi {
			continue
		}
		if e.max.Timestamp < lo {
			continue
		}
		out = append(out, e.id)
	}
	return out
}
