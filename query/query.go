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

// Package query implements C3, the Query Engine: the two read primitives,
// LatestAt and Range, evaluated against a store.Store for one
// (entity, component, timeline) key (spec §4.3).
//
// Both primitives are total functions: an unknown timeline, an empty
// store, or a key with no matching rows all yield an empty result, never
// an error (spec §4.3 "Failure"). This mirrors the teacher's
// core/filter.go ternary-match convention of folding "doesn't apply" into
// a plain boolean/empty-slice result rather than a distinguished error
// case, since "no rows at this time" is an expected, not exceptional,
// outcome of a point query.
package query

import (
	"sort"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/index"
	"github.com/rerun-io/rerun-go/store"
)

// Result identifies one winning row of an UnslicedLatestAt query: the full
// chunk it was found in, its row offset within that chunk, and its Index.
// Keeping the unsliced chunk (rather than a pre-sliced one-row view) is
// what makes UnslicedLatestAt's output cache-friendly (spec §4.3 "Unsliced
// variants" / §4.5): the result is determined purely by the store's
// content and the query key, independent of which downstream consumer
// asked for it.
type Result struct {
	Chunk  *chunk.Chunk
	Offset int
	Index  index.Index
}

// UnslicedLatestAt returns the row with the greatest Index at or before at
// for key, considering both timestamped rows (envelope-pruned to those
// that could possibly qualify) and static rows. Because index.Static
// compares less than every real Timestamp, a static row only wins when no
// qualifying timestamped row exists — the bootstrap behavior spec §4.3
// describes ("LatestAt is implicitly bootstrapped by its definition")
// falls directly out of Index's ordering, with no separate fallback branch
// needed.
//
// UnslicedLatestAt never errors; it returns (Result{}, false) if key has
// no matching rows at or before at in any form.
func UnslicedLatestAt(s *store.Store, key store.Key, at index.Timestamp) (Result, bool) {
	timed, static := s.LatestCandidates(key, at)

	var (
		best  Result
		found bool
	)
	consider := func(id chunk.ID) {
		c, ok := s.Chunk(id)
		if !ok {
			return // removed by a concurrent writer between candidate lookup and here
		}
		col, ok := c.IndexColumn(key.Timeline)
		if !ok {
			return
		}
		arr, ok := c.ComponentColumn(key.Component)
		if !ok {
			return
		}
		_ = arr // presence check only: callers read values via Result.Chunk/Offset
		for i := 0; i < col.Len(); i++ {
			idx := col.At(i)
			if !idx.Timestamp.IsStatic() && idx.Timestamp > at {
				continue
			}
			if !found || best.Index.Less(idx) {
				best = Result{Chunk: c, Offset: i, Index: idx}
				found = true
			}
		}
	}
	for _, id := range timed {
		consider(id)
	}
	for _, id := range static {
		consider(id)
	}
	return best, found
}

// LatestAt is UnslicedLatestAt followed by slicing the winning chunk down
// to the single matching row, so callers that only want one value never
// hold a reference to the rest of the containing chunk.
func LatestAt(s *store.Store, key store.Key, at index.Timestamp) (*chunk.Chunk, bool) {
	r, ok := UnslicedLatestAt(s, key, at)
	if !ok {
		return nil, false
	}
	return r.Chunk.Slice(r.Offset, r.Offset+1), true
}

// UnslicedRange returns every full chunk that overlaps the closed interval
// [lo, hi] on key's timeline. Static rows are never included (spec §4.3
// "Bootstrapping": Range by itself is not bootstrapped). The returned
// chunks are exactly as stored — not filtered to the rows inside
// [lo, hi] — which is what makes them reusable across multiple Range
// calls with different bounds over the same underlying data (spec §4.3
// "Unsliced variants").
func UnslicedRange(s *store.Store, key store.Key, lo, hi index.Timestamp) []*chunk.Chunk {
	timed, _ := s.RangeCandidates(key, lo, hi)
	out := make([]*chunk.Chunk, 0, len(timed))
	for _, id := range timed {
		if c, ok := s.Chunk(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Range returns the rows of key in the closed interval [lo, hi], as
// zero-copy slices of the chunks UnslicedRange would return. A chunk not
// already SortedOn key.Timeline is sorted first (SortOn), since slicing
// to a contiguous [i, j) row range requires the rows to be in timeline
// order; chunks that arrive from ingestion already sorted skip that step
// entirely (SortOn is a no-op view in that case).
func Range(s *store.Store, key store.Key, lo, hi index.Timestamp) []*chunk.Chunk {
	full := UnslicedRange(s, key, lo, hi)
	out := make([]*chunk.Chunk, 0, len(full))
	for _, c := range full {
		sorted := c
		if !c.SortedOn(key.Timeline) {
			// SortOn only fails if the chunk doesn't index key.Timeline at
			// all, which can't happen here: c was returned by
			// UnslicedRange because it appears in the secondary index
			// keyed on key.Timeline.
			sorted, _ = c.SortOn(key.Timeline)
		}
		col, ok := sorted.IndexColumn(key.Timeline)
		if !ok {
			continue
		}
		i := sort.Search(col.Len(), func(k int) bool { return col.At(k).Timestamp >= lo })
		j := sort.Search(col.Len(), func(k int) bool { return col.At(k).Timestamp > hi })
		if i < j {
			out = append(out, sorted.Slice(i, j))
		}
	}
	return out
}
