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

// Package chunk implements C1, the Columnar Chunk: an immutable, Arrow-backed
// batch of rows for one entity, indexed on one or more timelines and carrying
// one or more component columns (spec §4.1).
//
// The virtual, zero-copy slicing this package relies on (Chunk.Slice) is
// grounded on the teacher's ion/blockfmt.SparseIndex.Slice, which likewise
// produces a view over an existing columnar structure without copying the
// underlying buffers; here the buffer-sharing is provided directly by
// Arrow's array.NewSlice instead of a hand-rolled offset/length pair.
package chunk

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/exp/slices"

	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
)

// TimelineColumn is the per-row Index for one timeline: a struct-of-arrays
// pairing of timestamps and row ids, matching the wire layout of spec §6
// (`struct<timestamp: i64, row_id: fixed_size_binary(16)>`).
type TimelineColumn struct {
	Timestamps *array.Int64
	RowIDs     *array.FixedSizeBinary

	// Sorted records whether rows are known to be in non-decreasing
	// (timestamp, row_id) order on this timeline (spec §3 "a chunk may
	// declare itself sorted on a given timeline").
	Sorted bool
	// Static records whether every row on this timeline carries
	// index.Static as its timestamp (spec §3 invariant 3: a timeline is
	// either fully static or fully non-static within one chunk).
	Static bool
}

// Len returns the number of rows in the column.
func (c *TimelineColumn) Len() int { return c.Timestamps.Len() }

// At returns the Index of row i.
func (c *TimelineColumn) At(i int) index.Index {
	var rid index.RowID
	copy(rid[:], c.RowIDs.Value(i))
	return index.Index{Timestamp: index.Timestamp(c.Timestamps.Value(i)), RowID: rid}
}

// Release releases the underlying Arrow buffers (decrements refcounts).
func (c *TimelineColumn) Release() {
	c.Timestamps.Release()
	c.RowIDs.Release()
}

func (c *TimelineColumn) retain() {
	c.Timestamps.Retain()
	c.RowIDs.Retain()
}

func (c *TimelineColumn) slice(i, j int) *TimelineColumn {
	return &TimelineColumn{
		Timestamps: array.NewSlice(c.Timestamps, int64(i), int64(j)).(*array.Int64),
		RowIDs:     array.NewSlice(c.RowIDs, int64(i), int64(j)).(*array.FixedSizeBinary),
		Sorted:     c.Sorted,
		Static:     c.Static,
	}
}

// Chunk is an immutable batch of N rows for one entity (spec §3/§4.1). All
// timeline columns and component columns have exactly N rows (invariant 1).
//
// Chunk is a shared reference type: Slice produces a zero-copy view that
// shares the parent's Arrow buffers, and both the original and the slice
// must independently be Released when no longer needed. The store never
// mutates a Chunk after construction (invariant 4).
type Chunk struct {
	id     ID
	entity entity.Path
	rows   int

	timelines  map[index.Timeline]*TimelineColumn
	components map[string]arrow.Array

	// byteSize is computed once at construction (or inherited, shrunk
	// proportionally, by Slice) rather than summed on every call, because
	// it is read on every store insertion/eviction accounting step.
	byteSize uint64
}

// ID returns the chunk's unique identifier.
func (c *Chunk) ID() ID { return c.id }

// Entity returns the entity path this chunk belongs to.
func (c *Chunk) Entity() entity.Path { return c.entity }

// Rows returns N, the number of rows in the chunk.
func (c *Chunk) Rows() int { return c.rows }

// ByteSize returns the sum of the chunk's Arrow buffer sizes.
func (c *Chunk) ByteSize() uint64 { return c.byteSize }

// Timelines returns the set of timelines this chunk carries an index for.
func (c *Chunk) Timelines() []index.Timeline {
	out := make([]index.Timeline, 0, len(c.timelines))
	for tl := range c.timelines {
		out = append(out, tl)
	}
	return out
}

// Components returns the set of component names this chunk carries.
func (c *Chunk) Components() []string {
	out := make([]string, 0, len(c.components))
	for name := range c.components {
		out = append(out, name)
	}
	return out
}

// IndexColumn returns the chunk's Index column for tl, or (nil, false) if
// the chunk does not index that timeline.
func (c *Chunk) IndexColumn(tl index.Timeline) (*TimelineColumn, bool) {
	col, ok := c.timelines[tl]
	return col, ok
}

// ComponentColumn returns the chunk's Arrow array for the named component,
// or (nil, false) if the chunk does not carry that component.
func (c *Chunk) ComponentColumn(name string) (arrow.Array, bool) {
	col, ok := c.components[name]
	return col, ok
}

// IsStatic reports whether every row in the chunk is static on tl. A
// timeline the chunk does not index at all is reported as non-static
// (there is nothing to be static about).
func (c *Chunk) IsStatic(tl index.Timeline) bool {
	col, ok := c.timelines[tl]
	return ok && col.Static
}

// SortedOn reports whether the chunk's rows are in non-decreasing Index
// order on tl.
func (c *Chunk) SortedOn(tl index.Timeline) bool {
	col, ok := c.timelines[tl]
	return ok && col.Sorted
}

// Envelope returns the minimum and maximum Index of the chunk on tl, and
// true, or the zero Index pair and false if the chunk does not index tl.
func (c *Chunk) Envelope(tl index.Timeline) (min, max index.Index, ok bool) {
	col, present := c.timelines[tl]
	if !present || col.Len() == 0 {
		return index.Index{}, index.Index{}, false
	}
	min, max = col.At(0), col.At(0)
	for i := 1; i < col.Len(); i++ {
		idx := col.At(i)
		if idx.Less(min) {
			min = idx
		}
		if max.Less(idx) {
			max = idx
		}
	}
	return min, max, true
}

// Retain increments the reference count of every Arrow buffer the chunk
// owns. Pair with Release.
func (c *Chunk) Retain() {
	for _, col := range c.timelines {
		col.retain()
	}
	for _, arr := range c.components {
		arr.Retain()
	}
}

// Release decrements the reference count of every Arrow buffer the chunk
// owns, freeing them once the count reaches zero. Store.Remove does not
// call Release; a removed chunk's buffers stay valid for every holder of
// a reference to it.
func (c *Chunk) Release() {
	for _, col := range c.timelines {
		col.Release()
	}
	for _, arr := range c.components {
		arr.Release()
	}
}

// Slice produces a virtual, zero-copy view of rows [i, j) of c. The
// returned Chunk shares c's Arrow buffers (via Retain internally); callers
// must Release the slice independently of the parent.
//
// Slice panics if i > j, i < 0, or j > c.Rows(), mirroring
// ion/blockfmt.SparseIndex.Slice's panic-on-out-of-range contract for the
// same operation.
func (c *Chunk) Slice(i, j int) *Chunk {
	if i < 0 || i > j || j > c.rows {
		panic(fmt.Sprintf("chunk.Slice(%d,%d) out of range for %d rows", i, j, c.rows))
	}
	out := &Chunk{
		id:         c.id,
		entity:     c.entity,
		rows:       j - i,
		timelines:  make(map[index.Timeline]*TimelineColumn, len(c.timelines)),
		components: make(map[string]arrow.Array, len(c.components)),
	}
	for tl, col := range c.timelines {
		out.timelines[tl] = col.slice(i, j)
	}
	for name, arr := range c.components {
		out.components[name] = array.NewSlice(arr, int64(i), int64(j))
	}
	if c.rows > 0 {
		out.byteSize = c.byteSize * uint64(j-i) / uint64(c.rows)
	}
	return out
}

// SortOn returns a new Chunk with rows reordered into stable
// (timestamp, row_id) order on tl. If the chunk is already SortedOn(tl),
// SortOn returns c.Slice(0, c.Rows()) (a cheap view, not a fresh sort).
//
// Ties are impossible within rows produced by one Generator and are
// otherwise broken by RowID, per spec §4.1.
func (c *Chunk) SortOn(tl index.Timeline) (*Chunk, error) {
	if c.SortedOn(tl) {
		return c.Slice(0, c.rows), nil
	}
	col, ok := c.timelines[tl]
	if !ok {
		return nil, fmt.Errorf("chunk: SortOn: chunk does not index timeline %q", tl)
	}
	perm := make([]int, c.rows)
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) bool {
		return col.At(a).Less(col.At(b))
	})
	return permute(c, perm)
}
