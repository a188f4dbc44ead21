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

package chunk

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
)

// Builder assembles a Chunk from row-major or columnar input. It mirrors
// the construct-then-validate discipline ion/blockfmt uses when building a
// blob's SparseIndex incrementally before sealing it into an immutable
// object.
type Builder struct {
	mem    memory.Allocator
	entity entity.Path
	id     ID

	tsBuilders  map[index.Timeline]*array.Int64Builder
	ridBuilders map[index.Timeline]*array.FixedSizeBinaryBuilder
	static      map[index.Timeline]bool

	comps map[string]array.Builder
	rows  int
}

// NewBuilder creates a Builder for entity e, allocating Arrow buffers from
// mem (use memory.NewGoAllocator() if no pooled allocator is available).
// If id is the zero ID, a fresh one is assigned (spec §4.7 "assigns an
// ingest chunk_id if absent").
func NewBuilder(mem memory.Allocator, e entity.Path, id ID) *Builder {
	if id == (ID{}) {
		id = NewID()
	}
	return &Builder{
		mem:         mem,
		entity:      e,
		id:          id,
		tsBuilders:  make(map[index.Timeline]*array.Int64Builder),
		ridBuilders: make(map[index.Timeline]*array.FixedSizeBinaryBuilder),
		static:      make(map[index.Timeline]bool),
		comps:       make(map[string]array.Builder),
	}
}

var rowIDType = &arrow.FixedSizeBinaryType{ByteWidth: 16}

func (b *Builder) timelineBuilders(tl index.Timeline) (*array.Int64Builder, *array.FixedSizeBinaryBuilder) {
	ts, ok := b.tsBuilders[tl]
	if !ok {
		ts = array.NewInt64Builder(b.mem)
		b.tsBuilders[tl] = ts
		b.ridBuilders[tl] = array.NewFixedSizeBinaryBuilder(b.mem, rowIDType)
	}
	return ts, b.ridBuilders[tl]
}

// Component returns the array.Builder backing the named component column,
// creating it with dtype on first use. Callers append values directly to
// the returned builder.
func (b *Builder) Component(name string, dtype arrow.DataType) array.Builder {
	bld, ok := b.comps[name]
	if !ok {
		bld = array.NewBuilder(b.mem, dtype)
		b.comps[name] = bld
	}
	return bld
}

// PushIndex appends idx to the row-index column for tl. Every component
// append for a given row must be paired with exactly one PushIndex call
// per timeline the row participates in, and the caller is responsible for
// calling PushIndex (or PushStatic) for every timeline the chunk indexes,
// on every row, so that column lengths stay aligned (invariant 1).
func (b *Builder) PushIndex(tl index.Timeline, idx index.Index) {
	ts, rid := b.timelineBuilders(tl)
	ts.Append(int64(idx.Timestamp))
	rid.Append(idx.RowID[:])
	if idx.Timestamp.IsStatic() {
		b.static[tl] = true
	}
}

// Row begins a logical row by recording its Index on every timeline named
// in idxs, and returning the row's ordinal (for callers that track
// out-of-band bookkeeping). Row does not append component values; use
// Component(name, dtype) and append to it directly once per row.
func (b *Builder) Row(idxs map[index.Timeline]index.Index) int {
	for tl, idx := range idxs {
		b.PushIndex(tl, idx)
	}
	b.rows++
	return b.rows - 1
}

// Finish seals the builder into an immutable Chunk, validating the §3/§4.1
// invariants: aligned column lengths, no timeline mixing static and
// non-static rows, and at least one timeline declared. On validation
// failure it returns ErrMalformedChunk (wrapped with detail) and the
// builder is left unusable.
func (b *Builder) Finish() (*Chunk, error) {
	if len(b.tsBuilders) == 0 {
		return nil, fmt.Errorf("%w: zero timelines declared", ErrMalformedChunk)
	}
	c := &Chunk{
		id:         b.id,
		entity:     b.entity,
		timelines:  make(map[index.Timeline]*TimelineColumn, len(b.tsBuilders)),
		components: make(map[string]arrow.Array, len(b.comps)),
	}
	n := -1
	for tl, tsBld := range b.tsBuilders {
		ts := tsBld.NewArray().(*array.Int64)
		rid := b.ridBuilders[tl].NewArray().(*array.FixedSizeBinary)
		if n == -1 {
			n = ts.Len()
		} else if ts.Len() != n {
			ts.Release()
			rid.Release()
			return nil, fmt.Errorf("%w: timeline %q has %d rows, expected %d", ErrMalformedChunk, tl, ts.Len(), n)
		}
		if err := validateStaticMix(ts); err != nil {
			ts.Release()
			rid.Release()
			return nil, fmt.Errorf("%w: timeline %q: %v", ErrMalformedChunk, tl, err)
		}
		col := &TimelineColumn{Timestamps: ts, RowIDs: rid, Static: b.static[tl]}
		col.Sorted = isSortedColumn(col)
		c.timelines[tl] = col
	}
	for name, bld := range b.comps {
		arr := bld.NewArray()
		if arr.Len() != n {
			arr.Release()
			return nil, fmt.Errorf("%w: component %q has %d rows, expected %d", ErrMalformedChunk, name, arr.Len(), n)
		}
		c.components[name] = arr
	}
	c.rows = n
	c.byteSize = computeByteSize(c)
	return c, nil
}

// FromColumns assembles a Chunk directly from already-built Arrow columns,
// the "columnar input" half of spec §4.1's construction contract (Builder
// covers the row-major half). This is how the ingest façade rebuilds a
// Chunk from a decoded wire payload without re-deriving it row by row.
//
// Each TimelineColumn's Sorted and Static fields are recomputed from the
// data, overwriting whatever the caller set, so a decoded chunk's
// metadata can never disagree with its own columns. If id is the zero ID,
// a fresh one is assigned, matching NewBuilder.
func FromColumns(e entity.Path, id ID, timelines map[index.Timeline]*TimelineColumn, components map[string]arrow.Array) (*Chunk, error) {
	if id == (ID{}) {
		id = NewID()
	}
	if len(timelines) == 0 {
		return nil, fmt.Errorf("%w: zero timelines declared", ErrMalformedChunk)
	}
	n := -1
	for tl, col := range timelines {
		if n == -1 {
			n = col.Len()
		} else if col.Len() != n {
			return nil, fmt.Errorf("%w: timeline %q has %d rows, expected %d", ErrMalformedChunk, tl, col.Len(), n)
		}
		if err := validateStaticMix(col.Timestamps); err != nil {
			return nil, fmt.Errorf("%w: timeline %q: %v", ErrMalformedChunk, tl, err)
		}
		col.Static = col.Len() > 0 && index.Timestamp(col.Timestamps.Value(0)).IsStatic()
		col.Sorted = isSortedColumn(col)
	}
	for name, arr := range components {
		if arr.Len() != n {
			return nil, fmt.Errorf("%w: component %q has %d rows, expected %d", ErrMalformedChunk, name, arr.Len(), n)
		}
	}
	c := &Chunk{
		id:         id,
		entity:     e,
		rows:       n,
		timelines:  timelines,
		components: components,
	}
	c.byteSize = computeByteSize(c)
	return c, nil
}

func validateStaticMix(ts *array.Int64) error {
	any := false
	allStatic := true
	for i := 0; i < ts.Len(); i++ {
		if index.Timestamp(ts.Value(i)).IsStatic() {
			any = true
		} else {
			allStatic = false
		}
	}
	if any && !allStatic {
		return fmt.Errorf("mixes static and non-static rows")
	}
	return nil
}

func isSortedColumn(col *TimelineColumn) bool {
	for i := 1; i < col.Len(); i++ {
		if col.At(i).Less(col.At(i - 1)) {
			return false
		}
	}
	return true
}

func computeByteSize(c *Chunk) uint64 {
	var n uint64
	for _, col := range c.timelines {
		for _, buf := range col.Timestamps.Data().Buffers() {
			if buf != nil {
				n += uint64(buf.Len())
			}
		}
		for _, buf := range col.RowIDs.Data().Buffers() {
			if buf != nil {
				n += uint64(buf.Len())
			}
		}
	}
	for _, arr := range c.components {
		for _, buf := range arr.Data().Buffers() {
			if buf != nil {
				n += uint64(buf.Len())
			}
		}
	}
	return n
}

// permute returns a new Chunk with rows reordered according to perm (a
// permutation of [0, c.Rows())), using Arrow's compute.Take kernel to
// gather every column in one pass rather than hand-rolling a per-type
// copy loop.
func permute(c *Chunk, perm []int) (*Chunk, error) {
	mem := memory.NewGoAllocator()
	idxBld := array.NewInt32Builder(mem)
	defer idxBld.Release()
	idxBld.Reserve(len(perm))
	for _, p := range perm {
		idxBld.Append(int32(p))
	}
	indices := idxBld.NewArray()
	defer indices.Release()

	ctx := context.Background()
	out := &Chunk{
		id:         c.id,
		entity:     c.entity,
		rows:       c.rows,
		timelines:  make(map[index.Timeline]*TimelineColumn, len(c.timelines)),
		components: make(map[string]arrow.Array, len(c.components)),
	}
	take := func(arr arrow.Array) (arrow.Array, error) {
		d, err := compute.TakeArray(ctx, arr, indices)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	for tl, col := range c.timelines {
		ts, err := take(col.Timestamps)
		if err != nil {
			return nil, fmt.Errorf("chunk: SortOn: %w", err)
		}
		rid, err := take(col.RowIDs)
		if err != nil {
			return nil, fmt.Errorf("chunk: SortOn: %w", err)
		}
		permuted := &TimelineColumn{
			Timestamps: ts.(*array.Int64),
			RowIDs:     rid.(*array.FixedSizeBinary),
			Static:     col.Static,
		}
		// perm reorders every column into one timeline's sorted order; a
		// different timeline's column only ends up sorted by coincidence,
		// so recompute Sorted per timeline rather than stamping every one
		// true (spec §3 allows multiple timelines per chunk, each with its
		// own independent order).
		permuted.Sorted = isSortedColumn(permuted)
		out.timelines[tl] = permuted
	}
	for name, arr := range c.components {
		v, err := take(arr)
		if err != nil {
			return nil, fmt.Errorf("chunk: SortOn: %w", err)
		}
		out.components[name] = v
	}
	out.byteSize = c.byteSize
	return out, nil
}
