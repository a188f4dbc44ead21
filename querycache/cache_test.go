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

package querycache

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/index"
	"github.com/rerun-io/rerun-go/rangezip"
	"github.com/rerun-io/rerun-go/store"
)

const frame index.Timeline = "frame"

func floatChunk(t *testing.T, gen *index.Generator, component string, rows map[int64]float64) *chunk.Chunk {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := chunk.NewBuilder(mem, "world/obj", chunk.ID{})
	rb := b.Component(component, arrow.PrimitiveTypes.Float64).(*array.Float64Builder)
	for ts, v := range rows {
		b.PushIndex(frame, index.Index{Timestamp: index.Timestamp(ts), RowID: gen.Next()})
		rb.Append(v)
	}
	c, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return c
}

func TestAggregateCachesOnSecondCall(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()
	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0, 20: 20.0})
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := New(1 << 20)
	out1, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if c.Misses() != 1 || c.Hits() != 0 {
		t.Fatalf("after first call: hits=%d misses=%d, want 0/1", c.Hits(), c.Misses())
	}

	out2, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if c.Misses() != 1 || c.Hits() != 1 {
		t.Fatalf("after second call: hits=%d misses=%d, want 1/1", c.Hits(), c.Misses())
	}
	if out1 != out2 {
		t.Fatal("second call should return the exact cached chunk pointer")
	}
}

func TestOnInsertInvalidatesSameEntityTimeline(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()
	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0})
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := New(1 << 20)
	if _, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 100); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	second := floatChunk(t, gen, "Position3D", map[int64]float64{30: 30.0})
	ev, err := s.Insert(second)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	c.OnInsert(ev)
	if c.Len() != 0 {
		t.Fatalf("Len() after OnInsert = %d, want 0", c.Len())
	}
}

func TestOnRemoveInvalidatesDependentEntries(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()
	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0})
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := New(1 << 20)
	if _, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 100); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	ev, err := s.Remove(position.ID())
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	c.OnRemove(ev)
	if c.Len() != 0 {
		t.Fatalf("Len() after OnRemove = %d, want 0", c.Len())
	}
}

func TestEvictionRespectsBudget(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()

	c := New(1) // budget far smaller than any real chunk
	for i := 0; i < 5; i++ {
		ch := floatChunk(t, gen, "Position3D", map[int64]float64{int64(i * 10): float64(i)})
		if _, err := s.Insert(ch); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	out, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 1000)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if out == nil {
		t.Fatal("expected a non-nil aggregation result")
	}
	// The budget of 1 byte is smaller than any real entry, so the entry
	// installed by Put must have been evicted again immediately.
	if c.UsedBytes() > 1 && c.Len() != 0 {
		t.Fatalf("expected eviction to keep the cache within budget, used=%d len=%d", c.UsedBytes(), c.Len())
	}
}

func TestKeyDeterministicOnDependencyOrder(t *testing.T) {
	a := chunk.ID{1}
	b := chunk.ID{2}
	d1 := make(rangezip.DependencySet)
	d1[a] = struct{}{}
	d1[b] = struct{}{}
	d2 := make(rangezip.DependencySet)
	d2[b] = struct{}{}
	d2[a] = struct{}{}

	k1 := NewKey("world/obj", frame, "Position3D", nil, 0, 100, d1)
	k2 := NewKey("world/obj", frame, "Position3D", nil, 0, 100, d2)
	if k1 != k2 {
		t.Fatalf("keys built from the same set in different insertion order must match: %q != %q", k1, k2)
	}
}

func TestKeyDiffersByWindow(t *testing.T) {
	d := make(rangezip.DependencySet)
	d[chunk.ID{1}] = struct{}{}
	k1 := NewKey("world/obj", frame, "Position3D", nil, 0, 15, d)
	k2 := NewKey("world/obj", frame, "Position3D", nil, 0, 100, d)
	if k1 == k2 {
		t.Fatal("keys with different [lo, hi] windows over the same candidate set must not collide")
	}
}

func TestKeyDiffersByExtras(t *testing.T) {
	d := make(rangezip.DependencySet)
	d[chunk.ID{1}] = struct{}{}
	k1 := NewKey("world/obj", frame, "Position3D", []string{"Radius"}, 0, 100, d)
	k2 := NewKey("world/obj", frame, "Position3D", []string{"Color"}, 0, 100, d)
	if k1 == k2 {
		t.Fatal("keys with different extras over the same candidate set must not collide")
	}
}

// TestAggregateDoesNotReuseResultAcrossWindows exercises the cache-coherence
// failure from a single PoV chunk holding rows outside a first, narrower
// query window: a second call with a wider window must recompute rather
// than return the first call's narrower result, even though both calls see
// the same candidate chunk set.
func TestAggregateDoesNotReuseResultAcrossWindows(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()
	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0, 20: 20.0})
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := New(1 << 20)
	narrow, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 15)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if narrow.Rows() != 1 {
		t.Fatalf("narrow window: got %d rows, want 1", narrow.Rows())
	}

	wide, err := c.Aggregate(s, "world/obj", frame, "Position3D", nil, 0, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if wide.Rows() != 2 {
		t.Fatalf("wide window: got %d rows, want 2 (must not reuse the narrow window's cached result)", wide.Rows())
	}
}

// TestAggregateDoesNotReuseResultAcrossExtras exercises the cache-coherence
// failure where two components live in the same chunk, so the candidate
// chunk set is identical for both, but the requested extras differ: the
// cache must not serve one component's aggregation for a query asking for
// the other.
func TestAggregateDoesNotReuseResultAcrossExtras(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()

	mem := memory.NewGoAllocator()
	b := chunk.NewBuilder(mem, "world/obj", chunk.ID{})
	povB := b.Component("Position3D", arrow.PrimitiveTypes.Float64).(*array.Float64Builder)
	radiusB := b.Component("Radius", arrow.PrimitiveTypes.Float64).(*array.Float64Builder)
	colorB := b.Component("Color", arrow.PrimitiveTypes.Float64).(*array.Float64Builder)
	idx := index.Index{Timestamp: 10, RowID: gen.Next()}
	b.PushIndex(frame, idx)
	povB.Append(1.0)
	radiusB.Append(2.0)
	colorB.Append(3.0)
	ch, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := s.Insert(ch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := New(1 << 20)
	byRadius, err := c.Aggregate(s, "world/obj", frame, "Position3D", []string{"Radius"}, 0, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if _, ok := byRadius.ComponentColumn("Radius"); !ok {
		t.Fatal("expected the Radius-extras result to carry a Radius column")
	}

	byColor, err := c.Aggregate(s, "world/obj", frame, "Position3D", []string{"Color"}, 0, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if _, ok := byColor.ComponentColumn("Color"); !ok {
		t.Fatal("expected the Color-extras result to carry a Color column, not the cached Radius result")
	}
}
