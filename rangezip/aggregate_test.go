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

package rangezip

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/index"
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

// TestAggregateBootstrap reproduces scenario S3 from the source
// specification: a Radius stream with a row before the query window is
// carried in via bootstrap, then superseded by a later Radius row that
// falls inside the window.
func TestAggregateBootstrap(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()

	radius := floatChunk(t, gen, "Radius", map[int64]float64{0: 1.0, 15: 2.0})
	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0, 20: 20.0})
	if _, err := s.Insert(radius); err != nil {
		t.Fatalf("insert radius: %v", err)
	}
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	out, deps, err := Aggregate(s, "world/obj", frame, "Position3D", []string{"Radius"}, 1, 25)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if out.Rows() != 2 {
		t.Fatalf("Rows() = %d, want 2", out.Rows())
	}

	pos, _ := out.ComponentColumn("Position3D")
	rad, _ := out.ComponentColumn("Radius")
	posArr := pos.(*array.Float64)
	radArr := rad.(*array.Float64)

	if posArr.Value(0) != 10.0 || radArr.Value(0) != 1.0 {
		t.Fatalf("row 0 = (%v, %v), want (10.0, 1.0) [bootstrap carry]", posArr.Value(0), radArr.Value(0))
	}
	if posArr.Value(1) != 20.0 || radArr.Value(1) != 2.0 {
		t.Fatalf("row 1 = (%v, %v), want (20.0, 2.0) [superseded carry]", posArr.Value(1), radArr.Value(1))
	}

	if !deps.Contains(radius.ID()) {
		t.Fatal("dependency set must include the Radius source chunk")
	}
	if !deps.Contains(position.ID()) {
		t.Fatal("dependency set must include the Position3D source chunk")
	}
}

// TestAggregateNoBootstrapLeavesCarryNull checks that a secondary with no
// row at or before lo, and none in range, produces a null carry rather
// than a zero value.
func TestAggregateNoBootstrapLeavesCarryNull(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()

	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0})
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out, _, err := Aggregate(s, "world/obj", frame, "Position3D", []string{"Radius"}, 0, 100)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	rad, ok := out.ComponentColumn("Radius")
	if !ok {
		t.Fatal("expected a Radius column even with no data")
	}
	if !rad.IsNull(0) {
		t.Fatal("expected a null carry when no Radius data precedes or falls within the window")
	}
}

// TestAggregateEmptyWindowYieldsNoChunk checks that a window with no PoV
// rows returns a nil chunk rather than an error (spec §4.4 "Failure: none
// at runtime").
func TestAggregateEmptyWindowYieldsNoChunk(t *testing.T) {
	s := store.New()
	gen := index.NewGenerator()
	position := floatChunk(t, gen, "Position3D", map[int64]float64{10: 10.0})
	if _, err := s.Insert(position); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out, _, err := Aggregate(s, "world/obj", frame, "Position3D", nil, 1000, 2000)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if out != nil {
		t.Fatalf("expected a nil chunk for an empty window, got %d rows", out.Rows())
	}
}
