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

package ingest

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/klauspost/compress/s2"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/index"
)

const frame index.Timeline = "frame"

func buildChunk(t *testing.T) *chunk.Chunk {
	t.Helper()
	mem := memory.NewGoAllocator()
	gen := index.NewGenerator()
	b := chunk.NewBuilder(mem, "world/obj", chunk.ID{})
	rb := b.Component("Radius", arrow.PrimitiveTypes.Float64).(*array.Float64Builder)
	for _, ts := range []int64{0, 10, 20} {
		b.PushIndex(frame, index.Index{Timestamp: index.Timestamp(ts), RowID: gen.Next()})
		rb.Append(float64(ts))
	}
	c, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := buildChunk(t)

	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, memory.NewGoAllocator())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.ID() != c.ID() {
		t.Fatalf("ID = %s, want %s", got.ID(), c.ID())
	}
	if got.Entity() != c.Entity() {
		t.Fatalf("Entity = %s, want %s", got.Entity(), c.Entity())
	}
	if got.Rows() != c.Rows() {
		t.Fatalf("Rows = %d, want %d", got.Rows(), c.Rows())
	}
	col, ok := got.IndexColumn(frame)
	if !ok {
		t.Fatal("decoded chunk lost its timeline")
	}
	if !col.Sorted {
		t.Fatal("decoded column should have recomputed Sorted=true")
	}
	comp, ok := got.ComponentColumn("Radius")
	if !ok {
		t.Fatal("decoded chunk lost its Radius component")
	}
	radii := comp.(*array.Float64)
	for i := 0; i < radii.Len(); i++ {
		if radii.Value(i) != float64(i)*10 {
			t.Fatalf("Radius[%d] = %v, want %v", i, radii.Value(i), float64(i)*10)
		}
	}
}

func TestDecodeReturnsNonZeroID(t *testing.T) {
	mem := memory.NewGoAllocator()
	gen := index.NewGenerator()
	b := chunk.NewBuilder(mem, "world/obj", chunk.ID{})
	rb := b.Component("Radius", arrow.PrimitiveTypes.Float64).(*array.Float64Builder)
	b.PushIndex(frame, index.Index{Timestamp: 0, RowID: gen.Next()})
	rb.Append(1.0)
	c, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, memory.NewGoAllocator())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID() == (chunk.ID{}) {
		t.Fatal("Decode should never hand back the zero id")
	}
}

func TestDecodeRejectsEmptyStream(t *testing.T) {
	if _, err := Decode(&bytes.Buffer{}, memory.NewGoAllocator()); err == nil {
		t.Fatal("expected an error decoding an empty stream")
	}
}

type s2Codec struct{}

func (s2Codec) Name() string                   { return "s2" }
func (s2Codec) Compress(src, dst []byte) []byte { return s2.Encode(dst, src) }
func (s2Codec) Decompress(src, dst []byte) error {
	_, err := s2.Decode(dst, src)
	return err
}

func TestEncodeDecodeCompressedRoundTrip(t *testing.T) {
	c := buildChunk(t)

	var buf bytes.Buffer
	if err := EncodeCompressed(&buf, c, s2Codec{}); err != nil {
		t.Fatalf("EncodeCompressed: %v", err)
	}

	got, err := DecodeCompressed(&buf, memory.NewGoAllocator(), func(name string) Decompressor {
		if name != "s2" {
			return nil
		}
		return s2Codec{}
	})
	if err != nil {
		t.Fatalf("DecodeCompressed: %v", err)
	}
	if got.ID() != c.ID() {
		t.Fatalf("ID = %s, want %s", got.ID(), c.ID())
	}
	if got.Rows() != c.Rows() {
		t.Fatalf("Rows = %d, want %d", got.Rows(), c.Rows())
	}
}
