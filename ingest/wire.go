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
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
)

const (
	timelinePrefix  = "tl#"
	componentPrefix = "cmp#"

	metaChunkID    = "rerun.chunk_id"
	metaEntityPath = "rerun.entity_path"
	metaSortedPfx  = "rerun.is_sorted."
	metaStaticPfx  = "rerun.is_static."
)

var rowIDType = &arrow.FixedSizeBinaryType{ByteWidth: 16}

// Encode writes c to dst as the single-record-batch Arrow IPC stream
// defined by spec §6: one `tl#<timeline>` struct column per timeline, one
// `cmp#<component>` column per component, and schema metadata carrying the
// chunk id, entity path, and per-timeline sortedness/staticness flags.
func Encode(dst io.Writer, c *chunk.Chunk) error {
	schema, cols, err := encodeColumns(c)
	if err != nil {
		return err
	}
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	rec := array.NewRecord(schema, cols, int64(c.Rows()))
	defer rec.Release()

	w := ipc.NewWriter(dst, ipc.WithSchema(schema), ipc.WithAllocator(memory.NewGoAllocator()))
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("ingest: encode: %w", err)
	}
	return w.Close()
}

func encodeColumns(c *chunk.Chunk) (*arrow.Schema, []arrow.Array, error) {
	timelines := c.Timelines()
	sort.Slice(timelines, func(i, j int) bool { return timelines[i] < timelines[j] })
	components := c.Components()
	sort.Strings(components)

	fields := make([]arrow.Field, 0, len(timelines)+len(components))
	cols := make([]arrow.Array, 0, len(timelines)+len(components))
	keys := make([]string, 0, 2+2*len(timelines))
	values := make([]string, 0, 2+2*len(timelines))

	keys = append(keys, metaChunkID, metaEntityPath)
	values = append(values, c.ID().String(), c.Entity().String())

	for _, tl := range timelines {
		col, ok := c.IndexColumn(tl)
		if !ok {
			continue
		}
		col.Timestamps.Retain()
		col.RowIDs.Retain()
		structArr := array.NewStructArray([]arrow.Array{col.Timestamps, col.RowIDs}, []string{"timestamp", "row_id"})
		col.Timestamps.Release()
		col.RowIDs.Release()

		fields = append(fields, arrow.Field{
			Name: timelinePrefix + string(tl),
			Type: structArr.DataType(),
		})
		cols = append(cols, structArr)

		keys = append(keys, metaSortedPfx+string(tl), metaStaticPfx+string(tl))
		values = append(values, boolStr(col.Sorted), boolStr(col.Static))
	}

	for _, name := range components {
		arr, ok := c.ComponentColumn(name)
		if !ok {
			continue
		}
		arr.Retain()
		fields = append(fields, arrow.Field{Name: componentPrefix + name, Type: arr.DataType()})
		cols = append(cols, arr)
	}

	meta := arrow.NewMetadata(keys, values)
	schema := arrow.NewSchema(fields, &meta)
	return schema, cols, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Decode reads one chunk from an Arrow IPC stream produced by Encode (or
// conforming to spec §6), allocating Arrow buffers from mem. If the stream
// carries no `rerun.chunk_id` metadata (or it is the all-zero id), a fresh
// id is assigned (spec §4.7 "assigns an ingest chunk_id if absent").
func Decode(src io.Reader, mem memory.Allocator) (*chunk.Chunk, error) {
	rdr, err := ipc.NewReader(src, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
		}
		return nil, fmt.Errorf("%w: ingest: empty chunk stream", chunk.ErrMalformedChunk)
	}
	rec := rdr.Record()
	rec.Retain()
	defer rec.Release()

	meta := rec.Schema().Metadata()
	id, err := decodeID(meta)
	if err != nil {
		return nil, err
	}
	ePath, err := decodeEntity(meta)
	if err != nil {
		return nil, err
	}

	timelines := make(map[index.Timeline]*chunk.TimelineColumn)
	components := make(map[string]arrow.Array)
	for i, field := range rec.Schema().Fields() {
		switch {
		case strings.HasPrefix(field.Name, timelinePrefix):
			tl := index.Timeline(strings.TrimPrefix(field.Name, timelinePrefix))
			structArr, ok := rec.Column(i).(*array.Struct)
			if !ok || structArr.NumField() != 2 {
				return nil, fmt.Errorf("%w: ingest: timeline column %q is not a 2-field struct", chunk.ErrMalformedChunk, field.Name)
			}
			ts, ok := structArr.Field(0).(*array.Int64)
			if !ok {
				return nil, fmt.Errorf("%w: ingest: timeline %q: timestamp field is not int64", chunk.ErrMalformedChunk, tl)
			}
			rid, ok := structArr.Field(1).(*array.FixedSizeBinary)
			if !ok || rid.DataType().(*arrow.FixedSizeBinaryType).ByteWidth != rowIDType.ByteWidth {
				return nil, fmt.Errorf("%w: ingest: timeline %q: row_id field is not fixed_size_binary(16)", chunk.ErrMalformedChunk, tl)
			}
			ts.Retain()
			rid.Retain()
			timelines[tl] = &chunk.TimelineColumn{Timestamps: ts, RowIDs: rid}
		case strings.HasPrefix(field.Name, componentPrefix):
			name := strings.TrimPrefix(field.Name, componentPrefix)
			arr := rec.Column(i)
			arr.Retain()
			components[name] = arr
		}
	}

	return chunk.FromColumns(ePath, id, timelines, components)
}

func decodeID(meta arrow.Metadata) (chunk.ID, error) {
	i := meta.FindKey(metaChunkID)
	if i < 0 || meta.Values()[i] == "" {
		return chunk.ID{}, nil
	}
	id, err := chunk.ParseID(meta.Values()[i])
	if err != nil {
		return chunk.ID{}, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	return id, nil
}

func decodeEntity(meta arrow.Metadata) (entity.Path, error) {
	i := meta.FindKey(metaEntityPath)
	if i < 0 {
		return "", fmt.Errorf("%w: ingest: missing %s metadata", chunk.ErrMalformedChunk, metaEntityPath)
	}
	p, err := entity.Parse(meta.Values()[i])
	if err != nil {
		return "", fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	return p, nil
}

// EncodeCompressed writes c as an Encode stream compressed with the named
// compr codec (spec DOMAIN STACK: "optional payload compression of the
// Arrow IPC stream body"). The envelope is a 1-byte codec name length, the
// codec name, an 8-byte little-endian uncompressed length, then the
// compressed bytes, so DecodeCompressed can allocate an exact destination
// buffer for compr.Decompressor.Decompress (which requires dst be sized to
// fit in advance).
func EncodeCompressed(dst io.Writer, c *chunk.Chunk, codec Compressor) error {
	var raw bytes.Buffer
	if err := Encode(&raw, c); err != nil {
		return err
	}
	name := codec.Name()
	if len(name) > 255 {
		return fmt.Errorf("ingest: compressor name %q too long", name)
	}
	compressed := codec.Compress(raw.Bytes(), nil)

	if _, err := dst.Write([]byte{byte(len(name))}); err != nil {
		return err
	}
	if _, err := io.WriteString(dst, name); err != nil {
		return err
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(raw.Len()))
	if _, err := dst.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := dst.Write(compressed)
	return err
}

// DecodeCompressed reverses EncodeCompressed, looking up the stored codec
// name via lookupDecompressor.
func DecodeCompressed(src io.Reader, mem memory.Allocator, lookupDecompressor func(name string) Decompressor) (*chunk.Chunk, error) {
	var nameLen [1]byte
	if _, err := io.ReadFull(src, nameLen[:]); err != nil {
		return nil, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	nameBuf := make([]byte, nameLen[0])
	if _, err := io.ReadFull(src, nameBuf); err != nil {
		return nil, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	uncompressedLen := binary.LittleEndian.Uint64(lenBuf[:])

	decomp := lookupDecompressor(string(nameBuf))
	if decomp == nil {
		return nil, fmt.Errorf("%w: ingest: unknown compression codec %q", chunk.ErrMalformedChunk, nameBuf)
	}
	compressed, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest: %v", chunk.ErrMalformedChunk, err)
	}
	raw := make([]byte, uncompressedLen)
	if err := decomp.Decompress(compressed, raw); err != nil {
		return nil, fmt.Errorf("%w: ingest: decompress: %v", chunk.ErrMalformedChunk, err)
	}
	return Decode(bytes.NewReader(raw), mem)
}

// Compressor is the subset of compr.Compressor the wire codec needs.
type Compressor interface {
	Name() string
	Compress(src, dst []byte) []byte
}

// Decompressor is the subset of compr.Decompressor the wire codec needs.
type Decompressor interface {
	Name() string
	Decompress(src, dst []byte) error
}
