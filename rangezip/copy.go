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
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// copyValue appends the value at src[i] to dst, or a null if src is nil
// (used when a secondary has no carry yet: no bootstrap value and no real
// row has been seen for it). It supports the handful of primitive Arrow
// types component columns are expected to use in this codebase's tests
// and examples; callers that need a wider type set should extend the
// switch rather than fall back to a lossy generic path.
func copyValue(dst array.Builder, src arrow.Array, i int) error {
	if src == nil {
		dst.AppendNull()
		return nil
	}
	if src.IsNull(i) {
		dst.AppendNull()
		return nil
	}
	switch s := src.(type) {
	case *array.Float64:
		d, ok := dst.(*array.Float64Builder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for float64 column")
		}
		d.Append(s.Value(i))
	case *array.Float32:
		d, ok := dst.(*array.Float32Builder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for float32 column")
		}
		d.Append(s.Value(i))
	case *array.Int64:
		d, ok := dst.(*array.Int64Builder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for int64 column")
		}
		d.Append(s.Value(i))
	case *array.Int32:
		d, ok := dst.(*array.Int32Builder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for int32 column")
		}
		d.Append(s.Value(i))
	case *array.Uint64:
		d, ok := dst.(*array.Uint64Builder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for uint64 column")
		}
		d.Append(s.Value(i))
	case *array.Boolean:
		d, ok := dst.(*array.BooleanBuilder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for bool column")
		}
		d.Append(s.Value(i))
	case *array.String:
		d, ok := dst.(*array.StringBuilder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for string column")
		}
		d.Append(s.Value(i))
	case *array.Binary:
		d, ok := dst.(*array.BinaryBuilder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for binary column")
		}
		d.Append(s.Value(i))
	case *array.FixedSizeBinary:
		d, ok := dst.(*array.FixedSizeBinaryBuilder)
		if !ok {
			return fmt.Errorf("rangezip: builder/array type mismatch for fixed_size_binary column")
		}
		d.Append(s.Value(i))
	default:
		return fmt.Errorf("rangezip: unsupported component array type %T", src)
	}
	return nil
}
