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

// Package index defines the total-order identifiers used to place rows
// on a timeline: Timestamp, RowID, and their pairing, Index.
package index

import "fmt"

// Timeline names a named integer axis (log_time, frame_idx, sensor_time, ...).
// The store treats timelines as opaque interned strings; their meaning
// (sequence numbers vs. nanoseconds) is carried entirely by the caller.
type Timeline string

// Timestamp is a signed 64-bit point on a Timeline.
//
// Static is a reserved value that does not correspond to any real logged
// time: it denotes a row that belongs to every timeline simultaneously and
// compares less than any non-static timestamp. Callers must never construct
// a Timestamp equal to Static to represent real data.
type Timestamp int64

// Static is the distinguished timestamp shared by every timeline, used to
// mark rows that are not associated with any particular point in time
// ("static" data, e.g. a constant annotation on an entity).
const Static Timestamp = -1 << 63

// IsStatic reports whether t is the reserved Static sentinel.
func (t Timestamp) IsStatic() bool { return t == Static }

func (t Timestamp) String() string {
	if t.IsStatic() {
		return "static"
	}
	return fmt.Sprintf("%d", int64(t))
}

// Index is the total-order key used to place a row on one timeline:
// the pair (timestamp, row id). Within one timeline, rows are ordered
// first by Timestamp, then by RowID; the pairing is always unique because
// RowID is globally unique.
type Index struct {
	Timestamp Timestamp
	RowID     RowID
}

// Less reports whether idx sorts strictly before other, using Timestamp as
// the primary key and RowID as the tiebreak, so on equal timestamps the
// larger RowID sorts later (spec §4.3 "equal timestamps: larger row_id
// wins"). Less is ascending order; the "most recent wins" pick is the
// greatest Index under it, which Max and Compare below provide.
func (idx Index) Less(other Index) bool {
	if idx.Timestamp != other.Timestamp {
		return idx.Timestamp < other.Timestamp
	}
	return idx.RowID.Less(other.RowID)
}

// Compare returns -1, 0, or 1 according to whether idx sorts before, equal
// to, or after other.
func (idx Index) Compare(other Index) int {
	if idx.Timestamp != other.Timestamp {
		if idx.Timestamp < other.Timestamp {
			return -1
		}
		return 1
	}
	return idx.RowID.Compare(other.RowID)
}

// Max returns whichever of idx, other sorts greater.
func Max(idx, other Index) Index {
	if other.Compare(idx) > 0 {
		return other
	}
	return idx
}

// Min returns whichever of idx, other sorts lesser.
func Min(idx, other Index) Index {
	if other.Compare(idx) < 0 {
		return other
	}
	return idx
}

func (idx Index) String() string {
	return fmt.Sprintf("(%s,%s)", idx.Timestamp, idx.RowID)
}
