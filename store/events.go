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

package store

import (
	"github.com/rerun-io/rerun-go/chunk"
	"github.com/rerun-io/rerun-go/entity"
)

// InsertEvent is emitted by Insert and describes the chunk that was added
// (spec §4.2, consumed by the query cache for invalidation; the ingest
// façade passes it on to its subscribers).
type InsertEvent struct {
	Chunk    *chunk.Chunk
	Entity   entity.Path
	ByteSize uint64
}

// RemoveEvent is emitted by Remove (including removals performed by the
// eviction loop) and describes the chunk that was dropped.
type RemoveEvent struct {
	ID       chunk.ID
	Entity   entity.Path
	ByteSize uint64
}
