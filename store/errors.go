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

import "errors"

// ErrDuplicateChunkID is returned by Insert when the chunk's ID is already
// present in the store (spec §4.2). The store is left unchanged.
var ErrDuplicateChunkID = errors.New("store: duplicate chunk id")

// ErrUnknownChunk is returned by Remove when the given ID is not present
// in the store (spec §4.2).
var ErrUnknownChunk = errors.New("store: unknown chunk")
