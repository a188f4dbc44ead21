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
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// ID is a chunk's unique 128-bit identifier (spec §3). Unlike index.RowID,
// an ID need not be monotonic: uniqueness is its only contract.
type ID [16]byte

// NewID allocates a fresh, random chunk ID.
func NewID() ID { return ID(uuid.New()) }

// String renders id as the 32 lowercase hex characters specified for the
// `rerun.chunk_id` wire metadata key (spec §6).
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// ParseID parses the 32-hex-character form produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errHexLength
	}
	copy(id[:], b)
	return id, nil
}

var errHexLength = errors.New("chunk: chunk id must be exactly 32 hex characters")
