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

import "errors"

// ErrBackpressure is returned when resident bytes (store plus, if wired, the
// query cache) are within the configured threshold of the memory limit; the
// caller must wait for C6 to free bytes before retrying (spec §4.7).
var ErrBackpressure = errors.New("ingest: backpressure, memory limit nearly reached")

// ErrTimeout is returned when an Accept call's flush deadline expires before
// the chunk was decoded and inserted. Per spec §5 "Cancellation & timeouts",
// a timeout leaves already-ingested data in place: if the insert had already
// committed by the time the deadline fired, it is not rolled back.
var ErrTimeout = errors.New("ingest: flush deadline exceeded")
