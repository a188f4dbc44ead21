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

import "github.com/rerun-io/rerun-go/chunk"

// DependencySet is the set of source chunk ids (including bootstrap
// sources) that an aggregation read at least one value from. A bootstrap
// or secondary row superseded before any PoV row used it still counts.
// It is the cache key basis for the query cache (spec §4.4 "Dependency
// reporting", consumed by §4.5).
type DependencySet map[chunk.ID]struct{}

func newDependencySet() DependencySet { return make(DependencySet) }

func (d DependencySet) add(id chunk.ID) { d[id] = struct{}{} }

// Contains reports whether id is a member of the set.
func (d DependencySet) Contains(id chunk.ID) bool {
	_, ok := d[id]
	return ok
}

// Slice returns the set's members in unspecified order.
func (d DependencySet) Slice() []chunk.ID {
	out := make([]chunk.ID, 0, len(d))
	for id := range d {
		out = append(out, id)
	}
	return out
}
