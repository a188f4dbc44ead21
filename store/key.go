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
	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
)

// Key names one secondary index: all rows of one component, on one entity,
// as seen through one timeline (spec §4.2 "the store maintains, per
// (entity, component, timeline), an index from Index to chunk_id").
//
// Key is a plain comparable struct so it can be used directly as a Go map
// key, the way the teacher keys its descriptor caches by (bucket, path)
// pairs rather than a synthesized string.
type Key struct {
	Entity    entity.Path
	Component string
	Timeline  index.Timeline
}
