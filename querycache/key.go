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

package querycache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rerun-io/rerun-go/entity"
	"github.com/rerun-io/rerun-go/index"
	"github.com/rerun-io/rerun-go/rangezip"
)

// Key identifies one cached aggregation result: an (entity, timeline,
// pov_component, extras, lo, hi) query signature plus a set of source
// chunk ids (which folds dependency_chunk_ids and bootstrap_chunk_ids into
// one set, since both are equally "what this result depends on").
//
// lo/hi and the ordered extras list are part of Key, not just the
// candidate set, because rangezip.Aggregate's output is windowed to
// [lo, hi] and shaped by which extras were requested: two queries that
// happen to touch the same candidate chunks but ask for different windows
// or different extras must never collide on the same Key, or one would
// serve the other's aggregation.
//
// The chunk id set folded into Key is a cheap, envelope-only *candidate*
// set (see candidates): exactly which chunks a store lookup for
// this query would consider, before any row is actually opened and
// scanned. It can be computed before running the expensive aggregation,
// which is what lets Cache check for a hit first. It may be a superset of
// rangezip.Aggregate's own, more precise post-hoc DependencySet (an
// envelope can overlap a range without any of its rows actually landing
// inside it) — that only costs a few more distinct keys than strictly
// necessary, never a stale hit, since Key is always derived the same way
// on both the lookup and the install path. The precise DependencySet is
// kept separately on the stored entry, for OnRemove's intersection
// check.
type Key string

// NewKey builds a cache Key from a query signature (including the
// requested window and extras) and a candidate chunk id set.
func NewKey(e entity.Path, tl index.Timeline, pov string, extras []string, lo, hi index.Timestamp, deps rangezip.DependencySet) Key {
	ids := deps.Slice()
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	sort.Strings(strs)

	sortedExtras := append([]string(nil), extras...)
	sort.Strings(sortedExtras)

	var b strings.Builder
	b.WriteString(string(e))
	b.WriteByte(0)
	b.WriteString(string(tl))
	b.WriteByte(0)
	b.WriteString(pov)
	b.WriteByte(0)
	for _, ex := range sortedExtras {
		b.WriteString(ex)
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(int64(lo), 10))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(int64(hi), 10))
	for _, s := range strs {
		b.WriteByte(0)
		b.WriteString(s)
	}
	return Key(b.String())
}
