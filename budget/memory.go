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

package budget

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rerun-io/rerun-go/cgroup"
)

// SystemMemory returns the total physical RAM visible to the process,
// cross-platform (spec §6 "fraction_of_ram" default). The teacher's own
// meminfo parsing only reads /proc/meminfo and panics outside Linux or on
// any parse failure, which is unacceptable for a library path that a
// config default falls through at runtime, so this is gopsutil's
// cross-platform equivalent instead.
func SystemMemory() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.Total, nil
}

// ContainerMemoryLimit returns the cgroup v2 memory.max limit for the
// calling process's own cgroup, and true, or (0, false) if the process
// isn't confined by a cgroup memory limit (no cgroup2 mount, "max"/unset,
// or any read error). A container limit, when present, should win over
// fraction_of_ram: the fraction is computed against host RAM, which may
// be far larger than what the container is actually allowed to use.
func ContainerMemoryLimit() (uint64, bool) {
	self, err := cgroup.Self()
	if err != nil || self.IsZero() {
		return 0, false
	}
	limit, err := self.ReadInt("memory.max")
	if err != nil || limit <= 0 {
		return 0, false
	}
	return uint64(limit), true
}

// Limit describes the spec §4.6/§6 "memory_limit" configuration union: an
// absolute byte count, or a fraction of available RAM (container-aware
// via ContainerMemoryLimit when possible).
type Limit struct {
	// AbsoluteBytes, if nonzero, is used as the resolved limit directly
	// and FractionOfRAM is ignored.
	AbsoluteBytes uint64
	// FractionOfRAM is the fraction of detected RAM to use as the limit
	// when AbsoluteBytes is zero. Zero means the spec default of 0.75.
	FractionOfRAM float64
}

// DefaultFractionOfRAM is the spec §4.6 default limit when neither an
// absolute byte count nor an explicit fraction is configured.
const DefaultFractionOfRAM = 0.75

// Resolve computes the limit in bytes.
func (l Limit) Resolve() (uint64, error) {
	if l.AbsoluteBytes > 0 {
		return l.AbsoluteBytes, nil
	}
	frac := l.FractionOfRAM
	if frac <= 0 {
		frac = DefaultFractionOfRAM
	}
	if limit, ok := ContainerMemoryLimit(); ok {
		return uint64(float64(limit) * frac), nil
	}
	total, err := SystemMemory()
	if err != nil {
		return 0, err
	}
	return uint64(float64(total) * frac), nil
}
