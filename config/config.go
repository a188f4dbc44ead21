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

// Package config decodes a recording store's enumerated configuration
// knobs from YAML, and resolves them into the typed values the other
// packages in this module actually consume (budget.Limit, index.Timeline,
// ...).
package config

import (
	"fmt"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/rerun-io/rerun-go/budget"
	"github.com/rerun-io/rerun-go/index"
)

// DefaultCacheBudgetFraction is the fraction of the resolved memory limit
// set aside for the query cache when CacheBudgetFraction is zero.
const DefaultCacheBudgetFraction = 0.25

// DefaultTimeline is the timeline name used when DefaultTimeline is empty.
const DefaultTimeline index.Timeline = "log_time"

// MemoryLimit mirrors the `{ absolute_bytes } | { fraction_of_ram }` memory
// limit union, decoded from either form and resolved into a budget.Limit.
type MemoryLimit struct {
	AbsoluteBytes uint64  `json:"absolute_bytes,omitempty"`
	FractionOfRAM float64 `json:"fraction_of_ram,omitempty"`
}

// Limit converts the decoded union into the budget.Limit type the
// budget.Monitor consumes.
func (m MemoryLimit) Limit() budget.Limit {
	return budget.Limit{AbsoluteBytes: m.AbsoluteBytes, FractionOfRAM: m.FractionOfRAM}
}

// Config is the decoded form of a recording store's configuration file.
type Config struct {
	MemoryLimit              MemoryLimit `json:"memory_limit"`
	CacheBudgetFraction      float64     `json:"cache_budget_fraction,omitempty"`
	DefaultTimeline          string      `json:"default_timeline,omitempty"`
	IngestBackpressureThresh float64     `json:"ingest_backpressure_threshold,omitempty"`

	// EvictionIntervalSeconds sets how often the background budget.Monitor
	// checks resident bytes against the memory limit. Expressed in seconds
	// (rather than a time.Duration) because encoding/json has no built-in
	// Go-duration-string support, and this struct is decoded from YAML via
	// sigs.k8s.io/yaml's JSON-compatible path.
	EvictionIntervalSeconds float64 `json:"eviction_interval_seconds,omitempty"`
}

// EvictionInterval returns EvictionIntervalSeconds as a time.Duration.
func (c Config) EvictionInterval() time.Duration {
	return time.Duration(c.EvictionIntervalSeconds * float64(time.Second))
}

// Load decodes a YAML document into a Config and applies FillDefaults.
func Load(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.FillDefaults()
	return c, nil
}

// FillDefaults replaces every zero-valued optional field with its default.
func (c *Config) FillDefaults() {
	if c.MemoryLimit.AbsoluteBytes == 0 && c.MemoryLimit.FractionOfRAM == 0 {
		c.MemoryLimit.FractionOfRAM = budget.DefaultFractionOfRAM
	}
	if c.CacheBudgetFraction == 0 {
		c.CacheBudgetFraction = DefaultCacheBudgetFraction
	}
	if c.DefaultTimeline == "" {
		c.DefaultTimeline = string(DefaultTimeline)
	}
	if c.IngestBackpressureThresh == 0 {
		c.IngestBackpressureThresh = 0.90
	}
	if c.EvictionIntervalSeconds == 0 {
		c.EvictionIntervalSeconds = 30
	}
}

// Timeline returns DefaultTimeline parsed as an index.Timeline.
func (c Config) Timeline() index.Timeline {
	return index.Timeline(c.DefaultTimeline)
}

// CacheBudgetBytes returns the query cache's byte budget given a resolved
// total memory limit: CacheBudgetFraction of it.
func (c Config) CacheBudgetBytes(totalLimit uint64) uint64 {
	return uint64(float64(totalLimit) * c.CacheBudgetFraction)
}
