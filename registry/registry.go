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

// Package registry keeps the set of recordings a process currently holds
// open, each with its own chunk store, query cache, ingest façade and
// memory monitor, so a single process can serve many independent
// recordings at once.
//
// The map itself is the teacher's tenant.Manager.get reduced to what this
// domain needs: Manager lazily execs and tracks a subprocess per tenant ID
// behind one map; Registry lazily constructs and tracks a Recording per
// ID behind the same shape, substituting sync.Map's LoadOrStore for
// Manager's lock+check+launch sequence since there is no subprocess launch
// race to serialize against.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rerun-io/rerun-go/budget"
	"github.com/rerun-io/rerun-go/config"
	"github.com/rerun-io/rerun-go/ingest"
	"github.com/rerun-io/rerun-go/querycache"
	"github.com/rerun-io/rerun-go/store"
)

// ID identifies one recording. Unlike chunk.ID, a recording ID is a
// caller-chosen or generated string, not a fixed-width binary value, since
// recording identifiers in practice come from application-level naming
// (a log file name, a session UUID string, ...).
type ID string

// NewID allocates a fresh, random recording ID.
func NewID() ID { return ID(uuid.New().String()) }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == "" }

// Recording bundles one recording's components together: a Store to hold
// chunks, a Cache of range-zip results over it, a Facade that is the only
// sanctioned way to add chunks to the Store, and a Monitor enforcing the
// configured memory limit across both.
type Recording struct {
	ID ID

	Store   *store.Store
	Cache   *querycache.Cache
	Ingest  *ingest.Facade
	Monitor *budget.Monitor
}

// Close stops the recording's background eviction loop. It does not
// release the Store's chunks; callers that need that should drop their
// last reference to the Recording after calling Close.
func (r *Recording) Close() {
	r.Monitor.Close()
}

// Logger is the minimal logging interface Registry uses for its own
// diagnostics, matching the shape used throughout this module.
type Logger interface {
	Printf(f string, args ...interface{})
}

// Registry is a process-wide lookup from recording ID to Recording. The
// zero value is ready to use.
type Registry struct {
	Logger Logger

	recordings sync.Map // ID -> *Recording
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Open returns the Recording for id, constructing and starting one from
// cfg if this is the first time id has been seen. If id is the zero
// value, a fresh one is generated. Concurrent Open calls for the same new
// id may each construct a Recording, but only one is stored and started;
// the loser's construction is discarded in favor of the winner's.
func (reg *Registry) Open(id ID, cfg config.Config) (*Recording, error) {
	if id.IsZero() {
		id = NewID()
	}
	if existing, ok := reg.Get(id); ok {
		return existing, nil
	}

	limit := cfg.MemoryLimit.Limit()
	resolved, err := limit.Resolve()
	if err != nil {
		return nil, fmt.Errorf("registry: resolve memory limit for %q: %w", id, err)
	}

	s := store.New()
	cache := querycache.New(cfg.CacheBudgetBytes(resolved))
	facade := ingest.New(s, limit)
	facade.SetThreshold(cfg.IngestBackpressureThresh)
	facade.TrackMemoryOf(cache)
	facade.Subscribe(cache.OnInsert)

	mon := budget.NewMonitor(s, cache, limit, cfg.EvictionInterval())
	mon.OnEvict = cache.OnRemove
	if reg.Logger != nil {
		mon.Logger = reg.Logger
		facade.Logger = reg.Logger
		cache.Logger = reg.Logger
	}

	rec := &Recording{ID: id, Store: s, Cache: cache, Ingest: facade, Monitor: mon}
	actual, loaded := reg.recordings.LoadOrStore(id, rec)
	if loaded {
		// another Open for the same new id won the race; discard ours
		// without ever starting its Monitor.
		return actual.(*Recording), nil
	}
	mon.Start(context.Background())
	reg.logf("registry: opened recording %q", id)
	return rec, nil
}

// Get returns the Recording for id, or (nil, false) if no recording with
// that id is currently open.
func (reg *Registry) Get(id ID) (*Recording, bool) {
	v, ok := reg.recordings.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Recording), true
}

// Close stops and forgets the recording with the given id. Close returns
// an error if no such recording is open.
func (reg *Registry) Close(id ID) error {
	v, ok := reg.recordings.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("registry: no open recording %q", id)
	}
	v.(*Recording).Close()
	reg.logf("registry: closed recording %q", id)
	return nil
}

// Len returns the number of currently open recordings.
func (reg *Registry) Len() int {
	n := 0
	reg.recordings.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// IDs returns the set of currently open recording ids, in unspecified
// order.
func (reg *Registry) IDs() []ID {
	var out []ID
	reg.recordings.Range(func(k, _ interface{}) bool {
		out = append(out, k.(ID))
		return true
	})
	return out
}

func (reg *Registry) logf(format string, args ...interface{}) {
	if reg.Logger != nil {
		reg.Logger.Printf(format, args...)
	}
}
