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

// Package ingest implements C7, the Ingest Façade: the only entry point by
// which a serialized chunk becomes visible in C2. It decodes the Arrow IPC
// wire format of spec §6, validates it (reusing chunk's own construction
// invariants), and inserts the result into a Store, fanning the resulting
// InsertEvent out to whatever listeners (the query cache, telemetry) have
// subscribed (spec §4.7).
//
// Memory admission follows the same "reject before you run out" discipline
// as the teacher's tenant.Manager.Do rejecting with ErrOverloaded once too
// many requests are already in flight: here the trigger is resident bytes
// crossing a fraction of the configured budget.Limit, not a request count.
package ingest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rerun-io/rerun-go/budget"
	"github.com/rerun-io/rerun-go/store"
)

// DefaultBackpressureThreshold is the fraction of the memory limit at
// which Accept starts refusing new chunks (spec §6 configuration
// "ingest_backpressure_threshold": default 0.90).
const DefaultBackpressureThreshold = 0.90

// Logger is the minimal logging interface Façade uses for its own
// diagnostics, matching the shape other packages in this module accept.
type Logger interface {
	Printf(f string, args ...interface{})
}

// MemoryUser reports the resident bytes of a component whose usage counts
// toward the ingest backpressure threshold alongside the store's own
// byte count (spec §4.5 "Lifecycle": cache bytes count toward the
// process's total resident bytes). querycache.Cache satisfies this.
type MemoryUser interface {
	UsedBytes() uint64
}

// Facade is the ingest entry point for one Store. The zero value is not
// usable; construct with New.
type Facade struct {
	Logger Logger

	store     *store.Store
	limit     budget.Limit
	threshold float64

	mu        sync.RWMutex
	extraUser MemoryUser
	listeners []func(store.InsertEvent)
}

// New returns a Facade that ingests into s, admission-controlled against
// limit at DefaultBackpressureThreshold.
func New(s *store.Store, limit budget.Limit) *Facade {
	return &Facade{
		store:     s,
		limit:     limit,
		threshold: DefaultBackpressureThreshold,
	}
}

// SetThreshold overrides the backpressure fraction (spec §6
// "ingest_backpressure_threshold"). Values outside (0, 1] are ignored.
func (f *Facade) SetThreshold(frac float64) {
	if frac <= 0 || frac > 1 {
		return
	}
	f.mu.Lock()
	f.threshold = frac
	f.mu.Unlock()
}

// TrackMemoryOf registers a MemoryUser (typically a querycache.Cache)
// whose UsedBytes counts toward the backpressure threshold alongside the
// store's own bytes.
func (f *Facade) TrackMemoryOf(m MemoryUser) {
	f.mu.Lock()
	f.extraUser = m
	f.mu.Unlock()
}

// Subscribe registers fn to be called with every InsertEvent this Facade
// produces, after the chunk is already visible in the store. Typical
// subscribers are querycache.Cache.OnInsert and a telemetry sink.
func (f *Facade) Subscribe(fn func(store.InsertEvent)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *Facade) usedBytes() uint64 {
	total := f.store.ByteSize()
	f.mu.RLock()
	extra := f.extraUser
	f.mu.RUnlock()
	if extra != nil {
		total += extra.UsedBytes()
	}
	return total
}

// Backpressured reports whether resident bytes are already within the
// configured threshold of the memory limit.
func (f *Facade) Backpressured() (bool, error) {
	limit, err := f.limit.Resolve()
	if err != nil {
		return false, fmt.Errorf("ingest: resolve memory limit: %w", err)
	}
	f.mu.RLock()
	threshold := f.threshold
	f.mu.RUnlock()
	return float64(f.usedBytes()) >= threshold*float64(limit), nil
}

// decoded is what the background decode+insert goroutine reports back to
// Accept/AcceptTimeout.
type decoded struct {
	ev  store.InsertEvent
	err error
}

// Accept decodes an Arrow IPC chunk stream from src, validates it,
// assigns a chunk_id if the wire payload did not carry one, and inserts it
// into the store, returning the resulting InsertEvent. Accept returns
// ErrBackpressure without reading src if the store is already within the
// configured threshold of its memory limit (spec §4.7 "Back-pressure").
func (f *Facade) Accept(ctx context.Context, src io.Reader) (store.InsertEvent, error) {
	if over, err := f.Backpressured(); err != nil {
		return store.InsertEvent{}, err
	} else if over {
		f.logf("ingest: rejecting chunk, backpressure active")
		return store.InsertEvent{}, ErrBackpressure
	}

	done := make(chan decoded, 1)
	go func() {
		c, err := Decode(src, memory.NewGoAllocator())
		if err != nil {
			done <- decoded{err: err}
			return
		}
		ev, err := f.store.Insert(c)
		done <- decoded{ev: ev, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return store.InsertEvent{}, r.err
		}
		f.notify(r.ev)
		return r.ev, nil
	case <-ctx.Done():
		// Per spec §5, a timeout does not roll back an insert that had
		// already committed; it only stops the caller from waiting past
		// its deadline. The goroutine above still runs to completion and
		// its InsertEvent still reaches any listener via notify.
		go func() {
			if r := <-done; r.err == nil {
				f.notify(r.ev)
			}
		}()
		return store.InsertEvent{}, ErrTimeout
	}
}

// AcceptWithin is a convenience wrapper around Accept that derives a
// context with the given flush deadline (spec §6 "an optional flush
// timeout expressed in seconds"). A zero timeout means no deadline.
func (f *Facade) AcceptWithin(src io.Reader, timeout time.Duration) (store.InsertEvent, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return f.Accept(ctx, src)
}

func (f *Facade) notify(ev store.InsertEvent) {
	f.mu.RLock()
	listeners := append([]func(store.InsertEvent){}, f.listeners...)
	f.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (f *Facade) logf(format string, args ...interface{}) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
	}
}
