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

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rerun-io/rerun-go/budget"
	"github.com/rerun-io/rerun-go/store"
)

func encodedChunk(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, buildChunk(t)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

func TestAcceptInsertsAndNotifies(t *testing.T) {
	s := store.New()
	f := New(s, budget.Limit{AbsoluteBytes: 1 << 30})

	var got store.InsertEvent
	f.Subscribe(func(ev store.InsertEvent) { got = ev })

	wire := encodedChunk(t)
	ev, err := f.Accept(context.Background(), bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.Chunk == nil || got.Chunk.ID() != ev.Chunk.ID() {
		t.Fatal("subscriber was not notified of the insert")
	}
	if _, ok := s.Chunk(ev.Chunk.ID()); !ok {
		t.Fatal("chunk should be visible in the store after Accept")
	}
}

func TestAcceptRejectsBackpressure(t *testing.T) {
	s := store.New()
	wire := encodedChunk(t)

	// Prime the store so it is already at the limit, then try to ingest a
	// second, identical-sized chunk against a limit exactly matching the
	// first chunk's byte size.
	first, err := New(s, budget.Limit{AbsoluteBytes: 1 << 30}).Accept(context.Background(), bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("Accept (seed): %v", err)
	}

	f := New(s, budget.Limit{AbsoluteBytes: first.ByteSize})
	_, err = f.Accept(context.Background(), bytes.NewReader(encodedChunk(t)))
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Accept = %v, want ErrBackpressure", err)
	}
}

func TestAcceptTimesOut(t *testing.T) {
	s := store.New()
	f := New(s, budget.Limit{AbsoluteBytes: 1 << 30})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired

	_, err := f.Accept(ctx, bytes.NewReader(encodedChunk(t)))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Accept = %v, want ErrTimeout", err)
	}
}

func TestAcceptWithinHonorsDeadline(t *testing.T) {
	s := store.New()
	f := New(s, budget.Limit{AbsoluteBytes: 1 << 30})

	_, err := f.AcceptWithin(bytes.NewReader(encodedChunk(t)), 0)
	if err != nil {
		t.Fatalf("AcceptWithin(timeout=0) = %v, want success (no deadline)", err)
	}

	_, err = f.AcceptWithin(bytes.NewReader(encodedChunk(t)), time.Nanosecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("AcceptWithin(timeout=1ns) = %v, want ErrTimeout", err)
	}
}

func TestAcceptRejectsMalformedStream(t *testing.T) {
	s := store.New()
	f := New(s, budget.Limit{AbsoluteBytes: 1 << 30})

	_, err := f.Accept(context.Background(), bytes.NewReader([]byte("not an arrow stream")))
	if err == nil {
		t.Fatal("expected an error decoding a malformed stream")
	}
}

func TestTrackMemoryOfCountsTowardBackpressure(t *testing.T) {
	s := store.New()
	wire := encodedChunk(t)

	first, err := New(s, budget.Limit{AbsoluteBytes: 1 << 30}).Accept(context.Background(), bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("Accept (seed): %v", err)
	}

	f := New(s, budget.Limit{AbsoluteBytes: 2 * first.ByteSize})
	f.TrackMemoryOf(constUser(first.ByteSize))

	_, err = f.Accept(context.Background(), bytes.NewReader(encodedChunk(t)))
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Accept = %v, want ErrBackpressure once tracked cache bytes push over threshold", err)
	}
}

type constUser uint64

func (c constUser) UsedBytes() uint64 { return uint64(c) }

func TestSetThresholdIgnoresOutOfRange(t *testing.T) {
	f := New(store.New(), budget.Limit{AbsoluteBytes: 100})
	f.SetThreshold(0)
	f.SetThreshold(1.5)
	if f.threshold != DefaultBackpressureThreshold {
		t.Fatalf("threshold = %v, want unchanged default %v", f.threshold, DefaultBackpressureThreshold)
	}
	f.SetThreshold(0.5)
	if f.threshold != 0.5 {
		t.Fatalf("threshold = %v, want 0.5", f.threshold)
	}
}
