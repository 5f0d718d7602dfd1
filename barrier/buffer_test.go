/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package barrier

import (
	"testing"

	"github.com/Adjoint-uk/cross-control/wire"
)

// TestBufferOverflowDropsOldest covers the §4.7 cap: the queue holds at
// most 1024 events, overflow discards the oldest and counts the drop.
func TestBufferOverflowDropsOldest(t *testing.T) {
	b := newEventBuffer()
	const pushed = maxBufferedEvents + 100
	for i := 0; i < pushed; i++ {
		b.Push(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: int32(i)})
	}

	if got := b.Dropped(); got != 100 {
		t.Fatalf("dropped = %d, want 100", got)
	}
	items := b.Drain()
	if len(items) != maxBufferedEvents {
		t.Fatalf("len = %d, want %d", len(items), maxBufferedEvents)
	}
	if items[0].Event.DX != 100 {
		t.Fatalf("oldest surviving event DX = %d, want 100 (the first 100 dropped)", items[0].Event.DX)
	}
	if last := items[len(items)-1].Event.DX; last != pushed-1 {
		t.Fatalf("newest event DX = %d, want %d", last, pushed-1)
	}
}

func TestBufferDrainEmptiesAndPreservesOrder(t *testing.T) {
	b := newEventBuffer()
	for i := 0; i < 10; i++ {
		b.Push(uint32(i%2), wire.InputEvent{Kind: wire.EventPointerRel, DX: int32(i)})
	}
	items := b.Drain()
	for i, it := range items {
		if it.Event.DX != int32(i) {
			t.Fatalf("item %d has DX %d, want %d", i, it.Event.DX, i)
		}
	}
	if rest := b.Drain(); len(rest) != 0 {
		t.Fatalf("second Drain returned %d items, want 0", len(rest))
	}
}

// TestGroupByDeviceAppendsSingleSync checks the flush format (§4.7):
// per-device batches in arrival order with exactly one trailing Sync.
func TestGroupByDeviceAppendsSingleSync(t *testing.T) {
	buffered := []bufferedEvent{
		{DeviceID: 1, Event: wire.InputEvent{Kind: wire.EventPointerRel, DX: 1}},
		{DeviceID: 2, Event: wire.InputEvent{Kind: wire.EventKeyDown, Code: 30}},
		{DeviceID: 1, Event: wire.InputEvent{Kind: wire.EventPointerRel, DX: 2}},
	}

	batches := groupByDevice(buffered)
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if batches[0].DeviceID != 1 || batches[1].DeviceID != 2 {
		t.Fatalf("device order = %d, %d; want first-arrival order 1, 2", batches[0].DeviceID, batches[1].DeviceID)
	}
	if len(batches[0].Events) != 2 || batches[0].Events[1].DX != 2 {
		t.Fatalf("device 1 events = %+v, want intra-device order preserved", batches[0].Events)
	}

	syncs := 0
	for _, batch := range batches {
		for _, e := range batch.Events {
			if e.Kind == wire.EventSync {
				syncs++
			}
		}
	}
	if syncs != 1 {
		t.Fatalf("syncs = %d, want exactly 1", syncs)
	}
	last := batches[len(batches)-1].Events
	if last[len(last)-1].Kind != wire.EventSync {
		t.Fatalf("sync is not the final flushed event")
	}
}

func TestGroupByDeviceEmpty(t *testing.T) {
	if got := groupByDevice(nil); got != nil {
		t.Fatalf("groupByDevice(nil) = %+v, want nil", got)
	}
}
