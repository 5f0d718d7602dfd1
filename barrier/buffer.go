/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package barrier

import "github.com/Adjoint-uk/cross-control/wire"

// bufferedEvent is one physical event captured while Pending, tagged
// with the device it came from so it can be re-grouped into EventBatch
// messages on flush (§4.7).
type bufferedEvent struct {
	DeviceID uint32
	Event    wire.InputEvent
}

// maxBufferedEvents hard-caps the Pending queue (§4.7: "hard-capped at
// 1024 events; on overflow the oldest are dropped and a counter is
// incremented").
const maxBufferedEvents = 1024

// eventBuffer is the FIFO used while Pending. Not safe for concurrent
// use; callers serialise access through Machine's mutex.
type eventBuffer struct {
	items   []bufferedEvent
	dropped uint64
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{items: make([]bufferedEvent, 0, maxBufferedEvents)}
}

// Push appends ev, dropping the oldest buffered event first if full.
func (b *eventBuffer) Push(deviceID uint32, ev wire.InputEvent) {
	if len(b.items) >= maxBufferedEvents {
		b.items = b.items[1:]
		b.dropped++
	}
	b.items = append(b.items, bufferedEvent{DeviceID: deviceID, Event: ev})
}

// Drain returns the buffered events in original order and empties the
// queue, for flushing onto a freshly opened input stream.
func (b *eventBuffer) Drain() []bufferedEvent {
	out := b.items
	b.items = make([]bufferedEvent, 0, maxBufferedEvents)
	return out
}

// Reset discards any buffered events without flushing them (timeout or
// peer disconnect while Pending).
func (b *eventBuffer) Reset() {
	b.items = b.items[:0]
}

// Dropped reports how many events have been silently discarded to
// overflow across the buffer's lifetime.
func (b *eventBuffer) Dropped() uint64 { return b.dropped }

// groupByDevice partitions buffered events into per-device EventBatch
// payloads in original arrival order, appending a single trailing Sync
// to the last group (§4.7: "drained... with a single Sync at the end of
// the flushed batch").
func groupByDevice(buffered []bufferedEvent) []wire.EventBatch {
	if len(buffered) == 0 {
		return nil
	}

	order := make([]uint32, 0, 4)
	groups := make(map[uint32][]wire.InputEvent, 4)
	for _, be := range buffered {
		if _, ok := groups[be.DeviceID]; !ok {
			order = append(order, be.DeviceID)
		}
		groups[be.DeviceID] = append(groups[be.DeviceID], be.Event)
	}

	batches := make([]wire.EventBatch, 0, len(order))
	for i, dev := range order {
		events := groups[dev]
		if i == len(order)-1 {
			events = append(events, wire.InputEvent{Kind: wire.EventSync})
		}
		batches = append(batches, wire.EventBatch{DeviceID: dev, Events: events})
	}
	return batches
}
