/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package emulate is the platform-neutral contract for replaying input
// on the receiving machine (§4.4): apply an EventBatch's events one at a
// time in order (a Sync is not emitted as a boundary of its own, so the
// events of a frame are not applied as one unit), create a virtual
// device per announced physical one, and tear it down again on
// DeviceGone.
package emulate

import "github.com/Adjoint-uk/cross-control/wire"

// Sink emulates input locally. Backends never reorder events (§4.4
// "Failure": on error, the events already applied stay applied and the
// remaining events in the batch are dropped, not replayed out of order
// and not retried).
type Sink interface {
	// EnsureDevice creates the virtual device backing info.DeviceID if
	// it does not already exist. Idempotent.
	EnsureDevice(info wire.DeviceInfo) error

	// ReleaseDevice destroys the virtual device for a device_id that has
	// gone away on the sending side.
	ReleaseDevice(deviceID uint32) error

	// Apply replays one EventBatch. Screen carries the receiving
	// screen's current geometry so PointerAbs events can be clamped to
	// it (§4.4).
	Apply(batch wire.EventBatch, screen wire.Screen) error
}
