/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package capture is the platform-neutral contract for reading physical
// input devices (§4.3): a Source produces (device_id, InputEvent) pairs
// in device order, can be switched between Observe and Grab, and
// reports device lifecycle through a Sink. Concrete backends (linux.go)
// implement Source against the host kernel.
package capture

import (
	"context"

	"github.com/Adjoint-uk/cross-control/wire"
)

// Mode is the capture source's current posture (§4.3).
type Mode uint8

const (
	// ModeObserve lets events also reach the local OS normally.
	ModeObserve Mode = iota
	// ModeGrab acquires exclusive use of every owned device; the local
	// OS sees nothing from them until released.
	ModeGrab
)

// Source is the platform-neutral capture contract (§4.3). Grab/release
// transitions (via SetMode) are idempotent and re-entrant-safe.
type Source interface {
	// Run enumerates devices, announces them on sink, and blocks
	// delivering events until ctx is cancelled or the underlying
	// mechanism is lost entirely, in which case it returns a
	// *FatalError (§4.3: "fatal to capture and surfaced to the
	// supervisor", §7 FatalSubsystemError). Callers run Run in its own
	// goroutine (§5: "one capture reader").
	Run(ctx context.Context, sink Sink) error

	// SetMode switches every currently owned device between Observe and
	// Grab.
	SetMode(mode Mode) error
}

// Sink receives everything a Source produces. The daemon wiring
// implements Sink to fan events into the barrier machine and
// DeviceAnnounce/DeviceGone into the session supervisor.
type Sink interface {
	Announce(wire.DeviceInfo)
	Gone(deviceID uint32)
	Event(deviceID uint32, ev wire.InputEvent)
}

// GrabSwitch adapts any Source to the barrier package's Capture
// interface ({Grab, Release}) by toggling its Mode. Structural typing
// means this needs no import of package barrier.
type GrabSwitch struct {
	Source Source
}

func (g GrabSwitch) Grab() error    { return g.Source.SetMode(ModeGrab) }
func (g GrabSwitch) Release() error { return g.Source.SetMode(ModeObserve) }
