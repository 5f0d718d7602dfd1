/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package wire holds the pure data model (§3) and the binary codec
// (§4.1) used to move that data between peers. Types here carry no
// behaviour beyond (de)serialization; the barrier state machine and
// topology packages are the ones that give them meaning.
package wire

import (
	"github.com/google/uuid"

	"github.com/Adjoint-uk/cross-control/keycode"
)

// Position names one of the four cardinal sides of a screen (§3).
type Position uint8

const (
	Left Position = iota
	Right
	Up
	Down
)

// Opposite returns the side a neighbouring screen sees this edge from.
// The topology loader uses this to enforce the symmetry invariant.
func (p Position) Opposite() Position {
	switch p {
	case Left:
		return Right
	case Right:
		return Left
	case Up:
		return Down
	case Down:
		return Up
	default:
		return p
	}
}

func (p Position) String() string {
	switch p {
	case Left:
		return "Left"
	case Right:
		return "Right"
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "Position(unknown)"
	}
}

// Screen is a named display with integer pixel dimensions (§3). Each
// screen is its own origin (0,0) at top-left; no global coordinate
// space is persisted.
type Screen struct {
	Name   string
	Width  int32
	Height int32
}

// MachineID is an opaque, stable 128-bit identifier generated once per
// machine and persisted (§3), distinct from the human-readable Name.
type MachineID [16]byte

// NewMachineID generates a fresh random MachineID. Callers persist the
// result alongside the identity keypair and reuse it across restarts;
// this is only called the first time a machine is provisioned.
func NewMachineID() MachineID {
	var id MachineID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// DeviceKind enumerates the physical/virtual device categories carried
// in DeviceInfo (§3).
type DeviceKind uint8

const (
	DeviceKeyboard DeviceKind = iota
	DeviceMouse
	DeviceTouchpad
	DeviceOther
)

// DeviceInfo describes one physical input device (§3). DeviceID is
// unique within one session and is the routing key for later events.
type DeviceInfo struct {
	DeviceID     uint32
	Kind         DeviceKind
	Capabilities uint32 // bitmask, backend-defined (relative/absolute/buttons/wheel…)
	Vendor       uint16
	Product      uint16
}

// EventKind tags the discriminated InputEvent union on the wire.
type EventKind uint8

const (
	EventKeyDown EventKind = iota
	EventKeyUp
	EventPointerRel
	EventPointerAbs
	EventButton
	EventWheel
	EventSync
)

// InputEvent is a single discriminated input event (§3). Only the
// fields relevant to Kind are meaningful; the others are zero.
type InputEvent struct {
	Kind    EventKind
	Code    keycode.Code // KeyDown/KeyUp/Button
	DX, DY  int32        // PointerRel
	X, Y    int32        // PointerAbs
	Pressed bool         // Button
	Axis    uint8        // Wheel
	Value   int32        // Wheel
}

// EventBatch groups events captured from one device between two frame
// boundaries (§3). Timestamp is informational only — never used to
// reorder or drop events (§9).
type EventBatch struct {
	DeviceID    uint32
	TimestampUS uint64
	Events      []InputEvent
}

// PeerIdentity names a configured remote peer and the key material used
// to authenticate it (§3). Mutable only via configuration reload.
type PeerIdentity struct {
	Name             string
	Address          string
	PinnedFingerprint [32]byte
	HasPin           bool
}
