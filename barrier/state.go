/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package barrier is the edge-crossing state machine (§4.7): the single
// task that owns BarrierState and decides, from a stream of local
// pointer deltas, whether input is dropped on the floor (Local),
// queued pending a handshake (Pending), forwarded to a peer (Remote),
// or being handed back (Releasing). It never touches a socket; it
// reaches the network only through the Control interface (§4.8).
package barrier

import "fmt"

// State is the barrier's own transition state (§4.7). The zero value is
// Local, matching a freshly constructed Machine.
type State uint8

const (
	StateLocal State = iota
	StatePending
	StateRemote
	StateReleasing
)

func (s State) String() string {
	switch s {
	case StateLocal:
		return "Local"
	case StatePending:
		return "Pending"
	case StateRemote:
		return "Remote"
	case StateReleasing:
		return "Releasing"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Status is a point-in-time snapshot of the machine's state, safe to
// read from any goroutine via Machine.Status.
type Status struct {
	State    State
	Target   string // valid for Pending, Remote, Releasing
	StreamID uint32 // the open input stream id, valid for Remote
	Dropped  uint64 // events dropped from the Pending buffer on overflow
}
