/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import (
	"sync"

	"golang.zx2c4.com/wireguard/tai64n"
)

// ReplayGuard rejects handshake initiations whose timestamp does not
// strictly advance past the last one accepted from the same static
// identity — the same anti-replay technique WireGuard applies to its
// handshake initiations, reused here to stop a captured initiation
// from being replayed to force a spurious session.
type ReplayGuard struct {
	mu   sync.Mutex
	last map[[32]byte]tai64n.Timestamp
}

// NewReplayGuard returns an empty guard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{last: make(map[[32]byte]tai64n.Timestamp)}
}

// Advance reports whether ts is newer than the last timestamp seen for
// identity, recording ts as the new high-water mark if so.
func (g *ReplayGuard) Advance(identity [32]byte, ts tai64n.Timestamp) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[identity]
	if ok && !ts.After(prev) {
		return false
	}
	g.last[identity] = ts
	return true
}
