/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package barrier

import (
	"github.com/Adjoint-uk/cross-control/keycode"
	"github.com/Adjoint-uk/cross-control/wire"
)

// chordTracker watches KeyDown/KeyUp events for the set of keys
// currently held, so the release hotkey (§4.7, default Ctrl+Shift+Esc)
// can be recognised the instant its last key goes down. It is detected
// capture-side before forwarding: the triggering key events are never
// sent to the peer.
type chordTracker struct {
	held map[keycode.Code]bool
}

func newChordTracker() *chordTracker {
	return &chordTracker{held: make(map[keycode.Code]bool, 8)}
}

func (c *chordTracker) observe(ev wire.InputEvent) {
	switch ev.Kind {
	case wire.EventKeyDown:
		c.held[ev.Code] = true
	case wire.EventKeyUp:
		delete(c.held, ev.Code)
	}
}

// matches reports whether every code in chord is currently held.
func (c *chordTracker) matches(chord []keycode.Code) bool {
	for _, code := range chord {
		if !c.held[code] {
			return false
		}
	}
	return true
}

// containsCode reports whether code is one of the configured chord's
// members.
func containsCode(chord []keycode.Code, code keycode.Code) bool {
	for _, c := range chord {
		if c == code {
			return true
		}
	}
	return false
}
