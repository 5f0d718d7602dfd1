/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package topology

import "github.com/Adjoint-uk/cross-control/wire"

// Cursor is the ownership-independent virtual position (§3, §9):
// { current_screen, x, y }.
type Cursor struct {
	Screen string
	X, Y   int32
}

// StepResult is the outcome of one Topology.Step call (§4.6).
// Crossed == false means the cursor Stayed, clamped to (X, Y) on the
// current screen. Crossed == true means the cursor left From on side
// EntryPosition's opposite and entered To at EntryPosition/EntryOffset.
type StepResult struct {
	Crossed       bool
	X, Y          int32
	From, To      string
	EntryPosition wire.Position // the side of To that was entered
	EntryOffset   int32         // projected coordinate along that side
}

// exitSide reports which side of screen cur the point (x, y) has exited
// through, if any. Only one side can be exited per Step since deltas are
// bounded per physical event.
func exitSide(x, y int32, cur wire.Screen) (wire.Position, bool) {
	switch {
	case x < 0:
		return wire.Left, true
	case x >= cur.Width:
		return wire.Right, true
	case y < 0:
		return wire.Up, true
	case y >= cur.Height:
		return wire.Down, true
	default:
		return 0, false
	}
}

// edgeLength returns the pixel run of screen s's side — the dimension
// the entry-projection ratio (§4.6) is computed against.
func edgeLength(side wire.Position, s wire.Screen) int32 {
	if side == wire.Left || side == wire.Right {
		return s.Height
	}
	return s.Width
}

// edgeOffset returns the coordinate along the exited side, clamped into
// the valid range for that side's length.
func edgeOffset(side wire.Position, x, y int32, cur wire.Screen) int32 {
	switch side {
	case wire.Left, wire.Right:
		return clamp(y, 0, cur.Height-1)
	default:
		return clamp(x, 0, cur.Width-1)
	}
}

// projectOffset implements the only numeric rule the barrier relies on
// (§4.6): entering B at offset p*(B_edge_len/A_edge_len), rounded
// half-to-even, so it matches bit-for-bit between peers running the
// same arithmetic.
func projectOffset(p, fromLen, toLen int32) int32 {
	if fromLen == 0 {
		return 0
	}
	return int32(roundHalfToEven(int64(p)*int64(toLen), int64(fromLen)))
}

// roundHalfToEven divides num/den and rounds ties to the nearest even
// integer, matching IEEE 754 round-to-nearest-even semantics so the
// result is reproducible without floating point.
func roundHalfToEven(num, den int64) int64 {
	if den < 0 {
		num, den = -num, -den
	}
	q := num / den
	r := num % den
	if r < 0 {
		q--
		r += den
	}
	twice := r * 2
	switch {
	case twice < den:
		return q
	case twice > den:
		return q + 1
	default: // exact tie: round to even
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}

// enterAt places the cursor one pixel inside screen s's entrySide edge
// at the given offset along that edge (§4.6: "one pixel inside B's
// opposite(S) edge").
func enterAt(screenName string, entrySide wire.Position, offset int32, s wire.Screen) Cursor {
	c := Cursor{Screen: screenName}
	switch entrySide {
	case wire.Left:
		c.X, c.Y = 0, clamp(offset, 0, s.Height-1)
	case wire.Right:
		c.X, c.Y = s.Width-1, clamp(offset, 0, s.Height-1)
	case wire.Up:
		c.X, c.Y = clamp(offset, 0, s.Width-1), 0
	case wire.Down:
		c.X, c.Y = clamp(offset, 0, s.Width-1), s.Height-1
	}
	return c
}
