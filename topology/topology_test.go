/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package topology

import (
	"errors"
	"testing"

	"github.com/Adjoint-uk/cross-control/wire"
)

func pairEdges(a, b string, side wire.Position) []Edge {
	return []Edge{
		{From: a, Side: side, To: b},
		{From: b, Side: side.Opposite(), To: a},
	}
}

func twoScreens(t *testing.T, aW, aH, bW, bH int32) *Topology {
	t.Helper()
	topo := New()
	err := topo.Reload(
		[]wire.Screen{{Name: "A", Width: aW, Height: aH}, {Name: "B", Width: bW, Height: bH}},
		pairEdges("A", "B", wire.Right),
	)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	topo.SetLocal("A")
	return topo
}

// TestReloadRejectsAsymmetricEdges covers the §8 symmetry law: every
// edge A --[S]--> B must have B --[opposite(S)]--> A.
func TestReloadRejectsAsymmetricEdges(t *testing.T) {
	topo := New()
	err := topo.Reload(
		[]wire.Screen{{Name: "A", Width: 1920, Height: 1080}, {Name: "B", Width: 1920, Height: 1080}},
		[]Edge{{From: "A", Side: wire.Right, To: "B"}},
	)
	if !errors.Is(err, ErrAsymmetric) {
		t.Fatalf("err = %v, want ErrAsymmetric", err)
	}
}

func TestReloadRejectsConflictingNeighbours(t *testing.T) {
	topo := New()
	err := topo.Reload(
		[]wire.Screen{{Name: "A"}, {Name: "B"}, {Name: "C"}},
		[]Edge{
			{From: "A", Side: wire.Right, To: "B"},
			{From: "A", Side: wire.Right, To: "C"},
			{From: "B", Side: wire.Left, To: "A"},
			{From: "C", Side: wire.Left, To: "A"},
		},
	)
	if !errors.Is(err, ErrDuplicateEdge) {
		t.Fatalf("err = %v, want ErrDuplicateEdge", err)
	}
}

func TestStepStaysAndClamps(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 1920, 1080)
	topo.SetCursor("A", 10, 10)

	res := topo.Step(5, -3)
	if res.Crossed {
		t.Fatalf("unexpected crossing: %+v", res)
	}
	if res.X != 15 || res.Y != 7 {
		t.Fatalf("pos = (%d, %d), want (15, 7)", res.X, res.Y)
	}

	// No neighbour above A: a step off the top edge clamps, not crosses.
	res = topo.Step(0, -100)
	if res.Crossed || res.Y != 0 {
		t.Fatalf("step off unowned edge = %+v, want clamped to y=0", res)
	}
}

func TestStepCrossesRightEdge(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 1920, 1080)
	topo.SetCursor("A", 1919, 540)

	res := topo.Step(1, 0)
	if !res.Crossed {
		t.Fatalf("result = %+v, want a crossing", res)
	}
	if res.From != "A" || res.To != "B" {
		t.Fatalf("crossed %s -> %s, want A -> B", res.From, res.To)
	}
	if res.EntryPosition != wire.Left {
		t.Fatalf("entry side = %v, want Left", res.EntryPosition)
	}
	if res.EntryOffset != 540 {
		t.Fatalf("entry offset = %d, want 540", res.EntryOffset)
	}

	cur := topo.CurrentCursor()
	if cur.Screen != "B" || cur.X != 0 || cur.Y != 540 {
		t.Fatalf("cursor = %+v, want B (0, 540)", cur)
	}
}

// TestEntryProjectionScalesOffset checks the §4.6 numeric rule against
// screens of unequal edge length.
func TestEntryProjectionScalesOffset(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 1920, 2160)
	topo.SetCursor("A", 1919, 540)

	res := topo.Step(1, 0)
	if !res.Crossed {
		t.Fatalf("result = %+v, want a crossing", res)
	}
	// 540 * (2160 / 1080) = 1080 exactly.
	if res.EntryOffset != 1080 {
		t.Fatalf("entry offset = %d, want 1080", res.EntryOffset)
	}
}

// TestProjectionRoundTrip covers the §8 projection law: forward then
// reverse across an edge pair yields the original offset (mod rounding).
func TestProjectionRoundTrip(t *testing.T) {
	const fromLen, toLen = 1080, 2160
	for p := int32(0); p < fromLen; p += 37 {
		there := projectOffset(p, fromLen, toLen)
		back := projectOffset(there, toLen, fromLen)
		if back != p {
			t.Fatalf("offset %d -> %d -> %d, want round trip exact for a 2:1 ratio", p, there, back)
		}
	}
	// An inexact ratio must land within one pixel of the original.
	for p := int32(0); p < 1080; p += 41 {
		there := projectOffset(p, 1080, 1440)
		back := projectOffset(there, 1440, 1080)
		if diff := back - p; diff < -1 || diff > 1 {
			t.Fatalf("offset %d -> %d -> %d drifted by %d pixels", p, there, back, diff)
		}
	}
}

// TestRoundHalfToEven pins the tie-breaking rule: exact halves round to
// the nearest even integer, matching both peers bit-for-bit.
func TestRoundHalfToEven(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{1, 2, 0},  // 0.5 -> 0 (even)
		{3, 2, 2},  // 1.5 -> 2 (even)
		{5, 2, 2},  // 2.5 -> 2 (even)
		{7, 2, 4},  // 3.5 -> 4 (even)
		{-1, 2, 0}, // -0.5 -> 0 (even)
		{-3, 2, -2},
		{4, 2, 2}, // exact
		{5, 4, 1}, // 1.25 -> 1
		{7, 4, 2}, // 1.75 -> 2
	}
	for _, c := range cases {
		if got := roundHalfToEven(c.num, c.den); got != c.want {
			t.Fatalf("roundHalfToEven(%d, %d) = %d, want %d", c.num, c.den, got, c.want)
		}
	}
}

func TestReenterLocalPlacesCursorOneInsideEdge(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 1920, 1080)
	topo.SetCursor("B", 0, 540)

	topo.ReenterLocal(wire.Right, 540)
	cur := topo.CurrentCursor()
	if cur.Screen != "A" || cur.X != 1919 || cur.Y != 540 {
		t.Fatalf("cursor = %+v, want A (1919, 540)", cur)
	}
}

func TestUpdateScreenFeedsLaterProjection(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 0, 0)
	topo.UpdateScreen(wire.Screen{Name: "B", Width: 1920, Height: 2160})

	topo.SetCursor("A", 1919, 540)
	res := topo.Step(1, 0)
	if !res.Crossed || res.EntryOffset != 1080 {
		t.Fatalf("result = %+v, want crossing with offset 1080 after geometry update", res)
	}
}

func TestReloadPreservesCursorScreenIfStillPresent(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 1920, 1080)
	topo.SetCursor("B", 5, 5)

	err := topo.Reload(
		[]wire.Screen{{Name: "A", Width: 1920, Height: 1080}, {Name: "B", Width: 2560, Height: 1440}},
		pairEdges("A", "B", wire.Right),
	)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cur := topo.CurrentCursor(); cur.Screen != "B" {
		t.Fatalf("cursor screen = %q, want B preserved", cur.Screen)
	}

	// Dropping B from the layout resets the cursor to the local screen.
	err = topo.Reload([]wire.Screen{{Name: "A", Width: 1920, Height: 1080}}, nil)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cur := topo.CurrentCursor(); cur.Screen != "A" {
		t.Fatalf("cursor screen = %q, want reset to A", cur.Screen)
	}
}

func TestNeighbourLookup(t *testing.T) {
	topo := twoScreens(t, 1920, 1080, 1920, 1080)
	if n, ok := topo.Neighbour("A", wire.Right); !ok || n != "B" {
		t.Fatalf("Neighbour(A, Right) = %q, %v", n, ok)
	}
	if _, ok := topo.Neighbour("A", wire.Left); ok {
		t.Fatalf("Neighbour(A, Left) should not exist")
	}
}
