/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package topology holds the labelled screen graph and the unified
// virtual cursor that moves across it (§4.6). It is the only component
// that understands screen adjacency; the barrier state machine only
// ever asks it to Step and acts on the result.
package topology

import (
	"fmt"
	"sync"

	"github.com/Adjoint-uk/cross-control/wire"
)

// Edge is one directed, labelled adjacency: screen From has screen To
// on side Side (§3).
type Edge struct {
	From string
	Side wire.Position
	To   string
}

// ErrAsymmetric is returned by Reload when an edge's reverse is missing
// or inconsistent (§3 invariant, §7 ConfigError).
var ErrAsymmetric = fmt.Errorf("topology: edge set is not symmetric")

// ErrDuplicateEdge is returned when two edges claim the same
// (screen, side) pair with different neighbours (§3: "at most one
// neighbour" per side).
var ErrDuplicateEdge = fmt.Errorf("topology: duplicate (screen, side) pair")

// Topology is the directed, labelled screen graph plus the virtual
// cursor (§4.6). Safe for concurrent use; writes (Reload, SetLocal) take
// an exclusive lock, matching §5's "writes go through the state-machine
// task" model — callers outside that task only ever read.
type Topology struct {
	mu      sync.RWMutex
	screens map[string]wire.Screen
	edges   map[string]map[wire.Position]string
	local   string
	cursor  Cursor
}

// New returns an empty topology. Call Reload and SetLocal before use.
func New() *Topology {
	return &Topology{
		screens: make(map[string]wire.Screen),
		edges:   make(map[string]map[wire.Position]string),
	}
}

// Reload validates the symmetry invariant (§3) and replaces the screen
// set and edge set atomically. The virtual cursor's current screen is
// preserved if it still exists, otherwise reset to the local screen.
func (t *Topology) Reload(screens []wire.Screen, edges []Edge) error {
	screenMap := make(map[string]wire.Screen, len(screens))
	for _, s := range screens {
		screenMap[s.Name] = s
	}

	adj := make(map[string]map[wire.Position]string)
	for _, e := range edges {
		if adj[e.From] == nil {
			adj[e.From] = make(map[wire.Position]string)
		}
		if existing, ok := adj[e.From][e.Side]; ok && existing != e.To {
			return fmt.Errorf("%w: %s side %s", ErrDuplicateEdge, e.From, e.Side)
		}
		adj[e.From][e.Side] = e.To
	}
	for _, e := range edges {
		back, ok := adj[e.To]
		if !ok || back[e.Side.Opposite()] != e.From {
			return fmt.Errorf("%w: %s --%s--> %s has no matching reverse edge", ErrAsymmetric, e.From, e.Side, e.To)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.screens = screenMap
	t.edges = adj
	if _, ok := screenMap[t.cursor.Screen]; !ok {
		t.cursor = Cursor{Screen: t.local}
	}
	return nil
}

// UpdateScreen replaces a single screen's known geometry without
// touching the edge set, e.g. when a peer reports a resolution change
// via ScreenUpdate (§4.6 "screen-adjacency hot reload": "any time a
// peer's screen geometry changes, the local topology's edge projection
// recomputes for that peer's edges"). A screen not yet known from Reload
// is simply added.
func (t *Topology) UpdateScreen(s wire.Screen) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screens[s.Name] = s
}

// SetLocal designates one screen as local; the cursor starts there
// (§4.6).
func (t *Topology) SetLocal(screen string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = screen
	t.cursor = Cursor{Screen: screen}
}

// Neighbour returns the screen adjacent to (screen, side), if any.
func (t *Topology) Neighbour(screen string, side wire.Position) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.edges[screen][side]
	return n, ok
}

// Screen returns the known geometry for name.
func (t *Topology) Screen(name string) (wire.Screen, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.screens[name]
	return s, ok
}

// CurrentCursor returns a snapshot of the virtual cursor.
func (t *Topology) CurrentCursor() Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cursor
}

// LocalScreen returns the name given to SetLocal, used by the barrier
// state machine to recognise a Crossed result returning to this machine
// (§4.7: "Crossed{to: self}").
func (t *Topology) LocalScreen() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// SetCursor forcibly places the virtual cursor, bypassing edge
// projection. Used by the release-hotkey path (§4.7), which is not an
// edge-relative transition.
func (t *Topology) SetCursor(screen string, x, y int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = Cursor{Screen: screen, X: x, Y: y}
}

// Step integrates a pointer delta against the virtual cursor (§4.6).
func (t *Topology) Step(dx, dy int32) StepResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.screens[t.cursor.Screen]
	x := t.cursor.X + dx
	y := t.cursor.Y + dy

	if side, ok := exitSide(x, y, cur); ok {
		if neighbourName, ok := t.edges[t.cursor.Screen][side]; ok {
			neighbour := t.screens[neighbourName]
			entrySide := side.Opposite()
			offset := edgeOffset(side, x, y, cur)
			entryOffset := projectOffset(offset, edgeLength(side, cur), edgeLength(entrySide, neighbour))
			t.cursor = enterAt(neighbourName, entrySide, entryOffset, neighbour)
			return StepResult{
				Crossed:       true,
				From:          cur.Name,
				To:            neighbourName,
				EntryPosition: entrySide,
				EntryOffset:   entryOffset,
			}
		}
	}

	t.cursor.X = clamp(x, 0, cur.Width-1)
	t.cursor.Y = clamp(y, 0, cur.Height-1)
	return StepResult{X: t.cursor.X, Y: t.cursor.Y}
}

// ReenterLocal places the virtual cursor back on the local screen at the
// given entry edge/offset, used when the local owner's cursor crosses
// back from a remote screen onto the local one (§4.7 Remote -> Releasing).
func (t *Topology) ReenterLocal(entrySide wire.Position, offset int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	local := t.screens[t.local]
	t.cursor = enterAt(t.local, entrySide, offset, local)
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
