/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package barrier

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Adjoint-uk/cross-control/keycode"
	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/topology"
	"github.com/Adjoint-uk/cross-control/wire"
)

// fakeCapture counts grabs/releases so tests can assert the "exactly
// once" grab discipline (§4.7, §8 "no physical device remains grabbed").
type fakeCapture struct {
	mu      sync.Mutex
	grabs   int
	release int
}

func (f *fakeCapture) Grab() error   { f.mu.Lock(); defer f.mu.Unlock(); f.grabs++; return nil }
func (f *fakeCapture) Release() error { f.mu.Lock(); defer f.mu.Unlock(); f.release++; return nil }

type sentEnter struct {
	peer           string
	edge           wire.Position
	position       int32
}
type sentLeave = sentEnter

// fakeControl records every call made by the machine, standing in for
// the session supervisor (§4.8) in tests.
type fakeControl struct {
	mu       sync.Mutex
	enters   []sentEnter
	leaves   []sentLeave
	opened   []string
	closed   []string
	inputs   []wire.EventBatch
	nextID   uint32
	ackAfter func(peer string)
}

func (f *fakeControl) SendEnter(peer string, edge wire.Position, position int32) error {
	f.mu.Lock()
	f.enters = append(f.enters, sentEnter{peer, edge, position})
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) SendLeave(peer string, edge wire.Position, position int32) error {
	f.mu.Lock()
	f.leaves = append(f.leaves, sentLeave{peer, edge, position})
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) OpenInputStream(peer string) (uint32, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.opened = append(f.opened, peer)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeControl) CloseInputStream(peer string) {
	f.mu.Lock()
	f.closed = append(f.closed, peer)
	f.mu.Unlock()
}

func (f *fakeControl) SendInput(peer string, batch wire.EventBatch) error {
	f.mu.Lock()
	f.inputs = append(f.inputs, batch)
	f.mu.Unlock()
	return nil
}

func twoScreenTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo := topology.New()
	err := topo.Reload(
		[]wire.Screen{{Name: "A", Width: 1920, Height: 1080}, {Name: "B", Width: 1920, Height: 1080}},
		[]topology.Edge{
			{From: "A", Side: wire.Right, To: "B"},
			{From: "B", Side: wire.Left, To: "A"},
		},
	)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	topo.SetLocal("A")
	return topo
}

// TestStraightCrossingAndReturn exercises §8 scenarios 1 and 2.
func TestStraightCrossingAndReturn(t *testing.T) {
	topo := twoScreenTopology(t)
	capt := &fakeCapture{}
	ctrl := &fakeControl{}
	m := New(logger.New(logger.LevelSilent, "(test)"), topo, capt, ctrl)

	topo.SetCursor("A", 1919, 540)

	forwarded, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 1, DY: 0})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if forwarded {
		t.Fatalf("crossing event itself should not be forwarded")
	}
	if got := m.Status().State; got != StatePending {
		t.Fatalf("state = %v, want Pending", got)
	}
	if len(ctrl.enters) != 1 || ctrl.enters[0] != (sentEnter{"B", wire.Right, 540}) {
		t.Fatalf("enters = %+v, want [{B Right 540}]", ctrl.enters)
	}

	if err := m.OnEnterAck("B"); err != nil {
		t.Fatalf("OnEnterAck: %v", err)
	}
	if got := m.Status().State; got != StateRemote {
		t.Fatalf("state = %v, want Remote", got)
	}
	if capt.grabs != 1 {
		t.Fatalf("grabs = %d, want 1", capt.grabs)
	}

	forwarded, err = m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: -1920, DY: 0})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if forwarded {
		t.Fatalf("the crossing-back event itself should not be forwarded")
	}
	if got := m.Status().State; got != StateLocal {
		t.Fatalf("state = %v, want Local", got)
	}
	if len(ctrl.leaves) != 1 || ctrl.leaves[0] != (sentLeave{"B", wire.Left, 540}) {
		t.Fatalf("leaves = %+v, want [{B Left 540}]", ctrl.leaves)
	}
	if capt.release != 1 {
		t.Fatalf("releases = %d, want 1", capt.release)
	}
	cur := topo.CurrentCursor()
	if cur.Screen != "A" || cur.X != 1919 || cur.Y != 540 {
		t.Fatalf("cursor = %+v, want A (1919, 540)", cur)
	}
}

// TestPendingTimeout exercises the Pending->Local timeout row.
func TestPendingTimeout(t *testing.T) {
	topo := twoScreenTopology(t)
	m := New(logger.New(logger.LevelSilent, "(test)"), topo, &fakeCapture{}, &fakeControl{})
	topo.SetCursor("A", 1919, 540)

	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 1, DY: 0}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := m.Status().State; got != StatePending {
		t.Fatalf("state = %v, want Pending", got)
	}

	time.Sleep(enterAckTimeout + 200*time.Millisecond)
	if got := m.Status().State; got != StateLocal {
		t.Fatalf("state = %v after timeout, want Local", got)
	}
}

// TestReleaseHotkeyDoesNotForward exercises §8 scenario 3: the hotkey's
// own key events must never reach the peer.
func TestReleaseHotkeyDoesNotForward(t *testing.T) {
	topo := twoScreenTopology(t)
	capt := &fakeCapture{}
	ctrl := &fakeControl{}
	m := New(logger.New(logger.LevelSilent, "(test)"), topo, capt, ctrl)
	topo.SetCursor("A", 1919, 540)

	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 1, DY: 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.OnEnterAck("B"); err != nil {
		t.Fatal(err)
	}

	for i, code := range m.chord {
		forwarded, err := m.HandleEvent(2, wire.InputEvent{Kind: wire.EventKeyDown, Code: code})
		if err != nil {
			t.Fatalf("HandleEvent chord[%d]: %v", i, err)
		}
		if forwarded {
			t.Fatalf("hotkey key %d must not be forwarded", i)
		}
	}

	if got := m.Status().State; got != StateLocal {
		t.Fatalf("state = %v after hotkey, want Local", got)
	}
	if len(ctrl.leaves) != 1 {
		t.Fatalf("leaves = %d, want 1", len(ctrl.leaves))
	}
	if capt.release != 1 {
		t.Fatalf("releases = %d, want 1", capt.release)
	}
}

// TestPeerUnreachableReleasesGrabs exercises §8 scenario 4 and the grab
// discipline invariant.
func TestPeerUnreachableReleasesGrabs(t *testing.T) {
	topo := twoScreenTopology(t)
	capt := &fakeCapture{}
	ctrl := &fakeControl{}
	m := New(logger.New(logger.LevelSilent, "(test)"), topo, capt, ctrl)
	topo.SetCursor("A", 1919, 540)

	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 1, DY: 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.OnEnterAck("B"); err != nil {
		t.Fatal(err)
	}

	m.OnPeerUnreachable("B")

	if got := m.Status().State; got != StateLocal {
		t.Fatalf("state = %v, want Local", got)
	}
	if capt.grabs != capt.release {
		t.Fatalf("grabs = %d, releases = %d, want equal (no dangling grab)", capt.grabs, capt.release)
	}
}

// TestChainedCrossing exercises §8 scenario 6: A -> B -> C without
// re-grabbing and with Leave/Enter issued in order.
func TestChainedCrossing(t *testing.T) {
	topo := topology.New()
	err := topo.Reload(
		[]wire.Screen{
			{Name: "A", Width: 1920, Height: 1080},
			{Name: "B", Width: 1920, Height: 1080},
			{Name: "C", Width: 1920, Height: 1080},
		},
		[]topology.Edge{
			{From: "A", Side: wire.Right, To: "B"},
			{From: "B", Side: wire.Left, To: "A"},
			{From: "B", Side: wire.Right, To: "C"},
			{From: "C", Side: wire.Left, To: "B"},
		},
	)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	topo.SetLocal("A")
	topo.SetCursor("A", 1919, 540)

	capt := &fakeCapture{}
	ctrl := &fakeControl{}
	m := New(logger.New(logger.LevelSilent, "(test)"), topo, capt, ctrl)

	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 1, DY: 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.OnEnterAck("B"); err != nil {
		t.Fatal(err)
	}
	if got := m.Status().Target; got != "B" {
		t.Fatalf("target = %q, want B", got)
	}

	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 1920, DY: 0}); err != nil {
		t.Fatal(err)
	}
	if got := m.Status().State; got != StatePending {
		t.Fatalf("state = %v, want Pending (awaiting C's EnterAck)", got)
	}
	if got := m.Status().Target; got != "C" {
		t.Fatalf("target = %q, want C", got)
	}
	if len(ctrl.leaves) != 1 || ctrl.leaves[0].peer != "B" {
		t.Fatalf("leaves = %+v, want one Leave to B", ctrl.leaves)
	}
	if len(ctrl.enters) != 2 || ctrl.enters[1].peer != "C" {
		t.Fatalf("enters = %+v, want second Enter to C", ctrl.enters)
	}
	if len(ctrl.closed) != 1 || ctrl.closed[0] != "B" {
		t.Fatalf("closed streams = %+v, want [B]", ctrl.closed)
	}

	if err := m.OnEnterAck("C"); err != nil {
		t.Fatal(err)
	}
	if got := m.Status().State; got != StateRemote {
		t.Fatalf("state = %v, want Remote", got)
	}
	if capt.grabs != 1 {
		t.Fatalf("grabs = %d, want exactly 1 across the whole chain (§9 no re-grab)", capt.grabs)
	}
}

// TestEventConservation covers the §8 invariant: partitioned by the
// ownership timeline, every captured event is either locally observed
// or remotely delivered, exactly once, in capture order; the crossing
// steps themselves are consumed by the transitions.
func TestEventConservation(t *testing.T) {
	topo := twoScreenTopology(t)
	capt := &fakeCapture{}
	ctrl := &fakeControl{}
	m := New(logger.New(logger.LevelSilent, "(test)"), topo, capt, ctrl)
	topo.SetCursor("A", 1919, 540)

	// Locally-owned events never reach the wire.
	local := []wire.InputEvent{
		{Kind: wire.EventPointerRel, DX: -3, DY: 0},
		{Kind: wire.EventKeyDown, Code: keycode.KeyQ},
		{Kind: wire.EventKeyUp, Code: keycode.KeyQ},
	}
	for _, ev := range local {
		forwarded, err := m.HandleEvent(1, ev)
		if err != nil {
			t.Fatal(err)
		}
		if forwarded {
			t.Fatalf("locally-owned event %+v was forwarded", ev)
		}
	}

	// The cursor sits at 1916 after the local move; +4 crosses.
	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: 4, DY: 0}); err != nil {
		t.Fatal(err)
	}

	pending := []wire.InputEvent{
		{Kind: wire.EventKeyDown, Code: keycode.KeyA},
		{Kind: wire.EventPointerRel, DX: 7, DY: 0},
		{Kind: wire.EventKeyUp, Code: keycode.KeyA},
	}
	for _, ev := range pending {
		if forwarded, _ := m.HandleEvent(1, ev); forwarded {
			t.Fatalf("event forwarded before EnterAck")
		}
	}

	if err := m.OnEnterAck("B"); err != nil {
		t.Fatal(err)
	}

	remote := []wire.InputEvent{
		{Kind: wire.EventPointerRel, DX: 5, DY: 0},
		{Kind: wire.EventKeyDown, Code: keycode.KeyB},
		{Kind: wire.EventKeyUp, Code: keycode.KeyB},
		{Kind: wire.EventPointerRel, DX: 6, DY: 0},
	}
	for _, ev := range remote {
		forwarded, err := m.HandleEvent(1, ev)
		if err != nil {
			t.Fatal(err)
		}
		if !forwarded {
			t.Fatalf("remote-owned event %+v was not forwarded", ev)
		}
	}

	// Return to local; the crossing step is consumed by the transition.
	if _, err := m.HandleEvent(1, wire.InputEvent{Kind: wire.EventPointerRel, DX: -1920, DY: 0}); err != nil {
		t.Fatal(err)
	}

	var delivered []wire.InputEvent
	for _, batch := range ctrl.inputs {
		delivered = append(delivered, batch.Events...)
	}

	want := append([]wire.InputEvent{}, pending...)
	want = append(want, wire.InputEvent{Kind: wire.EventSync})
	want = append(want, remote...)
	if !reflect.DeepEqual(delivered, want) {
		t.Fatalf("delivered events:\n got %+v\nwant %+v", delivered, want)
	}
}
