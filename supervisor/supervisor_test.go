/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package supervisor

import (
	"testing"

	"github.com/Adjoint-uk/cross-control/keycode"
	"github.com/Adjoint-uk/cross-control/wire"
)

// TestYieldToInboundIsAntisymmetric covers the §8 handshake-idempotence
// tie-break: of two machines dialing each other at once, exactly one
// yields, no matter which pair of fingerprints is in play.
func TestYieldToInboundIsAntisymmetric(t *testing.T) {
	fps := [][32]byte{
		{},
		{0x01},
		{0xff},
		{0x00, 0x80},
		{0x7f, 0xff, 0xff},
	}
	for i, a := range fps {
		for j, b := range fps {
			if i == j {
				continue
			}
			aYields := yieldToInbound(a, b)
			bYields := yieldToInbound(b, a)
			if aYields == bYields {
				t.Fatalf("fps %d vs %d: both sides decided %v; exactly one must yield", i, j, aYields)
			}
		}
	}
}

func TestYieldToInboundNeverYieldsToItself(t *testing.T) {
	fp := [32]byte{0x42}
	if yieldToInbound(fp, fp) {
		t.Fatalf("equal fingerprints must not yield (same machine)")
	}
}

func motionBatch(dx int32) wire.EventBatch {
	return wire.EventBatch{Events: []wire.InputEvent{{Kind: wire.EventPointerRel, DX: dx}}}
}

func keyBatch(code uint16) wire.EventBatch {
	return wire.EventBatch{Events: []wire.InputEvent{{Kind: wire.EventKeyDown, Code: keycode.Code(code)}}}
}

// TestEnqueueInputShedsMotionFirst covers the §5 backpressure policy:
// on a full queue the oldest pointer-motion batch goes first and key
// batches survive unconditionally.
func TestEnqueueInputShedsMotionFirst(t *testing.T) {
	const max = 4

	var q []wire.EventBatch
	for i := int32(0); i < max; i++ {
		var dropped bool
		q, dropped = enqueueInput(q, motionBatch(i), max)
		if dropped {
			t.Fatalf("dropped below capacity")
		}
	}

	q, dropped := enqueueInput(q, keyBatch(30), max)
	if !dropped {
		t.Fatalf("full queue did not shed")
	}
	if len(q) != max {
		t.Fatalf("len = %d, want %d", len(q), max)
	}
	if q[0].Events[0].DX != 1 {
		t.Fatalf("head DX = %d, want 1 (oldest motion batch dropped)", q[0].Events[0].DX)
	}

	// A queue holding only key batches grows past max rather than lose
	// a key transition.
	q = nil
	for i := 0; i < max; i++ {
		q, _ = enqueueInput(q, keyBatch(uint16(30+i)), max)
	}
	q, dropped = enqueueInput(q, keyBatch(44), max)
	if dropped || len(q) != max+1 {
		t.Fatalf("dropped=%v len=%d, want key batches preserved past capacity", dropped, len(q))
	}

	// Mixed: the dropped batch is the oldest motion, not the head key.
	q = []wire.EventBatch{keyBatch(30), motionBatch(9), keyBatch(31)}
	q, dropped = enqueueInput(q, motionBatch(10), 3)
	if !dropped {
		t.Fatalf("full mixed queue did not shed")
	}
	if !carriesKeyEvents(q[0]) || !carriesKeyEvents(q[1]) || q[2].Events[0].DX != 10 {
		t.Fatalf("survivors = %+v, want both key batches then the new motion", q)
	}
}
