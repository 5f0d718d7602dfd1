/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/Adjoint-uk/cross-control/keycode"
)

func sampleMessages() []Message {
	return []Message{
		&Hello{
			Version:   CurrentVersion,
			MachineID: MachineID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			Name:      "alpha",
			Screen:    Screen{Name: "alpha", Width: 1920, Height: 1080},
		},
		&Welcome{
			Version:   CurrentVersion,
			MachineID: MachineID{0xff},
			Name:      "beta",
			Screen:    Screen{Name: "beta", Width: 2560, Height: 1440},
		},
		&DeviceAnnounce{Device: DeviceInfo{DeviceID: 7, Kind: DeviceMouse, Capabilities: 0x5, Vendor: 0x046d, Product: 0xc52b}},
		&DeviceGone{DeviceID: 7},
		&ScreenUpdate{Screen: Screen{Name: "beta", Width: 3840, Height: 2160}},
		&Enter{Edge: Right, Position: 540},
		&EnterAck{},
		&Leave{Edge: Left, Position: 540},
		&Ping{Seq: 41},
		&Pong{Seq: 41},
		&Bye{},
		&EventBatchMsg{Batch: EventBatch{
			DeviceID:    7,
			TimestampUS: 123456789,
			Events: []InputEvent{
				{Kind: EventPointerRel, DX: 3, DY: -2},
				{Kind: EventKeyDown, Code: keycode.KeyA},
				{Kind: EventKeyUp, Code: keycode.KeyA},
				{Kind: EventButton, Code: 0x110, Pressed: true},
				{Kind: EventWheel, Axis: 1, Value: -120},
				{Kind: EventPointerAbs, X: 99, Y: 101},
				{Kind: EventSync},
			},
		}},
		&Offer{Formats: []string{"text/plain", "text/html"}},
		&Request{Format: "text/plain"},
		&Data{Format: "text/plain", Payload: []byte("hello across the barrier")},
	}
}

// TestEncodeDecodeRoundTrip covers the §8 codec law: for every valid
// message m, decode(encode(m)) == m.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, m := range sampleMessages() {
		payload := Encode(m)
		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode(%s): %v", m.Kind(), err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip %s:\n got %#v\nwant %#v", m.Kind(), got, m)
		}
	}
}

// TestDecoderTruncatedFrameNeedsMore covers the second half of the
// codec law: a truncated frame yields a recoverable need-more state,
// never a decode of a different message.
func TestDecoderTruncatedFrameNeedsMore(t *testing.T) {
	for _, m := range sampleMessages() {
		framed, err := EncodeFrame(Encode(m))
		if err != nil {
			t.Fatalf("EncodeFrame(%s): %v", m.Kind(), err)
		}
		for k := 0; k < len(framed); k++ {
			d := &Decoder{}
			d.Feed(framed[:k])
			payload, ok, err := d.Next()
			if err != nil {
				t.Fatalf("%s truncated at %d: unexpected error %v", m.Kind(), k, err)
			}
			if ok {
				t.Fatalf("%s truncated at %d: got a complete frame %x, want need-more", m.Kind(), k, payload)
			}
			// Feeding the remainder must yield the original message.
			d.Feed(framed[k:])
			payload, ok, err = d.Next()
			if err != nil || !ok {
				t.Fatalf("%s resumed at %d: ok=%v err=%v", m.Kind(), k, ok, err)
			}
			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("%s resumed at %d: Decode: %v", m.Kind(), k, err)
			}
			if !reflect.DeepEqual(got, m) {
				t.Fatalf("%s resumed at %d decoded differently", m.Kind(), k)
			}
		}
	}
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	d := &Decoder{}
	d.Feed([]byte{0xff, 0xff, 0xff, 0xff})
	if _, _, err := d.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	if _, err := EncodeFrame(make([]byte, MaxFramePayload+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameShortReadIsProtocolError(t *testing.T) {
	framed, err := EncodeFrame([]byte("abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	// Drop the last byte: the declared length can no longer be satisfied.
	if _, err := ReadFrame(bytes.NewReader(framed[:len(framed)-1])); !errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Encode(&Ping{Seq: 9})
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload = %x, want %x", got, want)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := Decode([]byte{0xee}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

// TestDecodeTruncatedBody checks that an under-length body is rejected
// as a protocol error, not silently zero-filled (§4.1).
func TestDecodeTruncatedBody(t *testing.T) {
	payload := Encode(&Enter{Edge: Right, Position: 540})
	if _, err := Decode(payload[:len(payload)-1]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

// TestDecodeTrailingBytesRejected checks the other direction: extra
// bytes after a complete body are a protocol error too.
func TestDecodeTrailingBytesRejected(t *testing.T) {
	payload := append(Encode(&Enter{Edge: Right, Position: 540}), 0x00)
	if _, err := Decode(payload); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

// TestEventBatchCountBound checks the declared-count maximum (§4.1: "a
// u32 count with an explicit maximum") is enforced before allocation.
func TestEventBatchCountBound(t *testing.T) {
	m := &EventBatchMsg{}
	w := &bufWriter{}
	w.u32(7)
	w.u64(0)
	w.u32(MaxEventsPerBatch + 1)
	if err := m.unmarshalBody(w.b); !errors.Is(err, ErrMaxExceeded) {
		t.Fatalf("err = %v, want ErrMaxExceeded", err)
	}
}

func TestBoundedStringRejectsOversizedName(t *testing.T) {
	h := &Hello{
		Version:   CurrentVersion,
		Name:      string(make([]byte, MaxNameLen+1)),
		Screen:    Screen{Name: "x", Width: 1, Height: 1},
	}
	if _, err := Decode(Encode(h)); !errors.Is(err, ErrMaxExceeded) {
		t.Fatalf("err = %v, want ErrMaxExceeded", err)
	}
}

func TestKindStreamAssignment(t *testing.T) {
	if got := KindEventBatch.Stream(); got != InputStream {
		t.Fatalf("EventBatch stream = %v, want InputStream", got)
	}
	if got := KindData.Stream(); got != ClipboardStream {
		t.Fatalf("Data stream = %v, want ClipboardStream", got)
	}
	if got := KindEnter.Stream(); got != ControlStream {
		t.Fatalf("Enter stream = %v, want ControlStream", got)
	}
}
