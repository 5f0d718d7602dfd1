/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package wire

import "github.com/Adjoint-uk/cross-control/keycode"

// Bounds on variable-length sequences (§4.1: "an explicit maximum").
const (
	MaxNameLen          = 256
	MaxEventsPerBatch    = 4096
	MaxClipboardFormats  = 64
	MaxClipboardFormatLen = 256
	MaxClipboardPayload  = MaxFramePayload - 64
)

// ProtocolVersion gates wire compatibility (§4.2). The major component
// must match exactly; minor differences are forward-compatible.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the version this implementation speaks. The key
// space (§9) is part of this version: ProtocolVersion{1,0} is pinned to
// the evdev-derived keycode.Code numbering.
var CurrentVersion = ProtocolVersion{Major: 1, Minor: 0}

func writeScreen(w *bufWriter, s Screen) {
	w.str(s.Name)
	w.i32(s.Width)
	w.i32(s.Height)
}

func readScreen(r *bufReader) Screen {
	return Screen{
		Name:   r.boundedStr(MaxNameLen),
		Width:  r.i32(),
		Height: r.i32(),
	}
}

func writeDeviceInfo(w *bufWriter, d DeviceInfo) {
	w.u32(d.DeviceID)
	w.u8(uint8(d.Kind))
	w.u32(d.Capabilities)
	w.u16(d.Vendor)
	w.u16(d.Product)
}

func readDeviceInfo(r *bufReader) DeviceInfo {
	return DeviceInfo{
		DeviceID:     r.u32(),
		Kind:         DeviceKind(r.u8()),
		Capabilities: r.u32(),
		Vendor:       r.u16(),
		Product:      r.u16(),
	}
}

func writeEvent(w *bufWriter, e InputEvent) {
	w.u8(uint8(e.Kind))
	w.u16(uint16(e.Code))
	w.i32(e.DX)
	w.i32(e.DY)
	w.i32(e.X)
	w.i32(e.Y)
	w.bool(e.Pressed)
	w.u8(e.Axis)
	w.i32(e.Value)
}

func readEvent(r *bufReader) InputEvent {
	return InputEvent{
		Kind:    EventKind(r.u8()),
		Code:    keycode.Code(r.u16()),
		DX:      r.i32(),
		DY:      r.i32(),
		X:       r.i32(),
		Y:       r.i32(),
		Pressed: r.boolean(),
		Axis:    r.u8(),
		Value:   r.i32(),
	}
}

// --- Hello / Welcome (§4.2 handshake steps 1 and 4) ---

type Hello struct {
	Version   ProtocolVersion
	MachineID MachineID
	Name      string
	Screen    Screen
}

func (*Hello) Kind() Kind { return KindHello }

func (m *Hello) marshalBody() []byte {
	w := &bufWriter{}
	w.u8(m.Version.Major)
	w.u8(m.Version.Minor)
	w.fixed(m.MachineID[:])
	w.str(m.Name)
	writeScreen(w, m.Screen)
	return w.b
}

func (m *Hello) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Version.Major = r.u8()
	m.Version.Minor = r.u8()
	copy(m.MachineID[:], r.fixed(len(m.MachineID)))
	m.Name = r.boundedStr(MaxNameLen)
	m.Screen = readScreen(r)
	return r.done()
}

type Welcome Hello

func (*Welcome) Kind() Kind                { return KindWelcome }
func (m *Welcome) marshalBody() []byte     { return (*Hello)(m).marshalBody() }
func (m *Welcome) unmarshalBody(b []byte) error { return (*Hello)(m).unmarshalBody(b) }

// --- Device lifecycle (§4.3) ---

type DeviceAnnounce struct {
	Device DeviceInfo
}

func (*DeviceAnnounce) Kind() Kind { return KindDeviceAnnounce }
func (m *DeviceAnnounce) marshalBody() []byte {
	w := &bufWriter{}
	writeDeviceInfo(w, m.Device)
	return w.b
}
func (m *DeviceAnnounce) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Device = readDeviceInfo(r)
	return r.done()
}

type DeviceGone struct {
	DeviceID uint32
}

func (*DeviceGone) Kind() Kind            { return KindDeviceGone }
func (m *DeviceGone) marshalBody() []byte { w := &bufWriter{}; w.u32(m.DeviceID); return w.b }
func (m *DeviceGone) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.DeviceID = r.u32()
	return r.done()
}

type ScreenUpdate struct {
	Screen Screen
}

func (*ScreenUpdate) Kind() Kind { return KindScreenUpdate }
func (m *ScreenUpdate) marshalBody() []byte {
	w := &bufWriter{}
	writeScreen(w, m.Screen)
	return w.b
}
func (m *ScreenUpdate) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Screen = readScreen(r)
	return r.done()
}

// --- Handover (§4.7) ---

type Enter struct {
	Edge     Position
	Position int32
}

func (*Enter) Kind() Kind { return KindEnter }
func (m *Enter) marshalBody() []byte {
	w := &bufWriter{}
	w.u8(uint8(m.Edge))
	w.i32(m.Position)
	return w.b
}
func (m *Enter) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Edge = Position(r.u8())
	m.Position = r.i32()
	return r.done()
}

type EnterAck struct{}

func (*EnterAck) Kind() Kind                      { return KindEnterAck }
func (*EnterAck) marshalBody() []byte             { return nil }
func (*EnterAck) unmarshalBody(b []byte) error    { return newBufReader(b).done() }

type Leave struct {
	Edge     Position
	Position int32
}

func (*Leave) Kind() Kind { return KindLeave }
func (m *Leave) marshalBody() []byte {
	w := &bufWriter{}
	w.u8(uint8(m.Edge))
	w.i32(m.Position)
	return w.b
}
func (m *Leave) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Edge = Position(r.u8())
	m.Position = r.i32()
	return r.done()
}

// --- Keepalive (§4.2) ---

type Ping struct{ Seq uint32 }

func (*Ping) Kind() Kind            { return KindPing }
func (m *Ping) marshalBody() []byte { w := &bufWriter{}; w.u32(m.Seq); return w.b }
func (m *Ping) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Seq = r.u32()
	return r.done()
}

type Pong struct{ Seq uint32 }

func (*Pong) Kind() Kind            { return KindPong }
func (m *Pong) marshalBody() []byte { w := &bufWriter{}; w.u32(m.Seq); return w.b }
func (m *Pong) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Seq = r.u32()
	return r.done()
}

type Bye struct{}

func (*Bye) Kind() Kind                   { return KindBye }
func (*Bye) marshalBody() []byte          { return nil }
func (*Bye) unmarshalBody(b []byte) error { return newBufReader(b).done() }

// --- High-rate input stream payload (§3, §6) ---

type EventBatchMsg struct {
	Batch EventBatch
}

func (*EventBatchMsg) Kind() Kind { return KindEventBatch }

func (m *EventBatchMsg) marshalBody() []byte {
	w := &bufWriter{}
	w.u32(m.Batch.DeviceID)
	w.u64(m.Batch.TimestampUS)
	w.u32(uint32(len(m.Batch.Events)))
	for _, e := range m.Batch.Events {
		writeEvent(w, e)
	}
	return w.b
}

func (m *EventBatchMsg) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Batch.DeviceID = r.u32()
	m.Batch.TimestampUS = r.u64()
	n := r.u32()
	if r.err == nil && n > MaxEventsPerBatch {
		return ErrMaxExceeded
	}
	m.Batch.Events = make([]InputEvent, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		m.Batch.Events = append(m.Batch.Events, readEvent(r))
	}
	return r.done()
}

// --- Clipboard (§3, ephemeral bidirectional stream) ---

type Offer struct {
	Formats []string
}

func (*Offer) Kind() Kind { return KindOffer }
func (m *Offer) marshalBody() []byte {
	w := &bufWriter{}
	w.u32(uint32(len(m.Formats)))
	for _, f := range m.Formats {
		w.str(f)
	}
	return w.b
}
func (m *Offer) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	n := r.u32()
	if r.err == nil && n > MaxClipboardFormats {
		return ErrMaxExceeded
	}
	m.Formats = make([]string, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		m.Formats = append(m.Formats, r.boundedStr(MaxClipboardFormatLen))
	}
	return r.done()
}

type Request struct {
	Format string
}

func (*Request) Kind() Kind            { return KindRequest }
func (m *Request) marshalBody() []byte { w := &bufWriter{}; w.str(m.Format); return w.b }
func (m *Request) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Format = r.boundedStr(MaxClipboardFormatLen)
	return r.done()
}

type Data struct {
	Format  string
	Payload []byte
}

func (*Data) Kind() Kind { return KindData }
func (m *Data) marshalBody() []byte {
	w := &bufWriter{}
	w.str(m.Format)
	w.bytes(m.Payload)
	return w.b
}
func (m *Data) unmarshalBody(b []byte) error {
	r := newBufReader(b)
	m.Format = r.boundedStr(MaxClipboardFormatLen)
	m.Payload = r.boundedBytes(MaxClipboardPayload)
	return r.done()
}
