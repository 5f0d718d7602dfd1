/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package wire

import "fmt"

// Kind tags the message envelope's kind-specific body (§4.1). The first
// byte of every payload; the remainder is Kind-specific.
type Kind uint8

const (
	KindHello Kind = iota
	KindWelcome
	KindDeviceAnnounce
	KindDeviceGone
	KindScreenUpdate
	KindEnter
	KindEnterAck
	KindLeave
	KindPing
	KindPong
	KindBye
	KindEventBatch
	KindOffer
	KindRequest
	KindData
)

func (k Kind) String() string {
	names := [...]string{
		"Hello", "Welcome", "DeviceAnnounce", "DeviceGone", "ScreenUpdate",
		"Enter", "EnterAck", "Leave", "Ping", "Pong", "Bye", "EventBatch",
		"Offer", "Request", "Data",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Stream identifies which of the three stream types (§4.2) a message
// kind belongs on, used by decoders to apply the right version-gate
// policy (§4.1: fatal on input streams, ProtocolError on control).
type Stream uint8

const (
	ControlStream Stream = iota
	InputStream
	ClipboardStream
)

func (k Kind) Stream() Stream {
	switch k {
	case KindEventBatch:
		return InputStream
	case KindOffer, KindRequest, KindData:
		return ClipboardStream
	default:
		return ControlStream
	}
}

// ErrUnknownKind is returned by Decode when the leading byte does not
// match any known Kind. On a control stream this is a ProtocolError
// (§4.1: "reports ProtocolError::UnknownKind"); on an input stream the
// caller must treat it as fatal and close the stream.
var ErrUnknownKind = fmt.Errorf("wire: unknown message kind")

// Message is any envelope body that can be marshalled to and from the
// kind-tagged wire format.
type Message interface {
	Kind() Kind
	marshalBody() []byte
	unmarshalBody([]byte) error
}

// Encode produces the full self-describing payload: one kind byte
// followed by the kind-specific body (§4.1).
func Encode(m Message) []byte {
	body := m.marshalBody()
	out := make([]byte, 1+len(body))
	out[0] = byte(m.Kind())
	copy(out[1:], body)
	return out
}

// Decode parses a kind-tagged payload into its concrete Message type.
func Decode(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, ErrTruncated
	}
	kind := Kind(payload[0])
	body := payload[1:]

	var m Message
	switch kind {
	case KindHello:
		m = &Hello{}
	case KindWelcome:
		m = &Welcome{}
	case KindDeviceAnnounce:
		m = &DeviceAnnounce{}
	case KindDeviceGone:
		m = &DeviceGone{}
	case KindScreenUpdate:
		m = &ScreenUpdate{}
	case KindEnter:
		m = &Enter{}
	case KindEnterAck:
		m = &EnterAck{}
	case KindLeave:
		m = &Leave{}
	case KindPing:
		m = &Ping{}
	case KindPong:
		m = &Pong{}
	case KindBye:
		m = &Bye{}
	case KindEventBatch:
		m = &EventBatchMsg{}
	case KindOffer:
		m = &Offer{}
	case KindRequest:
		m = &Request{}
	case KindData:
		m = &Data{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, payload[0])
	}
	if err := m.unmarshalBody(body); err != nil {
		return nil, err
	}
	return m, nil
}
