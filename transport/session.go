/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/Adjoint-uk/cross-control/wire"
)

// streamHeaderSize is the cleartext-but-authenticated prefix on every
// transport datagram: 1 byte stream tag, 4 bytes stream id, 8 bytes
// send counter (also folded into the AEAD nonce).
const streamHeaderSize = 1 + 4 + 8

// Session is the per-peer encrypted channel state once a handshake has
// completed (§4.2): one Keypair, plus the bookkeeping needed to
// multiplex the control/input/clipboard streams (§4.2) over a single
// encrypted UDP conversation. Session does not own a socket — the
// supervisor owns the shared conn.Bind and hands Session raw datagrams
// to encode/decode (§4.8: "the state machine never touches a socket
// directly", extended here to mean Session doesn't either).
type Session struct {
	keypair       *Keypair
	localIdentity [32]byte // our static public key, echoed for logging only
	peerName      string

	// currentInputStreamID is the id of the input stream opened for the
	// current handover (§4.2: "A new input stream is opened per
	// handover... closed on Leave"). Zero means no input stream is open.
	currentInputStreamID uint32
	nextStreamID          uint32
}

// NewSession wraps a completed handshake's derived keys into a Session.
func NewSession(peerName string, sendKey, recvKey [32]byte) (*Session, error) {
	kp, err := NewKeypair(sendKey, recvKey)
	if err != nil {
		return nil, err
	}
	return &Session{keypair: kp, peerName: peerName, nextStreamID: 1}, nil
}

// OpenInputStream allocates a fresh stream id for a new handover
// (§4.2/§4.7) and returns it; subsequent EncodeInput calls use it until
// CloseInputStream.
func (s *Session) OpenInputStream() uint32 {
	id := s.nextStreamID
	s.nextStreamID++
	s.currentInputStreamID = id
	return id
}

// CloseInputStream marks the current input stream closed; any further
// datagrams claiming the old id are ignored as stale on receipt.
func (s *Session) CloseInputStream() {
	s.currentInputStreamID = 0
}

func streamTag(stream wire.Stream) byte { return byte(stream) }

// encode seals msg for transmission on the given logical stream/id.
func (s *Session) encode(stream wire.Stream, streamID uint32, msg wire.Message) ([]byte, error) {
	plaintext := wire.Encode(msg)

	var header [streamHeaderSize]byte
	header[0] = streamTag(stream)
	binary.LittleEndian.PutUint32(header[1:5], streamID)

	counter, ciphertext := s.keypair.Seal(plaintext, header[:5])
	binary.LittleEndian.PutUint64(header[5:13], counter)

	out := make([]byte, 0, streamHeaderSize+len(ciphertext))
	out = append(out, header[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// EncodeControl seals a control-stream message (§4.2).
func (s *Session) EncodeControl(msg wire.Message) ([]byte, error) {
	return s.encode(wire.ControlStream, 0, msg)
}

// EncodeInput seals an EventBatch on the currently-open input stream.
// Returns an error if no input stream is open (caller bug: must Enter
// Remote before sending input, §4.7).
func (s *Session) EncodeInput(batch wire.EventBatch) ([]byte, error) {
	if s.currentInputStreamID == 0 {
		return nil, fmt.Errorf("transport: no open input stream")
	}
	return s.encode(wire.InputStream, s.currentInputStreamID, &wire.EventBatchMsg{Batch: batch})
}

// EncodeClipboard seals a clipboard-stream message.
func (s *Session) EncodeClipboard(msg wire.Message) ([]byte, error) {
	return s.encode(wire.ClipboardStream, 0, msg)
}

// Decoded is one fully-authenticated, decoded incoming datagram.
type Decoded struct {
	Stream   wire.Stream
	StreamID uint32
	Message  wire.Message
}

// Decode authenticates and parses one incoming transport datagram. A
// stale input-stream id (from a handover that has since closed) is not
// rejected here: Decode returns the StreamID and the caller checks it
// with IsStaleInput so it can silently drop it instead of routing it as
// live input (§4.2: "gives natural flow
// isolation and lets the receiver detect abnormal termination").
func (s *Session) Decode(raw []byte) (*Decoded, error) {
	if len(raw) < streamHeaderSize {
		return nil, &ProtocolError{Reason: "datagram shorter than stream header"}
	}
	stream := wire.Stream(raw[0])
	streamID := binary.LittleEndian.Uint32(raw[1:5])
	counter := binary.LittleEndian.Uint64(raw[5:13])
	ciphertext := raw[streamHeaderSize:]

	plaintext, err := s.keypair.Open(counter, ciphertext, raw[0:5])
	if err != nil {
		return nil, &ProtocolError{Reason: "datagram failed to authenticate: " + err.Error()}
	}

	msg, err := wire.Decode(plaintext)
	if err != nil {
		if stream == wire.InputStream {
			// §4.1: unknown kind on an input stream is fatal.
			return nil, &ProtocolError{Reason: "fatal: " + err.Error()}
		}
		return nil, &ProtocolError{Reason: err.Error()}
	}

	return &Decoded{Stream: stream, StreamID: streamID, Message: msg}, nil
}

// IsStaleInput reports whether an incoming EventBatch belongs to an
// input stream that has already been closed locally, so it can be
// dropped instead of delivered (§4.7 grab discipline depends on exactly
// one input stream being "live" at a time per peer).
func (s *Session) IsStaleInput(streamID uint32) bool {
	return s.currentInputStreamID != 0 && streamID != s.currentInputStreamID
}
