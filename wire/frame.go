/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFramePayload is the hard maximum payload size (§4.1). A frame
// declaring a larger length is a fatal stream error, not a partial read.
const MaxFramePayload = 1 << 20 // 1 MiB

const frameHeaderSize = 4 // u32 big-endian length prefix

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFramePayload.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum payload size")

// ErrShortRead is returned by ReadFrame when the stream ends before the
// declared payload has been fully read — a protocol error, not a
// retryable partial buffer (§4.1).
var ErrShortRead = errors.New("wire: stream ended mid-frame")

// EncodeFrame prefixes payload with its big-endian u32 length (§4.1).
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[frameHeaderSize:], payload)
	return out, nil
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	framed, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(framed)
	return err
}

// ReadFrame reads exactly one length-prefixed frame from r, bounding
// allocation by the declared length and rejecting a length over
// MaxFramePayload before ever allocating the buffer.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	return payload, nil
}

// Decoder incrementally assembles frames out of arbitrarily-chunked
// input, for transports that deliver bytes rather than whole datagrams.
// It is the type exercised by the "truncated frame yields need-more, not
// a wrong decode" property (§8).
type Decoder struct {
	buf []byte
}

// Feed appends newly-received bytes to the decoder's internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next extracts the next complete frame, if any. ok is false when more
// bytes are needed; it is never true alongside a non-nil error. A
// declared length over MaxFramePayload is a fatal, non-recoverable
// error — the caller must close the stream.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < frameHeaderSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(d.buf[:frameHeaderSize])
	if length > MaxFramePayload {
		return nil, false, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}
	total := frameHeaderSize + int(length)
	if len(d.buf) < total {
		return nil, false, nil
	}
	payload = make([]byte, length)
	copy(payload, d.buf[frameHeaderSize:total])
	d.buf = d.buf[total:]
	return payload, true, nil
}
