/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import (
	"crypto/cipher"
	"encoding/binary"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.zx2c4.com/wireguard/replay"
)

// RejectAfterMessages bounds the counter space a single keypair may use
// before a rekey is forced, the same lifetime policy WireGuard applies
// to its transport keypairs.
const RejectAfterMessages = 1 << 60

// RekeyAfterTime is the keypair age after which ExpiresSoon reports true.
// Nothing in this package starts a fresh handshake on its own.
const RekeyAfterTime = 120 * time.Second

// Keypair holds one direction pair of AEAD transport keys plus the
// anti-replay state for the receive direction (§4.2 datagram-oriented
// transport encryption). Grounded directly on device/keypair.go, with
// the WireGuard session-index bookkeeping dropped — this transport has
// no routing table keyed by index, just one keypair per peer session.
type Keypair struct {
	sendCounter  atomic.Uint64
	send         cipher.AEAD
	receive      cipher.AEAD
	replayFilter replay.Filter
	created      time.Time
}

// NewKeypair builds the AEAD instances for both directions from the
// handshake-derived keys and reuses WireGuard's replay.Filter for
// receive-side anti-replay (reused, not reimplemented).
func NewKeypair(sendKey, recvKey [32]byte) (*Keypair, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, err
	}
	kp := &Keypair{
		send:    sendAEAD,
		receive: recvAEAD,
		created: time.Now(),
	}
	kp.replayFilter.Reset()
	return kp, nil
}

// Seal encrypts plaintext under the next sequential send counter,
// returning the counter used (sent on the wire ahead of the ciphertext)
// and the sealed bytes.
func (kp *Keypair) Seal(plaintext, additionalData []byte) (counter uint64, ciphertext []byte) {
	counter = kp.sendCounter.Add(1) - 1
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	ciphertext = kp.send.Seal(nil, nonce[:], plaintext, additionalData)
	return
}

// Open verifies and decrypts one received datagram, rejecting replayed
// or too-old counters via the shared replay.Filter.
func (kp *Keypair) Open(counter uint64, ciphertext, additionalData []byte) ([]byte, error) {
	if !kp.replayFilter.ValidateCounter(counter, RejectAfterMessages) {
		return nil, &ProtocolError{Reason: "transport counter failed replay check"}
	}
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return kp.receive.Open(nil, nonce[:], ciphertext, additionalData)
}

// ExpiresSoon reports whether this keypair has passed its preferred
// rekey age (§4.2-adjacent session hygiene, mirrors RekeyAfterTime).
func (kp *Keypair) ExpiresSoon() bool {
	return time.Since(kp.created) > RekeyAfterTime
}
