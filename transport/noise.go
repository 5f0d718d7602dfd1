/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package transport implements the encrypted multi-stream session layer
// (§4.2): handshake, control/input/clipboard streams, keepalive, and
// graceful teardown. The handshake follows WireGuard's Noise-derived
// construction (blake2s HMAC chaining keys over Curve25519 DH outputs,
// ChaCha20-Poly1305 transport encryption) rather than a bare TLS 1.3
// stack, which matches a datagram-oriented, connectionless transport
// model; see DESIGN.md for the reasoning.
package transport

import (
	"crypto/hmac"
	"crypto/rand"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

const (
	construction = "cross-control barrier v1 X25519 ChaChaPoly BLAKE2s"
	identifier   = "cross-control peer-to-peer KVM"
)

// generateKeypair returns a fresh Curve25519 keypair (ephemeral and
// static identity keys use the same curve).
func generateKeypair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], p)
	return
}

// PublicKey derives the X25519 public key for a static private key, for
// callers that generate and persist identity keys outside this package
// (§1, §6: config/identity loading is an external collaborator) but
// still need the public half to build a trust.Certificate.
func PublicKey(priv [32]byte) [32]byte {
	var pub [32]byte
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub
	}
	copy(pub[:], p)
	return pub
}

// dh computes the X25519 shared secret between priv and peerPub.
func dh(priv, peerPub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return out, err
	}
	copy(out[:], shared)
	return out, nil
}

// hmac1 computes HMAC-BLAKE2s(key, in0).
func hmac1(key, in0 []byte) [blake2s.Size]byte {
	mac := hmac.New(newBlake2sHash, key)
	mac.Write(in0)
	var out [blake2s.Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func newBlake2sHash() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

// kdf1 derives one 32-byte output from the running chaining key and DH
// input via the standard two-step HMAC extract/expand chain.
func kdf1(chainingKey, input []byte) (t0 [blake2s.Size]byte) {
	prk := hmac1(chainingKey, input)
	return hmac1(prk[:], []byte{0x1})
}

// kdf2 derives two chained 32-byte outputs (new chaining key, then a
// session key) from the running chaining key and DH input.
func kdf2(chainingKey, input []byte) (t0, t1 [blake2s.Size]byte) {
	prk := hmac1(chainingKey, input)
	t0 = hmac1(prk[:], []byte{0x1})
	t1 = hmac1(prk[:], append(append([]byte{}, t0[:]...), 0x2))
	return
}

// mixHash folds data into a running transcript hash, binding the
// handshake to everything sent so far (replay/tamper detection).
func mixHash(h [blake2s.Size]byte, data []byte) [blake2s.Size]byte {
	hsh, _ := blake2s.New256(nil)
	hsh.Write(h[:])
	hsh.Write(data)
	var out [blake2s.Size]byte
	copy(out[:], hsh.Sum(nil))
	return out
}

// initialChainingKey seeds a fresh handshake transcript from the
// construction identifier above, so transcripts from other protocols
// (or other versions of this one) can never collide.
func initialChainingKey() [blake2s.Size]byte {
	var ck [blake2s.Size]byte
	hsh, _ := blake2s.New256(nil)
	hsh.Write([]byte(construction))
	copy(ck[:], hsh.Sum(nil))
	return ck
}
