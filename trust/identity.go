/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package trust implements trust-on-first-use fingerprint pinning
// (§4.5): a configured peer name is tied to an expected key, and any
// mismatch is terminal and never upgraded silently.
package trust

import (
	"crypto/sha256"
	"encoding/binary"
)

// Certificate is the leaf identity a peer presents during the handshake
// (§4.2 step 2): its configured name and the static Curve25519 public
// key used as its long-term Noise identity (transport/handshake.go).
// There is no certificate authority here — pinning the fingerprint of
// this struct's encoded form *is* the trust model (§4.5, §9 "does not
// impose a central authority").
type Certificate struct {
	Name      string
	PublicKey [32]byte
}

// Encode produces the canonical byte form Fingerprint hashes over.
func (c Certificate) Encode() []byte {
	out := make([]byte, 0, 4+len(c.Name)+32)
	var nameLen [4]byte
	binary.LittleEndian.PutUint32(nameLen[:], uint32(len(c.Name)))
	out = append(out, nameLen[:]...)
	out = append(out, c.Name...)
	out = append(out, c.PublicKey[:]...)
	return out
}

// Fingerprint is the SHA-256 digest pinned by the trust store (§4.5).
func (c Certificate) Fingerprint() [32]byte {
	return sha256.Sum256(c.Encode())
}
