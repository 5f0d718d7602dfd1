/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.zx2c4.com/wireguard/tai64n"

	"github.com/Adjoint-uk/cross-control/trust"
)

// VersionError is returned when a peer's protocol major version does
// not match ours (§4.2 step 3, §7).
type VersionError struct {
	Ours, Theirs uint8
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("transport: incompatible protocol major version: ours=%d theirs=%d", e.Ours, e.Theirs)
}

// ErrReplayedInitiation is returned when a handshake initiation's
// timestamp does not strictly advance past the last one seen from the
// same static identity (tai64n-based handshake anti-replay).
var ErrReplayedInitiation = errors.New("transport: replayed or out-of-order handshake initiation")

const (
	initiationWireSize = 4 + 32 + 32 + 32 + tai64n.TimestampSize + 16 // index, ephemeral, certName(fixed32 truncated), certKey, ts, mac
	certNameSize        = 32
)

// messageInitiation is the first handshake message (initiator -> responder).
type messageInitiation struct {
	SenderIndex uint32
	Ephemeral   [32]byte
	CertName    [certNameSize]byte
	CertKey     [32]byte
	Timestamp   tai64n.Timestamp
	MAC         [16]byte
}

func (m *messageInitiation) signedPortion() []byte {
	b := make([]byte, 0, initiationWireSize-16)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], m.SenderIndex)
	b = append(b, idx[:]...)
	b = append(b, m.Ephemeral[:]...)
	b = append(b, m.CertName[:]...)
	b = append(b, m.CertKey[:]...)
	b = append(b, m.Timestamp[:]...)
	return b
}

func (m *messageInitiation) marshal() []byte {
	return append(m.signedPortion(), m.MAC[:]...)
}

func (m *messageInitiation) unmarshal(b []byte) error {
	if len(b) != initiationWireSize {
		return fmt.Errorf("transport: bad initiation size %d", len(b))
	}
	m.SenderIndex = binary.LittleEndian.Uint32(b[0:4])
	copy(m.Ephemeral[:], b[4:36])
	copy(m.CertName[:], b[36:36+certNameSize])
	copy(m.CertKey[:], b[36+certNameSize:68+certNameSize])
	copy(m.Timestamp[:], b[68+certNameSize:68+certNameSize+tai64n.TimestampSize])
	copy(m.MAC[:], b[len(b)-16:])
	return nil
}

// messageResponse is the second handshake message (responder -> initiator).
type messageResponse struct {
	SenderIndex   uint32
	ReceiverIndex uint32
	Ephemeral     [32]byte
	CertName      [certNameSize]byte
	CertKey       [32]byte
	MAC           [16]byte
}

func (m *messageResponse) signedPortion() []byte {
	b := make([]byte, 0, 8+32+certNameSize+32)
	var idx [8]byte
	binary.LittleEndian.PutUint32(idx[0:4], m.SenderIndex)
	binary.LittleEndian.PutUint32(idx[4:8], m.ReceiverIndex)
	b = append(b, idx[:]...)
	b = append(b, m.Ephemeral[:]...)
	b = append(b, m.CertName[:]...)
	b = append(b, m.CertKey[:]...)
	return b
}

func (m *messageResponse) marshal() []byte {
	return append(m.signedPortion(), m.MAC[:]...)
}

func (m *messageResponse) unmarshal(b []byte) error {
	want := 8 + 32 + certNameSize + 32 + 16
	if len(b) != want {
		return fmt.Errorf("transport: bad response size %d", len(b))
	}
	m.SenderIndex = binary.LittleEndian.Uint32(b[0:4])
	m.ReceiverIndex = binary.LittleEndian.Uint32(b[4:8])
	copy(m.Ephemeral[:], b[8:40])
	copy(m.CertName[:], b[40:40+certNameSize])
	copy(m.CertKey[:], b[40+certNameSize:72+certNameSize])
	copy(m.MAC[:], b[len(b)-16:])
	return nil
}

func packName(name string) [certNameSize]byte {
	var out [certNameSize]byte
	copy(out[:], name)
	return out
}

func unpackName(b [certNameSize]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// Handshake carries the in-progress transcript for one session
// negotiation, local to a single connection attempt. Exported so a
// caller spanning multiple datagrams (the supervisor's dial loop) can
// hold it between sending the initiation and receiving the response.
type Handshake struct {
	isInitiator    bool
	localCert      trust.Certificate
	localStatic    [32]byte // private
	localEphPriv   [32]byte
	localEphPub    [32]byte
	remoteEphPub   [32]byte
	remoteCert     trust.Certificate
	chainingKey    [blake2s.Size]byte
	hash           [blake2s.Size]byte
	senderIndex    uint32
	receiverIndex  uint32
}

// newHandshake seeds a transcript from the construction and protocol
// identifier, Noise-style. Both sides derive the same starting hash,
// and every later message is mixed over it, so the per-message MACs
// detect corruption and cross-protocol confusion; possession of the
// presented static key is proven by the static-static DH folded into
// Finalize, not by these MACs.
func newHandshake(isInitiator bool, local trust.Certificate, localStaticPriv [32]byte) *Handshake {
	hs := &Handshake{
		isInitiator: isInitiator,
		localCert:   local,
		localStatic: localStaticPriv,
		chainingKey: initialChainingKey(),
	}
	hs.hash = mixHash(hs.chainingKey, []byte(identifier))
	return hs
}

// BeginInitiation produces the first handshake message. Callers send
// the returned bytes as the opening datagram of a connection attempt
// (§4.2 step 1, crypto layer underneath the application Hello).
func BeginInitiation(local trust.Certificate, localStaticPriv [32]byte) (*Handshake, []byte, error) {
	hs := newHandshake(true, local, localStaticPriv)

	ephPriv, ephPub, err := generateKeypair()
	if err != nil {
		return nil, nil, err
	}
	hs.localEphPriv, hs.localEphPub = ephPriv, ephPub
	hs.senderIndex = randomIndex()

	msg := &messageInitiation{
		SenderIndex: hs.senderIndex,
		Ephemeral:   hs.localEphPub,
		CertName:    packName(local.Name),
		CertKey:     local.PublicKey,
		Timestamp:   tai64n.Now(),
	}
	mac := hmac1(hs.hash[:], msg.signedPortion())
	copy(msg.MAC[:], mac[:16])
	hs.hash = mixHash(hs.hash, msg.signedPortion())
	return hs, msg.marshal(), nil
}

// ConsumeInitiation parses and authenticates the first handshake
// message: after the MAC check and, when seenTimestamps is non-nil, the
// replay-timestamp check, it checks the presented certificate's
// fingerprint against the trust store (§4.2 step 2) before any handshake
// state is returned.
func ConsumeInitiation(raw []byte, local trust.Certificate, localStaticPriv [32]byte, store *trust.Store, allowPairing bool, seenTimestamps *ReplayGuard) (*Handshake, trust.Certificate, error) {
	msg := &messageInitiation{}
	if err := msg.unmarshal(raw); err != nil {
		return nil, trust.Certificate{}, &ProtocolError{Reason: err.Error()}
	}

	remoteCert := trust.Certificate{Name: unpackName(msg.CertName), PublicKey: msg.CertKey}

	hs := newHandshake(false, local, localStaticPriv)
	wantMAC := hmac1(hs.hash[:], msg.signedPortion())
	if !constantTimeEqual(wantMAC[:16], msg.MAC[:]) {
		return nil, trust.Certificate{}, &ProtocolError{Reason: "handshake initiation MAC mismatch"}
	}
	hs.hash = mixHash(hs.hash, msg.signedPortion())

	if seenTimestamps != nil && !seenTimestamps.Advance(remoteCert.PublicKey, msg.Timestamp) {
		return nil, trust.Certificate{}, ErrReplayedInitiation
	}

	if err := store.Verify(remoteCert.Name, remoteCert, allowPairing); err != nil {
		return nil, trust.Certificate{}, err
	}

	hs.remoteCert = remoteCert
	hs.remoteEphPub = msg.Ephemeral
	hs.receiverIndex = msg.SenderIndex
	return hs, remoteCert, nil
}

// BeginResponse produces the second handshake message and finalises the
// transcript on the responder side (§4.2 step 4, crypto layer).
func BeginResponse(hs *Handshake) ([]byte, error) {
	ephPriv, ephPub, err := generateKeypair()
	if err != nil {
		return nil, err
	}
	hs.localEphPriv, hs.localEphPub = ephPriv, ephPub
	hs.senderIndex = randomIndex()

	msg := &messageResponse{
		SenderIndex:   hs.senderIndex,
		ReceiverIndex: hs.receiverIndex,
		Ephemeral:     hs.localEphPub,
		CertName:      packName(hs.localCert.Name),
		CertKey:       hs.localCert.PublicKey,
	}
	mac := hmac1(hs.hash[:], msg.signedPortion())
	copy(msg.MAC[:], mac[:16])
	hs.hash = mixHash(hs.hash, msg.signedPortion())
	return msg.marshal(), nil
}

// ConsumeResponse parses and authenticates the second handshake message
// on the initiator side and verifies the responder's fingerprint.
func ConsumeResponse(hs *Handshake, raw []byte, store *trust.Store, allowPairing bool) (trust.Certificate, error) {
	msg := &messageResponse{}
	if err := msg.unmarshal(raw); err != nil {
		return trust.Certificate{}, &ProtocolError{Reason: err.Error()}
	}
	if msg.ReceiverIndex != hs.senderIndex {
		return trust.Certificate{}, &ProtocolError{Reason: "handshake response index mismatch"}
	}

	wantMAC := hmac1(hs.hash[:], msg.signedPortion())
	if !constantTimeEqual(wantMAC[:16], msg.MAC[:]) {
		return trust.Certificate{}, &ProtocolError{Reason: "handshake response MAC mismatch"}
	}
	hs.hash = mixHash(hs.hash, msg.signedPortion())

	remoteCert := trust.Certificate{Name: unpackName(msg.CertName), PublicKey: msg.CertKey}
	if err := store.Verify(remoteCert.Name, remoteCert, allowPairing); err != nil {
		return trust.Certificate{}, err
	}

	hs.remoteCert = remoteCert
	hs.remoteEphPub = msg.Ephemeral
	hs.receiverIndex = msg.SenderIndex
	return remoteCert, nil
}

// Finalize mixes the ephemeral-ephemeral and static-static DH outputs
// into the chaining key and derives the pair of transport keys. The two
// sides of a session always agree on which key is send vs receive
// because the derivation order is fixed by isInitiator.
func Finalize(hs *Handshake) (sendKey, recvKey [32]byte, err error) {
	ee, err := dh(hs.localEphPriv, hs.remoteEphPub)
	if err != nil {
		return
	}
	ss, err := dh(hs.localStatic, hs.remoteCert.PublicKey)
	if err != nil {
		return
	}
	ck, k1 := kdf2(hs.chainingKey[:], ee[:])
	_, k2 := kdf2(ck[:], ss[:])

	if hs.isInitiator {
		sendKey, recvKey = k1, k2
	} else {
		sendKey, recvKey = k2, k1
	}
	return
}

// IsInitiation reports whether raw has the exact wire size of a
// handshake initiation. Initiations and responses have distinct sizes,
// which is how a dialing supervisor tells a simultaneous inbound dial
// apart from the response it is waiting for.
func IsInitiation(raw []byte) bool {
	return len(raw) == initiationWireSize
}

// PeekInitiationCert extracts the certificate presented in an
// initiation without authenticating anything. The result is only fit
// for deterministic ordering decisions (the simultaneous-dial
// tie-break); ConsumeInitiation still performs the MAC and trust checks
// before the certificate is believed.
func PeekInitiationCert(raw []byte) (trust.Certificate, bool) {
	msg := &messageInitiation{}
	if err := msg.unmarshal(raw); err != nil {
		return trust.Certificate{}, false
	}
	return trust.Certificate{Name: unpackName(msg.CertName), PublicKey: msg.CertKey}, true
}

func randomIndex() uint32 {
	var b [4]byte
	_, _ = cryptoRandRead(b[:])
	return binary.LittleEndian.Uint32(b[:])
}
