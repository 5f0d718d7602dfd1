/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package trust

import (
	"errors"
	"sync"
)

// TrustError is returned on a fingerprint mismatch or an absent pin
// under the default (non-pairing) policy (§7).
type TrustError struct {
	Name   string
	Reason string
}

func (e *TrustError) Error() string {
	return "trust: " + e.Name + ": " + e.Reason
}

var errNoPin = errors.New("no pinned fingerprint and pairing mode is off")

// Store maps name -> pinned SHA-256 fingerprint (§4.5). Mutated only by
// initial pairing or explicit reconfiguration; persisted alongside
// configuration by the caller (file I/O is out of scope here, §1).
type Store struct {
	mu   sync.RWMutex
	pins map[string][32]byte
}

// New returns an empty trust store.
func New() *Store {
	return &Store{pins: make(map[string][32]byte)}
}

// Snapshot returns a copy of the current name->fingerprint pins, for an
// external loader to persist.
func (s *Store) Snapshot() map[string][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][32]byte, len(s.pins))
	for k, v := range s.pins {
		out[k] = v
	}
	return out
}

// Load replaces the store's contents, e.g. from a persisted snapshot.
func (s *Store) Load(pins map[string][32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = make(map[string][32]byte, len(pins))
	for k, v := range pins {
		s.pins[k] = v
	}
}

// Lookup returns the pin for name, if any.
func (s *Store) Lookup(name string) ([32]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.pins[name]
	return fp, ok
}

// Pair unconditionally (re-)pins name to fp — the explicit pairing
// action (§4.2 step 2, "a 'pairing' mode accepts and persists").
func (s *Store) Pair(name string, fp [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[name] = fp
}

// Verify checks cert against the pin for name. If allowPairing is true
// and no pin exists yet, the presented fingerprint is pinned and
// accepted (first contact). Otherwise an absent pin or any mismatch is
// a TrustError (§4.2 step 2, §7: "never upgraded silently").
func (s *Store) Verify(name string, cert Certificate, allowPairing bool) error {
	fp := cert.Fingerprint()

	s.mu.Lock()
	defer s.mu.Unlock()

	pinned, ok := s.pins[name]
	if !ok {
		if allowPairing {
			s.pins[name] = fp
			return nil
		}
		return &TrustError{Name: name, Reason: errNoPin.Error()}
	}
	if pinned != fp {
		return &TrustError{Name: name, Reason: "fingerprint does not match pinned value"}
	}
	return nil
}
