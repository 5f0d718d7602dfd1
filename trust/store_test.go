/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package trust

import (
	"errors"
	"testing"
)

func testCert(name string, keyByte byte) Certificate {
	var key [32]byte
	key[0] = keyByte
	return Certificate{Name: name, PublicKey: key}
}

// TestVerifyRejectsWithoutPin covers the default policy (§4.2 step 2):
// first contact with no pin is rejected unless pairing mode is on.
func TestVerifyRejectsWithoutPin(t *testing.T) {
	s := New()
	cert := testCert("beta", 1)

	err := s.Verify("beta", cert, false)
	var te *TrustError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TrustError", err)
	}
	if _, ok := s.Lookup("beta"); ok {
		t.Fatalf("a rejected first contact must not leave a pin behind")
	}
}

// TestVerifyPairsOnFirstContact covers pairing mode: the presented
// fingerprint is pinned and all later contacts are held to it.
func TestVerifyPairsOnFirstContact(t *testing.T) {
	s := New()
	cert := testCert("beta", 1)

	if err := s.Verify("beta", cert, true); err != nil {
		t.Fatalf("pairing contact: %v", err)
	}
	pinned, ok := s.Lookup("beta")
	if !ok || pinned != cert.Fingerprint() {
		t.Fatalf("pin = %x, %v; want the presented fingerprint", pinned, ok)
	}

	// Same certificate verifies again, pairing mode now irrelevant.
	if err := s.Verify("beta", cert, false); err != nil {
		t.Fatalf("re-verify: %v", err)
	}

	// A different key under the same name is a mismatch even in pairing
	// mode: pins are never upgraded silently (§4.5).
	err := s.Verify("beta", testCert("beta", 2), true)
	var te *TrustError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TrustError on key change", err)
	}
}

// TestVerifyMismatchIsTerminal covers §8 scenario 5's trust half: a
// peer presenting a key other than the pinned one is rejected.
func TestVerifyMismatchIsTerminal(t *testing.T) {
	s := New()
	s.Pair("beta", testCert("beta", 1).Fingerprint())

	err := s.Verify("beta", testCert("beta", 2), false)
	var te *TrustError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TrustError", err)
	}
	if te.Name != "beta" {
		t.Fatalf("TrustError.Name = %q, want beta", te.Name)
	}

	// The original pin survives the failed attempt.
	if pinned, _ := s.Lookup("beta"); pinned != testCert("beta", 1).Fingerprint() {
		t.Fatalf("pin was disturbed by a failed verification")
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s := New()
	s.Pair("beta", testCert("beta", 1).Fingerprint())
	s.Pair("gamma", testCert("gamma", 2).Fingerprint())

	restored := New()
	restored.Load(s.Snapshot())

	for _, name := range []string{"beta", "gamma"} {
		want, _ := s.Lookup(name)
		got, ok := restored.Lookup(name)
		if !ok || got != want {
			t.Fatalf("restored pin for %s = %x, %v; want %x", name, got, ok, want)
		}
	}
}

// TestFingerprintBindsNameAndKey checks the fingerprint covers the full
// encoded certificate, so neither field can be swapped independently.
func TestFingerprintBindsNameAndKey(t *testing.T) {
	base := testCert("beta", 1)
	if testCert("gamma", 1).Fingerprint() == base.Fingerprint() {
		t.Fatalf("fingerprint ignores the name")
	}
	if testCert("beta", 2).Fingerprint() == base.Fingerprint() {
		t.Fatalf("fingerprint ignores the key")
	}
	if base.Fingerprint() != base.Fingerprint() {
		t.Fatalf("fingerprint is not deterministic")
	}
}
