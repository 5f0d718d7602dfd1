/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import (
	"crypto/rand"
	"crypto/subtle"
)

func cryptoRandRead(b []byte) (int, error) {
	return rand.Read(b)
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
