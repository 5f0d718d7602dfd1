/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import "fmt"

// ProtocolError covers frame/decode-level failures (§7): a frame too
// large, an unknown kind on an input stream, or a malformed body. A
// session terminates on ProtocolError; the supervisor retries with
// backoff since it may be transient (a peer mid-restart).
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "transport: protocol error: " + e.Reason
}

// TransportError covers I/O and socket-layer failures (§7). The
// supervisor reconnects with backoff.
type TransportError struct {
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
