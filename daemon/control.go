/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package daemon

import "github.com/Adjoint-uk/cross-control/wire"

// The methods below satisfy barrier.Control by forwarding straight to
// the supervisor, the only component allowed to touch a socket (§4.8).

func (d *Daemon) SendEnter(peer string, edge wire.Position, position int32) error {
	return d.sup.SendEnter(peer, edge, position)
}

func (d *Daemon) SendLeave(peer string, edge wire.Position, position int32) error {
	return d.sup.SendLeave(peer, edge, position)
}

func (d *Daemon) OpenInputStream(peer string) (uint32, error) {
	return d.sup.OpenInputStream(peer)
}

func (d *Daemon) CloseInputStream(peer string) {
	d.sup.CloseInputStream(peer)
}

func (d *Daemon) SendInput(peer string, batch wire.EventBatch) error {
	return d.sup.SendInput(peer, batch)
}
