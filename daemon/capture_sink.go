/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package daemon

import "github.com/Adjoint-uk/cross-control/wire"

// captureSink adapts the running Daemon to capture.Sink: every physical
// event and device lifecycle notification from the local capture
// backend passes through here before reaching the barrier machine or
// the wire (§4.3).
type captureSink struct {
	d *Daemon
}

// Announce records a newly enumerated local device and tells every
// connected peer about it (§4.2 step 5, §4.3 hot-plug).
func (c captureSink) Announce(info wire.DeviceInfo) {
	c.d.mu.Lock()
	c.d.localDeviceID[info.DeviceID] = struct{}{}
	c.d.mu.Unlock()
	c.d.sup.BroadcastDeviceAnnounce(info)
}

// Gone retracts a local device from every connected peer (§4.3).
func (c captureSink) Gone(deviceID uint32) {
	c.d.mu.Lock()
	delete(c.d.localDeviceID, deviceID)
	c.d.mu.Unlock()
	c.d.sup.BroadcastDeviceGone(deviceID)
}

// Event hands one physical event to the barrier state machine, which
// decides whether it is dropped locally, buffered, or forwarded
// (§4.7).
func (c captureSink) Event(deviceID uint32, ev wire.InputEvent) {
	if _, err := c.d.machine.HandleEvent(deviceID, ev); err != nil {
		c.d.log.Errorf("handling event from device %d: %v", deviceID, err)
	}
}
