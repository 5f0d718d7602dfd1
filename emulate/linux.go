/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

//go:build linux

package emulate

import (
	"fmt"
	"sync"

	"github.com/bendahl/uinput"

	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/wire"
)

const uinputPath = "/dev/uinput"

// touchpadRange is the fixed absolute coordinate space every virtual
// touchpad is created with; PointerAbs coordinates are rescaled into it
// from the receiving screen's pixel geometry.
const touchpadRange = 32767

type virtualDevice struct {
	keyboard uinput.Keyboard
	mouse    uinput.Mouse
	touch    uinput.TouchPad
	screen   wire.Screen
}

// LinuxSink replays events through github.com/bendahl/uinput virtual
// devices, one keyboard+mouse+touchpad triple per announced device_id
// (§4.4).
type LinuxSink struct {
	log *logger.Logger

	mu      sync.Mutex
	devices map[uint32]*virtualDevice
}

// NewLinuxSink returns an emulation backend with no devices created yet.
func NewLinuxSink(log *logger.Logger) *LinuxSink {
	return &LinuxSink{log: log, devices: make(map[uint32]*virtualDevice)}
}

func (s *LinuxSink) EnsureDevice(info wire.DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[info.DeviceID]; ok {
		return nil
	}

	name := []byte(fmt.Sprintf("cross-control-%d", info.DeviceID))
	kb, err := uinput.CreateKeyboard(uinputPath, name)
	if err != nil {
		return fmt.Errorf("emulate: create keyboard for device %d: %w", info.DeviceID, err)
	}
	mouse, err := uinput.CreateMouse(uinputPath, name)
	if err != nil {
		kb.Close()
		return fmt.Errorf("emulate: create mouse for device %d: %w", info.DeviceID, err)
	}
	// uinput pins the touchpad's absolute range at creation, before any
	// screen geometry is known, so PointerAbs coordinates are rescaled
	// into this fixed range in Apply rather than recreating the device
	// per screen.
	touch, err := uinput.CreateTouchPad(uinputPath, name, 0, touchpadRange, 0, touchpadRange)
	if err != nil {
		kb.Close()
		mouse.Close()
		return fmt.Errorf("emulate: create touchpad for device %d: %w", info.DeviceID, err)
	}

	s.devices[info.DeviceID] = &virtualDevice{keyboard: kb, mouse: mouse, touch: touch}
	return nil
}

func (s *LinuxSink) ReleaseDevice(deviceID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	delete(s.devices, deviceID)

	var firstErr error
	if err := d.keyboard.Close(); err != nil {
		firstErr = err
	}
	if err := d.mouse.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.touch.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Apply replays every event in batch in order, stopping at the first
// error: the remaining events are dropped rather than replayed out of
// order on a retry (§4.4 Failure).
func (s *LinuxSink) Apply(batch wire.EventBatch, screen wire.Screen) error {
	s.mu.Lock()
	d, ok := s.devices[batch.DeviceID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("emulate: apply for unknown device %d", batch.DeviceID)
	}

	for _, ev := range batch.Events {
		var err error
		switch ev.Kind {
		case wire.EventKeyDown:
			err = d.keyboard.KeyDown(int(ev.Code.Raw()))
		case wire.EventKeyUp:
			err = d.keyboard.KeyUp(int(ev.Code.Raw()))
		case wire.EventPointerRel:
			err = d.mouse.Move(ev.DX, ev.DY)
		case wire.EventPointerAbs:
			x := scale(clamp(ev.X, screen.Width), screen.Width)
			y := scale(clamp(ev.Y, screen.Height), screen.Height)
			err = d.touch.MoveTo(x, y)
		case wire.EventButton:
			err = applyButton(d.mouse, ev.Code, ev.Pressed)
		case wire.EventWheel:
			err = d.mouse.Wheel(ev.Value < 0, abs32(ev.Value))
		case wire.EventSync:
			// no-op boundary marker; nothing to flush on uinput.
		}
		if err != nil {
			return fmt.Errorf("emulate: device %d: %w", batch.DeviceID, err)
		}
	}
	return nil
}

func applyButton(m uinput.Mouse, code interface{ Raw() uint16 }, pressed bool) error {
	// The event's raw evdev BTN_* code chooses the button; only
	// left/right/middle are emulated, any other button is ignored.
	switch code.Raw() {
	case 0x110: // BTN_LEFT
		if pressed {
			return m.LeftPress()
		}
		return m.LeftRelease()
	case 0x111: // BTN_RIGHT
		if pressed {
			return m.RightPress()
		}
		return m.RightRelease()
	case 0x112: // BTN_MIDDLE
		if pressed {
			return m.MiddlePress()
		}
		return m.MiddleRelease()
	default:
		return nil
	}
}

// scale maps a pixel coordinate in [0, dim) onto the fixed touchpad range.
func scale(v, dim int32) int32 {
	if dim <= 0 {
		return 0
	}
	return int32(int64(v) * touchpadRange / int64(dim))
}

func clamp(v, max int32) int32 {
	if v < 0 {
		return 0
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
