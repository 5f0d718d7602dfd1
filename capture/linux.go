/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

//go:build linux

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/rwcancel"

	"github.com/Adjoint-uk/cross-control/keycode"
	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/wire"
)

// Linux evdev event types/codes this backend understands (linux/input-event-codes.h).
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08

	absX = 0x00
	absY = 0x01

	btnMouse = 0x110 // first of the BTN_* range, used to tell a keyboard from a pointer
)

// rawEventSize is sizeof(struct input_event) on a 64-bit Linux host:
// a 16-byte struct timeval, a 2-byte type, a 2-byte code, a 4-byte value.
const rawEventSize = 24

type handle struct {
	path   string
	info   wire.DeviceInfo
	fd     int
	cancel *rwcancel.RWCancel
}

// LinuxSource is the evdev-backed Source (§4.3), reading every
// /dev/input/event* node the process has permission to open.
type LinuxSource struct {
	log      *logger.Logger
	registry *Registry

	mu      sync.Mutex
	handles map[uint32]*handle
	mode    Mode
}

// NewLinuxSource constructs an unopened evdev capture backend.
func NewLinuxSource(log *logger.Logger) *LinuxSource {
	return &LinuxSource{log: log, registry: NewRegistry(), handles: make(map[uint32]*handle)}
}

// Run enumerates /dev/input/event* once, announces every device found,
// then reads all of them concurrently until ctx is cancelled (§4.3).
func (s *LinuxSource) Run(ctx context.Context, sink Sink) error {
	if err := s.rescan(sink); err != nil {
		return &FatalError{Err: err}
	}

	var wg sync.WaitGroup
	s.mu.Lock()
	for _, h := range s.handles {
		wg.Add(1)
		go s.readLoop(ctx, h, sink, &wg)
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.mu.Lock()
	for _, h := range s.handles {
		if h.cancel != nil {
			h.cancel.Cancel()
		}
	}
	s.mu.Unlock()
	wg.Wait()
	return nil
}

func (s *LinuxSource) rescan(sink Sink) error {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return fmt.Errorf("glob /dev/input: %w", err)
	}

	seen := make(map[string]wire.DeviceInfo, len(paths))
	for _, path := range paths {
		kind, vendor, product, err := probe(path)
		if err != nil {
			s.log.Verbosef("skipping %s: %v", path, err)
			continue
		}
		seen[path] = wire.DeviceInfo{Kind: kind, Vendor: vendor, Product: product}
	}

	announced, gone := s.registry.Reconcile(seen)
	for _, id := range gone {
		s.closeHandle(id)
		sink.Gone(id)
	}

	announcedIDs := make(map[uint32]bool, len(announced))
	for _, info := range announced {
		announcedIDs[info.DeviceID] = true
	}

	for _, path := range paths {
		info, ok := s.registry.InfoForPath(path)
		if !ok || !announcedIDs[info.DeviceID] {
			continue
		}
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
		if err != nil {
			s.log.Errorf("open device %d failed: %v", info.DeviceID, err)
			continue
		}
		rw, err := rwcancel.NewRWCancel(fd)
		if err != nil {
			unix.Close(fd)
			s.log.Errorf("rwcancel for device %d failed: %v", info.DeviceID, err)
			continue
		}
		s.mu.Lock()
		s.handles[info.DeviceID] = &handle{path: path, info: info, fd: fd, cancel: rw}
		s.mu.Unlock()
		sink.Announce(info)
	}
	return nil
}

func (s *LinuxSource) closeHandle(id uint32) {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()
	if ok {
		unix.Close(h.fd)
	}
}

// probe classifies a device node by which evdev event types it
// supports: EV_ABS implies a touchpad or absolute pointer; otherwise
// EV_REL implies a mouse; a device reporting neither is classed as a
// keyboard (EV_KEY is not checked). Vendor/product come from EVIOCGID.
func probe(path string) (kind wire.DeviceKind, vendor, product uint16, err error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	defer unix.Close(fd)

	vendor, product, _ = ioctlGetID(fd)

	hasRel := ioctlGetBit(fd, evRel)
	hasAbs := ioctlGetBit(fd, evAbs)
	switch {
	case hasAbs:
		kind = wire.DeviceTouchpad
	case hasRel:
		kind = wire.DeviceMouse
	default:
		kind = wire.DeviceKeyboard
	}
	return kind, vendor, product, nil
}

func (s *LinuxSource) readLoop(ctx context.Context, h *handle, sink Sink, wg *sync.WaitGroup) {
	defer wg.Done()

	var pending wire.InputEvent
	pendingValid := false

	buf := make([]byte, rawEventSize)
	for {
		if ready := h.cancel.ReadyRead(); !ready {
			s.log.Verbosef("device %d closed", h.info.DeviceID)
			s.closeHandle(h.info.DeviceID)
			sink.Gone(h.info.DeviceID)
			return
		}

		n, err := unix.Read(h.fd, buf)
		if err != nil || n != rawEventSize {
			continue
		}

		typ := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		switch typ {
		case evKey:
			ev := wire.InputEvent{Code: keycode.Code(code)}
			if code >= btnMouse {
				ev.Kind = wire.EventButton
				ev.Code = keycode.Code(code)
				ev.Pressed = value != 0
			} else if value != 0 {
				ev.Kind = wire.EventKeyDown
			} else {
				ev.Kind = wire.EventKeyUp
			}
			sink.Event(h.info.DeviceID, ev)
		case evRel:
			switch code {
			case relX:
				pending.Kind, pending.DX = wire.EventPointerRel, pending.DX+value
				pendingValid = true
			case relY:
				pending.Kind, pending.DY = wire.EventPointerRel, pending.DY+value
				pendingValid = true
			case relWheel:
				sink.Event(h.info.DeviceID, wire.InputEvent{Kind: wire.EventWheel, Axis: 0, Value: value})
			}
		case evAbs:
			switch code {
			case absX:
				pending.Kind, pending.X = wire.EventPointerAbs, value
				pendingValid = true
			case absY:
				pending.Kind, pending.Y = wire.EventPointerAbs, value
				pendingValid = true
			}
		case evSyn:
			if code == synReport {
				if pendingValid {
					sink.Event(h.info.DeviceID, pending)
					pending = wire.InputEvent{}
					pendingValid = false
				}
				sink.Event(h.info.DeviceID, wire.InputEvent{Kind: wire.EventSync})
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Snapshot reports every currently enumerated device, for a
// newly-handshaken peer's initial DeviceAnnounce exchange (§4.2 step 5).
func (s *LinuxSource) Snapshot() []wire.DeviceInfo {
	return s.registry.Snapshot()
}

// SetMode toggles EVIOCGRAB on every currently open device (§4.3:
// "idempotent and re-entrant-safe"). The kernel rejects a second grab
// or an ungrab of a device not grabbed, so a call that asks for the
// mode already in effect issues no ioctl and returns nil.
func (s *LinuxSource) SetMode(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == mode {
		return nil
	}
	s.mode = mode

	var firstErr error
	for _, h := range s.handles {
		if err := ioctlGrab(h.fd, mode == ModeGrab); err != nil && firstErr == nil {
			firstErr = &DeviceError{DeviceID: h.info.DeviceID, Err: err}
		}
	}
	return firstErr
}
