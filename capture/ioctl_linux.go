/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

//go:build linux

package capture

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// The ioctl numbers below are linux/input.h's, reproduced here because
// golang.org/x/sys/unix does not export them:
//
//	EVIOCGID        _IOR('E', 0x02, struct input_id)
//	EVIOCGBIT(ev,n) _IOC(_IOC_READ, 'E', 0x20 + ev, n)
//	EVIOCGRAB       _IOW('E', 0x90, int)
const (
	eviocgid = 0x80084502

	iocRead  = 2
	iocNRBits, iocTypeBits, iocSizeBits = 8, 8, 14
	iocNRShift                          = 0
	iocTypeShift                        = iocNRShift + iocNRBits
	iocSizeShift                        = iocTypeShift + iocTypeBits
	iocDirShift                         = iocSizeShift + iocSizeBits
)

func eviocgbit(ev, size uintptr) uintptr {
	return (iocRead << iocDirShift) | ('E' << iocTypeShift) | ((0x20 + ev) << iocNRShift) | (size << iocSizeShift)
}

// ioctlGetID fetches struct input_id {bustype, vendor, product, version}.
func ioctlGetID(fd int) (vendor, product uint16, err error) {
	var id [4]uint16
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgid, uintptr(unsafe.Pointer(&id[0])))
	if errno != 0 {
		return 0, 0, errno
	}
	return id[1], id[2], nil
}

// ioctlGetBit reports whether EVIOCGBIT for event type ev has any bit set.
func ioctlGetBit(fd int, ev uintptr) bool {
	var bits [4]byte
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgbit(ev, uintptr(len(bits))), uintptr(unsafe.Pointer(&bits[0])))
	if errno != 0 {
		return false
	}
	for _, b := range bits {
		if b != 0 {
			return true
		}
	}
	return false
}

// ioctlGrab issues EVIOCGRAB(1) or EVIOCGRAB(0).
func ioctlGrab(fd int, grab bool) error {
	v := 0
	if grab {
		v = 1
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgrab, uintptr(v))
	if errno != 0 {
		return errno
	}
	return nil
}

const eviocgrab = 0x40044590
