/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package keycode defines the canonical, platform-independent key-code
// space used on the wire (§3, §4.3, §9 of the design). We mirror the
// Linux evdev numbering directly: it is a pragmatic, already-stable
// space and platform capture/emulation backends only need a translation
// table in one direction. Any implementation picking a different space
// must make that choice part of the wire protocol version (§9); ours is
// pinned to evdev for ProtocolVersion{1, 0}.
package keycode

// Code is a canonical key code in the evdev numbering space.
type Code uint16

// A representative subset of the Linux evdev KEY_* space. Platform
// backends translate their native codes into these constants; codes with
// no native equivalent are carried as Unknown(n).
const (
	KeyEsc        Code = 1
	Key1          Code = 2
	Key2          Code = 3
	Key3          Code = 4
	Key4          Code = 5
	Key5          Code = 6
	Key6          Code = 7
	Key7          Code = 8
	Key8          Code = 9
	Key9          Code = 10
	Key0          Code = 11
	KeyMinus      Code = 12
	KeyEqual      Code = 13
	KeyBackspace  Code = 14
	KeyTab        Code = 15
	KeyQ          Code = 16
	KeyW          Code = 17
	KeyE          Code = 18
	KeyR          Code = 19
	KeyT          Code = 20
	KeyY          Code = 21
	KeyU          Code = 22
	KeyI          Code = 23
	KeyO          Code = 24
	KeyP          Code = 25
	KeyEnter      Code = 28
	KeyLeftCtrl   Code = 29
	KeyA          Code = 30
	KeyS          Code = 31
	KeyD          Code = 32
	KeyF          Code = 33
	KeyG          Code = 34
	KeyH          Code = 35
	KeyJ          Code = 36
	KeyK          Code = 37
	KeyL          Code = 38
	KeyLeftShift  Code = 42
	KeyZ          Code = 44
	KeyX          Code = 45
	KeyC          Code = 46
	KeyV          Code = 47
	KeyB          Code = 48
	KeyN          Code = 49
	KeyM          Code = 50
	KeyRightShift Code = 54
	KeyLeftAlt    Code = 56
	KeySpace      Code = 57
	KeyCapsLock   Code = 58
	KeyF1         Code = 59
	KeyF2         Code = 60
	KeyRightCtrl  Code = 97
	KeyRightAlt   Code = 100
	KeyHome       Code = 102
	KeyUp         Code = 103
	KeyPageUp     Code = 104
	KeyLeft       Code = 105
	KeyRight      Code = 106
	KeyEnd        Code = 107
	KeyDown       Code = 108
	KeyPageDown   Code = 109
	KeyInsert     Code = 110
	KeyDelete     Code = 111
)

// unknownBase offsets raw platform codes that have no canonical mapping
// so that KeyDown{Unknown(n)} round-trips the original value on the wire
// without colliding with the named constants above.
const unknownBase Code = 0x8000

// Unknown wraps a raw platform key code that has no canonical mapping.
func Unknown(n uint16) Code {
	return unknownBase | Code(n&0x7fff)
}

// IsUnknown reports whether c was produced by Unknown.
func (c Code) IsUnknown() bool {
	return c&unknownBase != 0
}

// Raw returns the original platform value passed to Unknown, or the
// canonical code itself if it is not an Unknown wrapper.
func (c Code) Raw() uint16 {
	if c.IsUnknown() {
		return uint16(c &^ unknownBase)
	}
	return uint16(c)
}

// ReleaseHotkey is the default chord that forces a Remote->Releasing
// transition regardless of cursor position (§4.7).
var ReleaseHotkey = []Code{KeyLeftCtrl, KeyLeftShift, KeyEsc}
