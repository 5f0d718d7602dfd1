/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

//go:build !linux

package emulate

import (
	"errors"

	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/wire"
)

var errUnsupported = errors.New("emulate: no backend for this platform")

// UnsupportedSink satisfies Sink on platforms without a native backend.
type UnsupportedSink struct{}

// NewLinuxSink keeps the constructor name stable across build tags.
func NewLinuxSink(log *logger.Logger) *UnsupportedSink { return &UnsupportedSink{} }

func (s *UnsupportedSink) EnsureDevice(info wire.DeviceInfo) error { return errUnsupported }
func (s *UnsupportedSink) ReleaseDevice(deviceID uint32) error     { return errUnsupported }
func (s *UnsupportedSink) Apply(batch wire.EventBatch, screen wire.Screen) error {
	return errUnsupported
}
