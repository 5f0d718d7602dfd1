/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

//go:build !linux

package capture

import (
	"context"
	"errors"

	"github.com/Adjoint-uk/cross-control/logger"
)

// errUnsupported is returned by every UnsupportedSource method; no
// non-Linux capture backend is implemented.
var errUnsupported = errors.New("capture: no backend for this platform")

// UnsupportedSource satisfies Source on platforms without a native
// backend, so the daemon package still builds; it fails on first use.
type UnsupportedSource struct {
	log *logger.Logger
}

// NewLinuxSource keeps the constructor name stable across build tags so
// daemon wiring never branches on GOOS.
func NewLinuxSource(log *logger.Logger) *UnsupportedSource {
	return &UnsupportedSource{log: log}
}

func (s *UnsupportedSource) Run(ctx context.Context, sink Sink) error {
	return &FatalError{Err: errUnsupported}
}

func (s *UnsupportedSource) SetMode(mode Mode) error {
	return errUnsupported
}
