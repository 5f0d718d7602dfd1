/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package logger provides the small structured-logging shim used
// throughout the daemon: a struct of closures rather than a logging
// framework. Every subsystem gets a prefixed Logger and calls
// Verbosef/Errorf.
package logger

import (
	"fmt"
	"log"
	"os"
)

const (
	LevelSilent = iota
	LevelError
	LevelVerbose
)

// Logger is a pair of formatting functions, pre-bound to a level gate and
// a subsystem tag. The zero value is not usable; use New.
type Logger struct {
	Verbosef func(format string, args ...any)
	Errorf   func(format string, args ...any)
}

// New builds a Logger that writes to stderr, tagging every line with
// prepend (e.g. "(barrier)", "(transport)"). Verbose lines are dropped
// entirely when level < LevelVerbose.
func New(level int, prepend string) *Logger {
	output := log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

	logger := &Logger{
		Verbosef: func(format string, args ...any) {},
		Errorf:   func(format string, args ...any) {},
	}

	if level >= LevelVerbose {
		logger.Verbosef = func(format string, args ...any) {
			output.Println(prepend + "(-) " + fmt.Sprintf(format, args...))
		}
	}
	if level >= LevelError {
		logger.Errorf = func(format string, args ...any) {
			output.Println(prepend + "(!) " + fmt.Sprintf(format, args...))
		}
	}
	return logger
}
