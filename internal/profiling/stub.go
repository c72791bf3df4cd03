// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

//go:build !debug

// Package profiling writes a runtime/trace capture of the event loop.
// It compiles to a no-op unless the debug build tag is set.
package profiling

import "github.com/pion/logging"

type Profiling struct{}

func New(string, logging.LeveledLogger) *Profiling { return &Profiling{} }

func (p *Profiling) Close() {}
