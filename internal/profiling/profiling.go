// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

//go:build debug

// Package profiling writes a runtime/trace capture of the event loop.
// It compiles to a no-op unless the debug build tag is set.
package profiling

import (
	"context"
	"os"
	"runtime/trace"

	"github.com/pion/logging"
)

type Profiling struct {
	file *os.File
	task *trace.Task
	log  logging.LeveledLogger
}

// New starts tracing into the named file. Errors are logged rather
// than returned so callers can stay oblivious in production builds.
func New(filename string, log logging.LeveledLogger) *Profiling {
	file, err := os.Create(filename) //nolint:gosec
	if err != nil {
		log.Errorf("failed to create trace file %s: %v", filename, err)

		return &Profiling{log: log}
	}
	if err := trace.Start(file); err != nil {
		log.Errorf("failed to start tracing: %v", err)
		_ = file.Close()

		return &Profiling{log: log}
	}

	_, task := trace.NewTask(context.Background(), "relay")
	log.Infof("tracing to %s", filename)

	return &Profiling{file: file, task: task, log: log}
}

// Close ends the trace task and flushes the file. pprof cannot read a
// capture that was not closed.
func (p *Profiling) Close() {
	if p.file == nil {
		return
	}
	p.task.End()
	trace.Stop()
	if err := p.file.Close(); err != nil {
		p.log.Errorf("failed to close trace file: %v", err)
	}
}
