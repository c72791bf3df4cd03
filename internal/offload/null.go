// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package offload

import (
	"github.com/pion/logging"
)

// NullEngine keeps every flow on the slow path. It tracks the bindings
// it was given so Stats and Remove behave like a real engine.
type NullEngine struct {
	bindings map[Binding]struct{}
	log      logging.LeveledLogger
}

// NewNullEngine creates an uninitialized null engine.
func NewNullEngine(log logging.LeveledLogger) *NullEngine {
	return &NullEngine{bindings: make(map[Binding]struct{}), log: log}
}

// Name implements Engine.
func (o *NullEngine) Name() string { return "null" }

// Init implements Engine. It cannot fail.
func (o *NullEngine) Init() error {
	o.log.Debug("null engine ready, all traffic stays on the slow path")

	return nil
}

// Shutdown implements Engine.
func (o *NullEngine) Shutdown() {
	o.bindings = make(map[Binding]struct{})
}

// Upsert implements Engine.
func (o *NullEngine) Upsert(b Binding) error {
	o.log.Debugf("would offload channel 0x%04x of %s to peer %s", b.Channel, b.Client, b.Peer)
	o.bindings[b] = struct{}{}

	return nil
}

// Remove implements Engine.
func (o *NullEngine) Remove(b Binding) error {
	if _, ok := o.bindings[b]; !ok {
		return ErrBindingNotFound
	}
	delete(o.bindings, b)

	return nil
}

// Stats implements Engine.
func (o *NullEngine) Stats() map[string]uint64 {
	return map[string]uint64{"tracked bindings": uint64(len(o.bindings))}
}
