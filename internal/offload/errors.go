// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package offload

import "errors"

var (
	// ErrBindingNotFound is returned by Remove for a binding the
	// engine never saw.
	ErrBindingNotFound = errors.New("offload: binding not found")

	// ErrNoXDPObject means no compiled XDP object was configured.
	ErrNoXDPObject = errors.New("offload: no XDP object path configured")

	// ErrNoInterface means the configured network interface does not
	// exist.
	ErrNoInterface = errors.New("offload: network interface not found")

	// ErrMissingMap means the XDP object lacks one of the expected
	// routing maps.
	ErrMissingMap = errors.New("offload: XDP object is missing a routing map")

	// ErrMissingProgram means the XDP object lacks the router program.
	ErrMissingProgram = errors.New("offload: XDP object is missing the router program")
)
