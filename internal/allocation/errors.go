// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package allocation

import "errors"

var (
	errNilInboundChannel     = errors.New("inbound channel is required")
	errFailedToCreateNet     = errors.New("failed to create network")
	errWorkerExists          = errors.New("relay socket already open for port and family")
	errFailedToBindRelayPort = errors.New("failed to bind relay port")
)
