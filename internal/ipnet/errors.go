// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package ipnet

import "errors"

var (
	errNotUDPAddr = errors.New("address is not a *net.UDPAddr")
	errSetV6Only  = errors.New("failed to clear IPV6_V6ONLY")
)
