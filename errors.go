// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package turnpike

import "errors"

var (
	errRealmRequired       = errors.New("realm is required")
	errAuthHandlerRequired = errors.New("auth handler is required")
)
