// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import "errors"

var (
	errFailedToGenerateNonce      = errors.New("failed to generate nonce")
	errInvalidNonce               = errors.New("invalid nonce")
	errUnexpectedClass            = errors.New("unexpected class")
	errUnexpectedMethod           = errors.New("unexpected method")
	errNoAllocationFound          = errors.New("no allocation found")
	errNoPermission               = errors.New("no permission for peer")
	errMalformedPeerAddress       = errors.New("malformed peer address")
	errNoSuchChannelBind          = errors.New("no such channel bind")
	errChannelUnbound             = errors.New("channel exists but is unbound")
	errListenPortInsideRelayRange = errors.New("listen port must not fall inside the relay port range")
	errNoPublicAddress            = errors.New("at least one public address is required")
)
