// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"net/netip"

	"github.com/pion/stun/v3"
)

// authenticate performs the long-term credential check of RFC 5389
// Section 10.2. On success it returns the integrity key for stamping
// the response. On failure the error response has already been queued
// and ok is false.
//
// Requests without MESSAGE-INTEGRITY get a 401 challenge carrying a
// fresh nonce and the realm. Requests with an expired or unknown nonce
// get a 438 so well-behaved clients retry without treating it as a
// hard failure.
func (s *Server) authenticate(m *stun.Message, client netip.AddrPort) (stun.MessageIntegrity, bool) {
	challenge := func(code stun.ErrorCode) (stun.MessageIntegrity, bool) {
		nonce, err := s.nonces.Generate()
		if err != nil {
			s.log.Errorf("failed to generate nonce: %v", err)

			return nil, false
		}
		if err := s.respondError(m, client, code,
			stun.NewNonce(nonce), stun.NewRealm(s.realm)); err != nil {
			s.log.Errorf("failed to send challenge to %s: %v", client, err)
		}

		return nil, false
	}

	if !m.Contains(stun.AttrMessageIntegrity) {
		return challenge(stun.CodeUnauthorized)
	}

	var nonce stun.Nonce
	if err := nonce.GetFrom(m); err != nil {
		_ = s.respondError(m, client, stun.CodeBadRequest)

		return nil, false
	}
	if err := s.nonces.Validate(string(nonce)); err != nil {
		return challenge(stun.CodeStaleNonce)
	}

	var realm stun.Realm
	var username stun.Username
	if err := realm.GetFrom(m); err != nil {
		_ = s.respondError(m, client, stun.CodeBadRequest)

		return nil, false
	}
	if err := username.GetFrom(m); err != nil {
		_ = s.respondError(m, client, stun.CodeBadRequest)

		return nil, false
	}

	key, ok := s.authHandler(username.String(), realm.String(), client)
	if !ok {
		return challenge(stun.CodeUnauthorized)
	}

	integrity := stun.MessageIntegrity(key)
	if err := integrity.Check(m); err != nil {
		return challenge(stun.CodeUnauthorized)
	}

	return integrity, true
}
