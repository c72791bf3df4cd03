// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// NonceManager creates and validates the nonces handed out in 401 and
// 438 challenges.
type NonceManager interface {
	Generate() (string, error)
	Validate(nonce string) error
}

const (
	shortNonceKeyLength    = 64
	shortNonceTimestampLen = 4 // minutes since epoch, good until year 10135
	shortNonceMinHMACLen   = 2
	shortNonceMaxHMACLen   = sha256.Size
	defaultNonceHMACLen    = 12
)

// NewShortNonceHash returns a NonceManager producing compact
// base36-encoded nonces of 4+hmacLen bytes, for clients that cap
// attribute sizes. hmacLen 0 selects the default of 12; valid values
// are 2 through 32.
func NewShortNonceHash(hmacLen int) (NonceManager, error) {
	if hmacLen == 0 {
		hmacLen = defaultNonceHMACLen
	}
	if hmacLen < shortNonceMinHMACLen || hmacLen > shortNonceMaxHMACLen {
		return nil, errFailedToGenerateNonce
	}

	key := make([]byte, shortNonceKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToGenerateNonce, err)
	}

	return &ShortNonceHash{key: key, hmacLen: hmacLen}, nil
}

// ShortNonceHash signs a minute-granular timestamp with a truncated
// HMAC-SHA256. Like NonceHash it keeps no per-nonce state.
type ShortNonceHash struct {
	key     []byte
	hmacLen int
}

// Generate returns a fresh nonce.
func (s *ShortNonceHash) Generate() (string, error) {
	timestampMinutes := time.Now().Unix() / 60

	var ts8 [8]byte
	binary.BigEndian.PutUint64(ts8[:], uint64(timestampMinutes)) //nolint:gosec // G115
	timestamp := ts8[4:]

	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write(timestamp); err != nil {
		return "", fmt.Errorf("%w: %w", errFailedToGenerateNonce, err)
	}

	nonce := make([]byte, shortNonceTimestampLen+s.hmacLen)
	copy(nonce, timestamp)
	copy(nonce[shortNonceTimestampLen:], mac.Sum(nil)[:s.hmacLen])

	return encodeBase36(nonce), nil
}

// Validate checks that nonce carries our signature and is under an
// hour old.
func (s *ShortNonceHash) Validate(nonce string) error {
	raw := decodeBase36(nonce)
	if raw == nil {
		return errInvalidNonce
	}

	expectedLen := shortNonceTimestampLen + s.hmacLen
	if len(raw) != expectedLen {
		// base36 strips leading zero bytes; restore them.
		if len(raw) > expectedLen {
			return errInvalidNonce
		}
		padded := make([]byte, expectedLen)
		copy(padded[expectedLen-len(raw):], raw)
		raw = padded
	}

	timestamp := raw[:shortNonceTimestampLen]
	receivedMAC := raw[shortNonceTimestampLen:]

	timestampMinutes := int64(binary.BigEndian.Uint32(timestamp))
	currentMinutes := time.Now().Unix() / 60
	if currentMinutes < timestampMinutes || currentMinutes-timestampMinutes > 60 {
		return errInvalidNonce
	}

	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write(timestamp); err != nil {
		return fmt.Errorf("%w: %w", errInvalidNonce, err)
	}
	if !hmac.Equal(receivedMAC, mac.Sum(nil)[:s.hmacLen]) {
		return errInvalidNonce
	}

	return nil
}
