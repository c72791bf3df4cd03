// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package turnpike

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required by the time-windowed credential scheme
	"encoding/base64"
	"net/netip"
	"strconv"
	"time"

	"github.com/pion/logging"
)

// timeWindowedPassword derives the password for a time-windowed
// username from the shared secret, per the TURN REST API memo
// (draft-uberti-behave-turn-rest-00).
func timeWindowedPassword(username, sharedSecret string) string {
	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write([]byte(username)) //nolint:errcheck // hash writes never fail

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// TimeWindowedCredentials mints a username/password pair that a
// time-windowed AuthHandler for the same shared secret accepts until
// expiry. Hand these out from a provisioning API instead of storing
// per-user passwords.
func TimeWindowedCredentials(expiry time.Time, sharedSecret string) (username, password string) {
	username = strconv.FormatInt(expiry.Unix(), 10)

	return username, timeWindowedPassword(username, sharedSecret)
}

// NewTimeWindowedAuthHandler returns an AuthHandler that accepts
// credentials minted by TimeWindowedCredentials. The username carries
// its own expiry, so the handler needs no credential store.
func NewTimeWindowedAuthHandler(sharedSecret, realm string, log logging.LeveledLogger) AuthHandler {
	return func(username, requestRealm string, client netip.AddrPort) ([]byte, bool) {
		if requestRealm != realm {
			return nil, false
		}

		expiry, err := strconv.ParseInt(username, 10, 64)
		if err != nil {
			log.Debugf("rejecting malformed time-windowed username %q from %s", username, client)

			return nil, false
		}
		if expiry < time.Now().Unix() {
			log.Debugf("rejecting expired time-windowed username %q from %s", username, client)

			return nil, false
		}

		return GenerateAuthKey(username, realm, timeWindowedPassword(username, sharedSecret)), true
	}
}
