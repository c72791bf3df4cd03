// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package turnpike

import (
	"net/netip"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/require"
)

func TestTimeWindowedCredentials(t *testing.T) {
	const secret = "north-south-east-west"

	log := logging.NewDefaultLoggerFactory().NewLogger("test")
	handler := NewTimeWindowedAuthHandler(secret, testRealm, log)
	client := netip.MustParseAddrPort("192.0.2.5:5000")

	username, password := TimeWindowedCredentials(time.Now().Add(time.Hour), secret)
	key, ok := handler(username, testRealm, client)
	require.True(t, ok)
	require.Equal(t, GenerateAuthKey(username, testRealm, password), key)

	t.Run("expired", func(t *testing.T) {
		username, _ := TimeWindowedCredentials(time.Now().Add(-time.Minute), secret)
		_, ok := handler(username, testRealm, client)
		require.False(t, ok)
	})

	t.Run("wrong realm", func(t *testing.T) {
		_, ok := handler(username, "other.example", client)
		require.False(t, ok)
	})

	t.Run("malformed username", func(t *testing.T) {
		_, ok := handler("alice", testRealm, client)
		require.False(t, ok)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTimeWindowedAuthHandler("different", testRealm, log)
		key2, ok := other(username, testRealm, client)
		require.True(t, ok)
		require.NotEqual(t, key, key2)
	})
}
