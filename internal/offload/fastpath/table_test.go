// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Bijection(t *testing.T) {
	table := NewTable()

	cc := ClientAndChannel{
		Client:  netip.MustParseAddrPort("91.141.64.64:26098"),
		Channel: 0x4001,
	}
	pp := PortAndPeer{
		AllocationPort: 50000,
		Peer:           netip.MustParseAddrPort("198.51.100.7:7777"),
	}
	require.NoError(t, table.Insert(cc, pp))

	gotPP, err := table.GetPortAndPeer(cc)
	require.NoError(t, err)
	assert.Equal(t, pp, gotPP)

	gotCC, err := table.GetClientAndChannel(pp)
	require.NoError(t, err)
	assert.Equal(t, cc, gotCC)

	assert.Equal(t, 1, table.Len())
}

func TestTable_CrossFamily(t *testing.T) {
	table := NewTable()

	cc := ClientAndChannel{
		Client:  netip.MustParseAddrPort("[2001:db8::2]:5555"),
		Channel: 0x4010,
	}
	pp := PortAndPeer{
		AllocationPort: 50001,
		Peer:           netip.MustParseAddrPort("198.51.100.8:8888"),
	}
	require.NoError(t, table.Insert(cc, pp))

	gotPP, err := table.GetPortAndPeer(cc)
	require.NoError(t, err)
	assert.Equal(t, pp, gotPP)

	gotCC, err := table.GetClientAndChannel(pp)
	require.NoError(t, err)
	assert.Equal(t, cc, gotCC)
}

func TestTable_RemoveMakesBothDirectionsMiss(t *testing.T) {
	table := NewTable()

	cc := ClientAndChannel{
		Client:  netip.MustParseAddrPort("10.0.0.1:1111"),
		Channel: 0x4001,
	}
	pp := PortAndPeer{
		AllocationPort: 49500,
		Peer:           netip.MustParseAddrPort("10.0.0.2:2222"),
	}
	require.NoError(t, table.Insert(cc, pp))
	table.Remove(cc, pp)

	_, err := table.GetPortAndPeer(cc)
	requireNoEntry(t, err)

	_, err = table.GetClientAndChannel(pp)
	requireNoEntry(t, err)

	assert.Equal(t, 0, table.Len())

	// Removing again is harmless.
	table.Remove(cc, pp)
}

func TestTable_MissNamesTheMap(t *testing.T) {
	table := NewTable()

	_, err := table.GetPortAndPeer(ClientAndChannel{
		Client:  netip.MustParseAddrPort("10.0.0.1:1111"),
		Channel: 0x4001,
	})
	var fpErr *Error
	require.ErrorAs(t, err, &fpErr)
	assert.Equal(t, "chan4_to_udp", fpErr.Missed)

	_, err = table.GetClientAndChannel(PortAndPeer{
		AllocationPort: 49500,
		Peer:           netip.MustParseAddrPort("[2001:db8::9]:9999"),
	})
	require.ErrorAs(t, err, &fpErr)
	assert.Equal(t, "udp6_to_chan", fpErr.Missed)
}

func TestTable_Normalizes4In6Addresses(t *testing.T) {
	table := NewTable()

	cc := ClientAndChannel{
		Client:  netip.MustParseAddrPort("[::ffff:10.0.0.1]:1111"),
		Channel: 0x4001,
	}
	pp := PortAndPeer{
		AllocationPort: 49500,
		Peer:           netip.MustParseAddrPort("10.0.0.2:2222"),
	}
	require.NoError(t, table.Insert(cc, pp))

	// Lookup with the plain IPv4 form must hit the same entry.
	_, err := table.GetPortAndPeer(ClientAndChannel{
		Client:  netip.MustParseAddrPort("10.0.0.1:1111"),
		Channel: 0x4001,
	})
	assert.NoError(t, err)
}

func requireNoEntry(t *testing.T, err error) {
	t.Helper()

	var fpErr *Error
	require.True(t, errors.As(err, &fpErr), "expected a fast path error, got %v", err)
	require.True(t, fpErr.IsNoEntry(), "expected a table miss, got %v", err)
}
