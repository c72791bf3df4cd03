// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package proto

import (
	"errors"

	"github.com/pion/stun/v3"
)

// RequestedAddressFamily represents the REQUESTED-ADDRESS-FAMILY attribute
// as defined in RFC 6156 Section 4.1.1.
type RequestedAddressFamily byte

const requestedFamilySize = 4

// GetFrom decodes REQUESTED-ADDRESS-FAMILY from message.
func (f *RequestedAddressFamily) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrRequestedAddressFamily)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrRequestedAddressFamily, len(v), requestedFamilySize); err != nil {
		return err
	}
	switch v[0] {
	case byte(RequestedFamilyIPv4), byte(RequestedFamilyIPv6):
		*f = RequestedAddressFamily(v[0])
	default:
		return errInvalidRequestedFamilyValue
	}
	return nil
}

var errInvalidRequestedFamilyValue = errors.New("invalid value for requested family attribute")

func (f RequestedAddressFamily) String() string {
	switch f {
	case RequestedFamilyIPv4:
		return "IPv4"
	case RequestedFamilyIPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// AddTo adds REQUESTED-ADDRESS-FAMILY to message.
func (f RequestedAddressFamily) AddTo(m *stun.Message) error {
	v := make([]byte, requestedFamilySize)
	v[0] = byte(f)
	// b[1:4] is RFFU = 0.
	m.Add(stun.AttrRequestedAddressFamily, v)
	return nil
}

const (
	// RequestedFamilyIPv4 means that the client would like the server to
	// allocate an IPv4 transport address.
	RequestedFamilyIPv4 RequestedAddressFamily = 0x01
	// RequestedFamilyIPv6 means that the client would like the server to
	// allocate an IPv6 transport address.
	RequestedFamilyIPv6 RequestedAddressFamily = 0x02
)

// attrAdditionalAddressFamily is the ADDITIONAL-ADDRESS-FAMILY attribute
// type from RFC 8656 Section 18.8.
const attrAdditionalAddressFamily stun.AttrType = 0x8000

// AdditionalAddressFamily represents the ADDITIONAL-ADDRESS-FAMILY
// attribute as defined in RFC 8656 Section 18.8. A client includes it
// in an Allocate request to ask for both an IPv4 and an IPv6 relayed
// address on the same allocation.
type AdditionalAddressFamily RequestedAddressFamily

func (f AdditionalAddressFamily) String() string {
	return RequestedAddressFamily(f).String()
}

// AddTo adds ADDITIONAL-ADDRESS-FAMILY to message.
func (f AdditionalAddressFamily) AddTo(m *stun.Message) error {
	v := make([]byte, requestedFamilySize)
	v[0] = byte(f)
	m.Add(attrAdditionalAddressFamily, v)
	return nil
}

// GetFrom decodes ADDITIONAL-ADDRESS-FAMILY from message. Only the
// IPv6 family is allowed by RFC 8656 Section 7.1.
func (f *AdditionalAddressFamily) GetFrom(m *stun.Message) error {
	v, err := m.Get(attrAdditionalAddressFamily)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(attrAdditionalAddressFamily, len(v), requestedFamilySize); err != nil {
		return err
	}
	if v[0] != byte(RequestedFamilyIPv6) {
		return errInvalidRequestedFamilyValue
	}
	*f = AdditionalAddressFamily(v[0])
	return nil
}
