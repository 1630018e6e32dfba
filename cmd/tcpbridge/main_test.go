// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestUsageLineMatchesSpecFormat(t *testing.T) {
	got := usageLine("tcpbridge")
	assert.Equal(t, "Usage: tcpbridge srcaddr srcport destaddr destport\n", got)
}

func TestToSockaddrIPv4(t *testing.T) {
	sa, err := toSockaddr(net.ParseIP("192.0.2.1"), 443)
	assert.NoError(t, err)
	v4, ok := sa.(*unix.SockaddrInet4)
	assert.True(t, ok)
	assert.Equal(t, 443, v4.Port)
	assert.Equal(t, [4]byte{192, 0, 2, 1}, v4.Addr)
}

func TestToSockaddrIPv6(t *testing.T) {
	sa, err := toSockaddr(net.ParseIP("::1"), 80)
	assert.NoError(t, err)
	v6, ok := sa.(*unix.SockaddrInet6)
	assert.True(t, ok)
	assert.Equal(t, 80, v6.Port)
}

func TestDescribeIPv4(t *testing.T) {
	s := describe(&unix.SockaddrInet4{Port: 9000, Addr: [4]byte{10, 0, 0, 5}})
	assert.Equal(t, "10.0.0.5:9000", s)
}

func TestDescribeIPv6(t *testing.T) {
	sa := &unix.SockaddrInet6{Port: 53}
	sa.Addr[15] = 1
	s := describe(sa)
	assert.Equal(t, "[::1]:53", s)
}

func TestLookupPortNumeric(t *testing.T) {
	port, err := lookupPort("8080")
	assert.NoError(t, err)
	assert.Equal(t, 8080, port)
}
