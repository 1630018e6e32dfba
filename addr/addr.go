// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package addr renders socket addresses as the stable textual keys used to
// name journal files: "A.B.C.D:PORT" for IPv4, "[xxxx::yyyy]:PORT" for
// IPv6. The same address must always render to the same key, since it is
// used to reconnect a returning peer to its existing journal file.
package addr

import (
	"errors"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

var (
	// ErrUnsupportedFamily reports an address family other than IPv4/IPv6.
	ErrUnsupportedFamily = errors.New("addr: unsupported address family")

	// ErrTruncatedAddress reports a sockaddr that could not be fully decoded.
	ErrTruncatedAddress = errors.New("addr: truncated address")
)

// Key renders sa as the canonical textual endpoint key for sa's family.
func Key(sa unix.Sockaddr) (string, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return ip.String() + ":" + strconv.Itoa(v.Port), nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return "[" + ip.String() + "]:" + strconv.Itoa(v.Port), nil
	case nil:
		return "", ErrTruncatedAddress
	default:
		return "", ErrUnsupportedFamily
	}
}
