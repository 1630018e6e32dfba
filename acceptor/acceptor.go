// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package acceptor implements the component that owns a listening socket:
// it creates, binds and listens it, registers it with a reactor, and on
// each readiness dispatch drains the accept queue, handing every accepted
// connection to a caller-supplied callback.
package acceptor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.tcpbridge.dev/bridge/reactor"
)

// OnAccept receives one freshly accepted, non-blocking, close-on-exec
// socket and the peer address it came from.
type OnAccept func(fd int, peer unix.Sockaddr)

// Listen creates a non-blocking, close-on-exec, SO_REUSEADDR stream
// socket bound to addr, starts listening, and registers it with r. Each
// time the listener becomes readable, the accept queue is drained until
// EAGAIN or until the accept batch size is reached (256 by default;
// WithAcceptBatch(0) removes the cap), and every accepted socket is
// handed to onAccept. Listen returns the listening
// fd so the caller can log or later close it; listener setup failures are
// returned to the caller to report, not treated as fatal by this package.
func Listen(r *reactor.Reactor, addr unix.Sockaddr, log *logrus.Logger, onAccept OnAccept, opts ...Option) (int, error) {
	o := resolveOptions(opts)

	domain, err := domainOf(addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "acceptor: socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrap(err, "acceptor: setsockopt so_reuseaddr")
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrap(err, "acceptor: bind")
	}
	if err := unix.Listen(fd, o.backlog); err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrap(err, "acceptor: listen")
	}

	entry := log.WithField("listener_fd", fd)
	dispatch := func(watchedFD int, mask reactor.Mask) {
		drainAcceptQueue(fd, o.acceptBatch, entry, onAccept)
	}
	if err := r.Register(fd, reactor.Readable, dispatch); err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrap(err, "acceptor: register")
	}

	return fd, nil
}

// drainAcceptQueue accepts connections until the queue is empty (EAGAIN),
// up to batch connections if batch > 0. A non-transient error is logged
// and the loop exits for this dispatch; the listener itself stays
// registered, per spec §4.4.
func drainAcceptQueue(listenFD int, batch int, log *logrus.Entry, onAccept OnAccept) {
	accepted := 0
	for batch <= 0 || accepted < batch {
		connFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			log.WithError(err).Warn("acceptor: accept4 failed, pausing until next readiness")
			return
		}
		accepted++
		onAccept(connFD, sa)
	}
}

func domainOf(addr unix.Sockaddr) (int, error) {
	switch addr.(type) {
	case *unix.SockaddrInet4:
		return unix.AF_INET, nil
	case *unix.SockaddrInet6:
		return unix.AF_INET6, nil
	default:
		return 0, errors.New("acceptor: unsupported address family")
	}
}
