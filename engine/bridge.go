// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine implements the bridge: the component that owns one
// accepted client socket, one freshly dialed upstream socket, their two
// journals and replay cursors, and drives them through the reactor's
// single-threaded dispatch loop until both directions are closed and
// fully drained.
package engine

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.tcpbridge.dev/bridge/addr"
	"go.tcpbridge.dev/bridge/bridgeerr"
	"go.tcpbridge.dev/bridge/journal"
	"go.tcpbridge.dev/bridge/reactor"
)

// bridge owns exactly the state spec.md's data model names: two sockets,
// two journals, two replay cursors and five independent booleans. The
// booleans are kept separate rather than collapsed into one per-direction
// enum (see DESIGN.md). A Drained flag is set only once its direction's
// ReadClosed is true and the journal has been fully replayed, so Drained
// without ReadClosed never occurs; Drained does not track catching up
// with the journal while that peer is still sending.
type bridge struct {
	r   *reactor.Reactor
	log *logrus.Entry

	srcFD int
	dstFD int

	srcJournal *journal.Journal
	dstJournal *journal.Journal

	// srcCursor tracks how much of srcJournal has been replayed to dstFD.
	srcCursor int64
	// dstCursor tracks how much of dstJournal has been replayed to srcFD.
	dstCursor int64

	connected     bool
	srcReadClosed bool
	srcDrained    bool
	dstReadClosed bool
	dstDrained    bool

	upstream unix.Sockaddr
	opts     Options
}

// Start is the bridge engine's sole public entry point (spec §4.3): given
// an already-accepted client socket and its peer address, it opens both
// journals, dials a fresh non-blocking connection to upstream, and
// registers with the reactor to drive the connection to completion.
// Start returns once the bridge is registered; all forwarding happens
// later, from reactor callbacks.
func Start(r *reactor.Reactor, workDir string, acceptedFD int, peer, upstream unix.Sockaddr, log *logrus.Logger, opts ...Option) error {
	o := resolveOptions(opts)

	peerKey, err := addr.Key(peer)
	if err != nil {
		_ = unix.Close(acceptedFD)
		return bridgeerr.New(bridgeerr.PeerIO, err)
	}
	upstreamKey, err := addr.Key(upstream)
	if err != nil {
		_ = unix.Close(acceptedFD)
		return bridgeerr.New(bridgeerr.PeerIO, err)
	}

	entry := log.WithFields(logrus.Fields{
		"peer":     peerKey,
		"upstream": upstreamKey,
	})

	if err := unix.SetNonblock(acceptedFD, true); err != nil {
		_ = unix.Close(acceptedFD)
		return bridgeerr.New(bridgeerr.Connect, err)
	}

	srcJournal, srcCursor, err := journal.Open(workDir, peerKey)
	if err != nil {
		_ = unix.Close(acceptedFD)
		return bridgeerr.New(bridgeerr.Journal, err)
	}
	dstJournal, dstCursor, err := journal.Open(workDir, upstreamKey)
	if err != nil {
		_ = srcJournal.Close()
		_ = unix.Close(acceptedFD)
		return bridgeerr.New(bridgeerr.Journal, err)
	}

	dstFD, err := dialNonblocking(upstream)
	if err != nil {
		_ = srcJournal.Close()
		_ = dstJournal.Close()
		_ = unix.Close(acceptedFD)
		return bridgeerr.New(bridgeerr.Connect, err)
	}

	b := &bridge{
		r:          r,
		log:        entry,
		srcFD:      acceptedFD,
		dstFD:      dstFD,
		srcJournal: srcJournal,
		dstJournal: dstJournal,
		srcCursor:  srcCursor,
		dstCursor:  dstCursor,
		upstream:   upstream,
		opts:       o,
	}

	// The client side is immediately readable-interested and not
	// writable-interested. Once the upstream connect completes,
	// recomputeMasks keeps it writable-interested until the upstream
	// direction is drained, whether or not bytes are waiting to be replayed.
	if err := r.Register(b.srcFD, reactor.Readable, b.dispatchSrc); err != nil {
		b.destroy()
		return bridgeerr.New(bridgeerr.Connect, err)
	}
	// The upstream socket is writable-interested during the connect
	// handshake: writable is how a non-blocking connect signals completion.
	if err := r.Register(b.dstFD, reactor.Writable, b.dispatchDst); err != nil {
		_ = r.Unregister(b.srcFD)
		b.destroy()
		return bridgeerr.New(bridgeerr.Connect, err)
	}

	return nil
}

func dialNonblocking(upstream unix.Sockaddr) (int, error) {
	var domain int
	switch upstream.(type) {
	case *unix.SockaddrInet4:
		domain = unix.AF_INET
	case *unix.SockaddrInet6:
		domain = unix.AF_INET6
	default:
		return -1, bridgeerr.New(bridgeerr.Connect, addr.ErrUnsupportedFamily)
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	err = unix.Connect(fd, upstream)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// dispatchSrc and dispatchDst both run the full four-step algorithm: the
// reactor may report either fd, but every dispatch re-derives and re-runs
// the whole steady-state pass in the fixed order spec §4.3 specifies, so
// no progress is ever missed regardless of which socket fired.
func (b *bridge) dispatchSrc(fd int, mask reactor.Mask) { b.dispatch() }
func (b *bridge) dispatchDst(fd int, mask reactor.Mask) { b.dispatch() }

func (b *bridge) dispatch() {
	if !b.connected {
		if !b.finishConnect() {
			return
		}
	}

	// 1. drain source -> source journal
	if fatal := b.drain(b.srcFD, b.srcJournal, &b.srcReadClosed); fatal {
		b.destroy()
		return
	}
	// 2. replay source journal -> destination
	if fatal := b.replay(b.srcJournal, &b.srcCursor, b.dstFD, b.srcReadClosed, &b.srcDrained); fatal {
		b.destroy()
		return
	}
	// 3. drain destination -> destination journal
	if fatal := b.drain(b.dstFD, b.dstJournal, &b.dstReadClosed); fatal {
		b.destroy()
		return
	}
	// 4. replay destination journal -> source
	if fatal := b.replay(b.dstJournal, &b.dstCursor, b.srcFD, b.dstReadClosed, &b.dstDrained); fatal {
		b.destroy()
		return
	}

	b.recomputeMasks()
}

// finishConnect polls SO_ERROR on the upstream socket, per the
// non-blocking-connect idiom. It runs on the first dispatch of either
// socket, so if the client socket fires before the upstream has become
// writable, a zero SO_ERROR read while the handshake is still in flight
// also marks the bridge connected. Returns false if the bridge was
// destroyed as a result (connect failed).
func (b *bridge) finishConnect() bool {
	errno, err := unix.GetsockoptInt(b.dstFD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		b.log.WithError(err).Warn("bridge: getsockopt so_error failed")
		b.destroy()
		return false
	}
	if errno != 0 {
		b.log.WithError(unix.Errno(errno)).Warn("bridge: upstream connect failed")
		b.destroy()
		return false
	}
	b.connected = true
	return true
}

// drain reads from fd into j until EAGAIN, EOF, or a fatal error. EOF and
// would-block are not fatal; *readClosed is set true on EOF. A genuine
// read error (e.g. a connection reset) or a failed journal append is
// fatal, and the caller destroys the bridge.
func (b *bridge) drain(fd int, j *journal.Journal, readClosed *bool) (fatal bool) {
	if *readClosed {
		return false
	}
	buf := make([]byte, b.opts.readBufferSize)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return false
		}
		if err != nil {
			b.log.WithError(err).Warn("bridge: peer read failed")
			return true
		}
		if n == 0 {
			*readClosed = true
			_ = unix.Shutdown(fd, unix.SHUT_RD)
			return false
		}
		if err := j.Append(buf[:n]); err != nil {
			b.log.WithError(err).Warn("bridge: journal append failed")
			return true
		}
	}
}

// replay pushes everything currently in j out to sinkFD. When the journal
// is drained and the corresponding read side is already closed, the
// direction is marked *drained*, no further bytes will ever arrive for
// it, and sinkFD's write half is shut down so the opposite peer observes
// EOF on its own next read. A broken-pipe-class write error is fatal.
func (b *bridge) replay(j *journal.Journal, cursor *int64, sinkFD int, readClosed bool, drained *bool) (fatal bool) {
	if *drained {
		return false
	}
	status, err := j.ReplayChunked(cursor, sinkFD, b.opts.replayChunk)
	if err != nil {
		b.log.WithError(err).Warn("bridge: replay failed")
		return true
	}
	if status == journal.StatusDrained && readClosed {
		*drained = true
		_ = unix.Shutdown(sinkFD, unix.SHUT_WR)
	}
	return false
}

// recomputeMasks applies spec §4.3's readiness table to both fds and
// destroys the bridge once neither has any interest left.
func (b *bridge) recomputeMasks() {
	srcMask := reactor.Mask(0)
	if !b.srcReadClosed {
		srcMask |= reactor.Readable
	}
	if !b.dstDrained {
		srcMask |= reactor.Writable
	}

	dstMask := reactor.Mask(0)
	if !b.dstReadClosed {
		dstMask |= reactor.Readable
	}
	if !b.srcDrained {
		dstMask |= reactor.Writable
	}

	if srcMask == 0 && dstMask == 0 {
		b.destroy()
		return
	}

	if srcMask == 0 {
		_ = b.r.Unregister(b.srcFD)
		_ = unix.Close(b.srcFD)
		b.srcFD = -1
	} else if b.srcFD >= 0 {
		_ = b.r.Modify(b.srcFD, srcMask)
	}

	if dstMask == 0 {
		_ = b.r.Unregister(b.dstFD)
		_ = unix.Close(b.dstFD)
		b.dstFD = -1
	} else if b.dstFD >= 0 {
		_ = b.r.Modify(b.dstFD, dstMask)
	}
}

// destroy tears the bridge down: both sockets closed, both journals
// closed, both fds unregistered from the reactor. Idempotent.
func (b *bridge) destroy() {
	if b.srcFD >= 0 {
		_ = b.r.Unregister(b.srcFD)
		_ = unix.Shutdown(b.srcFD, unix.SHUT_RDWR)
		_ = unix.Close(b.srcFD)
		b.srcFD = -1
	}
	if b.dstFD >= 0 {
		_ = b.r.Unregister(b.dstFD)
		_ = unix.Shutdown(b.dstFD, unix.SHUT_RDWR)
		_ = unix.Close(b.dstFD)
		b.dstFD = -1
	}
	if b.srcJournal != nil {
		_ = b.srcJournal.Close()
	}
	if b.dstJournal != nil {
		_ = b.dstJournal.Close()
	}
	b.log.Debug("bridge: destroyed")
}
