// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reactor implements a single-threaded, level-triggered readiness
// loop on top of Linux epoll. It has no timers, no priorities, and no
// notion of concurrency between callbacks: Run dispatches one ready fd's
// callback at a time, in the order epoll_wait reports them.
package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mask is a readiness bitmask, a thin alias over the raw epoll events.
type Mask uint32

const (
	Readable Mask = unix.EPOLLIN
	Writable Mask = unix.EPOLLOUT
)

// Callback is invoked with the fd that fired and the mask of events that
// were actually ready. A bridge or acceptor registers exactly one callback
// per fd.
type Callback func(fd int, mask Mask)

// Reactor owns one epoll instance and the callbacks registered against it.
type Reactor struct {
	epfd      int
	callbacks map[int]Callback
}

// New creates a new epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	return &Reactor{
		epfd:      epfd,
		callbacks: make(map[int]Callback),
	}, nil
}

// Register starts watching fd for the events in mask, dispatching to cb.
func (r *Reactor) Register(fd int, mask Mask, cb Callback) error {
	ev := &unix.EpollEvent{Events: uint32(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return errors.Wrap(err, "reactor: epoll_ctl add")
	}
	r.callbacks[fd] = cb
	return nil
}

// Modify changes the watched event mask for an already-registered fd.
func (r *Reactor) Modify(fd int, mask Mask) error {
	ev := &unix.EpollEvent{Events: uint32(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return errors.Wrap(err, "reactor: epoll_ctl mod")
	}
	return nil
}

// Unregister stops watching fd entirely. Safe to call once per fd; the
// caller is responsible for closing fd itself.
func (r *Reactor) Unregister(fd int) error {
	delete(r.callbacks, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
			return nil
		}
		return errors.Wrap(err, "reactor: epoll_ctl del")
	}
	return nil
}

// NumWatchers reports how many fds are currently registered.
func (r *Reactor) NumWatchers() int { return len(r.callbacks) }

// Run blocks in epoll_wait, dispatching ready fds' callbacks, until no
// watchers remain registered. EINTR is retried in place.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 256)
	for len(r.callbacks) > 0 {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "reactor: epoll_wait")
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			cb, ok := r.callbacks[fd]
			if !ok {
				continue
			}
			cb(fd, Mask(events[i].Events))
		}
	}
	return nil
}

// Close closes the underlying epoll fd. Run must not be in progress.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
