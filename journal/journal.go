// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package journal implements the per-endpoint append-only file that backs
// one direction of a bridge: bytes read from a peer are appended, and later
// replayed -- from a caller-tracked offset -- to the opposite peer. The file
// doubles as an unbounded buffer and as a forensic record; it is never
// rotated, truncated or removed.
//
// Non-blocking semantics: Replay re-exposes iox.ErrWouldBlock-shaped
// control flow as a Status value rather than an error, the same contract
// the teacher package (code.hybscloud.com/framer) uses for its own
// non-blocking reads and writes: partial progress is always reflected in
// the caller's cursor before a WouldBlock-equivalent result is returned.
package journal

import (
	"path/filepath"

	"code.hybscloud.com/iox"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ReplayChunk is the suggested bounded read size for one Replay iteration.
const ReplayChunk = 8 * 1024

// ErrWouldBlock is re-exported so callers need not import iox directly.
// It signals that the sink could accept no more bytes right now; any
// partial progress has already been folded into the caller's cursor.
var ErrWouldBlock = iox.ErrWouldBlock

// Status is the outcome of one Replay call.
type Status uint8

const (
	// StatusDrained means the read cursor has caught up to the write
	// cursor: there are no bytes currently in flight for this direction.
	StatusDrained Status = iota
	// StatusWouldBlock means the sink returned EAGAIN/EWOULDBLOCK mid
	// chunk; the cursor reflects exactly the bytes delivered so far.
	StatusWouldBlock
)

// Journal is a single endpoint's append-only, replayable byte stream.
type Journal struct {
	fd   int
	path string
}

// Open opens (creating if absent) the journal file named key inside dir,
// in read+append mode, and returns the file's current end offset as the
// initial replay cursor for that direction.
func Open(dir, key string) (j *Journal, initialCursor int64, err error) {
	path := filepath.Join(dir, key)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, errors.Wrap(err, "journal: open")
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, 0, errors.Wrap(err, "journal: stat")
	}
	return &Journal{fd: fd, path: path}, st.Size, nil
}

// Append writes buf to the end of the journal. Appends never move the
// replay cursor. EINTR is retried transparently.
func (j *Journal) Append(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(j.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "journal: append")
		}
		buf = buf[n:]
	}
	return nil
}

// Replay positions the read cursor at *cursor and repeatedly reads a
// bounded chunk, writing it non-blockingly to sinkFD and advancing *cursor
// by exactly the number of bytes actually written -- including a partial
// chunk, so the next Replay call resumes cleanly. EINTR is retried
// transparently on both the read and the write side.
func (j *Journal) Replay(cursor *int64, sinkFD int) (Status, error) {
	return j.ReplayChunked(cursor, sinkFD, ReplayChunk)
}

// ReplayChunked behaves like Replay but reads chunkSize bytes at a time
// instead of the package default, letting callers trade syscall count
// against peak memory per bridge direction.
func (j *Journal) ReplayChunked(cursor *int64, sinkFD int, chunkSize int) (Status, error) {
	if chunkSize <= 0 {
		chunkSize = ReplayChunk
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := pread(j.fd, buf[:], *cursor)
		if err != nil {
			return StatusDrained, errors.Wrap(err, "journal: read")
		}
		if n == 0 {
			return StatusDrained, nil
		}

		written := 0
		for written < n {
			wn, werr := unix.Write(sinkFD, buf[written:n])
			if wn > 0 {
				written += wn
				*cursor += int64(wn)
			}
			if werr == unix.EINTR {
				continue
			}
			if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
				return StatusWouldBlock, nil
			}
			if werr != nil {
				return StatusDrained, errors.Wrap(werr, "journal: write to peer")
			}
			if wn == 0 {
				return StatusDrained, errors.New("journal: wrote zero bytes without error")
			}
		}
	}
}

// Close closes the journal's file descriptor. The file itself is left on
// disk; journals are never deleted, truncated or rotated by this package.
// Calling Close again after the first call does nothing.
func (j *Journal) Close() error {
	if j.fd < 0 {
		return nil
	}
	err := unix.Close(j.fd)
	j.fd = -1
	return err
}

// Path returns the journal's on-disk path, mainly for diagnostics.
func (j *Journal) Path() string { return j.path }

func pread(fd int, buf []byte, offset int64) (int, error) {
	for {
		n, err := unix.Pread(fd, buf, offset)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
