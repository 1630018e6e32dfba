// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reactor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.tcpbridge.dev/bridge/reactor"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestRegisterAndDispatchOnReadable(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)

	fired := make(chan reactor.Mask, 1)
	require.NoError(t, r.Register(a, reactor.Readable, func(fd int, mask reactor.Mask) {
		fired <- mask
		require.NoError(t, r.Unregister(fd))
	}))

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.Run())
	select {
	case mask := <-fired:
		assert.NotZero(t, mask&reactor.Readable)
	default:
		t.Fatal("callback never fired")
	}
}

func TestRunReturnsWhenNoWatchersLeft(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 0, r.NumWatchers())
	assert.NoError(t, r.Run())
}

func TestUnregisterStopsDispatch(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)

	calls := 0
	require.NoError(t, r.Register(a, reactor.Readable, func(fd int, mask reactor.Mask) {
		calls++
		require.NoError(t, r.Unregister(fd))
	}))

	_, err = unix.Write(b, []byte("y"))
	require.NoError(t, err)
	require.NoError(t, r.Run())

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.NumWatchers())
}

func TestModifyChangesWatchedEvents(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, _ := socketpair(t)

	require.NoError(t, r.Register(a, reactor.Readable, func(fd int, mask reactor.Mask) {}))
	assert.NoError(t, r.Modify(a, reactor.Readable|reactor.Writable))
	require.NoError(t, r.Unregister(a))
}
