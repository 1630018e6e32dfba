// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

// Options configures tunables of a Bridge that spec.md leaves to the
// implementation: buffer sizing that never changes forwarding semantics.
type Options struct {
	readBufferSize int
	replayChunk    int
}

var defaultOptions = Options{
	readBufferSize: 64 * 1024,
	replayChunk:    8 * 1024,
}

// Option mutates an Options value. Values not supplied via an Option fall
// back to defaultOptions.
type Option func(*Options)

// WithReadBufferSize sets the size of the buffer used to drain a peer
// socket into its journal in one syscall.
func WithReadBufferSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithReplayChunkSize sets the bounded chunk size used when replaying a
// journal to the opposite peer.
func WithReplayChunkSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.replayChunk = n
		}
	}
}

func resolveOptions(opts []Option) Options {
	o := defaultOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
