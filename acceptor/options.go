// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package acceptor

// Options configures a listener's tunables.
type Options struct {
	backlog     int
	acceptBatch int
}

var defaultOptions = Options{
	backlog:     1000,
	acceptBatch: 256,
}

// Option mutates an Options value.
type Option func(*Options)

// WithBacklog overrides the listen(2) backlog. spec.md fixes this at 1000;
// tests use a smaller value to keep socket setup cheap.
func WithBacklog(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// WithAcceptBatch caps how many connections one dispatch will accept
// before yielding back to the reactor, even if more are queued. Zero
// means unbounded (drain until EAGAIN).
func WithAcceptBatch(n int) Option {
	return func(o *Options) {
		o.acceptBatch = n
	}
}

func resolveOptions(opts []Option) Options {
	o := defaultOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
