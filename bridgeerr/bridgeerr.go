// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bridgeerr names the error kinds a bridge or listener can fail
// with, so call sites can switch on Kind instead of matching strings.
package bridgeerr

import "fmt"

// Kind categorizes a failure the way spec.md §7 taxonomizes errors.
type Kind uint8

const (
	Resolve Kind = iota
	ListenerSetup
	Connect
	Journal
	PeerIO
	Accept
)

func (k Kind) String() string {
	switch k {
	case Resolve:
		return "resolve"
	case ListenerSetup:
		return "listener_setup"
	case Connect:
		return "connect"
	case Journal:
		return "journal"
	case PeerIO:
		return "peer_io"
	case Accept:
		return "accept"
	default:
		return "unknown"
	}
}

// Error wraps a causal error with the Kind under which it should be handled.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
