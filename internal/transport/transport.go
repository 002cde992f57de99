// Package transport defines the message-passing seam between nodes and
// ships two implementations of it: an in-memory one for deterministic
// tests and a net/rpc-based TCP one for real use.
package transport

import (
	"context"
	"errors"
)

// RPCKind identifies one of the four RPCs in the node's surface.
type RPCKind int

const (
	Vote RPCKind = iota
	Append
	ClientRequest
	RecoverySnapshot
)

func (k RPCKind) String() string {
	switch k {
	case Vote:
		return "Vote"
	case Append:
		return "Append"
	case ClientRequest:
		return "ClientRequest"
	case RecoverySnapshot:
		return "RecoverySnapshot"
	default:
		return "Unknown"
	}
}

// Handler answers one incoming RPC of a given kind. It runs synchronously
// on the callee; long-running work belongs in the node, not here.
type Handler func(from int64, req interface{}) (interface{}, error)

// ErrClosed is returned by Send once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is the one seam the consensus engine depends on: sending a
// request to a peer and registering handlers for the requests it receives.
// At-most-once delivery per call, framing, back-pressure and retries are
// all the transport's concern, not the caller's.
type Transport interface {
	// RegisterHandler installs the handler invoked for incoming RPCs of
	// kind k. Requests of kind k that arrive before it is installed fail
	// with an error.
	RegisterHandler(k RPCKind, h Handler)

	// Send delivers req to peer and returns a Future for its response.
	// It never blocks past enqueuing the request.
	Send(ctx context.Context, peer int64, k RPCKind, req interface{}) *Future

	// Close releases any resources (sockets, goroutines) held by the
	// transport. Sends issued after Close fail with ErrClosed.
	Close() error
}

// Future is a single-value promise: exactly one of Wait's two return
// values will be non-zero once the future resolves.
type Future struct {
	done chan struct{}
	resp interface{}
	err  error
}

// NewFuture returns an unresolved Future paired with the func that
// resolves it. Resolve must be called exactly once.
func NewFuture() (*Future, func(interface{}, error)) {
	f := &Future{done: make(chan struct{})}
	resolve := func(resp interface{}, err error) {
		f.resp, f.err = resp, err
		close(f.done)
	}
	return f, resolve
}

// Wait blocks until the future resolves or ctx is done, whichever comes
// first.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
