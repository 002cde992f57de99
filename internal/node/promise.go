package node

import (
	"context"

	"github.com/ssmike/raftkv/internal/raftpb"
)

// promise is the node's suspension primitive: a client write waiting on a
// commit subscriber, and a follower Append response waiting on the active
// flush_event, are both just a promise Wait call. Closing done wakes every
// waiter, so the same promise can be awaited from more than one goroutine.
type promise struct {
	done chan struct{}
	resp raftpb.Response
}

func newPromise() *promise {
	return &promise{done: make(chan struct{})}
}

// fulfill completes the promise exactly once. A second call panics, since
// it means two paths both believe they own completing this wait.
func (p *promise) fulfill(resp raftpb.Response) {
	p.resp = resp
	close(p.done)
}

// wait blocks until the promise is fulfilled or ctx is done.
func (p *promise) wait(ctx context.Context) (raftpb.Response, error) {
	select {
	case <-p.done:
		return p.resp, nil
	case <-ctx.Done():
		return raftpb.Response{}, ctx.Err()
	}
}
