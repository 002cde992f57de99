package node

import (
	"context"
	"fmt"

	"github.com/ssmike/raftkv/internal/raftpb"
)

// handleClientRequestRPC answers an incoming ClientRequest RPC.
func (n *Node) handleClientRequestRPC(from int64, req interface{}) (interface{}, error) {
	r, ok := req.(raftpb.ClientRequest)
	if !ok {
		return nil, fmt.Errorf("node: unexpected ClientRequest payload %T", req)
	}

	n.mu.Lock()
	s := n.st

	switch s.role {
	case Follower:
		resp := raftpb.ClientResponse{Success: false, ShouldRetry: true, RetryTo: s.leaderID}
		n.mu.Unlock()
		return resp, nil
	case Candidate:
		n.mu.Unlock()
		return raftpb.ClientResponse{Success: false}, nil
	}

	if s.appliedTs < s.readBarrierTs {
		n.mu.Unlock()
		return raftpb.ClientResponse{Success: false}, nil
	}

	hasRead, hasWrite := false, false
	for _, op := range r.Operations {
		if op.Kind == raftpb.OpRead {
			hasRead = true
		} else {
			hasWrite = true
		}
	}

	if hasRead {
		entries := make([]raftpb.Operation, 0, len(r.Operations))
		for _, op := range r.Operations {
			if op.Kind != raftpb.OpRead {
				continue
			}
			value, _ := s.fsm.Get(op.Key)
			entries = append(entries, raftpb.Operation{Kind: raftpb.OpRead, Key: op.Key, Value: value})
		}
		resp := raftpb.ClientResponse{Success: !hasWrite, Entries: entries}
		n.mu.Unlock()
		return resp, nil
	}

	// write-only: assign the next timestamp, buffer it, and wait for quorum
	// durability via a commit subscriber.
	ts := s.nextTs
	s.nextTs++
	s.log.append(raftpb.LogRecord{Ts: ts, Operations: r.Operations})
	sub := newPromise()
	s.commitSubscribers[ts] = sub
	n.mu.Unlock()

	n.heartbeatTask.Trigger()
	n.flushTask.Trigger()

	resp, err := sub.wait(context.Background())
	if err != nil {
		return nil, err
	}
	return raftpb.ClientResponse{Success: resp.Success}, nil
}
