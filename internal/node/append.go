package node

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ssmike/raftkv/internal/raftpb"
	"github.com/ssmike/raftkv/internal/transport"
	"github.com/ssmike/raftkv/internal/util"
)

// handleAppendRPC answers an incoming Append RPC: the follower path.
func (n *Node) handleAppendRPC(from int64, req interface{}) (interface{}, error) {
	r, ok := req.(raftpb.AppendRequest)
	if !ok {
		return nil, fmt.Errorf("node: unexpected Append payload %T", req)
	}

	n.mu.Lock()
	s := n.st

	if r.Term < s.currentTerm {
		resp := raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: false}
		n.mu.Unlock()
		return resp, nil
	}
	if r.Term > s.currentTerm {
		s.currentTerm = r.Term
	}
	s.role = Follower
	s.latestHeartbeat = time.Now()
	s.leaderID = from

	hasNew := false
	for _, x := range r.Records {
		if x.Ts <= s.appliedTs {
			continue
		}
		if s.nextTs > x.Ts {
			existing, ok := s.log.entryAt(x.Ts)
			if ok && recordsEqual(existing, x) {
				continue
			}
			s.log.truncateAt(x.Ts)
			s.nextTs = x.Ts
			if s.durableTs >= x.Ts {
				s.durableTs = x.Ts - 1
			}
		}
		if x.Ts == s.nextTs {
			s.log.append(x)
			s.nextTs++
			hasNew = true
		}
	}

	n.advanceToLocked(util.MinInt64(r.AppliedTs, s.durableTs))
	flushEvent := s.flushEvent
	n.mu.Unlock()

	if hasNew {
		n.flushTask.Trigger()
	}

	flushEvent.wait(context.Background())

	n.mu.Lock()
	resp := raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: true}
	n.mu.Unlock()
	return resp, nil
}

func recordsEqual(a, b raftpb.LogRecord) bool {
	return a.Ts == b.Ts && reflect.DeepEqual(a.Operations, b.Operations)
}

// heartbeatTick is the leader's periodic "sender" task: an Append RPC to
// every peer, carrying whatever records that peer hasn't acknowledged yet.
func (n *Node) heartbeatTick(time.Time) {
	n.mu.Lock()
	s := n.st
	if !s.role.IsLeader() {
		n.mu.Unlock()
		return
	}

	term := s.currentTerm
	appliedTs := s.appliedTs
	firstBufferedTs, hasBuffer := s.log.firstTs()

	type outgoing struct {
		peer int64
		req  raftpb.AppendRequest
	}
	var batch []outgoing
	for p, prog := range s.peers {
		var recs []raftpb.LogRecord
		if hasBuffer && prog.nextTs >= firstBufferedTs {
			recs = s.log.sliceFrom(prog.nextTs, n.rpcMaxBatch)
		}
		batch = append(batch, outgoing{peer: p, req: raftpb.AppendRequest{
			Term: term, AppliedTs: appliedTs, Records: recs,
		}})
	}
	n.mu.Unlock()

	for _, o := range batch {
		go n.sendAppend(o.peer, o.req)
	}
}

func (n *Node) sendAppend(peer int64, req raftpb.AppendRequest) {
	ctx, cancel := n.rpcContext()
	defer cancel()

	resp, err := n.transport.Send(ctx, peer, transport.Append, req).Wait(ctx)
	if err != nil {
		return
	}
	r, ok := resp.(raftpb.Response)
	if !ok {
		return
	}

	n.mu.Lock()
	s := n.st
	if s.currentTerm != req.Term || !s.role.IsLeader() {
		n.mu.Unlock()
		return
	}
	if r.Term > s.currentTerm {
		s.currentTerm = r.Term
		s.role = Follower
		s.leaderID = InvalidID
		n.mu.Unlock()
		return
	}
	if !r.Success {
		n.mu.Unlock()
		return
	}

	prog, ok := s.peers[peer]
	if !ok {
		n.mu.Unlock()
		return
	}
	prog.nextTs = r.NextTs
	prog.durableTs = r.DurableTs
	prog.heartbeat = time.Now()

	n.advanceAppliedTimestampLocked()
	fired := n.collectFiredSubscribersLocked()
	n.mu.Unlock()

	fulfillAll(fired, raftpb.Response{Success: true})
}
