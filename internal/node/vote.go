package node

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ssmike/raftkv/internal/raftpb"
	"github.com/ssmike/raftkv/internal/transport"
)

// handleVoteRPC answers an incoming Vote RPC.
func (n *Node) handleVoteRPC(from int64, req interface{}) (interface{}, error) {
	r, ok := req.(raftpb.VoteRequest)
	if !ok {
		return nil, fmt.Errorf("node: unexpected Vote payload %T", req)
	}

	n.mu.Lock()
	s := n.st

	if s.currentTerm > r.Term {
		resp := raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: false}
		n.mu.Unlock()
		return resp, nil
	}

	if s.currentTerm < r.Term {
		s.role = Candidate
		s.currentTerm = r.Term
		s.leaderID = InvalidID
		s.votedForMe = make(map[int64]bool)
		n.mu.Unlock()
		n.electionTask.Trigger()
		n.mu.Lock()
	}

	behind := s.durableTs > r.Ts
	alreadyPledged := s.leaderID != InvalidID && r.VoteFor != s.leaderID
	if behind || alreadyPledged {
		resp := raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: false}
		n.mu.Unlock()
		return resp, nil
	}

	term := s.currentTerm
	n.mu.Unlock()

	if err := n.votes.Store(raftpb.VoteRecord{Term: term, Ts: r.Ts, VoteFor: r.VoteFor}); err != nil {
		n.fatal(fmt.Errorf("persist vote: %w", err))
	}

	n.mu.Lock()
	s.leaderID = r.VoteFor
	resp := raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: true}
	n.mu.Unlock()
	return resp, nil
}

// electionTick is the periodic elector task: it checks whether the quorum
// looks healthy and, if not, starts a new election.
func (n *Node) electionTick(time.Time) {
	n.mu.Lock()
	s := n.st
	now := time.Now()

	var latestHeartbeat time.Time
	if s.role.IsLeader() {
		latestHeartbeat = medianHeartbeat(s)
	} else {
		latestHeartbeat = s.latestHeartbeat
	}
	if latestHeartbeat.Add(n.electionTimeout).After(now) {
		n.mu.Unlock()
		return // quorum healthy
	}

	s.currentTerm++
	s.role = Candidate
	s.leaderID = InvalidID
	s.votedForMe = make(map[int64]bool)
	s.latestHeartbeat = now
	term := s.currentTerm
	myTs := s.durableTs
	n.mu.Unlock()

	// desynchronize candidates: sleep a random fraction of election_timeout.
	jitter := time.Duration(rand.Int63n(int64(n.electionTimeout))) / 2
	time.Sleep(jitter)

	n.mu.Lock()
	if s.currentTerm != term || (s.leaderID != InvalidID && s.leaderID != n.id) {
		n.mu.Unlock()
		return
	}
	if err := n.votes.Store(raftpb.VoteRecord{Term: term, Ts: myTs, VoteFor: n.id}); err != nil {
		n.mu.Unlock()
		n.fatal(fmt.Errorf("persist self vote: %w", err))
		return
	}
	s.votedForMe[n.id] = true
	if len(s.votedForMe) > s.quorumSize()-1 && !s.role.IsLeader() {
		n.becomeLeaderLocked()
	}
	peers := make([]int64, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		go n.sendVoteRequest(p, term, myTs)
	}
}

func (n *Node) sendVoteRequest(peer int64, term int64, ts int64) {
	ctx, cancel := n.rpcContext()
	defer cancel()

	resp, err := n.transport.Send(ctx, peer, transport.Vote, raftpb.VoteRequest{Term: term, Ts: ts, VoteFor: n.id}).Wait(ctx)
	if err != nil {
		return
	}
	r, ok := resp.(raftpb.Response)
	if !ok || !r.Success || r.Term != term {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.st
	if s.currentTerm != term || s.role.IsLeader() {
		return
	}
	if prog, ok := s.peers[peer]; ok {
		prog.durableTs = r.DurableTs
		prog.heartbeat = time.Now()
	}
	s.votedForMe[peer] = true

	if len(s.votedForMe) > s.quorumSize()-1 && !s.role.IsLeader() {
		n.becomeLeaderLocked()
	}
}

// becomeLeaderLocked must be called with n.mu held. It implements the
// leader-transition bullet of the election driver.
func (n *Node) becomeLeaderLocked() {
	s := n.st
	s.role = Leader
	s.leaderID = n.id
	s.readBarrierTs = s.durableTs
	n.advanceAppliedTimestampLocked()
	for ts, p := range s.commitSubscribers {
		p.fulfill(raftpb.Response{Success: false})
		delete(s.commitSubscribers, ts)
	}
	for _, p := range s.peers {
		if p.durableTs > s.appliedTs {
			p.durableTs = s.appliedTs
		}
		p.nextTs = s.appliedTs + 1
	}
	n.log.Infof("became leader at term %d", s.currentTerm)
	n.heartbeatTask.Trigger()
}

// medianHeartbeat returns the median of every peer's last heartbeat time,
// the leader's proxy for "is the quorum still listening to me".
func medianHeartbeat(s *nodeState) time.Time {
	times := make([]time.Time, 0, len(s.peers))
	for _, p := range s.peers {
		times = append(times, p.heartbeat)
	}
	if len(times) == 0 {
		return time.Now()
	}
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j-1].After(times[j]); j-- {
			times[j-1], times[j] = times[j], times[j-1]
		}
	}
	return times[len(times)/2]
}
