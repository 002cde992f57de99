package node

import (
	"fmt"
	"time"

	"github.com/ssmike/raftkv/internal/persist"
	"github.com/ssmike/raftkv/internal/raftpb"
	"github.com/ssmike/raftkv/internal/transport"
)

// handleRecoverySnapshotRPC answers one chunk of an incoming recovery
// snapshot transfer.
func (n *Node) handleRecoverySnapshotRPC(from int64, req interface{}) (interface{}, error) {
	r, ok := req.(raftpb.RecoverySnapshotRequest)
	if !ok {
		return nil, fmt.Errorf("node: unexpected RecoverySnapshot payload %T", req)
	}

	n.mu.Lock()
	s := n.st

	if !s.role.IsFollower() || r.AppliedTs <= s.appliedTs || r.Term != s.currentTerm {
		resp := raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: false}
		n.mu.Unlock()
		return resp, nil
	}

	if !s.recovery.matches(r.Term, r.AppliedTs) {
		if !r.Start {
			resp := raftpb.Response{Term: s.currentTerm, Success: false}
			n.mu.Unlock()
			return resp, nil
		}
		n.mu.Unlock()

		writer, err := persist.CreateSnapshot(n.dir, r.AppliedTs, r.Size)
		if err != nil {
			n.fatal(fmt.Errorf("create recovery snapshot: %w", err))
			return nil, err
		}

		n.mu.Lock()
		s.recovery = &incomingSnapshot{term: r.Term, appliedTs: r.AppliedTs, remaining: r.Size, writer: writer}
	}

	for _, op := range r.Operations {
		s.fsm.Set(op.Key, op.Value)
		if err := s.recovery.writer.Append(op.Key, op.Value); err != nil {
			n.mu.Unlock()
			n.fatal(fmt.Errorf("write recovery snapshot: %w", err))
			return nil, err
		}
		s.recovery.remaining--
	}

	var resp raftpb.Response
	switch {
	case !r.End:
		resp = raftpb.Response{Term: s.currentTerm, Success: true}
	case s.recovery.remaining == 0:
		if err := s.recovery.writer.Finish(); err != nil {
			n.mu.Unlock()
			n.fatal(fmt.Errorf("finish recovery snapshot: %w", err))
			return nil, err
		}
		s.appliedTs = r.AppliedTs
		if s.appliedTs > s.durableTs {
			s.durableTs = s.appliedTs
		}
		s.nextTs = s.durableTs + 1
		s.recovery = nil
		resp = raftpb.Response{Term: s.currentTerm, DurableTs: s.durableTs, NextTs: s.nextTs, Success: true}
	default:
		s.recovery.writer.Finish()
		s.recovery = nil
		resp = raftpb.Response{Term: s.currentTerm, Success: false}
	}
	n.mu.Unlock()
	return resp, nil
}

// staleAgentTick is the leader's periodic stale-node recovery agent: any
// peer whose acknowledged next_ts has fallen behind the oldest buffered
// record gets caught up via a snapshot transfer plus changelog replay,
// since ordinary heartbeats can no longer reach it with buffered records.
func (n *Node) staleAgentTick(time.Time) {
	n.mu.Lock()
	s := n.st
	if !s.role.IsLeader() {
		n.mu.Unlock()
		return
	}
	threshold := s.appliedTs
	if first, ok := s.log.firstTs(); ok {
		threshold = first
	}
	term := s.currentTerm
	var stale []int64
	for p, prog := range s.peers {
		if prog.nextTs < threshold {
			stale = append(stale, p)
		}
	}
	n.mu.Unlock()

	for _, p := range stale {
		go n.recoverStalePeer(p, term)
	}
}

func (n *Node) recoverStalePeer(peer int64, term int64) {
	n.mu.Lock()
	prog, ok := n.st.peers[peer]
	if !ok {
		n.mu.Unlock()
		return
	}
	wantFrom := prog.nextTs
	n.mu.Unlock()

	snapshots, err := persist.ListSnapshots(n.dir)
	if err != nil {
		n.log.WithError(err).Warn("stale-agent: list snapshots")
		return
	}
	if len(snapshots) == 0 {
		return
	}

	// Scan from the newest snapshot backward, taking the first (i.e.
	// newest) one that covers the peer's gap; if none does, the newest is
	// still the best available base and the changelog replay that follows
	// makes up the rest.
	chosen := snapshots[len(snapshots)-1]
	for i := len(snapshots) - 1; i >= 0; i-- {
		if snapshots[i] >= wantFrom {
			chosen = snapshots[i]
			break
		}
	}

	entries, appliedTs, err := readSnapshotEntries(n.dir, chosen)
	if err != nil {
		n.log.WithError(err).Warn("stale-agent: read snapshot")
		return
	}

	if !n.streamSnapshot(peer, term, appliedTs, entries) {
		return
	}

	nextTs, ok := n.replayChangelogsToPeer(peer, term, chosen+1)
	if !ok {
		return
	}

	n.mu.Lock()
	if prog, ok := n.st.peers[peer]; ok {
		prog.nextTs = nextTs
	}
	n.mu.Unlock()
}

func readSnapshotEntries(dir string, ts int64) ([]raftpb.Operation, int64, error) {
	r, err := persist.OpenSnapshot(dir, ts)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	entries := make([]raftpb.Operation, 0, r.EntryCount)
	for {
		k, v, ok, err := r.Next()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			break
		}
		entries = append(entries, raftpb.Operation{Kind: raftpb.OpWrite, Key: k, Value: v})
	}
	return entries, r.AppliedTs, nil
}

func (n *Node) streamSnapshot(peer, term, appliedTs int64, entries []raftpb.Operation) bool {
	size := int64(len(entries))
	chunks := chunkOperations(entries, n.rpcMaxBatch)
	if len(chunks) == 0 {
		chunks = [][]raftpb.Operation{nil}
	}

	for i, chunk := range chunks {
		req := raftpb.RecoverySnapshotRequest{
			Term: term, AppliedTs: appliedTs, Size: size,
			Start: i == 0, End: i == len(chunks)-1,
			Operations: chunk,
		}
		ctx, cancel := n.rpcContext()
		resp, err := n.transport.Send(ctx, peer, transport.RecoverySnapshot, req).Wait(ctx)
		cancel()
		if err != nil {
			return false
		}
		r, ok := resp.(raftpb.Response)
		if !ok || !r.Success {
			return false
		}
	}
	return true
}

func chunkOperations(ops []raftpb.Operation, max int) [][]raftpb.Operation {
	if max <= 0 {
		max = 1
	}
	var chunks [][]raftpb.Operation
	for i := 0; i < len(ops); i += max {
		end := i + max
		if end > len(ops) {
			end = len(ops)
		}
		chunks = append(chunks, ops[i:end])
	}
	return chunks
}

// replayChangelogsToPeer sends every changelog record with ts >= from to
// peer via Append RPCs, batched to rpcMaxBatch, in order.
func (n *Node) replayChangelogsToPeer(peer int64, term int64, from int64) (nextTs int64, ok bool) {
	toSend, err := persist.ReadChangelogFrom(n.dir, from)
	if err != nil {
		return 0, false
	}

	nextTs = from
	for i := 0; i < len(toSend); i += n.rpcMaxBatch {
		end := i + n.rpcMaxBatch
		if end > len(toSend) {
			end = len(toSend)
		}
		batch := toSend[i:end]

		n.mu.Lock()
		if n.st.currentTerm != term || !n.st.role.IsLeader() {
			n.mu.Unlock()
			return 0, false
		}
		applied := n.st.appliedTs
		n.mu.Unlock()

		req := raftpb.AppendRequest{Term: term, AppliedTs: applied, Records: batch}
		ctx, cancel := n.rpcContext()
		resp, err := n.transport.Send(ctx, peer, transport.Append, req).Wait(ctx)
		cancel()
		if err != nil {
			return 0, false
		}
		r, ok := resp.(raftpb.Response)
		if !ok || !r.Success {
			return 0, false
		}
		nextTs = r.NextTs
	}
	return nextTs, true
}
