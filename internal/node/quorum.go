package node

import (
	"github.com/ssmike/raftkv/internal/raftpb"
	"github.com/ssmike/raftkv/internal/util"
)

// advanceAppliedTimestampLocked implements advance_applied_timestamp:
// sort every durable timestamp (this node's plus every peer's), take the
// majority index, and apply up to it. Must be called with n.mu held.
func (n *Node) advanceAppliedTimestampLocked() {
	q := util.MajorityInt64(n.st.durableTimestamps())
	n.advanceToLocked(q)
}

// advanceToLocked applies buffered records from applied_ts+1 up to and
// including the largest buffered ts <= to. Must be called with n.mu held.
func (n *Node) advanceToLocked(to int64) {
	s := n.st
	for {
		next := s.appliedTs + 1
		rec, ok := s.log.entryAt(next)
		if !ok || rec.Ts > to {
			return
		}
		s.fsm.Apply(rec.Operations)
		s.appliedTs = next
	}
}

// collectFiredSubscribersLocked removes and returns every commit
// subscriber whose ts is now <= applied_ts. Callers must fulfill the
// returned promises after releasing n.mu.
func (n *Node) collectFiredSubscribersLocked() []*promise {
	s := n.st
	var fired []*promise
	for ts, p := range s.commitSubscribers {
		if ts <= s.appliedTs {
			fired = append(fired, p)
			delete(s.commitSubscribers, ts)
		}
	}
	return fired
}

func fulfillAll(ps []*promise, resp raftpb.Response) {
	for _, p := range ps {
		p.fulfill(resp)
	}
}
