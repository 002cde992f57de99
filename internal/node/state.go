package node

import (
	"time"

	"github.com/ssmike/raftkv/internal/fsm"
	"github.com/ssmike/raftkv/internal/persist"
)

// peerProgress is this node's view of one peer's replication state. There
// is one entry per member other than self.
type peerProgress struct {
	nextTs    int64
	durableTs int64
	heartbeat time.Time
}

// incomingSnapshot tracks a RecoverySnapshot transfer currently being
// received from the leader, across however many chunked RPCs it takes.
type incomingSnapshot struct {
	term      int64
	appliedTs int64
	remaining int64
	writer    *persist.SnapshotWriter
}

func (s *incomingSnapshot) matches(term, appliedTs int64) bool {
	return s != nil && s.term == term && s.appliedTs == appliedTs
}

// nodeState is everything the spec calls "Node State": all of it lives
// under Node.mu, and nothing here is touched while an RPC or disk write is
// in flight.
type nodeState struct {
	currentTerm int64
	role        Role
	leaderID    int64
	votedForMe  map[int64]bool

	latestHeartbeat time.Time

	durableTs     int64
	appliedTs     int64
	nextTs        int64
	readBarrierTs int64

	log *bufferedLog
	fsm *fsm.FSM

	peers map[int64]*peerProgress

	commitSubscribers map[int64]*promise
	flushEvent        *promise

	recovery *incomingSnapshot
}

func newNodeState(id int64, peerIDs []int64) *nodeState {
	peers := make(map[int64]*peerProgress, len(peerIDs))
	for _, p := range peerIDs {
		peers[p] = &peerProgress{}
	}
	return &nodeState{
		currentTerm:       0,
		role:              Candidate,
		leaderID:          InvalidID,
		votedForMe:        make(map[int64]bool),
		durableTs:         -1,
		appliedTs:         -1,
		nextTs:            0,
		readBarrierTs:     0,
		log:               newBufferedLog(id),
		fsm:               fsm.New(),
		peers:             peers,
		commitSubscribers: make(map[int64]*promise),
		flushEvent:        newPromise(),
	}
}

// quorumSize returns the number of votes/acks needed for a majority of the
// whole membership (self plus every entry in peers).
func (s *nodeState) quorumSize() int {
	return (len(s.peers)+1)/2 + 1
}

// durableTimestamps returns this node's own durable_ts plus every peer's,
// the input to quorum advancement.
func (s *nodeState) durableTimestamps() []int64 {
	out := make([]int64, 0, len(s.peers)+1)
	out = append(out, s.durableTs)
	for _, p := range s.peers {
		out = append(out, p.durableTs)
	}
	return out
}
