package node

// Status is a point-in-time snapshot of a node's soft state, for
// introspection (the tests use it to find the leader and follow progress).
type Status struct {
	ID        int64
	Role      Role
	LeaderID  int64
	Term      int64
	AppliedTs int64
	DurableTs int64
	NextTs    int64
}

// Status returns the node's current soft state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.st
	return Status{
		ID:        n.id,
		Role:      s.role,
		LeaderID:  s.leaderID,
		Term:      s.currentTerm,
		AppliedTs: s.appliedTs,
		DurableTs: s.durableTs,
		NextTs:    s.nextTs,
	}
}

// Get serves a local, non-linearizable read directly against the FSM,
// without the read barrier; RPC clients should prefer ClientRequest, which
// honors it.
func (n *Node) Get(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st.fsm.Get(key)
}
