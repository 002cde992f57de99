package node

import (
	"github.com/ssmike/raftkv/internal/persist"
	"github.com/ssmike/raftkv/internal/raftpb"
)

// recover runs the startup & recovery sequence: discover what's on disk,
// load the newest usable snapshot, open the changelog (replaying every
// record newer than that snapshot into the buffered log), and restore the
// last persisted vote.
func (n *Node) recover() error {
	snapshots, err := persist.ListSnapshots(n.dir)
	if err != nil {
		return err
	}

	if err := n.loadNewestSnapshot(snapshots); err != nil {
		return err
	}

	var writer *persist.ChangelogWriter
	if persist.HasChangelog(n.dir) {
		var records []raftpb.LogRecord
		writer, records, err = persist.OpenChangelog(n.dir, n.st.appliedTs)
		if err != nil {
			return err
		}
		n.applyRecoveredRecords(records)
	} else {
		writer, err = persist.CreateChangelog(n.dir)
		if err != nil {
			return err
		}
	}
	n.changelog = writer

	vote, ok, err := n.votes.Recover()
	if err != nil {
		return err
	}
	if ok {
		n.st.currentTerm = vote.Term
		n.st.leaderID = vote.VoteFor
	}

	n.log.Infof("recovered: term=%d applied_ts=%d durable_ts=%d next_ts=%d",
		n.st.currentTerm, n.st.appliedTs, n.st.durableTs, n.st.nextTs)
	return nil
}

// loadNewestSnapshot loads the newest snapshot whose body parses cleanly
// in full, trying progressively older ones on failure.
func (n *Node) loadNewestSnapshot(snapshots []int64) error {
	for i := len(snapshots) - 1; i >= 0; i-- {
		ts := snapshots[i]
		ok, err := n.tryLoadSnapshot(ts)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		n.log.Warnf("snapshot %d did not parse cleanly, trying an older one", ts)
	}
	// no usable snapshot: start from empty state.
	n.st.appliedTs = -1
	n.st.durableTs = -1
	n.st.nextTs = 0
	return nil
}

func (n *Node) tryLoadSnapshot(ts int64) (ok bool, err error) {
	r, err := persist.OpenSnapshot(n.dir, ts)
	if err != nil {
		return false, nil
	}
	defer r.Close()

	entries := make([]raftpb.Operation, 0, r.EntryCount)
	for {
		k, v, ok, err := r.Next()
		if err != nil {
			return false, nil
		}
		if !ok {
			break
		}
		entries = append(entries, raftpb.Operation{Kind: raftpb.OpWrite, Key: k, Value: v})
	}
	if int64(len(entries)) != r.EntryCount {
		return false, nil
	}

	n.st.fsm.Reset(entries)
	n.st.appliedTs = r.AppliedTs
	n.st.durableTs = r.AppliedTs
	n.st.nextTs = r.AppliedTs + 1
	return true, nil
}

// applyRecoveredRecords installs records replayed from the changelog (every
// one with ts > the loaded snapshot's applied_ts, already in ascending ts
// order) into the buffered log, and advances durable_ts/next_ts past them.
func (n *Node) applyRecoveredRecords(records []raftpb.LogRecord) {
	n.st.log.entries = records
	n.st.log.flushedIndex = len(records)

	if len(records) == 0 {
		return
	}
	last := records[len(records)-1].Ts
	if last > n.st.durableTs {
		n.st.durableTs = last
	}
	if last+1 > n.st.nextTs {
		n.st.nextTs = last + 1
	}
}
