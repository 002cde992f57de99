package node

import (
	log "github.com/sirupsen/logrus"

	"github.com/ssmike/raftkv/internal/raftpb"
	"github.com/ssmike/raftkv/internal/util"
)

// bufferedLog holds the suffix of the replicated log still resident in
// memory: a contiguous run of records with strictly increasing timestamps,
// plus how much of that run has already been handed to the flusher.
//
// [0, flushedIndex) have already been written to the active changelog;
// [flushedIndex, len) are buffered only in memory. Entries fall out of the
// front once they are both applied and outside the configured backlog
// window (see dropPrefix), independent of the flushed boundary.
type bufferedLog struct {
	id           int64
	entries      []raftpb.LogRecord
	flushedIndex int
}

func newBufferedLog(id int64) *bufferedLog {
	return &bufferedLog{id: id}
}

func (l *bufferedLog) len() int {
	return len(l.entries)
}

func (l *bufferedLog) firstTs() (int64, bool) {
	if len(l.entries) == 0 {
		return 0, false
	}
	return l.entries[0].Ts, true
}

func (l *bufferedLog) lastTs() (int64, bool) {
	if len(l.entries) == 0 {
		return 0, false
	}
	return l.entries[len(l.entries)-1].Ts, true
}

// indexOf returns the slice index holding ts, if ts falls within the
// buffered range.
func (l *bufferedLog) indexOf(ts int64) (int, bool) {
	first, ok := l.firstTs()
	if !ok {
		return 0, false
	}
	idx := int(ts - first)
	if idx < 0 || idx >= len(l.entries) {
		return 0, false
	}
	util.Assert(l.entries[idx].Ts == ts, "%d buffered log index drift at ts %d", l.id, ts)
	return idx, true
}

// entryAt returns the buffered record at ts, if any.
func (l *bufferedLog) entryAt(ts int64) (raftpb.LogRecord, bool) {
	idx, ok := l.indexOf(ts)
	if !ok {
		return raftpb.LogRecord{}, false
	}
	return l.entries[idx], true
}

// append adds rec at the end. The caller is responsible for rec.Ts being
// exactly one past the current lastTs (or the first entry in an empty
// log); that invariant is the essence of next_ts bookkeeping and is
// checked here rather than silently tolerated.
func (l *bufferedLog) append(rec raftpb.LogRecord) {
	if last, ok := l.lastTs(); ok {
		util.Assert(rec.Ts == last+1, "%d append ts %d not contiguous with last %d", l.id, rec.Ts, last)
	}
	l.entries = append(l.entries, rec)
}

// truncateAt discards every buffered entry with ts >= at, used when a new
// leader's Append diverges from what this follower had buffered.
func (l *bufferedLog) truncateAt(at int64) {
	idx, ok := l.indexOf(at)
	if !ok {
		if first, ok := l.firstTs(); ok && at < first {
			log.Debugf("%d truncate at %d before buffered start %d, clearing", l.id, at, first)
			l.entries = nil
			l.flushedIndex = 0
		}
		return
	}
	l.entries = l.entries[:idx]
	if l.flushedIndex > len(l.entries) {
		l.flushedIndex = len(l.entries)
	}
}

// dropPrefix removes the first n entries, which the caller has established
// are applied and outside the applied backlog window. flushedIndex moves
// back by n, stopping at 0.
func (l *bufferedLog) dropPrefix(n int) {
	if n <= 0 {
		return
	}
	util.Assert(n <= len(l.entries), "%d dropPrefix %d exceeds length %d", l.id, n, len(l.entries))
	l.entries = l.entries[n:]
	l.flushedIndex -= n
	if l.flushedIndex < 0 {
		l.flushedIndex = 0
	}
}

// toFlush returns the not-yet-flushed suffix.
func (l *bufferedLog) toFlush() []raftpb.LogRecord {
	return l.entries[l.flushedIndex:]
}

// advanceFlushed moves flushedIndex forward by n, called once the flusher
// has durably written the n records it read from toFlush(). n, not an
// absolute index, because entries may have been appended concurrently
// between the read and this call.
func (l *bufferedLog) advanceFlushed(n int) {
	l.flushedIndex += n
}

// sliceFrom returns up to max buffered entries starting at ts, for
// assembling an Append RPC batch. It returns nil if ts isn't buffered.
func (l *bufferedLog) sliceFrom(ts int64, max int) []raftpb.LogRecord {
	idx, ok := l.indexOf(ts)
	if !ok {
		return nil
	}
	end := idx + max
	if end > len(l.entries) {
		end = len(l.entries)
	}
	return l.entries[idx:end]
}
