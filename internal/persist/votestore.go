package persist

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	wal "github.com/thinkermao/wal-go"

	"github.com/ssmike/raftkv/internal/raftpb"
)

// VoteStore persists the single vote record a node must durably record
// before casting a vote or starting a term. Term only ever increases, so
// rather than a whole-file atomic replace it is kept as a one-record-
// per-term write-ahead log, wired on the same wal-go dependency the
// teacher's live Raft.wal uses for its hard state: recovery is "replay and
// keep the last record", not "read a file at a known path". Its own mutex
// is the third of the node's three locks, independent of the state lock
// and the changelog's.
type VoteStore struct {
	mu  sync.Mutex
	dir string
	w   *wal.Wal

	last    raftpb.VoteRecord
	hasLast bool
}

// NewVoteStore returns a VoteStore rooted at dir. It does no I/O itself;
// the underlying WAL is opened lazily on first Store or Recover.
func NewVoteStore(dir string) *VoteStore {
	return &VoteStore{dir: dir}
}

func voteDir(dir string) string {
	return filepath.Join(dir, "vote")
}

func (s *VoteStore) ensureOpenLocked() error {
	if s.w != nil {
		return nil
	}

	if _, err := os.Stat(voteDir(s.dir)); os.IsNotExist(err) {
		w, err := wal.Create(voteDir(s.dir), 1)
		if err != nil {
			return err
		}
		s.w = w
		return nil
	}

	reader := func(index uint64, data []byte) error {
		var rec raftpb.VoteRecord
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
			return nil
		}
		s.last, s.hasLast = rec, true
		return nil
	}
	w, err := wal.Open(voteDir(s.dir), 1, reader)
	if err != nil {
		return err
	}
	s.w = w
	return nil
}

// Store durably appends rec, keyed by its term, and fsyncs before
// returning: the caller (a Vote RPC reply, or a candidate's own self-vote)
// must not proceed until this has completed.
func (s *VoteStore) Store(rec raftpb.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	if err := <-s.w.Write(uint64(rec.Term)+1, buf.Bytes()); err != nil {
		return err
	}
	if err := <-s.w.Sync(); err != nil {
		return err
	}
	s.last, s.hasLast = rec, true
	return nil
}

// Recover returns the last durably stored vote, if any. ok is false when
// no vote has ever been cast, the normal state for a brand-new node.
func (s *VoteStore) Recover() (rec raftpb.VoteRecord, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(); err != nil {
		return raftpb.VoteRecord{}, false, err
	}
	return s.last, s.hasLast, nil
}

// Close closes the underlying WAL, if it was ever opened.
func (s *VoteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	return s.w.Close()
}
