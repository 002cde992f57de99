package persist

import (
	"github.com/ssmike/raftkv/internal/raftpb"
)

// SnapshotWriter writes a full-state snapshot: an entry count header, the
// applied_ts it is consistent with, then one single-operation LogRecord per
// FSM entry.
type SnapshotWriter struct {
	bf        *BufferedFile
	remaining int64
}

// CreateSnapshot creates snapshot.<appliedTs> and writes its header.
// entryCount must equal the number of calls to Append that will follow.
func CreateSnapshot(dir string, appliedTs int64, entryCount int64) (*SnapshotWriter, error) {
	bf, err := Create(SnapshotPath(dir, appliedTs))
	if err != nil {
		return nil, err
	}
	if err := bf.WriteInt64(entryCount); err != nil {
		bf.Close()
		return nil, err
	}
	if err := bf.WriteInt64(appliedTs); err != nil {
		bf.Close()
		return nil, err
	}
	return &SnapshotWriter{bf: bf, remaining: entryCount}, nil
}

// Append writes one FSM entry as a single-operation LogRecord.
func (w *SnapshotWriter) Append(key, value string) error {
	rec := raftpb.LogRecord{
		Operations: []raftpb.Operation{{Kind: raftpb.OpWrite, Key: key, Value: value}},
	}
	w.remaining--
	return w.bf.WriteLogRecord(rec)
}

// Finish fsyncs and closes the snapshot file.
func (w *SnapshotWriter) Finish() error {
	if err := w.bf.Sync(); err != nil {
		w.bf.Close()
		return err
	}
	return w.bf.Close()
}

// SnapshotReader reads a snapshot's header and then its entries in order.
type SnapshotReader struct {
	bf         *BufferedFile
	EntryCount int64
	AppliedTs  int64
}

// OpenSnapshot opens snapshot.<ts> and reads its header.
func OpenSnapshot(dir string, ts int64) (*SnapshotReader, error) {
	bf, err := OpenForRead(SnapshotPath(dir, ts))
	if err != nil {
		return nil, err
	}
	count, err := bf.ReadInt64()
	if err != nil {
		bf.Close()
		return nil, err
	}
	applied, err := bf.ReadInt64()
	if err != nil {
		bf.Close()
		return nil, err
	}
	return &SnapshotReader{bf: bf, EntryCount: count, AppliedTs: applied}, nil
}

// Next returns the next entry, or ok=false once the body fails to parse
// cleanly (including honest end-of-file): the loader in startup.go treats
// any snapshot that doesn't parse cleanly in full as unusable and falls
// back to an older one.
func (r *SnapshotReader) Next() (key, value string, ok bool, err error) {
	rec, ok, err := r.bf.ReadLogRecord()
	if err != nil || !ok || len(rec.Operations) != 1 {
		return "", "", false, err
	}
	return rec.Operations[0].Key, rec.Operations[0].Value, true, nil
}

// Close closes the underlying file.
func (r *SnapshotReader) Close() error {
	return r.bf.Close()
}
