// Package fsm holds the replicated key/value map every node applies its
// committed log records against.
package fsm

import (
	"sort"

	"github.com/ssmike/raftkv/internal/raftpb"
)

// FSM is a string-to-string map mutated only by WRITE operations. Reads
// never mutate it. It is safe for concurrent readers once Clone()'d; the
// live instance is expected to be guarded by the node's own state lock, not
// by an internal lock, matching the reference implementation where the FSM
// is read only by the state lock holder except during snapshot cloning.
type FSM struct {
	data map[string]string
}

// New returns an empty FSM.
func New() *FSM {
	return &FSM{data: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (f *FSM) Get(key string) (string, bool) {
	v, ok := f.data[key]
	return v, ok
}

// Apply applies the write operations of a record, in order. Read operations
// are ignored here; they are served directly against Get by the caller.
func (f *FSM) Apply(ops []raftpb.Operation) {
	for _, op := range ops {
		if op.Kind == raftpb.OpWrite {
			f.data[op.Key] = op.Value
		}
	}
}

// Len returns the number of keys currently stored.
func (f *FSM) Len() int {
	return len(f.data)
}

// Entries returns all key/value pairs in deterministic, sorted-by-key
// order, required so two independent snapshots of an identical map produce
// byte-identical output.
func (f *FSM) Entries() []raftpb.Operation {
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]raftpb.Operation, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, raftpb.Operation{Kind: raftpb.OpWrite, Key: k, Value: f.data[k]})
	}
	return entries
}

// Clone returns a deep, independent copy of the map. Used by the rotator to
// take a point-in-time snapshot without holding the node lock while it is
// serialized to disk.
func (f *FSM) Clone() *FSM {
	dup := make(map[string]string, len(f.data))
	for k, v := range f.data {
		dup[k] = v
	}
	return &FSM{data: dup}
}

// Reset discards all entries and replaces them with entries, used when
// installing a snapshot loaded from disk or received from the leader.
func (f *FSM) Reset(entries []raftpb.Operation) {
	f.data = make(map[string]string, len(entries))
	for _, e := range entries {
		f.data[e.Key] = e.Value
	}
}

// Set installs a single key directly, used while streaming an incoming
// recovery snapshot chunk by chunk.
func (f *FSM) Set(key, value string) {
	f.data[key] = value
}
