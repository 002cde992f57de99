package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssmike/raftkv/internal/raftpb"
)

func TestApplyOverwritesAndIgnoresReads(t *testing.T) {
	f := New()
	f.Apply([]raftpb.Operation{
		{Kind: raftpb.OpWrite, Key: "a", Value: "1"},
		{Kind: raftpb.OpRead, Key: "a"},
		{Kind: raftpb.OpWrite, Key: "a", Value: "2"},
	})

	v, ok := f.Get("a")
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestEntriesAreSortedByKey(t *testing.T) {
	f := New()
	f.Apply([]raftpb.Operation{
		{Kind: raftpb.OpWrite, Key: "c", Value: "3"},
		{Kind: raftpb.OpWrite, Key: "a", Value: "1"},
		{Kind: raftpb.OpWrite, Key: "b", Value: "2"},
	})

	entries := f.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{entries[0].Key, entries[1].Key, entries[2].Key})
}

func TestCloneIsIndependent(t *testing.T) {
	f := New()
	f.Set("a", "1")

	clone := f.Clone()
	f.Set("a", "2")

	v, ok := clone.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v, "clone must not observe mutations made after it was taken")
}

func TestResetReplacesContents(t *testing.T) {
	f := New()
	f.Set("stale", "value")

	f.Reset([]raftpb.Operation{{Kind: raftpb.OpWrite, Key: "fresh", Value: "1"}})

	_, ok := f.Get("stale")
	require.False(t, ok)
	v, ok := f.Get("fresh")
	require.True(t, ok)
	require.Equal(t, "1", v)
}
