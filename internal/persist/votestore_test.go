package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ssmike/raftkv/internal/raftpb"
)

func TestVoteStoreRecoverEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewVoteStore(dir)

	_, ok, err := s.Recover()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVoteStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewVoteStore(dir)

	want := raftpb.VoteRecord{Term: 3, Ts: 100, VoteFor: 2}
	require.NoError(t, s.Store(want))

	got, ok, err := s.Recover()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestVoteStoreOverwritesPreviousVote(t *testing.T) {
	dir := t.TempDir()
	s := NewVoteStore(dir)

	require.NoError(t, s.Store(raftpb.VoteRecord{Term: 1, Ts: 10, VoteFor: 0}))
	require.NoError(t, s.Store(raftpb.VoteRecord{Term: 2, Ts: 20, VoteFor: 1}))

	got, ok, err := s.Recover()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, raftpb.VoteRecord{Term: 2, Ts: 20, VoteFor: 1}, got)
}

// TestVoteStoreSurvivesReopen exercises the actual on-disk WAL replay path
// (not just the in-process cache) by opening a fresh VoteStore over a
// directory a previous one wrote to, the same thing a restarting node does.
func TestVoteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	first := NewVoteStore(dir)
	require.NoError(t, first.Store(raftpb.VoteRecord{Term: 1, Ts: 10, VoteFor: 0}))
	require.NoError(t, first.Store(raftpb.VoteRecord{Term: 5, Ts: 40, VoteFor: 2}))
	require.NoError(t, first.Close())

	second := NewVoteStore(dir)
	got, ok, err := second.Recover()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, raftpb.VoteRecord{Term: 5, Ts: 40, VoteFor: 2}, got)
}
