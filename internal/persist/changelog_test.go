package persist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssmike/raftkv/internal/raftpb"
)

func TestChangelogHasChangelogBeforeCreate(t *testing.T) {
	dir := t.TempDir()
	require.False(t, HasChangelog(dir))

	w, err := CreateChangelog(dir)
	require.NoError(t, err)
	defer w.Close()

	require.True(t, HasChangelog(dir))
}

func TestChangelogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := CreateChangelog(dir)
	require.NoError(t, err)

	recs := []raftpb.LogRecord{
		{Ts: 0, Operations: []raftpb.Operation{{Kind: raftpb.OpWrite, Key: "a", Value: "1"}}},
		{Ts: 1, Operations: []raftpb.Operation{{Kind: raftpb.OpWrite, Key: "b", Value: "2"}}},
		{Ts: 2, Operations: []raftpb.Operation{{Kind: raftpb.OpWrite, Key: "c", Value: "3"}}},
	}
	for _, rec := range recs {
		require.NoError(t, w.Append(rec))
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	reopened, replayed, err := OpenChangelog(dir, -1)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, recs, replayed)
}

func TestChangelogOpenSkipsRecordsAtOrBeforeFromTs(t *testing.T) {
	dir := t.TempDir()

	w, err := CreateChangelog(dir)
	require.NoError(t, err)
	for ts := int64(0); ts < 5; ts++ {
		require.NoError(t, w.Append(raftpb.LogRecord{Ts: ts}))
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	reopened, replayed, err := OpenChangelog(dir, 2)
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, replayed, 2)
	require.Equal(t, int64(3), replayed[0].Ts)
	require.Equal(t, int64(4), replayed[1].Ts)
}

func TestReadChangelogFromDoesNotDisturbWriter(t *testing.T) {
	dir := t.TempDir()

	w, err := CreateChangelog(dir)
	require.NoError(t, err)
	defer w.Close()

	for ts := int64(0); ts < 4; ts++ {
		require.NoError(t, w.Append(raftpb.LogRecord{Ts: ts}))
	}
	require.NoError(t, w.Sync())

	recs, err := ReadChangelogFrom(dir, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, int64(2), recs[0].Ts)
	require.Equal(t, int64(3), recs[1].Ts)

	// the writer handle is still usable after the read-only reopen.
	require.NoError(t, w.Append(raftpb.LogRecord{Ts: 4}))
	require.NoError(t, w.Sync())
}
