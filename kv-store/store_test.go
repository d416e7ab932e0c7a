package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	paxos "github.com/AbyelT/omnipaxos/sequence-paxos"
)

func mustEncode(t *testing.T, cmd Command) []byte {
	t.Helper()
	msg, err := EncodeCommand(cmd)
	require.NoError(t, err)
	return msg
}

func TestStore_Apply(t *testing.T) {
	store := NewStore()

	err := store.Apply(paxos.LogRead{Entries: []paxos.Entry{
		{Index: 0, Command: mustEncode(t, Command{Kind: CmdSet, Key: "a", Value: "1"})},
		{Index: 1, Command: mustEncode(t, Command{Kind: CmdSet, Key: "b", Value: "2"})},
		{Index: 2, Command: mustEncode(t, Command{Kind: CmdDelete, Key: "a"})},
	}})
	require.NoError(t, err)

	_, ok := store.Get("a")
	require.False(t, ok)

	value, ok := store.Get("b")
	require.True(t, ok)
	require.Equal(t, "2", value)
	require.Equal(t, uint64(3), store.Applied())
}

func TestStore_ApplyIsIdempotent(t *testing.T) {
	store := NewStore()

	read := paxos.LogRead{Entries: []paxos.Entry{
		{Index: 0, Command: mustEncode(t, Command{Kind: CmdSet, Key: "a", Value: "1"})},
	}}

	require.NoError(t, store.Apply(read))
	require.NoError(t, store.Apply(read))
	require.Equal(t, uint64(1), store.Applied())
	require.Equal(t, 1, store.Len())
}

func TestStore_ApplySkipsReconfigMarkers(t *testing.T) {
	store := NewStore()

	err := store.Apply(paxos.LogRead{Entries: []paxos.Entry{
		{Index: 0, Command: mustEncode(t, Command{Kind: CmdSet, Key: "a", Value: "1"})},
		{Index: 1, Reconfig: &paxos.ClusterChange{ConfigID: 2, Members: []uint64{1, 2}}},
	}})
	require.NoError(t, err)

	require.Equal(t, uint64(2), store.Applied())
	require.Equal(t, 1, store.Len())
}

func TestStore_ApplySnapshot(t *testing.T) {
	store := NewStore()

	err := store.Apply(paxos.LogRead{
		Snapshot: &paxos.Snapshot{Index: 5, Data: []byte(`{"a":"1","b":"2"}`)},
		Entries: []paxos.Entry{
			{Index: 5, Command: mustEncode(t, Command{Kind: CmdSet, Key: "c", Value: "3"})},
		},
	})
	require.NoError(t, err)

	require.Equal(t, uint64(6), store.Applied())
	require.Equal(t, 3, store.Len())

	value, ok := store.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", value)
}

func TestFoldSnapshot(t *testing.T) {
	entries := []paxos.Entry{
		{Index: 0, Command: mustEncode(t, Command{Kind: CmdSet, Key: "a", Value: "1"})},
		{Index: 1, Command: mustEncode(t, Command{Kind: CmdSet, Key: "b", Value: "2"})},
		{Index: 2, Reconfig: &paxos.ClusterChange{ConfigID: 2, Members: []uint64{1, 2}}},
	}

	blob, err := FoldSnapshot(nil, entries)
	require.NoError(t, err)

	more := []paxos.Entry{
		{Index: 3, Command: mustEncode(t, Command{Kind: CmdDelete, Key: "a"})},
		{Index: 4, Command: mustEncode(t, Command{Kind: CmdSet, Key: "c", Value: "3"})},
	}

	blob, err = FoldSnapshot(blob, more)
	require.NoError(t, err)

	store := NewStore()
	require.NoError(t, store.Apply(paxos.LogRead{Snapshot: &paxos.Snapshot{Index: 5, Data: blob}}))

	_, ok := store.Get("a")
	require.False(t, ok)

	value, ok := store.Get("c")
	require.True(t, ok)
	require.Equal(t, "3", value)
	require.Equal(t, uint64(5), store.Applied())
}
