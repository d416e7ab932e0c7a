package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"

	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

func testEntries(n int, from uint64) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Index:   from + uint64(i),
			Ballot:  ble.Ballot{Number: 1, PID: 1},
			Command: []byte{byte(from) + byte(i)},
		}
	}
	return entries
}

func TestMemoryStorage_Append(t *testing.T) {
	s := NewMemoryStorage()

	length, err := s.AppendEntry(testEntries(1, 0)[0])
	require.NoError(t, err)
	require.Equal(t, uint64(1), length)

	length, err = s.AppendEntries(testEntries(2, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(3), length)

	entries, err := s.GetEntries(0, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(2), entries[2].Index)
}

func TestMemoryStorage_AppendOnPrefix(t *testing.T) {
	s := NewMemoryStorage()

	_, err := s.AppendEntries(testEntries(4, 0))
	require.NoError(t, err)

	// truncate at 2 and replace the tail
	length, err := s.AppendOnPrefix(2, testEntries(3, 2))
	require.NoError(t, err)
	require.Equal(t, uint64(5), length)

	entries, err := s.GetSuffix(0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	// appending at the end keeps everything
	length, err = s.AppendOnPrefix(5, testEntries(1, 5))
	require.NoError(t, err)
	require.Equal(t, uint64(6), length)
}

func TestMemoryStorage_TrimAndTranslation(t *testing.T) {
	s := NewMemoryStorage()

	_, err := s.AppendEntries(testEntries(5, 0))
	require.NoError(t, err)

	require.NoError(t, s.Trim(3))
	require.NoError(t, s.SetCompactedIndex(3))

	// length stays absolute
	length, err := s.LogLength()
	require.NoError(t, err)
	require.Equal(t, uint64(5), length)

	// reads below the compacted index return nothing
	entries, err := s.GetEntries(1, 4)
	require.NoError(t, err)
	require.Nil(t, entries)

	entries, err = s.GetEntries(3, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(3), entries[0].Index)

	// appends keep extending the absolute log
	length, err = s.AppendEntry(testEntries(1, 5)[0])
	require.NoError(t, err)
	require.Equal(t, uint64(6), length)
}

func TestMemoryStorage_ProtocolState(t *testing.T) {
	s := NewMemoryStorage()

	b := ble.Ballot{Number: 3, PID: 2}
	require.NoError(t, s.SetPromise(b))
	require.NoError(t, s.SetAcceptedRound(b))
	require.NoError(t, s.SetDecidedIndex(7))

	promised, err := s.GetPromise()
	require.NoError(t, err)
	require.Equal(t, b, promised)

	accepted, err := s.GetAcceptedRound()
	require.NoError(t, err)
	require.Equal(t, b, accepted)

	decided, err := s.GetDecidedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(7), decided)
}

func TestMemoryStorage_Snapshot(t *testing.T) {
	s := NewMemoryStorage()

	snap, err := s.GetSnapshot()
	require.NoError(t, err)
	require.Nil(t, snap)

	require.NoError(t, s.SetSnapshot(Snapshot{Index: 4, Data: []byte("blob")}))

	snap, err = s.GetSnapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(4), snap.Index)
	require.Equal(t, []byte("blob"), snap.Data)
}
