package paxos

import (
	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

// Storage is the persistence contract Sequence Paxos requires. The core calls
// it synchronously and assumes each call is durable and atomic with respect to
// crash-recovery by the time the call returns; it never retries a failed call,
// the error propagates to the caller.
//
// All indices are absolute log positions. Implementations hold only the suffix
// above the compacted index but translate indices so that callers never see
// the offset: LogLength includes the compacted prefix, GetEntries(from, to)
// takes absolute bounds, and AppendOnPrefix truncates at an absolute position.
type Storage interface {
	// AppendEntry appends one entry and returns the new log length.
	AppendEntry(e Entry) (uint64, error)

	// AppendEntries appends a batch and returns the new log length.
	AppendEntries(entries []Entry) (uint64, error)

	// AppendOnPrefix truncates the log down to from and appends entries,
	// returning the new log length. from is never below the decided index.
	AppendOnPrefix(from uint64, entries []Entry) (uint64, error)

	// GetEntries returns entries in [from, to). If the interval is not fully
	// present (below the compacted index or past the end), it returns nil.
	GetEntries(from, to uint64) ([]Entry, error)

	// GetSuffix returns all entries from index from.
	GetSuffix(from uint64) ([]Entry, error)

	// LogLength returns the absolute log length including the compacted prefix.
	LogLength() (uint64, error)

	SetPromise(b ble.Ballot) error
	GetPromise() (ble.Ballot, error)

	SetAcceptedRound(b ble.Ballot) error
	GetAcceptedRound() (ble.Ballot, error)

	SetDecidedIndex(idx uint64) error
	GetDecidedIndex() (uint64, error)

	// Trim discards entries below idx.
	Trim(idx uint64) error

	SetCompactedIndex(idx uint64) error
	GetCompactedIndex() (uint64, error)

	SetSnapshot(s Snapshot) error
	GetSnapshot() (*Snapshot, error)
}
