package paxos

import (
	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

// Entry is one unit of the replicated log.
type Entry struct {
	// Index is the entry's absolute log position, starting from 0
	Index uint64

	// Ballot is the ballot under which the entry was first proposed
	Ballot ble.Ballot

	// Command is the opaque payload, nil for a reconfiguration marker
	Command []byte

	// Reconfig marks the end of the configuration when non-nil
	Reconfig *ClusterChange
}

// IsReconfig reports whether the entry is a reconfiguration marker.
func (e Entry) IsReconfig() bool {
	return e.Reconfig != nil
}

// ClusterChange describes the configuration that follows a decided
// reconfiguration marker.
type ClusterChange struct {
	// ConfigID identifies the next configuration
	ConfigID uint32

	// Members are the node ids of the next configuration
	Members []uint64

	// Metadata is opaque to the core; hosts use it e.g. for state hand-off
	Metadata []byte
}

// Snapshot is a compacted log prefix: all entries below Index folded into an
// opaque blob.
type Snapshot struct {
	Index uint64
	Data  []byte
}

// SnapshotFunc folds entries into the previous snapshot blob (nil when no
// snapshot exists yet) and returns the new blob.
type SnapshotFunc func(prev []byte, entries []Entry) ([]byte, error)

// LogRead is the result of reading the decided log: the snapshot covering the
// compacted prefix, if the read started below it, plus the remaining entries.
type LogRead struct {
	Snapshot *Snapshot
	Entries  []Entry
}
