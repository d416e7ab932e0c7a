package paxos

import "errors"

var (
	// ErrNotLeader is returned when a proposal is made on a node that is not
	// the steady leader of its configuration.
	ErrNotLeader = errors.New("paxos: not leader")

	// ErrReconfigPending is returned when a proposal is made while a
	// reconfiguration marker is already in the log but not yet decided.
	ErrReconfigPending = errors.New("paxos: reconfiguration pending")

	// ErrConfigStopped is returned when an operation is invoked on a
	// configuration whose reconfiguration marker has been decided.
	ErrConfigStopped = errors.New("paxos: configuration stopped")

	// ErrCompactionBeyondDecided is returned when a trim or snapshot index
	// exceeds the decided index.
	ErrCompactionBeyondDecided = errors.New("paxos: compaction index beyond decided index")

	// ErrNoSnapshotFunc is returned by Snapshot when no snapshot function was
	// configured.
	ErrNoSnapshotFunc = errors.New("paxos: no snapshot function configured")
)
