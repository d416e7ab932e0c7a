package paxos

import (
	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

type MsgType uint8

const (
	// MsgPrepare starts the prepare phase of a new leader
	MsgPrepare MsgType = iota + 1

	// MsgPromise is a follower's commitment to the prepared ballot,
	// carrying its log suffix for reconciliation
	MsgPromise

	// MsgReject answers any message whose ballot is not high enough,
	// carrying the receiver's promised ballot so the sender steps down
	MsgReject

	// MsgAccept replicates entries to a follower
	MsgAccept

	// MsgAccepted acknowledges the highest accepted index
	MsgAccepted

	// MsgDecide announces the decided index when no Accept is pending
	// to piggyback it on
	MsgDecide

	// MsgPrepareReq asks the believed leader for a fresh Prepare, sent by
	// a node that joins a configuration whose leader is already known
	MsgPrepareReq
)

// Message is one Sequence Paxos protocol message. The core only defines the
// shape; wire encoding and delivery are the host's concern.
type Message struct {
	Type MsgType
	From uint64
	To   uint64

	// Ballot is the ballot the message belongs to; for MsgReject it is the
	// receiver's higher promised ballot
	Ballot ble.Ballot

	// AcceptedRound is the sender's accepted round (prepare, promise)
	AcceptedRound ble.Ballot

	// DecidedIndex is the sender's decided index; on Accept and Decide it is
	// the piggybacked decide notification
	DecidedIndex uint64

	// LogLength is the sender's log length; on Accepted it is the highest
	// index the sender now holds
	LogLength uint64

	// SyncFrom is the absolute position of the first entry in Entries;
	// receivers append on that prefix, making redelivery idempotent
	SyncFrom uint64

	Entries []Entry

	// Snapshot replaces the receiver's log below SyncFrom when the sender has
	// already compacted the entries the receiver is missing
	Snapshot *Snapshot
}
