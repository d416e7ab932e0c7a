// Package ble implements Ballot Leader Election: a tick-driven heartbeat
// protocol that derives a quorum-backed belief about the current leader.
//
// The component owns no timers. The caller invokes Tick periodically; each
// Tick closes the previous heartbeat round, evaluates it, and opens a new one.
// All messages produced by Tick and HandleMessage are collected in an outbox
// drained with Outgoing.
package ble

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const defaultTimeoutRounds = 3

type Config struct {
	// PID is this node's id, must be > 0
	PID uint64

	// Peers are the other members of the configuration, excluding PID
	Peers []uint64

	// TimeoutRounds is how many heartbeat rounds the elected leader may
	// stay silent before this node raises its own ballot and contends
	TimeoutRounds int

	// InitialLeader seeds the leader belief, used when a configuration
	// starts with a pre-elected leader carried over from the previous one
	InitialLeader Ballot

	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	if c.PID == 0 {
		return fmt.Errorf("ble: pid must be greater than 0")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("ble: peer set is empty")
	}
	for _, p := range c.Peers {
		if p == c.PID {
			return fmt.Errorf("ble: peer set contains own pid %d", c.PID)
		}
	}
	return nil
}

// BallotElection is the per-node election state machine. It is not safe for
// concurrent use; the caller serializes Tick and HandleMessage.
type BallotElection struct {
	pid      uint64
	peers    []uint64
	majority int

	ballot  Ballot // own ballot
	round   uint64 // current heartbeat round
	replies map[uint64]Ballot

	leader   Ballot // current quorum-backed leader belief
	reported Ballot // highest ballot ever announced as leader
	maxSeen  Ballot // highest ballot observed from anyone

	quiet         int // consecutive quorum rounds without the reported leader
	timeoutRounds int

	outbox []Message
	log    logrus.FieldLogger
}

func New(cfg Config) (*BallotElection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	timeout := cfg.TimeoutRounds
	if timeout <= 0 {
		timeout = defaultTimeoutRounds
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	b := &BallotElection{
		pid:           cfg.PID,
		peers:         cfg.Peers,
		majority:      (len(cfg.Peers)+1)/2 + 1,
		ballot:        Ballot{Number: 1, PID: cfg.PID},
		replies:       make(map[uint64]Ballot, len(cfg.Peers)),
		timeoutRounds: timeout,
		log:           logger.WithField("pid", cfg.PID),
	}

	if !cfg.InitialLeader.IsZero() {
		b.leader = cfg.InitialLeader
		b.reported = cfg.InitialLeader
		b.maxSeen = cfg.InitialLeader
		if cfg.InitialLeader.PID == cfg.PID {
			b.ballot = cfg.InitialLeader
		}
	}
	if b.ballot.GreaterThan(b.maxSeen) {
		b.maxSeen = b.ballot
	}

	return b, nil
}

// Tick closes the current heartbeat round and opens the next one. It returns
// a leader event when a ballot strictly higher than any previously announced
// one is elected; the same leader is never announced twice.
func (b *BallotElection) Tick() *Ballot {
	var event *Ballot

	if len(b.replies)+1 >= b.majority {
		top := b.ballot
		for _, rb := range b.replies {
			if rb.GreaterThan(top) {
				top = rb
			}
		}

		switch {
		case top.GreaterThan(b.reported):
			b.leader = top
			b.reported = top
			b.quiet = 0
			elected := top
			event = &elected
			b.log.WithField("leader", top).Info("elected leader")

		case top.Equal(b.reported):
			b.leader = top
			b.quiet = 0

		default:
			// the previously elected leader was silent this round
			b.quiet++
			if b.quiet >= b.timeoutRounds {
				b.ballot = Ballot{Number: b.maxSeen.Number + 1, PID: b.pid}
				b.maxSeen = b.ballot
				b.quiet = 0
				b.log.WithField("ballot", b.ballot).Info("leader silent, raising ballot")
			}
		}
	}

	b.round++
	b.replies = make(map[uint64]Ballot, len(b.peers))

	for _, p := range b.peers {
		b.outbox = append(b.outbox, Message{
			Type:   MsgHeartbeatRequest,
			From:   b.pid,
			To:     p,
			Round:  b.round,
			Ballot: b.ballot,
		})
	}

	return event
}

// HandleMessage processes one heartbeat request or reply. Requests are always
// answered with the local ballot; a stale sender learns the higher ballot from
// the reply. Replies from rounds other than the current one are dropped.
func (b *BallotElection) HandleMessage(m Message) {
	if m.Ballot.GreaterThan(b.maxSeen) {
		b.maxSeen = m.Ballot
	}

	switch m.Type {
	case MsgHeartbeatRequest:
		b.outbox = append(b.outbox, Message{
			Type:   MsgHeartbeatReply,
			From:   b.pid,
			To:     m.From,
			Round:  m.Round,
			Ballot: b.ballot,
		})

	case MsgHeartbeatReply:
		if m.Round == b.round {
			b.replies[m.From] = m.Ballot
		}

	default:
		b.log.WithField("type", m.Type).Warn("unexpected ble message type")
	}
}

// Outgoing drains the outbox.
func (b *BallotElection) Outgoing() []Message {
	out := b.outbox
	b.outbox = nil
	return out
}

// Leader returns the current leader belief; the zero ballot means no leader.
func (b *BallotElection) Leader() Ballot {
	return b.leader
}

// CurrentBallot returns this node's own ballot.
func (b *BallotElection) CurrentBallot() Ballot {
	return b.ballot
}
