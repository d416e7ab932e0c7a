// Package paxos implements Sequence Paxos: the log-replication state machine
// of the consensus core. It replicates an ordered log across one
// configuration, reconciles divergent histories at leader changes, and safely
// hands over to the next configuration via a decided reconfiguration marker.
//
// The component is single-threaded and reactive: it owns no timers or
// goroutines. The caller serializes HandleMessage, HandleLeader, Tick and all
// proposals per instance, and drains produced messages with Outgoing.
package paxos

import (
	"fmt"

	"github.com/sirupsen/logrus"

	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

type Role int

const (
	// Follower - accepts entries from the current leader
	Follower Role = iota

	// CandidateLeader - gathering promises after a leader-change event
	CandidateLeader

	// SteadyLeader - accepting and replicating proposals
	SteadyLeader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case CandidateLeader:
		return "candidate"
	case SteadyLeader:
		return "leader"
	default:
		return "unknown"
	}
}

type Config struct {
	// ConfigID identifies this configuration instance
	ConfigID uint32

	// PID is this node's id, must be > 0
	PID uint64

	// Peers are the other members of the configuration, excluding PID
	Peers []uint64

	// Storage persists log entries and protocol state
	Storage Storage

	// BatchSize > 1 coalesces pending entries into one Accept message,
	// flushed by Tick or when the bound is reached
	BatchSize int

	// SnapshotFn folds log entries into a snapshot blob; nil disables
	// snapshotting
	SnapshotFn SnapshotFunc

	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	if c.PID == 0 {
		return fmt.Errorf("paxos: pid must be greater than 0")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("paxos: peer set is empty")
	}
	for _, p := range c.Peers {
		if p == c.PID {
			return fmt.Errorf("paxos: peer set contains own pid %d", c.PID)
		}
	}
	if c.Storage == nil {
		return fmt.Errorf("paxos: storage is required")
	}
	return nil
}

// promiseInfo is the reconciliation material from one Promise reply.
type promiseInfo struct {
	acceptedRound ble.Ballot
	decidedIdx    uint64
	logLength     uint64
	syncFrom      uint64
	entries       []Entry
	snapshot      *Snapshot
}

// SequencePaxos is the replication state machine of one node in one
// configuration. Not safe for concurrent use.
type SequencePaxos struct {
	configID uint32
	pid      uint64
	peers    []uint64
	majority int

	storage    Storage
	batchSize  int
	snapshotFn SnapshotFunc

	role    Role
	leader  ble.Ballot // ballot of the believed leader
	current ble.Ballot // ballot this node leads or prepares under

	// cached mirror of the persistent state, loaded at construction
	promised     ble.Ballot
	accepted     ble.Ballot
	decidedIdx   uint64
	logLen       uint64
	compactedIdx uint64

	// candidate state
	promises map[uint64]promiseInfo

	// leader state
	nextSend  map[uint64]uint64 // next log position to send, per synced follower
	ackedIdx  map[uint64]uint64 // highest accepted index, per synced follower
	unflushed int               // entries appended since the last flush

	// reconfiguration state
	reconfigPending bool
	reconfigAt      uint64
	pendingChange   *ClusterChange
	stopped         bool
	stopChange      *ClusterChange

	outbox []Message
	log    logrus.FieldLogger
}

// New constructs the state machine over the given storage. Non-empty storage
// is recovered: promised ballot, accepted round, decided index and the log are
// restored, so a crashed node resumes as a follower with its durable state.
func New(cfg Config) (*SequencePaxos, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &SequencePaxos{
		configID:   cfg.ConfigID,
		pid:        cfg.PID,
		peers:      cfg.Peers,
		majority:   (len(cfg.Peers)+1)/2 + 1,
		storage:    cfg.Storage,
		batchSize:  cfg.BatchSize,
		snapshotFn: cfg.SnapshotFn,
		role:       Follower,
		log:        logger.WithFields(logrus.Fields{"pid": cfg.PID, "config": cfg.ConfigID}),
	}

	var err error
	if s.promised, err = s.storage.GetPromise(); err != nil {
		return nil, fmt.Errorf("recover promise: %w", err)
	}
	if s.accepted, err = s.storage.GetAcceptedRound(); err != nil {
		return nil, fmt.Errorf("recover accepted round: %w", err)
	}
	if s.decidedIdx, err = s.storage.GetDecidedIndex(); err != nil {
		return nil, fmt.Errorf("recover decided index: %w", err)
	}
	if s.logLen, err = s.storage.LogLength(); err != nil {
		return nil, fmt.Errorf("recover log length: %w", err)
	}
	if s.compactedIdx, err = s.storage.GetCompactedIndex(); err != nil {
		return nil, fmt.Errorf("recover compacted index: %w", err)
	}
	s.leader = s.promised

	// rediscover a reconfiguration marker in the recovered log
	suffix, err := s.storage.GetSuffix(s.compactedIdx)
	if err != nil {
		return nil, fmt.Errorf("recover log suffix: %w", err)
	}
	s.noteAppended(suffix)
	if s.reconfigPending && s.decidedIdx > s.reconfigAt {
		s.stopped = true
		s.stopChange = s.pendingChange
	}

	return s, nil
}

// HandleLeader feeds a leader-change event from ballot leader election into
// the state machine. An event naming this node with a ballot above its promise
// starts the prepare phase; an event naming another node with a higher ballot
// makes a stale leader step down.
func (s *SequencePaxos) HandleLeader(b ble.Ballot) error {
	if b.IsZero() || !b.GreaterThan(s.leader) {
		return nil
	}

	if b.PID == s.pid && b.GreaterThan(s.promised) {
		s.leader = b
		s.current = b
		s.role = CandidateLeader
		if err := s.setPromise(b); err != nil {
			return err
		}
		s.promises = make(map[uint64]promiseInfo, len(s.peers))
		s.log.WithField("ballot", b).Info("promoted, sending prepares")

		for _, p := range s.peers {
			s.outbox = append(s.outbox, Message{
				Type:          MsgPrepare,
				From:          s.pid,
				To:            p,
				Ballot:        b,
				AcceptedRound: s.accepted,
				DecidedIndex:  s.decidedIdx,
				LogLength:     s.logLen,
			})
		}
		return nil
	}

	s.leader = b
	if s.role != Follower && b.GreaterThan(s.current) {
		s.role = Follower
	}
	return nil
}

// HandleMessage processes one inbound protocol message. Messages carrying a
// ballot below the local promise are answered with the promised ballot and
// change no state; unexpected messages for the current role are dropped.
func (s *SequencePaxos) HandleMessage(m Message) error {
	switch m.Type {
	case MsgPrepare:
		return s.handlePrepare(m)
	case MsgPromise:
		return s.handlePromise(m)
	case MsgReject:
		s.handleReject(m)
		return nil
	case MsgAccept:
		return s.handleAccept(m)
	case MsgAccepted:
		return s.handleAccepted(m)
	case MsgDecide:
		return s.handleDecide(m)
	case MsgPrepareReq:
		s.handlePrepareReq(m)
		return nil
	default:
		s.log.WithField("type", m.Type).Warn("unexpected paxos message type")
		return nil
	}
}

func (s *SequencePaxos) handlePrepare(m Message) error {
	// an equal ballot is a repeat from the same leader, promise again
	if m.Ballot.LessThan(s.promised) {
		s.reject(m.From)
		return nil
	}

	if err := s.setPromise(m.Ballot); err != nil {
		return err
	}
	s.leader = m.Ballot
	s.role = Follower

	// hand the candidate the suffix it is missing: everything above its
	// decided prefix when we accepted in a strictly higher round, the tail
	// above its log when rounds are equal and ours is longer, nothing
	// otherwise
	syncFrom := s.logLen
	if s.accepted.GreaterThan(m.AcceptedRound) {
		syncFrom = m.DecidedIndex
	} else if s.accepted.Equal(m.AcceptedRound) && s.logLen > m.LogLength {
		syncFrom = m.LogLength
	}

	var snap *Snapshot
	if syncFrom < s.compactedIdx {
		stored, err := s.storage.GetSnapshot()
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		snap = stored
		syncFrom = s.compactedIdx
	}

	suffix, err := s.storage.GetSuffix(syncFrom)
	if err != nil {
		return fmt.Errorf("read log suffix: %w", err)
	}

	s.outbox = append(s.outbox, Message{
		Type:          MsgPromise,
		From:          s.pid,
		To:            m.From,
		Ballot:        m.Ballot,
		AcceptedRound: s.accepted,
		DecidedIndex:  s.decidedIdx,
		LogLength:     s.logLen,
		SyncFrom:      syncFrom,
		Entries:       suffix,
		Snapshot:      snap,
	})
	return nil
}

func (s *SequencePaxos) handlePromise(m Message) error {
	if !m.Ballot.Equal(s.current) {
		return nil
	}

	info := promiseInfo{
		acceptedRound: m.AcceptedRound,
		decidedIdx:    m.DecidedIndex,
		logLength:     m.LogLength,
		syncFrom:      m.SyncFrom,
		entries:       m.Entries,
		snapshot:      m.Snapshot,
	}

	switch s.role {
	case CandidateLeader:
		s.promises[m.From] = info
		if len(s.promises)+1 >= s.majority {
			return s.becomeSteady()
		}
		return nil

	case SteadyLeader:
		// a late promise: bring the follower up to date now
		return s.syncFollower(m.From, info)

	default:
		return nil
	}
}

// becomeSteady reconciles the divergent follower logs gathered during the
// prepare phase and transitions to steady leadership. The suffix of the
// promise with the strictly highest accepted round wins, tie-broken by the
// longest log; every promise agrees on the already-decided prefix because
// suffixes start at or above this node's decided index.
func (s *SequencePaxos) becomeSteady() error {
	winFrom := s.pid
	winRound := s.accepted
	winLen := s.logLen

	for from, p := range s.promises {
		if p.acceptedRound.GreaterThan(winRound) ||
			(p.acceptedRound.Equal(winRound) && p.logLength > winLen) {
			winFrom = from
			winRound = p.acceptedRound
			winLen = p.logLength
		}
	}

	if winFrom != s.pid {
		win := s.promises[winFrom]
		if win.snapshot != nil {
			if err := s.installSnapshot(*win.snapshot); err != nil {
				return err
			}
		}
		newLen, err := s.storage.AppendOnPrefix(win.syncFrom, win.entries)
		if err != nil {
			return fmt.Errorf("adopt log suffix: %w", err)
		}
		if s.reconfigPending && s.reconfigAt >= win.syncFrom {
			s.reconfigPending = false
			s.pendingChange = nil
		}
		s.logLen = newLen
		s.noteAppended(win.entries)
	}

	s.accepted = s.current
	if err := s.storage.SetAcceptedRound(s.accepted); err != nil {
		return fmt.Errorf("set accepted round: %w", err)
	}

	s.role = SteadyLeader
	s.nextSend = make(map[uint64]uint64, len(s.peers))
	s.ackedIdx = make(map[uint64]uint64, len(s.peers))
	s.unflushed = 0
	s.log.WithFields(logrus.Fields{"ballot": s.current, "log_len": s.logLen}).
		Info("prepare quorum reached, steady leader")

	for from, p := range s.promises {
		if err := s.syncFollower(from, p); err != nil {
			return err
		}
	}
	return nil
}

// syncFollower sends a follower the authoritative tail above its decided
// prefix, preceded by the local snapshot when the tail has been compacted.
func (s *SequencePaxos) syncFollower(from uint64, p promiseInfo) error {
	start := p.decidedIdx
	if start > s.logLen {
		start = s.logLen
	}

	var snap *Snapshot
	if start < s.compactedIdx {
		stored, err := s.storage.GetSnapshot()
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		snap = stored
		start = s.compactedIdx
	}

	entries, err := s.storage.GetSuffix(start)
	if err != nil {
		return fmt.Errorf("read log suffix: %w", err)
	}

	s.outbox = append(s.outbox, Message{
		Type:         MsgAccept,
		From:         s.pid,
		To:           from,
		Ballot:       s.current,
		SyncFrom:     start,
		Entries:      entries,
		DecidedIndex: s.decidedIdx,
		Snapshot:     snap,
	})
	s.nextSend[from] = s.logLen
	if _, ok := s.ackedIdx[from]; !ok {
		s.ackedIdx[from] = 0
	}
	return nil
}

// handlePrepareReq answers a sync request with a fresh Prepare, so a node
// that missed the original prepare phase still gets reconciled.
func (s *SequencePaxos) handlePrepareReq(m Message) {
	if s.role == Follower {
		return
	}
	s.outbox = append(s.outbox, Message{
		Type:          MsgPrepare,
		From:          s.pid,
		To:            m.From,
		Ballot:        s.current,
		AcceptedRound: s.accepted,
		DecidedIndex:  s.decidedIdx,
		LogLength:     s.logLen,
	})
}

// RequestSync asks the given leader for a Prepare that brings this node into
// the ballot. Used when a configuration starts with a carried-over leader this
// node never promised to.
func (s *SequencePaxos) RequestSync(leader ble.Ballot) {
	if leader.IsZero() || leader.PID == s.pid {
		return
	}
	if leader.GreaterThan(s.leader) {
		s.leader = leader
	}
	s.outbox = append(s.outbox, Message{
		Type:   MsgPrepareReq,
		From:   s.pid,
		To:     leader.PID,
		Ballot: leader,
	})
}

func (s *SequencePaxos) handleAccept(m Message) error {
	if m.Ballot.LessThan(s.promised) {
		s.reject(m.From)
		return nil
	}
	if !m.Ballot.Equal(s.promised) {
		// a ballot we never promised: the prepare was lost, drop
		return nil
	}

	s.role = Follower
	s.leader = m.Ballot

	if m.Snapshot != nil {
		if err := s.installSnapshot(*m.Snapshot); err != nil {
			return err
		}
	}

	syncFrom := m.SyncFrom
	entries := m.Entries

	// never touch the decided prefix on redelivery
	if syncFrom < s.decidedIdx {
		skip := s.decidedIdx - syncFrom
		if skip >= uint64(len(entries)) {
			return s.acknowledge(m)
		}
		entries = entries[skip:]
		syncFrom = s.decidedIdx
	}

	// within one ballot, positions already held carry identical entries, so
	// an overlapping Accept only contributes its tail; truncation happens
	// only on the first Accept of a new ballot, which re-syncs the log
	if s.accepted.Equal(m.Ballot) && syncFrom < s.logLen {
		skip := s.logLen - syncFrom
		if skip >= uint64(len(entries)) {
			return s.acknowledge(m)
		}
		entries = entries[skip:]
		syncFrom = s.logLen
	}

	if syncFrom > s.logLen {
		// a gap: an earlier Accept was lost or reordered, ask the leader
		// to re-prepare us instead of waiting for the next ballot
		s.RequestSync(m.Ballot)
		return nil
	}

	newLen, err := s.storage.AppendOnPrefix(syncFrom, entries)
	if err != nil {
		return fmt.Errorf("append entries: %w", err)
	}
	if s.reconfigPending && s.reconfigAt >= syncFrom {
		s.reconfigPending = false
		s.pendingChange = nil
	}
	s.logLen = newLen
	s.noteAppended(entries)

	if !s.accepted.Equal(m.Ballot) {
		s.accepted = m.Ballot
		if err := s.storage.SetAcceptedRound(s.accepted); err != nil {
			return fmt.Errorf("set accepted round: %w", err)
		}
	}

	return s.acknowledge(m)
}

// acknowledge replies Accepted and applies the piggybacked decided index.
func (s *SequencePaxos) acknowledge(m Message) error {
	s.outbox = append(s.outbox, Message{
		Type:      MsgAccepted,
		From:      s.pid,
		To:        m.From,
		Ballot:    m.Ballot,
		LogLength: s.logLen,
	})

	if m.DecidedIndex > s.decidedIdx {
		idx := m.DecidedIndex
		if idx > s.logLen {
			idx = s.logLen
		}
		if err := s.setDecided(idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *SequencePaxos) handleAccepted(m Message) error {
	if s.role != SteadyLeader || !m.Ballot.Equal(s.current) {
		return nil
	}
	if _, synced := s.nextSend[m.From]; !synced {
		return nil
	}

	if m.LogLength > s.ackedIdx[m.From] {
		s.ackedIdx[m.From] = m.LogLength
	}
	return s.tryDecide()
}

// tryDecide advances the decided index to the highest position acknowledged
// by a majority including this node, then notifies followers: piggybacked on
// the next Accept when entries are pending, as an explicit Decide otherwise.
func (s *SequencePaxos) tryDecide() error {
	acks := make([]uint64, 0, len(s.ackedIdx)+1)
	acks = append(acks, s.logLen)
	for _, idx := range s.ackedIdx {
		acks = append(acks, idx)
	}
	if len(acks) < s.majority {
		return nil
	}

	// the majority-th largest acknowledged index is decided
	for i := 0; i < len(acks); i++ {
		for j := i + 1; j < len(acks); j++ {
			if acks[j] > acks[i] {
				acks[i], acks[j] = acks[j], acks[i]
			}
		}
	}
	decided := acks[s.majority-1]
	if decided <= s.decidedIdx {
		return nil
	}

	if err := s.setDecided(decided); err != nil {
		return err
	}

	if s.unflushed == 0 {
		for to := range s.nextSend {
			s.outbox = append(s.outbox, Message{
				Type:         MsgDecide,
				From:         s.pid,
				To:           to,
				Ballot:       s.current,
				DecidedIndex: s.decidedIdx,
			})
		}
	}
	return nil
}

func (s *SequencePaxos) handleDecide(m Message) error {
	if m.Ballot.LessThan(s.promised) {
		s.reject(m.From)
		return nil
	}
	if !m.Ballot.Equal(s.promised) {
		return nil
	}

	idx := m.DecidedIndex
	if idx > s.logLen {
		idx = s.logLen
	}
	if idx <= s.decidedIdx {
		return nil
	}
	return s.setDecided(idx)
}

// handleReject makes a stale leader step down: a higher promise exists
// somewhere, so this ballot can never again reach a quorum.
func (s *SequencePaxos) handleReject(m Message) {
	if s.role == Follower || !m.Ballot.GreaterThan(s.current) {
		return
	}
	s.log.WithFields(logrus.Fields{"ballot": s.current, "higher": m.Ballot}).
		Info("superseded by higher ballot, stepping down")
	s.role = Follower
	if m.Ballot.GreaterThan(s.leader) {
		s.leader = m.Ballot
	}
}

// Propose appends a client command to the replicated log. Only the steady
// leader accepts proposals; a configuration with a reconfiguration marker in
// its log accepts none.
func (s *SequencePaxos) Propose(cmd []byte) error {
	if err := s.proposable(); err != nil {
		return err
	}

	entry := Entry{Index: s.logLen, Ballot: s.current, Command: cmd}
	newLen, err := s.storage.AppendEntry(entry)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	s.logLen = newLen
	s.unflushed++

	if s.batchSize <= 1 || s.unflushed >= s.batchSize {
		return s.flush()
	}
	return nil
}

// ProposeReconfiguration appends the reconfiguration marker that ends this
// configuration and names the next member set. The marker replicates like any
// entry but is never batched behind other proposals.
func (s *SequencePaxos) ProposeReconfiguration(members []uint64, metadata []byte) error {
	if err := s.proposable(); err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("paxos: empty member set for reconfiguration")
	}
	for _, m := range members {
		if m == 0 {
			return fmt.Errorf("paxos: invalid member id 0")
		}
	}

	change := &ClusterChange{
		ConfigID: s.configID + 1,
		Members:  members,
		Metadata: metadata,
	}
	entry := Entry{Index: s.logLen, Ballot: s.current, Reconfig: change}
	newLen, err := s.storage.AppendEntry(entry)
	if err != nil {
		return fmt.Errorf("append reconfiguration marker: %w", err)
	}
	s.logLen = newLen
	s.unflushed++
	s.noteAppended([]Entry{entry})

	return s.flush()
}

func (s *SequencePaxos) proposable() error {
	if s.stopped {
		return ErrConfigStopped
	}
	if s.reconfigPending {
		return ErrReconfigPending
	}
	if s.role != SteadyLeader {
		return ErrNotLeader
	}
	return nil
}

// Tick flushes batched entries and retries outstanding prepares. Liveness
// timing lives entirely in the caller's tick cadence; the core keeps no
// timers.
func (s *SequencePaxos) Tick() error {
	switch {
	case s.role == CandidateLeader:
		s.resendPrepares()
	case s.role == Follower && s.leader.GreaterThan(s.promised):
		// a leader is known but never prepared us, ask it to
		s.RequestSync(s.leader)
	}

	if s.role == SteadyLeader && s.unflushed > 0 {
		return s.flush()
	}
	return nil
}

// resendPrepares repeats the Prepare to every peer that has not promised yet,
// covering lost messages and peers that start their instance late.
func (s *SequencePaxos) resendPrepares() {
	for _, p := range s.peers {
		if _, ok := s.promises[p]; ok {
			continue
		}
		s.outbox = append(s.outbox, Message{
			Type:          MsgPrepare,
			From:          s.pid,
			To:            p,
			Ballot:        s.current,
			AcceptedRound: s.accepted,
			DecidedIndex:  s.decidedIdx,
			LogLength:     s.logLen,
		})
	}
}

// flush sends every synced follower the entries it has not been sent yet,
// with the current decided index piggybacked.
func (s *SequencePaxos) flush() error {
	for to, next := range s.nextSend {
		if next >= s.logLen {
			continue
		}
		entries, err := s.storage.GetEntries(next, s.logLen)
		if err != nil {
			return fmt.Errorf("read log entries: %w", err)
		}
		s.outbox = append(s.outbox, Message{
			Type:         MsgAccept,
			From:         s.pid,
			To:           to,
			Ballot:       s.current,
			SyncFrom:     next,
			Entries:      entries,
			DecidedIndex: s.decidedIdx,
		})
		s.nextSend[to] = s.logLen
	}
	s.unflushed = 0
	return nil
}

// ReadDecidedSuffix returns the decided log from index from. A read starting
// below the compacted index transparently returns the snapshot plus the tail.
func (s *SequencePaxos) ReadDecidedSuffix(from uint64) (LogRead, error) {
	if from >= s.decidedIdx {
		return LogRead{}, nil
	}

	if from < s.compactedIdx {
		snap, err := s.storage.GetSnapshot()
		if err != nil {
			return LogRead{}, fmt.Errorf("read snapshot: %w", err)
		}
		entries, err := s.storage.GetEntries(s.compactedIdx, s.decidedIdx)
		if err != nil {
			return LogRead{}, fmt.Errorf("read log entries: %w", err)
		}
		return LogRead{Snapshot: snap, Entries: entries}, nil
	}

	entries, err := s.storage.GetEntries(from, s.decidedIdx)
	if err != nil {
		return LogRead{}, fmt.Errorf("read log entries: %w", err)
	}
	return LogRead{Entries: entries}, nil
}

// Trim discards log entries below upTo. Only the decided prefix may be
// trimmed; a trim without a prior snapshot loses the prefix for good.
func (s *SequencePaxos) Trim(upTo uint64) error {
	if upTo > s.decidedIdx {
		return ErrCompactionBeyondDecided
	}
	if upTo <= s.compactedIdx {
		return nil
	}

	if err := s.storage.Trim(upTo); err != nil {
		return fmt.Errorf("trim log: %w", err)
	}
	if err := s.storage.SetCompactedIndex(upTo); err != nil {
		return fmt.Errorf("set compacted index: %w", err)
	}
	s.compactedIdx = upTo
	return nil
}

// Snapshot folds all entries below upTo into the snapshot blob and trims
// them. upTo == 0 snapshots the whole decided prefix. Decided and promised
// state are unaffected.
func (s *SequencePaxos) Snapshot(upTo uint64) error {
	if s.snapshotFn == nil {
		return ErrNoSnapshotFunc
	}
	if upTo == 0 {
		upTo = s.decidedIdx
	}
	if upTo > s.decidedIdx {
		return ErrCompactionBeyondDecided
	}
	if upTo <= s.compactedIdx {
		return nil
	}

	entries, err := s.storage.GetEntries(s.compactedIdx, upTo)
	if err != nil {
		return fmt.Errorf("read log entries: %w", err)
	}

	var prev []byte
	if stored, err := s.storage.GetSnapshot(); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	} else if stored != nil {
		prev = stored.Data
	}

	data, err := s.snapshotFn(prev, entries)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	if err := s.storage.SetSnapshot(Snapshot{Index: upTo, Data: data}); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return s.Trim(upTo)
}

// installSnapshot replaces the local log below the snapshot's index.
func (s *SequencePaxos) installSnapshot(snap Snapshot) error {
	if snap.Index <= s.compactedIdx {
		return nil
	}

	trimTo := snap.Index
	if trimTo > s.logLen {
		trimTo = s.logLen
	}
	if err := s.storage.Trim(trimTo); err != nil {
		return fmt.Errorf("trim for snapshot: %w", err)
	}
	if err := s.storage.SetCompactedIndex(snap.Index); err != nil {
		return fmt.Errorf("set compacted index: %w", err)
	}
	if err := s.storage.SetSnapshot(snap); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}

	s.compactedIdx = snap.Index
	if s.logLen < snap.Index {
		s.logLen = snap.Index
	}
	if s.decidedIdx < snap.Index {
		if err := s.setDecided(snap.Index); err != nil {
			return err
		}
	}
	return nil
}

// setDecided persists the new decided index and stops the configuration when
// the decided prefix now covers a reconfiguration marker.
func (s *SequencePaxos) setDecided(idx uint64) error {
	if idx <= s.decidedIdx {
		return nil
	}
	if err := s.storage.SetDecidedIndex(idx); err != nil {
		return fmt.Errorf("set decided index: %w", err)
	}
	s.decidedIdx = idx

	if s.reconfigPending && s.decidedIdx > s.reconfigAt {
		s.stopped = true
		s.stopChange = s.pendingChange
		s.log.WithField("next_config", s.stopChange.ConfigID).
			Info("reconfiguration marker decided, configuration stopped")
	}
	return nil
}

// noteAppended records a reconfiguration marker observed in newly appended
// entries.
func (s *SequencePaxos) noteAppended(entries []Entry) {
	for _, e := range entries {
		if e.IsReconfig() {
			s.reconfigPending = true
			s.reconfigAt = e.Index
			s.pendingChange = e.Reconfig
		}
	}
}

func (s *SequencePaxos) reject(to uint64) {
	s.outbox = append(s.outbox, Message{
		Type:   MsgReject,
		From:   s.pid,
		To:     to,
		Ballot: s.promised,
	})
}

// Outgoing drains the outbox.
func (s *SequencePaxos) Outgoing() []Message {
	out := s.outbox
	s.outbox = nil
	return out
}

func (s *SequencePaxos) ConfigID() uint32 { return s.configID }

func (s *SequencePaxos) Role() Role { return s.role }

// CurrentLeader returns the ballot of the believed leader.
func (s *SequencePaxos) CurrentLeader() ble.Ballot { return s.leader }

func (s *SequencePaxos) Promised() ble.Ballot { return s.promised }

func (s *SequencePaxos) DecidedIndex() uint64 { return s.decidedIdx }

func (s *SequencePaxos) LogLength() uint64 { return s.logLen }

// Stopped reports whether the reconfiguration marker of this configuration
// has been decided.
func (s *SequencePaxos) Stopped() bool { return s.stopped }

// StopChange returns the decided cluster change, nil while the configuration
// is running.
func (s *SequencePaxos) StopChange() *ClusterChange { return s.stopChange }

func (s *SequencePaxos) setPromise(b ble.Ballot) error {
	if err := s.storage.SetPromise(b); err != nil {
		return fmt.Errorf("set promise: %w", err)
	}
	s.promised = b
	return nil
}
