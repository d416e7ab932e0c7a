// Package omnipaxos is the algorithmic core of a replicated-log consensus
// library. A host process embeds an OmniPaxos node, feeds it inbound message
// envelopes and a periodic tick, and dispatches the envelopes it produces;
// the node agrees with its peers on an ordered log of opaque commands and
// reconfiguration markers.
//
// The node owns no threads, timers or sockets. The host serializes all calls
// on one node and supplies durability through the storage factory.
package omnipaxos

import (
	"fmt"

	"github.com/sirupsen/logrus"

	ble "github.com/AbyelT/omnipaxos/ballot-election"
	paxos "github.com/AbyelT/omnipaxos/sequence-paxos"
)

// StorageFactory creates the storage backing one configuration instance.
type StorageFactory func(configID uint32) (paxos.Storage, error)

type Config struct {
	// PID is this node's id, must be > 0
	PID uint64

	// ConfigID identifies the configuration this node starts in
	ConfigID uint32

	// Members is the full member set of the starting configuration,
	// including PID
	Members []uint64

	// NewStorage backs each configuration instance with its own storage
	NewStorage StorageFactory

	// BatchSize > 1 coalesces proposals into batched Accept messages
	BatchSize int

	// Continuity keeps the leader and its ballot across a reconfiguration
	// boundary instead of waiting for a fresh election
	Continuity bool

	// ElectionTimeoutRounds is how many heartbeat rounds a leader may stay
	// silent before a node contends for leadership
	ElectionTimeoutRounds int

	// SnapshotFn enables log compaction into snapshots when set
	SnapshotFn paxos.SnapshotFunc

	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	if c.PID == 0 {
		return fmt.Errorf("omnipaxos: pid must be greater than 0")
	}
	if c.NewStorage == nil {
		return fmt.Errorf("omnipaxos: storage factory is required")
	}
	if len(c.Members) < 2 {
		return fmt.Errorf("omnipaxos: at least 2 members required, got %d", len(c.Members))
	}

	found := false
	unique := make(map[uint64]bool, len(c.Members))
	for _, m := range c.Members {
		if m == 0 {
			return fmt.Errorf("omnipaxos: invalid member id 0")
		}
		if unique[m] {
			return fmt.Errorf("omnipaxos: duplicate member id %d", m)
		}
		unique[m] = true
		if m == c.PID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("omnipaxos: pid %d not in member set", c.PID)
	}
	return nil
}

// instance is one configuration's election and replication pair. Old and new
// instances coexist during a reconfiguration hand-off; their states are
// disjoint.
type instance struct {
	members  []uint64
	election *ble.BallotElection
	replica  *paxos.SequencePaxos
}

// OmniPaxos is one node of the consensus core. Not safe for concurrent use;
// the host serializes Handle, Tick and all proposals.
type OmniPaxos struct {
	cfg       Config
	instances map[uint32]*instance
	active    uint32
	departed  bool // this node is not a member of the successor configuration
	log       logrus.FieldLogger
}

func New(cfg Config) (*OmniPaxos, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	o := &OmniPaxos{
		cfg:       cfg,
		instances: make(map[uint32]*instance),
		active:    cfg.ConfigID,
		log:       cfg.Logger.WithField("pid", cfg.PID),
	}

	inst, err := o.newInstance(cfg.ConfigID, cfg.Members, ble.Ballot{})
	if err != nil {
		return nil, err
	}
	o.instances[cfg.ConfigID] = inst
	return o, nil
}

func (o *OmniPaxos) newInstance(configID uint32, members []uint64, initialLeader ble.Ballot) (*instance, error) {
	peers := make([]uint64, 0, len(members)-1)
	for _, m := range members {
		if m != o.cfg.PID {
			peers = append(peers, m)
		}
	}

	storage, err := o.cfg.NewStorage(configID)
	if err != nil {
		return nil, fmt.Errorf("create storage for configuration %d: %w", configID, err)
	}

	replica, err := paxos.New(paxos.Config{
		ConfigID:   configID,
		PID:        o.cfg.PID,
		Peers:      peers,
		Storage:    storage,
		BatchSize:  o.cfg.BatchSize,
		SnapshotFn: o.cfg.SnapshotFn,
		Logger:     o.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	election, err := ble.New(ble.Config{
		PID:           o.cfg.PID,
		Peers:         peers,
		TimeoutRounds: o.cfg.ElectionTimeoutRounds,
		InitialLeader: initialLeader,
		Logger:        o.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &instance{members: members, election: election, replica: replica}, nil
}

// Handle processes one inbound envelope, demultiplexed by configuration id.
// Envelopes for configurations this node does not run are dropped.
func (o *OmniPaxos) Handle(m Message) error {
	inst, ok := o.instances[m.Config]
	if !ok {
		o.log.WithField("config", m.Config).Debug("dropping message for unknown configuration")
		return nil
	}

	if m.BLE != nil {
		inst.election.HandleMessage(*m.BLE)
	}
	if m.Paxos != nil {
		if err := inst.replica.HandleMessage(*m.Paxos); err != nil {
			return err
		}
	}
	return o.handOver()
}

// Tick drives one heartbeat round on every live configuration instance,
// delivers leader-change events into replication, and flushes batched
// proposals. All liveness timing derives from the caller's tick cadence.
func (o *OmniPaxos) Tick() error {
	for _, inst := range o.instances {
		if ev := inst.election.Tick(); ev != nil {
			if err := inst.replica.HandleLeader(*ev); err != nil {
				return err
			}
		}
		if err := inst.replica.Tick(); err != nil {
			return err
		}
	}
	return o.handOver()
}

// handOver starts the successor configuration once the active one has decided
// its reconfiguration marker. With continuity the old leader re-enters the
// prepare phase of the new configuration under its carried ballot; without it
// every member starts as a follower and waits for an ordinary election.
func (o *OmniPaxos) handOver() error {
	inst := o.instances[o.active]
	if !inst.replica.Stopped() || o.departed {
		return nil
	}

	change := inst.replica.StopChange()
	if _, exists := o.instances[change.ConfigID]; exists {
		return nil
	}

	member := false
	for _, m := range change.Members {
		if m == o.cfg.PID {
			member = true
			break
		}
	}
	if !member {
		o.departed = true
		o.log.WithField("next_config", change.ConfigID).
			Info("not a member of the next configuration, staying behind")
		return nil
	}

	var carried ble.Ballot
	if o.cfg.Continuity {
		carried = inst.replica.CurrentLeader()
	}

	next, err := o.newInstance(change.ConfigID, change.Members, carried)
	if err != nil {
		return err
	}
	o.instances[change.ConfigID] = next
	o.active = change.ConfigID
	o.log.WithField("config", change.ConfigID).Info("started next configuration")

	if o.cfg.Continuity && !carried.IsZero() {
		if carried.PID == o.cfg.PID {
			// continue leading: prepare the new configuration right away
			if err := next.replica.HandleLeader(carried); err != nil {
				return err
			}
		} else {
			// ask the carried-over leader to bring this node into the
			// new configuration
			next.replica.RequestSync(carried)
		}
	}
	return nil
}

// Outgoing drains the outboxes of every live instance into envelopes for the
// host to dispatch.
func (o *OmniPaxos) Outgoing() []Message {
	var out []Message
	for id, inst := range o.instances {
		for _, bm := range inst.election.Outgoing() {
			bm := bm
			out = append(out, Message{Config: id, BLE: &bm})
		}
		for _, pm := range inst.replica.Outgoing() {
			pm := pm
			out = append(out, Message{Config: id, Paxos: &pm})
		}
	}
	return out
}

// Propose appends a client command to the active configuration's log.
func (o *OmniPaxos) Propose(cmd []byte) error {
	return o.instances[o.active].replica.Propose(cmd)
}

// ProposeReconfiguration proposes ending the active configuration in favor of
// the given member set. The metadata travels in the marker, opaque to the
// core; hosts use it e.g. for state hand-off to new members.
func (o *OmniPaxos) ProposeReconfiguration(members []uint64, metadata []byte) error {
	return o.instances[o.active].replica.ProposeReconfiguration(members, metadata)
}

// ReadDecidedSuffix reads the active configuration's decided log from index
// from.
func (o *OmniPaxos) ReadDecidedSuffix(from uint64) (paxos.LogRead, error) {
	return o.instances[o.active].replica.ReadDecidedSuffix(from)
}

// Trim discards the active configuration's log below upTo.
func (o *OmniPaxos) Trim(upTo uint64) error {
	return o.instances[o.active].replica.Trim(upTo)
}

// Snapshot compacts the active configuration's log below upTo.
func (o *OmniPaxos) Snapshot(upTo uint64) error {
	return o.instances[o.active].replica.Snapshot(upTo)
}

// CurrentLeader returns the active configuration's leader ballot; the zero
// ballot means no leader is known.
func (o *OmniPaxos) CurrentLeader() ble.Ballot {
	return o.instances[o.active].replica.CurrentLeader()
}

// DecidedIndex returns the active configuration's decided index.
func (o *OmniPaxos) DecidedIndex() uint64 {
	return o.instances[o.active].replica.DecidedIndex()
}

// Role returns this node's role in the active configuration.
func (o *OmniPaxos) Role() paxos.Role {
	return o.instances[o.active].replica.Role()
}

// ActiveConfig returns the id of the active configuration.
func (o *OmniPaxos) ActiveConfig() uint32 {
	return o.active
}
