package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AbyelT/omnipaxos"
	kv "github.com/AbyelT/omnipaxos/kv-store"
	paxos "github.com/AbyelT/omnipaxos/sequence-paxos"
)

// Node hosts one omnipaxos consensus node: it owns the tick loop, dispatches
// outbound envelopes to peers over HTTP and applies decided entries to the
// key-value store. All calls into the consensus core go through mx.
type Node struct {
	cfg *Config

	mx sync.Mutex
	op *omnipaxos.OmniPaxos

	store  *kv.Store
	client *Client

	// addresses maps node IDs to their HTTP addresses, extended by
	// reconfiguration metadata as new members join
	addresses map[uint64]string

	// lastCompacted tracks the index of the last snapshot taken, so we
	// only compact once per snapshot_every decided entries
	lastCompacted uint64

	log logrus.FieldLogger

	shutdownCh chan struct{}
	doneCh     chan struct{}
}

func NewNode(cfg *Config, logger *logrus.Logger) (*Node, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	var snapshotFn paxos.SnapshotFunc
	if cfg.Replication.SnapshotEvery > 0 {
		snapshotFn = kv.FoldSnapshot
	}

	op, err := omnipaxos.New(omnipaxos.Config{
		PID:      cfg.Node.ID,
		ConfigID: cfg.Cluster.ConfigID,
		Members:  cfg.GetPeerIDs(),
		NewStorage: func(configID uint32) (paxos.Storage, error) {
			path := filepath.Join(cfg.Node.DataDir, fmt.Sprintf("config-%d.log", configID))
			return paxos.NewFileStorage(path)
		},
		BatchSize:             cfg.Replication.BatchSize,
		Continuity:            cfg.Replication.LeaderContinuity,
		ElectionTimeoutRounds: cfg.Replication.ElectionTimeoutRounds,
		SnapshotFn:            snapshotFn,
		Logger:                logger,
	})
	if err != nil {
		return nil, err
	}

	node := &Node{
		cfg:        cfg,
		op:         op,
		store:      kv.NewStore(),
		client:     NewClient(),
		addresses:  cfg.GetPeers(),
		log:        logger.WithField("node", cfg.Node.ID),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	// a restarted node may already hold decided entries on disk
	if err := node.applyDecided(); err != nil {
		return nil, err
	}

	return node, nil
}

// Start runs the tick loop until Shutdown is called.
func (n *Node) Start() {
	n.log.WithField("address", n.cfg.Node.Address).Info("node started")

	go func() {
		defer close(n.doneCh)

		ticker := time.NewTicker(time.Duration(n.cfg.TickInterval()) * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-n.shutdownCh:
				return

			case <-ticker.C:
				n.mx.Lock()
				if err := n.op.Tick(); err != nil {
					n.log.WithError(err).Error("tick failed")
				}
				out, err := n.step()
				n.mx.Unlock()
				if err != nil {
					n.log.WithError(err).Error("failed to apply decided entries")
				}

				n.dispatch(out)
			}
		}
	}()
}

func (n *Node) Shutdown() {
	close(n.shutdownCh)
	<-n.doneCh
	n.log.Info("node stopped")
}

// HandleMessage feeds one inbound envelope into the consensus core.
func (n *Node) HandleMessage(m omnipaxos.Message) error {
	n.mx.Lock()
	err := n.op.Handle(m)
	out, applyErr := n.step()
	n.mx.Unlock()

	if err != nil {
		return err
	}

	n.dispatch(out)
	return applyErr
}

// HandleCommand proposes a client command for replication. It does not wait
// for the command to be decided; a follower rejects with the current leader's
// ID so the client can retry there.
func (n *Node) HandleCommand(cmd kv.Command) error {
	msg, err := kv.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	n.mx.Lock()
	err = n.op.Propose(msg)
	var leader = n.op.CurrentLeader().PID
	out, _ := n.step()
	n.mx.Unlock()

	n.dispatch(out)

	if errors.Is(err, paxos.ErrNotLeader) {
		return fmt.Errorf("%w: try node %d", err, leader)
	}
	return err
}

// HandleReconfigure proposes replacing the cluster membership. The new
// members' addresses travel in the marker's metadata so every node can reach
// the successor configuration.
func (n *Node) HandleReconfigure(peers []PeerConfig) error {
	if len(peers) < 2 {
		return fmt.Errorf("new configuration needs at least two members")
	}

	members := make([]uint64, len(peers))
	addrs := make(map[uint64]string, len(peers))
	for i, p := range peers {
		if p.ID == 0 || p.Address == "" {
			return fmt.Errorf("peer %d: id and address are required", i)
		}
		members[i] = p.ID
		addrs[p.ID] = p.Address
	}

	metadata, err := json.Marshal(addrs)
	if err != nil {
		return err
	}

	n.mx.Lock()
	err = n.op.ProposeReconfiguration(members, metadata)
	out, _ := n.step()
	n.mx.Unlock()

	n.dispatch(out)
	return err
}

func (n *Node) Get(key string) (string, bool) {
	return n.store.Get(key)
}

type Status struct {
	ID           uint64 `json:"id"`
	Config       uint32 `json:"config"`
	Role         string `json:"role"`
	Leader       uint64 `json:"leader"`
	DecidedIndex uint64 `json:"decided_index"`
	Applied      uint64 `json:"applied"`
	Keys         int    `json:"keys"`
}

func (n *Node) Status() Status {
	n.mx.Lock()
	defer n.mx.Unlock()

	return Status{
		ID:           n.cfg.Node.ID,
		Config:       n.op.ActiveConfig(),
		Role:         n.op.Role().String(),
		Leader:       n.op.CurrentLeader().PID,
		DecidedIndex: n.op.DecidedIndex(),
		Applied:      n.store.Applied(),
		Keys:         n.store.Len(),
	}
}

// step drains the core's outbox and applies newly decided entries. Callers
// must hold mx; the returned envelopes are dispatched after unlocking.
func (n *Node) step() ([]omnipaxos.Message, error) {
	out := n.op.Outgoing()
	return out, n.applyDecided()
}

func (n *Node) applyDecided() error {
	read, err := n.op.ReadDecidedSuffix(n.store.Applied())
	if err != nil {
		return err
	}
	if read.Snapshot == nil && len(read.Entries) == 0 {
		return nil
	}

	// reconfiguration markers carry the successor members' addresses
	for _, e := range read.Entries {
		if !e.IsReconfig() || len(e.Reconfig.Metadata) == 0 {
			continue
		}

		var addrs map[uint64]string
		if err := json.Unmarshal(e.Reconfig.Metadata, &addrs); err != nil {
			n.log.WithError(err).Warn("ignoring malformed reconfiguration metadata")
			continue
		}
		for id, addr := range addrs {
			n.addresses[id] = addr
		}
	}

	if err := n.store.Apply(read); err != nil {
		return err
	}

	n.maybeCompact()
	return nil
}

func (n *Node) maybeCompact() {
	every := uint64(n.cfg.Replication.SnapshotEvery)
	if every == 0 {
		return
	}

	decided := n.op.DecidedIndex()
	if decided-n.lastCompacted < every {
		return
	}

	if err := n.op.Snapshot(decided); err != nil {
		n.log.WithError(err).Warn("snapshot failed")
		return
	}
	n.lastCompacted = decided
	n.log.WithField("up_to", decided).Debug("log compacted")
}

// dispatch sends envelopes to their destinations, each on its own goroutine.
// Delivery is best effort, the protocol tolerates lost messages.
func (n *Node) dispatch(out []omnipaxos.Message) {
	for _, m := range out {
		addr, ok := n.lookupAddress(m.To())
		if !ok {
			continue
		}

		m := m
		go func() {
			if err := n.client.SendMessage(addr, m); err != nil {
				n.log.WithError(err).WithField("to", m.To()).Debug("failed to deliver message")
			}
		}()
	}
}

func (n *Node) lookupAddress(id uint64) (string, bool) {
	n.mx.Lock()
	defer n.mx.Unlock()
	addr, ok := n.addresses[id]
	return addr, ok
}
