package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Replication ReplicationConfig `yaml:"replication"`
}

type NodeConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
	DataDir string `yaml:"data_dir"`
}

type ClusterConfig struct {
	ConfigID uint32       `yaml:"config_id"`
	Peers    []PeerConfig `yaml:"peers"`
}

type PeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

type ReplicationConfig struct {
	TickIntervalMs        int  `yaml:"tick_interval_ms"`
	BatchSize             int  `yaml:"batch_size"`
	ElectionTimeoutRounds int  `yaml:"election_timeout_rounds"`
	LeaderContinuity      bool `yaml:"leader_continuity"`
	SnapshotEvery         int  `yaml:"snapshot_every"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node.id must be greater than 0")
	}

	if c.Node.Address == "" {
		return fmt.Errorf("node.address is required")
	}

	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}

	if c.Cluster.ConfigID == 0 {
		return fmt.Errorf("cluster.config_id must be greater than 0")
	}

	if len(c.Cluster.Peers) < 2 {
		return fmt.Errorf("cluster.peers must contain at least two peers")
	}

	found := false
	for _, peer := range c.Cluster.Peers {
		if peer.ID == c.Node.ID {
			found = true
			if peer.Address != c.Node.Address {
				return fmt.Errorf("node address mismatch: node.address=%s but peer address=%s",
					c.Node.Address, peer.Address)
			}
			break
		}
	}

	if !found {
		return fmt.Errorf("node.id=%d not found in cluster.peers", c.Node.ID)
	}

	uniqueIDs := make(map[uint64]bool)
	for _, peer := range c.Cluster.Peers {
		if peer.ID == 0 {
			return fmt.Errorf("peer ID must be greater than 0")
		}
		if uniqueIDs[peer.ID] {
			return fmt.Errorf("duplicate peer ID: %d", peer.ID)
		}
		uniqueIDs[peer.ID] = true
	}

	if c.Replication.TickIntervalMs < 0 {
		return fmt.Errorf("replication.tick_interval_ms cannot be negative")
	}

	if c.Replication.SnapshotEvery < 0 {
		return fmt.Errorf("replication.snapshot_every cannot be negative")
	}

	return nil
}

func (c *Config) GetPeers() map[uint64]string {
	var res = make(map[uint64]string, len(c.Cluster.Peers))
	for _, peer := range c.Cluster.Peers {
		res[peer.ID] = peer.Address
	}
	return res
}

func (c *Config) GetPeerIDs() []uint64 {
	ids := make([]uint64, len(c.Cluster.Peers))
	for i, peer := range c.Cluster.Peers {
		ids[i] = peer.ID
	}
	return ids
}

func (c *Config) TickInterval() int {
	if c.Replication.TickIntervalMs == 0 {
		return 50
	}
	return c.Replication.TickIntervalMs
}
