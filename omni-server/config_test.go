package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Node: NodeConfig{ID: 1, Address: "localhost:8001", DataDir: "/tmp/omni"},
		Cluster: ClusterConfig{
			ConfigID: 1,
			Peers: []PeerConfig{
				{ID: 1, Address: "localhost:8001"},
				{ID: 2, Address: "localhost:8002"},
				{ID: 3, Address: "localhost:8003"},
			},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	var tt = []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero node id",
			mutate:  func(c *Config) { c.Node.ID = 0 },
			wantErr: true,
		},
		{
			name:    "missing address",
			mutate:  func(c *Config) { c.Node.Address = "" },
			wantErr: true,
		},
		{
			name:    "missing data dir",
			mutate:  func(c *Config) { c.Node.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "zero config id",
			mutate:  func(c *Config) { c.Cluster.ConfigID = 0 },
			wantErr: true,
		},
		{
			name:    "too few peers",
			mutate:  func(c *Config) { c.Cluster.Peers = c.Cluster.Peers[:1] },
			wantErr: true,
		},
		{
			name:    "node not in peers",
			mutate:  func(c *Config) { c.Node.ID = 9 },
			wantErr: true,
		},
		{
			name: "node address mismatch",
			mutate: func(c *Config) {
				c.Cluster.Peers[0].Address = "localhost:9999"
			},
			wantErr: true,
		},
		{
			name: "duplicate peer id",
			mutate: func(c *Config) {
				c.Cluster.Peers[2].ID = 2
			},
			wantErr: true,
		},
		{
			name:    "negative tick interval",
			mutate:  func(c *Config) { c.Replication.TickIntervalMs = -1 },
			wantErr: true,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	var data = `
node:
  id: 2
  address: localhost:8002
  data_dir: /tmp/omni-2
cluster:
  config_id: 1
  peers:
    - id: 1
      address: localhost:8001
    - id: 2
      address: localhost:8002
    - id: 3
      address: localhost:8003
replication:
  tick_interval_ms: 25
  batch_size: 10
  election_timeout_rounds: 4
  leader_continuity: true
  snapshot_every: 100
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, uint64(2), cfg.Node.ID)
	require.Equal(t, "localhost:8002", cfg.Node.Address)
	require.Equal(t, uint32(1), cfg.Cluster.ConfigID)
	require.Len(t, cfg.Cluster.Peers, 3)
	require.Equal(t, 25, cfg.TickInterval())
	require.Equal(t, 10, cfg.Replication.BatchSize)
	require.True(t, cfg.Replication.LeaderContinuity)

	peers := cfg.GetPeers()
	require.Equal(t, "localhost:8003", peers[3])
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfig_TickIntervalDefault(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, 50, cfg.TickInterval())
}
