package ble

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testCluster wires BallotElection nodes together with in-memory delivery.
// Nodes marked down neither tick nor receive messages.
type testCluster struct {
	nodes map[uint64]*BallotElection
	down  map[uint64]bool
}

func newTestCluster(t *testing.T, pids []uint64, timeoutRounds int) *testCluster {
	t.Helper()

	c := &testCluster{
		nodes: make(map[uint64]*BallotElection, len(pids)),
		down:  make(map[uint64]bool),
	}

	for _, pid := range pids {
		var peers []uint64
		for _, p := range pids {
			if p != pid {
				peers = append(peers, p)
			}
		}

		node, err := New(Config{PID: pid, Peers: peers, TimeoutRounds: timeoutRounds})
		require.NoError(t, err)
		c.nodes[pid] = node
	}

	return c
}

// tick runs one heartbeat round on every live node and delivers all produced
// messages: first the requests, then the replies they triggered. It returns
// the leader events raised this round, keyed by pid.
func (c *testCluster) tick() map[uint64]Ballot {
	events := make(map[uint64]Ballot)

	for pid, node := range c.nodes {
		if c.down[pid] {
			continue
		}
		if ev := node.Tick(); ev != nil {
			events[pid] = *ev
		}
	}

	c.deliver()
	c.deliver()
	return events
}

func (c *testCluster) deliver() {
	for pid, node := range c.nodes {
		if c.down[pid] {
			continue
		}
		for _, m := range node.Outgoing() {
			if c.down[m.To] {
				continue
			}
			c.nodes[m.To].HandleMessage(m)
		}
	}
}

func TestBallotElection_ElectsHighestBallot(t *testing.T) {
	cluster := newTestCluster(t, []uint64{1, 2, 3}, 3)

	// first round gathers replies, second round evaluates them
	cluster.tick()
	events := cluster.tick()

	expected := Ballot{Number: 1, PID: 3}
	require.Len(t, events, 3)
	for _, ev := range events {
		require.Equal(t, expected, ev)
	}
	for _, node := range cluster.nodes {
		require.Equal(t, expected, node.Leader())
	}
}

func TestBallotElection_TakeoverAfterLeaderFailure(t *testing.T) {
	cluster := newTestCluster(t, []uint64{1, 2, 3}, 2)

	cluster.tick()
	cluster.tick()
	require.Equal(t, Ballot{Number: 1, PID: 3}, cluster.nodes[1].Leader())

	// the leader goes silent
	cluster.down[3] = true

	var elected *Ballot
	for i := 0; i < 10 && elected == nil; i++ {
		for _, ev := range cluster.tick() {
			ev := ev
			elected = &ev
		}
	}

	require.NotNil(t, elected)
	require.Equal(t, uint64(2), elected.PID)
	require.True(t, elected.GreaterThan(Ballot{Number: 1, PID: 3}))
	require.Equal(t, *elected, cluster.nodes[1].Leader())
	require.Equal(t, *elected, cluster.nodes[2].Leader())
}

func TestBallotElection_NoQuorumNoLeader(t *testing.T) {
	cluster := newTestCluster(t, []uint64{1, 2, 3}, 3)
	cluster.down[2] = true
	cluster.down[3] = true

	for i := 0; i < 10; i++ {
		events := cluster.tick()
		require.Empty(t, events)
	}

	require.True(t, cluster.nodes[1].Leader().IsZero())
}

func TestBallotElection_SameLeaderNotAnnouncedTwice(t *testing.T) {
	cluster := newTestCluster(t, []uint64{1, 2, 3}, 3)

	cluster.tick()
	require.Len(t, cluster.tick(), 3)

	for i := 0; i < 5; i++ {
		require.Empty(t, cluster.tick())
	}
}

func TestBallotElection_InitialLeaderSeed(t *testing.T) {
	seed := Ballot{Number: 5, PID: 2}

	follower, err := New(Config{PID: 1, Peers: []uint64{2, 3}, InitialLeader: seed})
	require.NoError(t, err)
	require.Equal(t, seed, follower.Leader())

	leader, err := New(Config{PID: 2, Peers: []uint64{1, 3}, InitialLeader: seed})
	require.NoError(t, err)
	require.Equal(t, seed, leader.CurrentBallot())
}

func TestBallotElection_ConfigValidation(t *testing.T) {
	var tt = []struct {
		name string
		cfg  Config
	}{
		{name: "zero pid", cfg: Config{PID: 0, Peers: []uint64{2}}},
		{name: "empty peers", cfg: Config{PID: 1}},
		{name: "own pid in peers", cfg: Config{PID: 1, Peers: []uint64{1, 2}}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			require.Error(t, err)
		})
	}
}
