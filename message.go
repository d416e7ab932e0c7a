package omnipaxos

import (
	ble "github.com/AbyelT/omnipaxos/ballot-election"
	paxos "github.com/AbyelT/omnipaxos/sequence-paxos"
)

// Message is the envelope exchanged between nodes: exactly one of BLE or
// Paxos is set, tagged with the configuration instance it belongs to. The
// host serializes, delivers and deserializes envelopes; the core only defines
// their shape.
type Message struct {
	Config uint32         `json:"config"`
	BLE    *ble.Message   `json:"ble,omitempty"`
	Paxos  *paxos.Message `json:"paxos,omitempty"`
}

// From returns the sender node id.
func (m Message) From() uint64 {
	if m.BLE != nil {
		return m.BLE.From
	}
	if m.Paxos != nil {
		return m.Paxos.From
	}
	return 0
}

// To returns the destination node id.
func (m Message) To() uint64 {
	if m.BLE != nil {
		return m.BLE.To
	}
	if m.Paxos != nil {
		return m.Paxos.To
	}
	return 0
}
