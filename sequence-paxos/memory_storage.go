package paxos

import (
	"fmt"

	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

// MemoryStorage is an in-memory Storage implementation. State does not survive
// the process; it is meant for tests and for hosts that handle durability at
// another layer.
type MemoryStorage struct {
	log          []Entry // entries from compactedIdx onwards
	promised     ble.Ballot
	accepted     ble.Ballot
	decidedIdx   uint64
	compactedIdx uint64
	snapshot     *Snapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) AppendEntry(e Entry) (uint64, error) {
	m.log = append(m.log, e)
	return m.length(), nil
}

func (m *MemoryStorage) AppendEntries(entries []Entry) (uint64, error) {
	m.log = append(m.log, entries...)
	return m.length(), nil
}

func (m *MemoryStorage) AppendOnPrefix(from uint64, entries []Entry) (uint64, error) {
	if from < m.compactedIdx {
		return 0, fmt.Errorf("storage: append on prefix %d below compacted index %d", from, m.compactedIdx)
	}
	if rel := from - m.compactedIdx; rel < uint64(len(m.log)) {
		m.log = m.log[:rel]
	}
	m.log = append(m.log, entries...)
	return m.length(), nil
}

func (m *MemoryStorage) GetEntries(from, to uint64) ([]Entry, error) {
	if from < m.compactedIdx || to > m.length() || from >= to {
		return nil, nil
	}
	out := make([]Entry, to-from)
	copy(out, m.log[from-m.compactedIdx:to-m.compactedIdx])
	return out, nil
}

func (m *MemoryStorage) GetSuffix(from uint64) ([]Entry, error) {
	return m.GetEntries(from, m.length())
}

func (m *MemoryStorage) LogLength() (uint64, error) {
	return m.length(), nil
}

func (m *MemoryStorage) length() uint64 {
	return m.compactedIdx + uint64(len(m.log))
}

func (m *MemoryStorage) SetPromise(b ble.Ballot) error {
	m.promised = b
	return nil
}

func (m *MemoryStorage) GetPromise() (ble.Ballot, error) {
	return m.promised, nil
}

func (m *MemoryStorage) SetAcceptedRound(b ble.Ballot) error {
	m.accepted = b
	return nil
}

func (m *MemoryStorage) GetAcceptedRound() (ble.Ballot, error) {
	return m.accepted, nil
}

func (m *MemoryStorage) SetDecidedIndex(idx uint64) error {
	m.decidedIdx = idx
	return nil
}

func (m *MemoryStorage) GetDecidedIndex() (uint64, error) {
	return m.decidedIdx, nil
}

func (m *MemoryStorage) Trim(idx uint64) error {
	if idx <= m.compactedIdx {
		return nil
	}
	if idx > m.length() {
		return fmt.Errorf("storage: trim index %d past log length %d", idx, m.length())
	}
	m.log = m.log[idx-m.compactedIdx:]
	m.compactedIdx = idx
	return nil
}

func (m *MemoryStorage) SetCompactedIndex(idx uint64) error {
	m.compactedIdx = idx
	return nil
}

func (m *MemoryStorage) GetCompactedIndex() (uint64, error) {
	return m.compactedIdx, nil
}

func (m *MemoryStorage) SetSnapshot(s Snapshot) error {
	m.snapshot = &s
	return nil
}

func (m *MemoryStorage) GetSnapshot() (*Snapshot, error) {
	return m.snapshot, nil
}
