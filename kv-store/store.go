package kv

import (
	"encoding/json"
	"fmt"
	"sync"

	paxos "github.com/AbyelT/omnipaxos/sequence-paxos"
)

// Store is an in-memory key-value state machine built from decided log entries.
type Store struct {
	mu      sync.RWMutex
	data    map[string]string
	applied uint64
}

func NewStore() *Store {
	return &Store{
		data: make(map[string]string),
	}
}

// Applied returns the index of the next log entry the store has yet to
// apply; every entry below it is already reflected in the state.
func (s *Store) Applied() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// Apply applies a decided log read: first the snapshot (if any), then every
// entry above the already applied index. Reconfiguration markers are skipped,
// they carry no key-value command.
func (s *Store) Apply(read paxos.LogRead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if read.Snapshot != nil && read.Snapshot.Index > s.applied {
		var restored map[string]string
		if err := json.Unmarshal(read.Snapshot.Data, &restored); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}

		s.data = restored
		s.applied = read.Snapshot.Index
	}

	for _, e := range read.Entries {
		if e.Index < s.applied {
			continue
		}
		if e.IsReconfig() {
			s.applied = e.Index + 1
			continue
		}

		cmd, err := DecodeCommand(e.Command)
		if err != nil {
			return fmt.Errorf("failed to decode command at index %d: %w", e.Index, err)
		}

		s.applyCommand(cmd)
		s.applied = e.Index + 1
	}

	return nil
}

func (s *Store) applyCommand(cmd Command) {
	switch cmd.Kind {
	case CmdSet:
		s.data[cmd.Key] = cmd.Value
	case CmdDelete:
		delete(s.data, cmd.Key)
	}
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	return value, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// FoldSnapshot folds log entries into a snapshot of the key-value state.
// The previous snapshot, if any, is a JSON map; the result is the same map
// with all commands from the entries applied on top.
func FoldSnapshot(prev []byte, entries []paxos.Entry) ([]byte, error) {
	var data = make(map[string]string)
	if len(prev) > 0 {
		if err := json.Unmarshal(prev, &data); err != nil {
			return nil, fmt.Errorf("failed to decode previous snapshot: %w", err)
		}
	}

	for _, e := range entries {
		if e.IsReconfig() {
			continue
		}

		cmd, err := DecodeCommand(e.Command)
		if err != nil {
			return nil, fmt.Errorf("failed to decode command at index %d: %w", e.Index, err)
		}

		switch cmd.Kind {
		case CmdSet:
			data[cmd.Key] = cmd.Value
		case CmdDelete:
			delete(data, cmd.Key)
		}
	}

	return json.Marshal(data)
}
