package paxos

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	ble "github.com/AbyelT/omnipaxos/ballot-election"
)

// FileStorage is a file-backed Storage implementation. Every mutation rewrites
// the state file through a temp file, fsyncs and renames it into place, so a
// crash leaves either the old or the new state, never a torn one. State is
// restored on construction.
type FileStorage struct {
	path  string
	state fileState
}

// fileState is the on-disk layout, one JSON document per file.
type fileState struct {
	Log          []Entry    `json:"log"`
	Promised     ble.Ballot `json:"promised"`
	Accepted     ble.Ballot `json:"accepted_round"`
	DecidedIdx   uint64     `json:"decided_index"`
	CompactedIdx uint64     `json:"compacted_index"`
	Snapshot     *Snapshot  `json:"snapshot,omitempty"`
}

// NewFileStorage opens or creates the state file at path and restores any
// prior state from it.
func NewFileStorage(path string) (*FileStorage, error) {
	f := &FileStorage{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read state file: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}

	if err := json.Unmarshal(data, &f.state); err != nil {
		return nil, fmt.Errorf("cannot restore state file: %w", err)
	}
	return f, nil
}

func (f *FileStorage) persist() error {
	data, err := json.Marshal(f.state)
	if err != nil {
		return fmt.Errorf("cannot encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("cannot create temp state file: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot write state: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot sync state to disk: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot close temp state file: %w", err)
	}

	if err = os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot replace state file: %w", err)
	}
	return nil
}

func (f *FileStorage) length() uint64 {
	return f.state.CompactedIdx + uint64(len(f.state.Log))
}

func (f *FileStorage) AppendEntry(e Entry) (uint64, error) {
	f.state.Log = append(f.state.Log, e)
	if err := f.persist(); err != nil {
		return 0, err
	}
	return f.length(), nil
}

func (f *FileStorage) AppendEntries(entries []Entry) (uint64, error) {
	f.state.Log = append(f.state.Log, entries...)
	if err := f.persist(); err != nil {
		return 0, err
	}
	return f.length(), nil
}

func (f *FileStorage) AppendOnPrefix(from uint64, entries []Entry) (uint64, error) {
	if from < f.state.CompactedIdx {
		return 0, fmt.Errorf("storage: append on prefix %d below compacted index %d", from, f.state.CompactedIdx)
	}
	if rel := from - f.state.CompactedIdx; rel < uint64(len(f.state.Log)) {
		f.state.Log = f.state.Log[:rel]
	}
	f.state.Log = append(f.state.Log, entries...)
	if err := f.persist(); err != nil {
		return 0, err
	}
	return f.length(), nil
}

func (f *FileStorage) GetEntries(from, to uint64) ([]Entry, error) {
	if from < f.state.CompactedIdx || to > f.length() || from >= to {
		return nil, nil
	}
	out := make([]Entry, to-from)
	copy(out, f.state.Log[from-f.state.CompactedIdx:to-f.state.CompactedIdx])
	return out, nil
}

func (f *FileStorage) GetSuffix(from uint64) ([]Entry, error) {
	return f.GetEntries(from, f.length())
}

func (f *FileStorage) LogLength() (uint64, error) {
	return f.length(), nil
}

func (f *FileStorage) SetPromise(b ble.Ballot) error {
	f.state.Promised = b
	return f.persist()
}

func (f *FileStorage) GetPromise() (ble.Ballot, error) {
	return f.state.Promised, nil
}

func (f *FileStorage) SetAcceptedRound(b ble.Ballot) error {
	f.state.Accepted = b
	return f.persist()
}

func (f *FileStorage) GetAcceptedRound() (ble.Ballot, error) {
	return f.state.Accepted, nil
}

func (f *FileStorage) SetDecidedIndex(idx uint64) error {
	f.state.DecidedIdx = idx
	return f.persist()
}

func (f *FileStorage) GetDecidedIndex() (uint64, error) {
	return f.state.DecidedIdx, nil
}

func (f *FileStorage) Trim(idx uint64) error {
	if idx <= f.state.CompactedIdx {
		return nil
	}
	if idx > f.length() {
		return fmt.Errorf("storage: trim index %d past log length %d", idx, f.length())
	}
	f.state.Log = f.state.Log[idx-f.state.CompactedIdx:]
	f.state.CompactedIdx = idx
	return f.persist()
}

func (f *FileStorage) SetCompactedIndex(idx uint64) error {
	f.state.CompactedIdx = idx
	return f.persist()
}

func (f *FileStorage) GetCompactedIndex() (uint64, error) {
	return f.state.CompactedIdx, nil
}

func (f *FileStorage) SetSnapshot(s Snapshot) error {
	f.state.Snapshot = &s
	return f.persist()
}

func (f *FileStorage) GetSnapshot() (*Snapshot, error) {
	return f.state.Snapshot, nil
}
