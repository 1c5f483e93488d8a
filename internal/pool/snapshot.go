package pool

import (
	"github.com/alovak/vcard/internal/storage"
)

// Snapshot is the durable form of the pool.
type Snapshot struct {
	Cards          []string `json:"cards"`
	LastGeneration string   `json:"last_generation"`
	PoolSize       int      `json:"pool_size"`
}

// SnapshotStore persists pool snapshots. Load returns nil, nil when no
// snapshot has been written yet.
type SnapshotStore interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FileSnapshotStore keeps the snapshot in a single JSON file.
type FileSnapshotStore struct {
	path string
}

func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

func (s *FileSnapshotStore) Path() string { return s.path }

func (s *FileSnapshotStore) Load() (*Snapshot, error) {
	var snap Snapshot
	found, err := storage.ReadJSON(s.path, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (s *FileSnapshotStore) Save(snap *Snapshot) error {
	return storage.WriteJSON(s.path, snap)
}

type nopSnapshotStore struct{}

func (nopSnapshotStore) Load() (*Snapshot, error) { return nil, nil }
func (nopSnapshotStore) Save(*Snapshot) error     { return nil }
