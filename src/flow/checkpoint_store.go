package flow

import (
	"sort"
	"sync"

	"github.com/mosaicnetworks/notarium/src/common"
)

// CheckpointStore persists the latest checkpoint of every live flow. A save
// supersedes the previous checkpoint of the same flow.
type CheckpointStore interface {
	Save(id FlowID, c *Checkpoint) error
	Load(id FlowID) (*Checkpoint, error)
	Delete(id FlowID) error
	All() ([]*Checkpoint, error)
	Close() error
}

// InmemCheckpointStore keeps encoded checkpoints in memory. It outlives the
// Managers that use it, which is how tests simulate restarts.
type InmemCheckpointStore struct {
	sync.RWMutex

	checkpoints map[FlowID][]byte
	saves       map[FlowID]int
}

// NewInmemCheckpointStore ...
func NewInmemCheckpointStore() *InmemCheckpointStore {
	return &InmemCheckpointStore{
		checkpoints: make(map[FlowID][]byte),
		saves:       make(map[FlowID]int),
	}
}

// Save implements CheckpointStore.
func (s *InmemCheckpointStore) Save(id FlowID, c *Checkpoint) error {
	data, err := EncodeCheckpoint(c)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	s.checkpoints[id] = data
	s.saves[id]++

	return nil
}

// Load implements CheckpointStore.
func (s *InmemCheckpointStore) Load(id FlowID) (*Checkpoint, error) {
	s.RLock()
	data, ok := s.checkpoints[id]
	s.RUnlock()

	if !ok {
		return nil, common.NewStoreErr("Checkpoint", common.KeyNotFound, string(id))
	}

	c, err := DecodeCheckpoint(data)
	if err != nil {
		return nil, common.NewStoreErr("Checkpoint", common.Corrupted, string(id))
	}

	return c, nil
}

// Delete implements CheckpointStore.
func (s *InmemCheckpointStore) Delete(id FlowID) error {
	s.Lock()
	defer s.Unlock()
	delete(s.checkpoints, id)
	return nil
}

// All implements CheckpointStore. Checkpoints are sorted by flow id.
func (s *InmemCheckpointStore) All() ([]*Checkpoint, error) {
	s.RLock()
	ids := make([]FlowID, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}
	s.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		c, err := s.Load(id)
		if err != nil {
			if common.IsStore(err, common.KeyNotFound) {
				continue
			}
			return nil, err
		}
		res = append(res, c)
	}

	return res, nil
}

// Close implements CheckpointStore.
func (s *InmemCheckpointStore) Close() error {
	return nil
}

// Saves returns how many times the checkpoint of a flow was saved.
func (s *InmemCheckpointStore) Saves(id FlowID) int {
	s.RLock()
	defer s.RUnlock()
	return s.saves[id]
}

// Len returns the number of stored checkpoints.
func (s *InmemCheckpointStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.checkpoints)
}
