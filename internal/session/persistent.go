package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// Persister is the durable backing a PersistentStore writes through to.
// store.LocalStore satisfies it.
type Persister interface {
	SaveSession(sess *types.Session) error
	LoadSession(id string) (*types.Session, error)
	ListSessions() ([]types.SessionSummary, error)
	DeleteSession(id string) error
}

// PersistentStore layers write-through durability over a MemoryStore. Reads
// hit memory first and fall back to the persister, so sessions survive a
// process restart. Persistence failures are logged, not fatal: the in-memory
// state remains authoritative for the running process.
type PersistentStore struct {
	mem     *MemoryStore
	persist Persister
	logger  *zap.Logger
}

// NewPersistentStore wraps mem with write-through persistence.
func NewPersistentStore(mem *MemoryStore, persist Persister, logger *zap.Logger) *PersistentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistentStore{mem: mem, persist: persist, logger: logger.Named("session")}
}

func (s *PersistentStore) writeThrough(sess *types.Session, err error) (*types.Session, error) {
	if err != nil {
		return nil, err
	}
	if perr := s.persist.SaveSession(sess); perr != nil {
		s.logger.Warn("session write-through failed",
			zap.String("session_id", sess.ID), zap.Error(perr))
	}
	return sess, nil
}

func (s *PersistentStore) Initialize(id, request, userID string) (*types.Session, error) {
	return s.writeThrough(s.mem.Initialize(id, request, userID))
}

func (s *PersistentStore) Get(id string) (*types.Session, error) {
	sess, err := s.mem.Get(id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	// Resume path: rehydrate memory from the durable row.
	durable, derr := s.persist.LoadSession(id)
	if derr != nil {
		return nil, err
	}
	s.restore(durable)
	return durable.Clone(), nil
}

// restore places a rehydrated session back into the memory shard without
// resetting its history or timestamps.
func (s *PersistentStore) restore(sess *types.Session) {
	shard := s.mem.shardFor(sess.ID)
	shard.mu.Lock()
	shard.sessions[sess.ID] = sess.Clone()
	shard.mu.Unlock()
	s.logger.Info("session rehydrated", zap.String("session_id", sess.ID))
}

func (s *PersistentStore) Update(id string, update Update) (*types.Session, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.writeThrough(s.mem.Update(id, update))
}

func (s *PersistentStore) UpdateWorkflowStage(id string, stage types.Stage, progress int, metadata map[string]interface{}) (*types.Session, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.writeThrough(s.mem.UpdateWorkflowStage(id, stage, progress, metadata))
}

func (s *PersistentStore) AddRequest(id, request string) (*types.Session, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.writeThrough(s.mem.AddRequest(id, request))
}

func (s *PersistentStore) AddMessage(id, role, content string) (*types.Session, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.writeThrough(s.mem.AddMessage(id, role, content))
}

func (s *PersistentStore) List() ([]types.SessionSummary, error) {
	// The durable listing is the superset; memory only holds live sessions.
	list, err := s.persist.ListSessions()
	if err != nil {
		s.logger.Warn("durable list failed, falling back to memory", zap.Error(err))
		return s.mem.List()
	}
	return list, nil
}

func (s *PersistentStore) Delete(id string) error {
	if err := s.mem.Delete(id); err != nil {
		return err
	}
	return s.persist.DeleteSession(id)
}

var _ Store = (*PersistentStore)(nil)
var _ Store = (*MemoryStore)(nil)
