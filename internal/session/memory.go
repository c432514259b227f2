package session

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// shardCount spreads session locks so concurrent sessions rarely contend.
const shardCount = 16

// MemoryStore is the default Store: sharded-mutex in-memory map with lazy
// TTL eviction on Get. Satisfies the durability non-goal (in-memory is
// sufficient); swap in the SQLite store for persistence across processes.
type MemoryStore struct {
	shards [shardCount]*memoryShard
	ttl    time.Duration // 0 disables expiry
	logger *zap.Logger
	now    func() time.Time
}

type memoryShard struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
}

// NewMemoryStore creates an in-memory store. ttl of zero disables session
// expiration entirely.
func NewMemoryStore(ttl time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		ttl:    ttl,
		logger: logger.Named("session"),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{sessions: make(map[string]*types.Session)}
	}
	return s
}

func (s *MemoryStore) shardFor(id string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// expired implements the lazy eviction policy: a session older than the TTL
// (measured from its last update) is treated as absent.
func (s *MemoryStore) expired(sess *types.Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl
}

func (s *MemoryStore) Initialize(id, request, userID string) (*types.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	sess := &types.Session{
		ID:             id,
		UserID:         userID,
		CurrentRequest: request,
		Workflow: types.WorkflowState{
			Stage:    types.StageAnalyzing,
			Progress: 0,
			Metadata: map[string]interface{}{},
		},
		Context: types.SessionContext{
			PreviousRequests:    []string{request},
			IterationCount:      0,
			ConversationHistory: []types.Message{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sess.History = append(sess.History, types.StateSnapshot{
		ID:        uuid.NewString(),
		Timestamp: now,
		Stage:     types.StageAnalyzing,
		Data:      map[string]interface{}{"request": request},
	})

	shard := s.shardFor(id)
	shard.mu.Lock()
	shard.sessions[id] = sess
	shard.mu.Unlock()

	s.logger.Info("session initialized",
		zap.String("session_id", id),
		zap.String("user_id", userID))
	return sess.Clone(), nil
}

func (s *MemoryStore) Get(id string) (*types.Session, error) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	sess, ok := shard.sessions[id]
	shard.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if s.expired(sess) {
		shard.mu.Lock()
		// Re-check under the write lock; another caller may have replaced it.
		if cur, ok := shard.sessions[id]; ok && s.expired(cur) {
			delete(shard.sessions, id)
		}
		shard.mu.Unlock()
		s.logger.Debug("session expired on access", zap.String("session_id", id))
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return sess.Clone(), nil
}

// mutate runs fn on the live session under the shard write lock. fn must
// not retain the pointer.
func (s *MemoryStore) mutate(id string, fn func(*types.Session) error) (*types.Session, error) {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok || s.expired(sess) {
		if ok {
			delete(shard.sessions, id)
		}
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = s.now()
	return sess.Clone(), nil
}

func (s *MemoryStore) Update(id string, update Update) (*types.Session, error) {
	return s.mutate(id, func(sess *types.Session) error {
		if update.UserID != nil {
			sess.UserID = *update.UserID
		}
		if update.CurrentRequest != nil {
			sess.CurrentRequest = *update.CurrentRequest
		}
		if update.Workflow != nil {
			wf := *update.Workflow
			wf.Progress = clampProgress(wf.Progress)
			if err := validateStage(wf.Stage); err != nil {
				return err
			}
			sess.Workflow = wf
		}
		if update.Preferences != nil {
			if sess.Context.UserPreferences == nil {
				sess.Context.UserPreferences = make(map[string]string, len(update.Preferences))
			}
			for k, v := range update.Preferences {
				sess.Context.UserPreferences[k] = v
			}
		}
		return nil
	})
}

func (s *MemoryStore) UpdateWorkflowStage(id string, stage types.Stage, progress int, metadata map[string]interface{}) (*types.Session, error) {
	if err := validateStage(stage); err != nil {
		return nil, err
	}
	return s.mutate(id, func(sess *types.Session) error {
		sess.Workflow.Stage = stage
		if progress >= 0 {
			sess.Workflow.Progress = clampProgress(progress)
		}
		if metadata != nil {
			if sess.Workflow.Metadata == nil {
				sess.Workflow.Metadata = make(map[string]interface{}, len(metadata))
			}
			for k, v := range metadata {
				sess.Workflow.Metadata[k] = v
			}
		}
		sess.History = append(sess.History, types.StateSnapshot{
			ID:        uuid.NewString(),
			Timestamp: s.now(),
			Stage:     stage,
			Data: map[string]interface{}{
				"progress": sess.Workflow.Progress,
				"metadata": metadata,
			},
		})
		s.logger.Debug("stage transition",
			zap.String("session_id", id),
			zap.String("stage", string(stage)),
			zap.Int("progress", sess.Workflow.Progress))
		return nil
	})
}

func (s *MemoryStore) AddRequest(id, request string) (*types.Session, error) {
	return s.mutate(id, func(sess *types.Session) error {
		sess.Context.PreviousRequests = append(sess.Context.PreviousRequests, request)
		sess.CurrentRequest = request
		sess.Context.IterationCount++
		return nil
	})
}

func (s *MemoryStore) AddMessage(id, role, content string) (*types.Session, error) {
	return s.mutate(id, func(sess *types.Session) error {
		sess.Context.ConversationHistory = append(sess.Context.ConversationHistory, types.Message{
			Role:      role,
			Content:   content,
			Timestamp: s.now(),
		})
		sess.Context.ConversationHistory = trimConversation(sess.Context.ConversationHistory)
		return nil
	})
}

func (s *MemoryStore) List() ([]types.SessionSummary, error) {
	var out []types.SessionSummary
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, sess := range shard.sessions {
			if s.expired(sess) {
				continue
			}
			out = append(out, summarize(sess))
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	shard := s.shardFor(id)
	shard.mu.Lock()
	delete(shard.sessions, id)
	shard.mu.Unlock()
	return nil
}
