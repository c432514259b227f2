package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/louipr/spark-sub001/internal/types"
)

func newStore() *MemoryStore {
	return NewMemoryStore(0, nil)
}

func TestInitializeDefaults(t *testing.T) {
	s := newStore()
	sess, err := s.Initialize("sess-1", "build a todo app", "user-7")
	require.NoError(t, err)

	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, "user-7", sess.UserID)
	require.Equal(t, types.StageAnalyzing, sess.Workflow.Stage)
	require.Equal(t, 0, sess.Workflow.Progress)
	require.Equal(t, 0, sess.Context.IterationCount)
	require.Len(t, sess.History, 1, "initialize appends exactly one snapshot")
	require.Equal(t, []string{"build a todo app"}, sess.Context.PreviousRequests)
}

func TestInitializeGeneratesID(t *testing.T) {
	s := newStore()
	sess, err := s.Initialize("", "request", "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
}

func TestInitializeOverwriteAllowed(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("dup", "first", "")
	require.NoError(t, err)
	sess, err := s.Initialize("dup", "second", "")
	require.NoError(t, err)
	require.Equal(t, "second", sess.CurrentRequest)
	require.Len(t, sess.History, 1, "overwrite starts a fresh history")
}

func TestGetUnknownIsNotFound(t *testing.T) {
	s := newStore()
	_, err := s.Get("missing")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetIsIdempotent(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	first, err := s.Get("sess")
	require.NoError(t, err)
	second, err := s.Get("sess")
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("two Gets without mutation differ (-first +second):\n%s", diff)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	got, err := s.Get("sess")
	require.NoError(t, err)
	got.Workflow.Progress = 99
	got.Context.PreviousRequests = append(got.Context.PreviousRequests, "tampered")

	fresh, err := s.Get("sess")
	require.NoError(t, err)
	require.Equal(t, 0, fresh.Workflow.Progress, "caller mutation must not leak into the store")
	require.Len(t, fresh.Context.PreviousRequests, 1)
}

func TestUpdateUnknownIsNotFound(t *testing.T) {
	s := newStore()
	req := "x"
	_, err := s.Update("missing", Update{CurrentRequest: &req})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	s := newStore()
	orig, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	user := "someone"
	updated, err := s.Update("sess", Update{UserID: &user})
	require.NoError(t, err)
	require.Equal(t, orig.CreatedAt, updated.CreatedAt)
	require.Equal(t, "someone", updated.UserID)
	require.False(t, updated.UpdatedAt.Before(orig.UpdatedAt))
}

func TestProgressClamping(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	for _, tc := range []struct {
		in   int
		want int
	}{
		{0, 0}, {50, 50}, {100, 100}, {150, 100}, {1000, 100},
	} {
		sess, err := s.UpdateWorkflowStage("sess", types.StageGenerating, tc.in, nil)
		require.NoError(t, err)
		require.Equal(t, tc.want, sess.Workflow.Progress, "progress %d should clamp to %d", tc.in, tc.want)
	}
}

func TestNegativeProgressLeavesStoredValue(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	_, err = s.UpdateWorkflowStage("sess", types.StageGenerating, 40, nil)
	require.NoError(t, err)
	sess, err := s.UpdateWorkflowStage("sess", types.StageValidating, -1, nil)
	require.NoError(t, err)
	require.Equal(t, 40, sess.Workflow.Progress)
}

func TestHistoryAppendOnly(t *testing.T) {
	s := newStore()
	sess, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)

	for i := 0; i < 5; i++ {
		sess, err = s.UpdateWorkflowStage("sess", types.StageGenerating, i*10, nil)
		require.NoError(t, err)
		require.Len(t, sess.History, i+2, "each transition appends exactly one snapshot")
	}

	// Snapshots keep chronological order and distinct ids.
	seen := map[string]bool{}
	for i := 1; i < len(sess.History); i++ {
		require.False(t, sess.History[i].Timestamp.Before(sess.History[i-1].Timestamp))
		require.False(t, seen[sess.History[i].ID], "snapshot ids must be unique")
		seen[sess.History[i].ID] = true
	}
}

func TestUnknownStageRejected(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	_, err = s.UpdateWorkflowStage("sess", types.Stage("daydreaming"), 10, nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestAddRequestIncrementsIterationCount(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "first", "")
	require.NoError(t, err)

	sess, err := s.AddRequest("sess", "second")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Context.IterationCount)
	require.Equal(t, "second", sess.CurrentRequest)
	require.Equal(t, []string{"first", "second"}, sess.Context.PreviousRequests)

	sess, err = s.AddRequest("sess", "third")
	require.NoError(t, err)
	require.Equal(t, 2, sess.Context.IterationCount)
}

func TestConversationTrimming(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	var sess *types.Session
	for i := 0; i < 150; i++ {
		sess, err = s.AddMessage("sess", "user", fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
		require.LessOrEqual(t, len(sess.Context.ConversationHistory), maxConversationLen,
			"history must never exceed the ceiling")
	}

	history := sess.Context.ConversationHistory
	require.GreaterOrEqual(t, len(history), keepConversationLen)

	// The newest messages survive in their original relative order.
	last := history[len(history)-1]
	require.Equal(t, "msg-149", last.Content)
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1].Content, history[i].Content
		var a, b int
		fmt.Sscanf(prev, "msg-%d", &a)
		fmt.Sscanf(cur, "msg-%d", &b)
		require.Equal(t, a+1, b, "relative order must be preserved")
	}
}

func TestLazyExpiryOnGet(t *testing.T) {
	s := NewMemoryStore(time.Minute, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	_, err = s.Get("sess")
	require.NoError(t, err)

	base = base.Add(2 * time.Minute)
	_, err = s.Get("sess")
	require.ErrorIs(t, err, types.ErrNotFound, "stale session must be evicted on access")

	// Eviction is permanent even after time moves on.
	_, err = s.Get("sess")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestListSummaries(t *testing.T) {
	s := newStore()
	for i := 0; i < 3; i++ {
		_, err := s.Initialize(fmt.Sprintf("sess-%d", i), "req", "")
		require.NoError(t, err)
	}
	_, err := s.UpdateWorkflowStage("sess-1", types.StageCompleted, 100, nil)
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Most recently updated first.
	require.Equal(t, "sess-1", list[0].ID)
	require.Equal(t, types.StageCompleted, list[0].Stage)
}

func TestDeleteUnknownIsNoError(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Delete("missing"))
}

func TestConcurrentMutations(t *testing.T) {
	s := newStore()
	_, err := s.Initialize("sess", "req", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := s.AddMessage("sess", "user", "m"); err != nil && !errors.Is(err, types.ErrNotFound) {
					t.Error(err)
					return
				}
				if _, err := s.Get("sess"); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	sess, err := s.Get("sess")
	require.NoError(t, err)
	require.LessOrEqual(t, len(sess.Context.ConversationHistory), maxConversationLen)
}
