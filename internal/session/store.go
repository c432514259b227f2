// Package session implements the session state store: per-session workflow
// state, an append-only snapshot history, and the conversation context the
// iteration loop feeds back into generation. The store performs no business
// decisions; stage transitions are driven by the controller.
package session

import (
	"fmt"

	"github.com/louipr/spark-sub001/internal/types"
)

// maxConversationLen is the hard ceiling on conversation history; once
// exceeded the history is trimmed to the newest keepConversationLen entries.
const (
	maxConversationLen  = 100
	keepConversationLen = 50
)

// Update is a shallow partial applied by UpdateSession. Nil fields are left
// untouched; CreatedAt is always preserved.
type Update struct {
	UserID         *string
	CurrentRequest *string
	Workflow       *types.WorkflowState
	Preferences    map[string]string
}

// Store is the session state contract. Implementations must be safe for
// concurrent callers; the in-memory store shards its locks, the SQLite
// store serializes on the database handle.
type Store interface {
	// Initialize creates (or overwrites) a session: stage=analyzing,
	// progress=0, iterationCount=0, one initial snapshot. An empty id is
	// replaced with a generated one.
	Initialize(id, request, userID string) (*types.Session, error)

	// Get is a pure lookup. Returns ErrNotFound for unknown or expired ids.
	Get(id string) (*types.Session, error)

	// Update shallow-merges the partial into the session.
	Update(id string, update Update) (*types.Session, error)

	// UpdateWorkflowStage moves the state machine, clamps progress into
	// [0,100] (negative progress leaves the stored value unchanged), and
	// appends a snapshot recording the transition.
	UpdateWorkflowStage(id string, stage types.Stage, progress int, metadata map[string]interface{}) (*types.Session, error)

	// AddRequest appends to previousRequests, replaces currentRequest, and
	// increments iterationCount exactly once.
	AddRequest(id, request string) (*types.Session, error)

	// AddMessage appends a timestamped conversation message, trimming the
	// oldest entries once the history exceeds its ceiling.
	AddMessage(id, role, content string) (*types.Session, error)

	// List returns summaries of every live session.
	List() ([]types.SessionSummary, error)

	// Delete evicts a session. Deleting an unknown id is not an error.
	Delete(id string) error
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func validateStage(stage types.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", types.ErrConfiguration, stage)
	}
	return nil
}

// trimConversation enforces the history ceiling, keeping the newest
// messages in their original relative order.
func trimConversation(history []types.Message) []types.Message {
	if len(history) <= maxConversationLen {
		return history
	}
	trimmed := make([]types.Message, keepConversationLen)
	copy(trimmed, history[len(history)-keepConversationLen:])
	return trimmed
}

// summarize builds the listing view of a session.
func summarize(s *types.Session) types.SessionSummary {
	return types.SessionSummary{
		ID:         s.ID,
		UserID:     s.UserID,
		Stage:      s.Workflow.Stage,
		Progress:   s.Workflow.Progress,
		Iterations: s.Context.IterationCount,
		UpdatedAt:  s.UpdatedAt,
	}
}
