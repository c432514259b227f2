// Package types holds the shared data model for the spark orchestration
// core: sessions and their audit history, generated documents, validation
// reports, and provider descriptions. Packages higher in the dependency
// graph (router, controller) exchange these values; keeping them here avoids
// import cycles between the session store and the iteration loop.
package types

import "time"

// Stage identifies where a session is in the generation workflow.
type Stage string

const (
	StageAnalyzing  Stage = "analyzing"
	StageGenerating Stage = "generating"
	StageValidating Stage = "validating"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Terminal reports whether the stage ends the workflow.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether the stage is one of the known workflow stages.
func (s Stage) Valid() bool {
	switch s {
	case StageAnalyzing, StageGenerating, StageValidating, StageCompleted, StageFailed:
		return true
	}
	return false
}

// Message is one turn of the session's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState is the live position of a session in the state machine.
// Progress is always clamped to [0,100] by the session store.
type WorkflowState struct {
	Stage    Stage                  `json:"stage"`
	Progress int                    `json:"progress"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SessionContext accumulates the inputs a session has seen so far.
type SessionContext struct {
	PreviousRequests    []string          `json:"previous_requests"`
	IterationCount      int               `json:"iteration_count"`
	ConversationHistory []Message         `json:"conversation_history"`
	UserPreferences     map[string]string `json:"user_preferences,omitempty"`
}

// StateSnapshot is an immutable capture of a stage transition, appended to
// the session's history and never modified afterwards.
type StateSnapshot struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Stage     Stage                  `json:"stage"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is the persistent record of one iterative generation interaction.
type Session struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	CurrentRequest string          `json:"current_request"`
	Workflow       WorkflowState   `json:"workflow_state"`
	Context        SessionContext  `json:"context"`
	History        []StateSnapshot `json:"history"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so readers never alias store-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Workflow.Metadata = copyMap(s.Workflow.Metadata)
	out.Context.PreviousRequests = append([]string(nil), s.Context.PreviousRequests...)
	out.Context.ConversationHistory = append([]Message(nil), s.Context.ConversationHistory...)
	if s.Context.UserPreferences != nil {
		prefs := make(map[string]string, len(s.Context.UserPreferences))
		for k, v := range s.Context.UserPreferences {
			prefs[k] = v
		}
		out.Context.UserPreferences = prefs
	}
	out.History = make([]StateSnapshot, len(s.History))
	for i, snap := range s.History {
		snap.Data = copyMap(snap.Data)
		snap.Metadata = copyMap(snap.Metadata)
		out.History[i] = snap
	}
	return &out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SessionSummary is the listing view of a session, for CLI display.
type SessionSummary struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Stage      Stage     `json:"stage"`
	Progress   int       `json:"progress"`
	Iterations int       `json:"iterations"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Analysis is the analyzer's read of a natural-language request. The
// analyzer itself lives outside this core; the controller only carries the
// result through to generation and validation.
type Analysis struct {
	AppType        string   `json:"app_type"`
	Features       []string `json:"features"`
	Complexity     string   `json:"complexity"`
	Confidence     float64  `json:"confidence"`
	SuggestedStack []string `json:"suggested_stack"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// Document is the structured artifact being iteratively produced. Section
// authoring is external; the core only probes the fields the validation
// rules inspect.
type Document struct {
	Title           string                 `json:"title"`
	Sections        map[string]string      `json:"sections"`
	Requirements    []string               `json:"requirements"`
	TechStack       []string               `json:"tech_stack,omitempty"`
	TestingStrategy string                 `json:"testing_strategy,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// SectionResult is the per-section outcome inside a ValidationReport.
type SectionResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationReport is produced fresh per validate call and never mutated.
// Completeness and QualityScore are always within [0,1].
type ValidationReport struct {
	Valid           bool                     `json:"valid"`
	Errors          []string                 `json:"errors,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Sections        map[string]SectionResult `json:"sections"`
	Recommendations []string                 `json:"recommendations,omitempty"`
	Completeness    float64                  `json:"completeness"`
	QualityScore    float64                  `json:"quality_score"`
	EstimatedEffort string                   `json:"estimated_effort"`
}

// TaskType tags what a dispatched request is for; routing strategies and the
// cache key both incorporate it.
type TaskType string

const (
	TaskAnalysis   TaskType = "analysis"
	TaskGeneration TaskType = "generation"
	TaskRefinement TaskType = "refinement"
)

// Capability flags a backend feature a request may require.
type Capability string

const (
	CapStreaming       Capability = "streaming"
	CapFunctionCalling Capability = "function_calling"
	CapVision          Capability = "vision"
	CapJSONMode        Capability = "json_mode"
)

// PriorityTier orders provider candidates for fallback routing.
type PriorityTier string

const (
	TierMust   PriorityTier = "must"
	TierShould PriorityTier = "should"
	TierNice   PriorityTier = "nice"
)

// Rank maps the tier to a sortable weight; lower is tried first.
func (t PriorityTier) Rank() int {
	switch t {
	case TierMust:
		return 0
	case TierShould:
		return 1
	case TierNice:
		return 2
	default:
		return 3
	}
}

// Pricing is a provider's per-1K-token cost in USD.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// ProviderConfig describes one generation backend candidate. Immutable after
// construction; the router derives a live candidate set per call by
// filtering on Enabled.
type ProviderConfig struct {
	Name          string       `json:"name" yaml:"name"`
	Kind          string       `json:"kind" yaml:"kind"` // openai-compat, gemini, static
	Model         string       `json:"model" yaml:"model"`
	BaseURL       string       `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Temperature   float64      `json:"temperature" yaml:"temperature"`
	MaxTokens     int          `json:"max_tokens" yaml:"max_tokens"`
	Priority      PriorityTier `json:"priority" yaml:"priority"`
	Enabled       bool         `json:"enabled" yaml:"enabled"`
	Capabilities  []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Pricing       Pricing      `json:"pricing" yaml:"pricing"`
	CredentialEnv string       `json:"credential_env,omitempty" yaml:"credential_env,omitempty"`
}

// HasCapability reports whether the provider advertises the given flag.
func (p ProviderConfig) HasCapability(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Usage is the token accounting a backend reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total is prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// GenerateResult is a backend's response to one generation call.
type GenerateResult struct {
	Content      string  `json:"content"`
	Usage        Usage   `json:"usage"`
	Cost         float64 `json:"cost"`
	FinishReason string  `json:"finish_reason,omitempty"`
}
