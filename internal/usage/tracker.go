// Package usage aggregates token and cost accounting across providers,
// models, and sessions. The router records a sample per successful dispatch;
// the CLI stats command reads the snapshot.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// Counts accumulates tokens and spend for one aggregation key.
type Counts struct {
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

func (c *Counts) add(u types.Usage, cost float64) {
	c.Requests++
	c.PromptTokens += int64(u.PromptTokens)
	c.CompletionTokens += int64(u.CompletionTokens)
	c.CostUSD += cost
}

// Data is the persisted shape of the tracker.
type Data struct {
	Version    string            `json:"version"`
	Total      Counts            `json:"total"`
	ByProvider map[string]Counts `json:"by_provider"`
	ByModel    map[string]Counts `json:"by_model"`
	BySession  map[string]Counts `json:"by_session"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Tracker records usage samples and persists them as JSON. A zero file path
// keeps the tracker memory-only.
type Tracker struct {
	mu       sync.Mutex
	data     Data
	filePath string
	dirty    bool
	logger   *zap.Logger
}

// NewTracker creates a tracker persisting under dir (empty dir disables
// persistence). Existing data is loaded; a corrupt file starts fresh.
func NewTracker(dir string, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		logger: logger.Named("usage"),
		data: Data{
			Version:    "1.0",
			ByProvider: make(map[string]Counts),
			ByModel:    make(map[string]Counts),
			BySession:  make(map[string]Counts),
		},
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create usage dir: %w", err)
		}
		t.filePath = filepath.Join(dir, "usage.json")
		if err := t.load(); err != nil {
			t.logger.Warn("usage file unreadable, starting fresh", zap.Error(err))
		}
	}
	return t, nil
}

// Record adds one dispatch's accounting.
func (t *Tracker) Record(provider, model, sessionID string, u types.Usage, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Total.add(u, cost)
	byProvider := t.data.ByProvider[provider]
	byProvider.add(u, cost)
	t.data.ByProvider[provider] = byProvider

	byModel := t.data.ByModel[model]
	byModel.add(u, cost)
	t.data.ByModel[model] = byModel

	if sessionID != "" {
		bySession := t.data.BySession[sessionID]
		bySession.add(u, cost)
		t.data.BySession[sessionID] = bySession
	}
	t.data.UpdatedAt = time.Now()
	t.dirty = true
}

// Snapshot returns a deep copy for display.
func (t *Tracker) Snapshot() Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.data
	out.ByProvider = copyCounts(t.data.ByProvider)
	out.ByModel = copyCounts(t.data.ByModel)
	out.BySession = copyCounts(t.data.BySession)
	return out
}

func copyCounts(m map[string]Counts) map[string]Counts {
	out := make(map[string]Counts, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Save writes the data out when dirty. No-op without a file path.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filePath == "" || !t.dirty {
		return nil
	}
	payload, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage data: %w", err)
	}
	if err := os.WriteFile(t.filePath, payload, 0644); err != nil {
		return fmt.Errorf("failed to write usage data: %w", err)
	}
	t.dirty = false
	return nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}
	if t.data.ByProvider == nil {
		t.data.ByProvider = make(map[string]Counts)
	}
	if t.data.ByModel == nil {
		t.data.ByModel = make(map[string]Counts)
	}
	if t.data.BySession == nil {
		t.data.BySession = make(map[string]Counts)
	}
	return nil
}
