package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/louipr/spark-sub001/internal/session"
	"github.com/louipr/spark-sub001/internal/types"
	"github.com/louipr/spark-sub001/internal/validation"
)

type scriptedAnalyzer struct {
	err   error
	calls int
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, request string) (*types.Analysis, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &types.Analysis{AppType: "web_app", Complexity: "moderate", Confidence: 0.8}, nil
}

type scriptedGenerator struct {
	calls    int
	failures int // first N calls fail
}

func (g *scriptedGenerator) Generate(ctx context.Context, request string, analysis *types.Analysis, prev *types.Document) (*types.Document, error) {
	g.calls++
	if g.calls <= g.failures {
		return nil, errors.New("backend unavailable")
	}
	return &types.Document{
		Title:    "Draft",
		Sections: map[string]string{"overview": fmt.Sprintf("call %d", g.calls)},
		Metadata: map[string]interface{}{"call": g.calls},
	}, nil
}

type scriptedValidator struct {
	scores []float64
	calls  int
}

func (v *scriptedValidator) Validate(doc *types.Document) (*types.ValidationReport, error) {
	score := v.scores[len(v.scores)-1]
	if v.calls < len(v.scores) {
		score = v.scores[v.calls]
	}
	v.calls++
	return &types.ValidationReport{Valid: score >= 0.5, QualityScore: score, Completeness: score}, nil
}

// stepClock advances a fixed amount on every reading.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) read() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestController(gen *scriptedGenerator, val Validator) (*Controller, session.Store) {
	store := session.NewMemoryStore(0, nil)
	ctrl := New(nil, &scriptedAnalyzer{}, gen, val, store)
	return ctrl, store
}

func TestRunStopsOnConvergence(t *testing.T) {
	gen := &scriptedGenerator{}
	ctrl, store := newTestController(gen, &scriptedValidator{scores: []float64{0.95}})

	result, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 5, ConvergenceThreshold: 0.9, ImprovementThreshold: 0.05,
	})
	require.NoError(t, err)
	require.Equal(t, StopConverged, result.StopReason)
	require.Equal(t, 1, result.Iterations)
	require.Equal(t, 1, gen.calls)
	require.False(t, result.Partial)

	sess, err := store.Get(result.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.StageCompleted, sess.Workflow.Stage)
	require.Equal(t, 100, sess.Workflow.Progress)
	require.Equal(t, StopConverged, sess.Workflow.Metadata["stop_reason"])
	require.NotContains(t, sess.Workflow.Metadata, "partial")
}

func TestRunStopsWhenImprovementStalls(t *testing.T) {
	// Iteration 1 scores 0.70, iteration 2 scores 0.78. The 0.08 gain is
	// below the 0.1 threshold, so the loop stops after iteration 2 and
	// returns its document even though neither convergence nor the
	// iteration cap was reached.
	gen := &scriptedGenerator{}
	ctrl, _ := newTestController(gen, &scriptedValidator{scores: []float64{0.70, 0.78}})

	result, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 3, ConvergenceThreshold: 0.95, ImprovementThreshold: 0.1,
	})
	require.NoError(t, err)
	require.Equal(t, StopNoImprovement, result.StopReason)
	require.Equal(t, 2, result.Iterations)
	require.Equal(t, 2, gen.calls)
	require.Equal(t, 2, result.Document.Metadata["call"], "the stalled iteration's own document is returned")
	require.InDelta(t, 0.78, result.Report.QualityScore, 1e-9)
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	gen := &scriptedGenerator{}
	ctrl, _ := newTestController(gen, &scriptedValidator{scores: []float64{0.1, 0.3, 0.5}})

	result, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 3, ConvergenceThreshold: 0.95, ImprovementThreshold: 0.05,
	})
	require.NoError(t, err)
	require.Equal(t, StopMaxIterations, result.StopReason)
	require.Equal(t, 3, result.Iterations)
	require.LessOrEqual(t, gen.calls, 3, "generator calls are capped by the iteration limit")
	require.InDelta(t, 0.5, result.Report.QualityScore, 1e-9)
}

func TestRunTimeoutReturnsBestPartialDocument(t *testing.T) {
	gen := &scriptedGenerator{}
	ctrl, store := newTestController(gen, &scriptedValidator{scores: []float64{0.6}})

	// One minute elapses per clock reading; the 2.5 minute budget survives
	// the first iteration and expires before the second begins.
	clock := &stepClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), step: time.Minute}
	ctrl.now = clock.read

	result, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 5, ConvergenceThreshold: 0.99, ImprovementThreshold: 0.001,
		Timeout: 150 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, StopTimeout, result.StopReason)
	require.True(t, result.Partial)
	require.Equal(t, 1, result.Iterations)
	require.Equal(t, 1, gen.calls)

	sess, err := store.Get(result.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.StageCompleted, sess.Workflow.Stage)
	require.Equal(t, true, sess.Workflow.Metadata["partial"])
	require.Equal(t, StopTimeout, sess.Workflow.Metadata["stop_reason"])
}

func TestRunTimeoutBeforeFirstDocumentFails(t *testing.T) {
	gen := &scriptedGenerator{}
	ctrl, store := newTestController(gen, &scriptedValidator{scores: []float64{0.6}})

	clock := &stepClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), step: time.Hour}
	ctrl.now = clock.read

	_, err := ctrl.Run(context.Background(), "sess-t", "build an app", Limits{
		MaxIterations: 3, Timeout: time.Minute,
	})
	require.ErrorIs(t, err, types.ErrTimeout)
	require.Equal(t, 0, gen.calls)

	sess, err := store.Get("sess-t")
	require.NoError(t, err)
	require.Equal(t, types.StageFailed, sess.Workflow.Stage)
}

func TestRunRetriesTransientGeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{failures: 1}
	ctrl, _ := newTestController(gen, &scriptedValidator{scores: []float64{0.95}})

	result, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 3, ConvergenceThreshold: 0.9, RetryPerIteration: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Iterations)
	require.Equal(t, 2, gen.calls, "one failure plus the retried success")
}

func TestRunPersistentGeneratorFailureMarksSessionFailed(t *testing.T) {
	gen := &scriptedGenerator{failures: 10}
	ctrl, store := newTestController(gen, &scriptedValidator{scores: []float64{0.95}})

	_, err := ctrl.Run(context.Background(), "sess-f", "build an app", Limits{
		MaxIterations: 3, RetryPerIteration: 2,
	})
	require.Error(t, err)
	require.Equal(t, 3, gen.calls, "initial attempt plus two retries, then give up")

	sess, err := store.Get("sess-f")
	require.NoError(t, err)
	require.Equal(t, types.StageFailed, sess.Workflow.Stage)
	require.Equal(t, 100, sess.Workflow.Progress)
}

func TestRunAnalyzerFailureMarksSessionFailed(t *testing.T) {
	store := session.NewMemoryStore(0, nil)
	ctrl := New(nil, &scriptedAnalyzer{err: errors.New("model offline")},
		&scriptedGenerator{}, &scriptedValidator{scores: []float64{0.9}}, store)

	_, err := ctrl.Run(context.Background(), "sess-a", "build an app", Limits{})
	require.Error(t, err)

	sess, err := store.Get("sess-a")
	require.NoError(t, err)
	require.Equal(t, types.StageFailed, sess.Workflow.Stage)
}

func TestRunRecordsStageTransitions(t *testing.T) {
	gen := &scriptedGenerator{}
	ctrl, store := newTestController(gen, &scriptedValidator{scores: []float64{0.4, 0.95}})

	result, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 3, ConvergenceThreshold: 0.9, ImprovementThreshold: 0.05,
	})
	require.NoError(t, err)

	sess, err := store.Get(result.SessionID)
	require.NoError(t, err)

	var stages []types.Stage
	for _, snap := range sess.History {
		stages = append(stages, snap.Stage)
	}
	// initialize, analyzing, then generate/validate per iteration, completed.
	require.Equal(t, []types.Stage{
		types.StageAnalyzing,
		types.StageAnalyzing,
		types.StageGenerating, types.StageValidating,
		types.StageGenerating, types.StageValidating,
		types.StageCompleted,
	}, stages)

	require.Equal(t, 100, sess.Workflow.Progress)
}

func TestRunResumesExistingSession(t *testing.T) {
	gen := &scriptedGenerator{}
	ctrl, store := newTestController(gen, &scriptedValidator{scores: []float64{0.95}})

	first, err := ctrl.Run(context.Background(), "", "build an app", Limits{
		MaxIterations: 3, ConvergenceThreshold: 0.9,
	})
	require.NoError(t, err)

	second, err := ctrl.Run(context.Background(), first.SessionID, "add an admin dashboard", Limits{
		MaxIterations: 3, ConvergenceThreshold: 0.9,
	})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	sess, err := store.Get(first.SessionID)
	require.NoError(t, err)
	require.Equal(t, []string{"build an app", "add an admin dashboard"}, sess.Context.PreviousRequests)
	require.Equal(t, 1, sess.Context.IterationCount, "each follow-up request counts exactly once")
	require.Equal(t, "add an admin dashboard", sess.CurrentRequest)

	// The first run's snapshots survive the resume.
	completed := 0
	for _, snap := range sess.History {
		if snap.Stage == types.StageCompleted {
			completed++
		}
	}
	require.Equal(t, 2, completed, "one completed snapshot per run")
}

func TestSwapValidatorAppliesNewConfig(t *testing.T) {
	doc := &types.Document{
		Title: "Draft",
		Sections: map[string]string{
			"overview":     "what it is",
			"requirements": "what it does",
			"architecture": "how it is built",
		},
		Requirements: []string{"a", "b", "c"},
		TechStack:    []string{"go"},
	}

	v := NewSwapValidator(validation.NewEngine(nil), validation.DefaultConfig())
	before, err := v.Validate(doc)
	require.NoError(t, err)
	require.True(t, before.Valid)

	stricter := validation.DefaultConfig()
	stricter.RequiredSections = append(stricter.RequiredSections, "deployment")
	v.SetConfig(stricter)

	after, err := v.Validate(doc)
	require.NoError(t, err)
	require.False(t, after.Valid, "the swapped-in config applies to the next pass")
	require.Less(t, after.QualityScore, before.QualityScore)
}

func TestDefaultLimitsFillZeros(t *testing.T) {
	got := Limits{MaxIterations: 7}.withDefaults()
	require.Equal(t, 7, got.MaxIterations)
	require.Equal(t, DefaultLimits().ConvergenceThreshold, got.ConvergenceThreshold)
	require.Equal(t, DefaultLimits().Timeout, got.Timeout)
	require.Equal(t, DefaultLimits().RetryPerIteration, got.RetryPerIteration)
}

func TestProgressMapping(t *testing.T) {
	require.Equal(t, 36, progressFor(1, 3))
	require.Equal(t, 63, progressFor(2, 3))
	require.Equal(t, 90, progressFor(3, 3))
	require.Equal(t, 90, progressFor(9, 3))
}
