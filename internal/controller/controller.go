// Package controller drives the generate/validate refinement loop. Each
// iteration depends on the previous document, so the loop is strictly
// sequential; the controller owns the stop decision and drives every session
// stage transition. The session store records state but decides nothing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/session"
	"github.com/louipr/spark-sub001/internal/types"
	"github.com/louipr/spark-sub001/internal/validation"
)

// Limits bounds one loop run. Zero fields take the defaults.
type Limits struct {
	// MaxIterations is the hard cap on generator calls for the loop.
	MaxIterations int

	// ConvergenceThreshold is the quality score at which the document is
	// accepted without further iterations.
	ConvergenceThreshold float64

	// ImprovementThreshold is the minimum score delta between consecutive
	// iterations that justifies continuing. A smaller gain stops the loop.
	ImprovementThreshold float64

	// Timeout is the wall-clock budget for the whole loop. The deadline is
	// checked between steps; an in-flight backend call is bounded by the
	// router's own request timeout instead.
	Timeout time.Duration

	// RetryPerIteration bounds how often a failed generate step is retried
	// within one iteration before the session is marked failed.
	RetryPerIteration int
}

// DefaultLimits returns the loop bounds used when the caller passes zeros.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations:        3,
		ConvergenceThreshold: 0.9,
		ImprovementThreshold: 0.05,
		Timeout:              5 * time.Minute,
		RetryPerIteration:    2,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxIterations <= 0 {
		l.MaxIterations = d.MaxIterations
	}
	if l.ConvergenceThreshold <= 0 {
		l.ConvergenceThreshold = d.ConvergenceThreshold
	}
	if l.ImprovementThreshold <= 0 {
		l.ImprovementThreshold = d.ImprovementThreshold
	}
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.RetryPerIteration <= 0 {
		l.RetryPerIteration = d.RetryPerIteration
	}
	return l
}

// Stop reasons recorded in workflow metadata.
const (
	StopConverged     = "converged"
	StopNoImprovement = "improvement_below_threshold"
	StopMaxIterations = "max_iterations"
	StopTimeout       = "timeout"
)

// Validator scores a document. The concrete engine binds a rule config;
// tests script scores directly.
type Validator interface {
	Validate(doc *types.Document) (*types.ValidationReport, error)
}

// EngineValidator binds a validation engine to a fixed rule config so the
// loop can score documents without threading the config through each call.
type EngineValidator struct {
	Engine *validation.Engine
	Config validation.Config
}

func (v EngineValidator) Validate(doc *types.Document) (*types.ValidationReport, error) {
	return v.Engine.Validate(doc, v.Config)
}

// SwapValidator is a Validator whose rule config can be replaced while the
// loop runs. The CLI's rule watcher feeds SetConfig, so a rules file edit
// applies from the next validation pass onward.
type SwapValidator struct {
	engine *validation.Engine

	mu  sync.Mutex
	cfg validation.Config
}

// NewSwapValidator binds an engine to an initial rule config.
func NewSwapValidator(engine *validation.Engine, cfg validation.Config) *SwapValidator {
	return &SwapValidator{engine: engine, cfg: cfg}
}

// SetConfig replaces the config used by subsequent Validate calls.
func (v *SwapValidator) SetConfig(cfg validation.Config) {
	v.mu.Lock()
	v.cfg = cfg
	v.mu.Unlock()
}

func (v *SwapValidator) Validate(doc *types.Document) (*types.ValidationReport, error) {
	v.mu.Lock()
	cfg := v.cfg
	v.mu.Unlock()
	return v.engine.Validate(doc, cfg)
}

// Result is what one loop run produced.
type Result struct {
	SessionID  string
	Document   *types.Document
	Report     *types.ValidationReport
	Iterations int
	StopReason string

	// Partial is set when the loop timed out and returned the best document
	// obtained so far instead of a converged one.
	Partial bool
}

// Controller runs the refinement loop against a session store.
type Controller struct {
	logger    *zap.Logger
	analyzer  types.Analyzer
	generator types.Generator
	validator Validator
	sessions  session.Store

	now func() time.Time
}

// New creates a controller. All collaborators are required.
func New(logger *zap.Logger, analyzer types.Analyzer, generator types.Generator, validator Validator, sessions session.Store) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		logger:    logger.Named("controller"),
		analyzer:  analyzer,
		generator: generator,
		validator: validator,
		sessions:  sessions,
		now:       time.Now,
	}
}

// Run executes the loop for one request. An empty sessionID starts a fresh
// session and the generated id is reported on the result; an id naming a
// live session is resumed, with the request recorded as a follow-up on the
// existing context. On timeout with at least one document produced, the
// best-scoring document is returned with Partial set instead of an error.
func (c *Controller) Run(ctx context.Context, sessionID, request string, limits Limits) (*Result, error) {
	limits = limits.withDefaults()
	start := c.now()
	deadline := start.Add(limits.Timeout)

	resumed := false
	if sessionID != "" {
		switch _, err := c.sessions.Get(sessionID); {
		case err == nil:
			if _, err := c.sessions.AddRequest(sessionID, request); err != nil {
				return nil, err
			}
			resumed = true
			c.logger.Info("session resumed", zap.String("session", sessionID))
		case !errors.Is(err, types.ErrNotFound):
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}
	if !resumed {
		sess, err := c.sessions.Initialize(sessionID, request, "")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session: %w", err)
		}
		sessionID = sess.ID
	}
	if _, err := c.sessions.AddMessage(sessionID, "user", request); err != nil {
		return nil, err
	}

	if _, err := c.sessions.UpdateWorkflowStage(sessionID, types.StageAnalyzing, 10, nil); err != nil {
		return nil, err
	}
	analysis, err := c.analyzer.Analyze(ctx, request)
	if err != nil {
		return nil, c.fail(sessionID, fmt.Errorf("analysis failed: %w", err))
	}
	c.logger.Info("request analyzed",
		zap.String("session", sessionID),
		zap.String("app_type", analysis.AppType),
		zap.Float64("confidence", analysis.Confidence))

	var (
		prevDoc    *types.Document
		prevScore  float64
		bestDoc    *types.Document
		bestReport *types.ValidationReport
		iterations int
		stopReason string
	)

	for iter := 1; iter <= limits.MaxIterations; iter++ {
		if !c.now().Before(deadline) {
			stopReason = StopTimeout
			break
		}

		progress := progressFor(iter, limits.MaxIterations)
		if _, err := c.sessions.UpdateWorkflowStage(sessionID, types.StageGenerating, progress,
			map[string]interface{}{"iteration": iter}); err != nil {
			return nil, err
		}

		doc, err := c.generateWithRetry(ctx, sessionID, request, analysis, prevDoc, limits.RetryPerIteration)
		if err != nil {
			return nil, c.fail(sessionID, err)
		}
		iterations = iter

		if _, err := c.sessions.UpdateWorkflowStage(sessionID, types.StageValidating, progress, nil); err != nil {
			return nil, err
		}
		report, err := c.validator.Validate(doc)
		if err != nil {
			// Config errors are never retried.
			return nil, c.fail(sessionID, fmt.Errorf("validation failed: %w", err))
		}

		if bestReport == nil || report.QualityScore > bestReport.QualityScore {
			bestDoc, bestReport = doc, report
		}
		if _, err := c.sessions.AddMessage(sessionID, "assistant",
			fmt.Sprintf("iteration %d scored %.2f", iter, report.QualityScore)); err != nil {
			return nil, err
		}
		c.logger.Info("iteration validated",
			zap.String("session", sessionID),
			zap.Int("iteration", iter),
			zap.Float64("quality_score", report.QualityScore),
			zap.Float64("completeness", report.Completeness))

		switch {
		case report.QualityScore >= limits.ConvergenceThreshold:
			stopReason = StopConverged
		case iter > 1 && report.QualityScore-prevScore < limits.ImprovementThreshold:
			stopReason = StopNoImprovement
			// The current iteration's document is returned even when an
			// earlier one scored higher; the caller asked for the latest
			// refinement, not the historical best.
			bestDoc, bestReport = doc, report
		case iter >= limits.MaxIterations:
			stopReason = StopMaxIterations
		case !c.now().Before(deadline):
			stopReason = StopTimeout
		}
		if stopReason != "" {
			break
		}
		prevDoc, prevScore = doc, report.QualityScore
	}

	if bestDoc == nil {
		// Timed out before producing anything; there is no partial result
		// worth returning.
		_ = c.failStage(sessionID, StopTimeout)
		return nil, fmt.Errorf("%w: loop budget %s exhausted before first document", types.ErrTimeout, limits.Timeout)
	}

	partial := stopReason == StopTimeout
	metadata := map[string]interface{}{
		"stop_reason":   stopReason,
		"iterations":    iterations,
		"quality_score": bestReport.QualityScore,
	}
	if partial {
		metadata["partial"] = true
	}
	if _, err := c.sessions.UpdateWorkflowStage(sessionID, types.StageCompleted, 100, metadata); err != nil {
		return nil, err
	}

	return &Result{
		SessionID:  sessionID,
		Document:   bestDoc,
		Report:     bestReport,
		Iterations: iterations,
		StopReason: stopReason,
		Partial:    partial,
	}, nil
}

// generateWithRetry retries a failed generate step within one iteration.
// Routing-level retry and backoff already happened inside the router, so
// retries here are immediate.
func (c *Controller) generateWithRetry(ctx context.Context, sessionID, request string, analysis *types.Analysis, prev *types.Document, retries int) (*types.Document, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		doc, err := c.generator.Generate(ctx, request, analysis, prev)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("generate step failed, retrying",
			zap.String("session", sessionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", retries+1, lastErr)
}

// fail marks the session failed and passes the error through.
func (c *Controller) fail(sessionID string, err error) error {
	_ = c.failStage(sessionID, err.Error())
	return err
}

func (c *Controller) failStage(sessionID, reason string) error {
	_, err := c.sessions.UpdateWorkflowStage(sessionID, types.StageFailed, 100,
		map[string]interface{}{"stop_reason": reason})
	if err != nil {
		c.logger.Warn("could not record failure stage", zap.String("session", sessionID), zap.Error(err))
	}
	return err
}

// progressFor maps iteration i of n onto the 10..90 band; terminal stages
// jump to 100.
func progressFor(iter, max int) int {
	if max <= 0 {
		return 90
	}
	p := 10 + (80*iter)/max
	if p > 90 {
		p = 90
	}
	return p
}
