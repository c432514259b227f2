package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/cache"
	"github.com/louipr/spark-sub001/internal/controller"
	"github.com/louipr/spark-sub001/internal/generate"
	"github.com/louipr/spark-sub001/internal/provider"
	"github.com/louipr/spark-sub001/internal/router"
	"github.com/louipr/spark-sub001/internal/session"
	"github.com/louipr/spark-sub001/internal/types"
	"github.com/louipr/spark-sub001/internal/usage"
	"github.com/louipr/spark-sub001/internal/validation"
)

var (
	runMaxIterations int
	runTimeout       time.Duration
	runSessionID     string
	runStrategy      string
	runNoCache       bool
	runRulesPath     string
)

// runCmd drives the full loop for one request
var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Generate and refine a document for a request",
	Long: `Runs the iteration loop: the request is analyzed, a document is generated
through the configured providers, validated against the rule set, and
refined until it converges or a limit is hit. The final document and its
validation report are printed as JSON.

Example:
  spark run "a web app for tracking climbing routes" --max-iterations 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "cap on generate iterations (0 uses config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "wall-clock budget for the loop (0 uses config)")
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id to resume or create (empty generates one)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", string(router.StrategyFallback), "routing strategy: fallback, cost, performance, capability, round_robin")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "skip the response cache")
	runCmd.Flags().StringVar(&runRulesPath, "rules", "", "validation rules YAML file (overrides the config's rules)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	request := strings.Join(args, " ")

	local, err := openLocalStore()
	if err != nil {
		return err
	}
	mem := session.NewMemoryStore(cfg.Store.SessionTTLDuration(), logger)
	var sessions session.Store = mem
	respCache := cache.New(cfg.Cache.CacheConfig(), logger)
	if local != nil {
		defer local.Close()
		sessions = session.NewPersistentStore(mem, local, logger)
		respCache = respCache.WithPersister(local)
	}
	respCache.StartSweeper()
	defer respCache.Stop()

	tracker, err := usage.NewTracker(cfg.Store.UsageDir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Save(); err != nil {
			logger.Warn("could not persist usage", zap.Error(err))
		}
	}()

	candidates, err := buildCandidates(ctx, cfg.Providers)
	if err != nil {
		return err
	}

	routerOpts := []router.Option{router.WithUsageTracker(tracker)}
	if !runNoCache {
		routerOpts = append(routerOpts, router.WithCache(respCache))
	}
	r := router.New(logger, routerOpts...)

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	generator := generate.NewDispatchGenerator(r, candidates,
		router.Strategy{Kind: router.StrategyKind(runStrategy)}, sessionID, logger)

	engine := validation.NewEngine(logger)
	var validator controller.Validator = controller.EngineValidator{Engine: engine, Config: cfg.Validation}
	if runRulesPath != "" {
		rules, err := validation.LoadConfigFile(runRulesPath)
		if err != nil {
			return err
		}
		// Watch the rules file so edits apply between iterations.
		swap := controller.NewSwapValidator(engine, rules)
		watcher := validation.NewRuleWatcher(runRulesPath, swap.SetConfig, logger)
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
		validator = swap
	}
	ctrl := controller.New(logger,
		generate.KeywordAnalyzer{},
		generator,
		validator,
		sessions,
	)

	limits := cfg.Loop.Limits()
	if runMaxIterations > 0 {
		limits.MaxIterations = runMaxIterations
	}
	if runTimeout > 0 {
		limits.Timeout = runTimeout
	}

	result, err := ctrl.Run(ctx, sessionID, request, limits)
	if err != nil {
		if types.IsExhausted(err) {
			return fmt.Errorf("every provider failed; check credentials and rate limits: %w", err)
		}
		return err
	}

	logger.Info("loop finished",
		zap.String("session", result.SessionID),
		zap.Int("iterations", result.Iterations),
		zap.String("stop_reason", result.StopReason),
		zap.Bool("partial", result.Partial),
		zap.Any("provider_latency", r.LatencySnapshot()))

	return printJSON(map[string]interface{}{
		"session_id":  result.SessionID,
		"iterations":  result.Iterations,
		"stop_reason": result.StopReason,
		"partial":     result.Partial,
		"document":    result.Document,
		"report":      result.Report,
	})
}

// buildCandidates constructs a live adapter per enabled provider config,
// preserving the config file's candidate order.
func buildCandidates(ctx context.Context, configs []types.ProviderConfig) ([]router.Candidate, error) {
	backends, err := provider.BuildAll(ctx, configs, logger)
	if err != nil {
		return nil, err
	}
	var candidates []router.Candidate
	for _, pc := range configs {
		if !pc.Enabled {
			continue
		}
		candidates = append(candidates, router.Candidate{Config: pc, Backend: backends[pc.Name]})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no enabled providers in config", types.ErrConfiguration)
	}
	return candidates, nil
}
