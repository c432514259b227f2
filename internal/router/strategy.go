package router

import (
	"fmt"
	"sort"
	"time"

	"github.com/louipr/spark-sub001/internal/types"
)

// StrategyKind names a routing policy.
type StrategyKind string

const (
	StrategyFallback   StrategyKind = "fallback"
	StrategyCost       StrategyKind = "cost"
	StrategyPerf       StrategyKind = "performance"
	StrategyCapability StrategyKind = "capability"
	StrategyRoundRobin StrategyKind = "round_robin"
)

// Strategy is the tagged routing variant. Only the fields relevant to its
// Kind are consulted.
type Strategy struct {
	Kind StrategyKind

	// MaxCostPerRequest filters the cost strategy's candidate set; 0 means
	// unconstrained.
	MaxCostPerRequest float64

	// MaxLatency filters the performance strategy's candidate set; 0 means
	// unconstrained.
	MaxLatency time.Duration

	// RequiredCapabilities filters the capability strategy's candidate set.
	RequiredCapabilities []types.Capability
}

// order applies the strategy's pure selection to the enabled candidate
// snapshot. Candidates excluded by a constraint are returned as
// pre-recorded failures so the aggregate error names them.
func (r *Router) order(strategy Strategy, enabled []Candidate, messages []types.Message) ([]Candidate, []*types.ProviderError) {
	switch strategy.Kind {
	case StrategyCost:
		return r.orderByCost(strategy, enabled, messages)
	case StrategyPerf:
		return r.orderByLatency(strategy, enabled)
	case StrategyCapability:
		return orderByCapability(strategy, enabled)
	case StrategyRoundRobin:
		return r.orderRoundRobin(enabled), nil
	default:
		return orderByPriority(enabled), nil
	}
}

// orderByPriority is the fallback ordering: descending priority tier,
// stable within a tier.
func orderByPriority(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Config.Priority.Rank() < out[j].Config.Priority.Rank()
	})
	return out
}

func (r *Router) orderByCost(strategy Strategy, candidates []Candidate, messages []types.Message) ([]Candidate, []*types.ProviderError) {
	type costed struct {
		candidate Candidate
		cost      float64
	}
	var kept []costed
	var excluded []*types.ProviderError
	for _, c := range candidates {
		estimate := r.EstimateCost(c, messages)
		if strategy.MaxCostPerRequest > 0 && estimate > strategy.MaxCostPerRequest {
			excluded = append(excluded, types.NewProviderError(c.Config.Name, types.FailureCapability,
				fmt.Errorf("estimated cost $%.4f exceeds budget $%.4f", estimate, strategy.MaxCostPerRequest)))
			continue
		}
		kept = append(kept, costed{c, estimate})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].cost < kept[j].cost })

	out := make([]Candidate, len(kept))
	for i, k := range kept {
		out[i] = k.candidate
	}
	return out, excluded
}

func (r *Router) orderByLatency(strategy Strategy, candidates []Candidate) ([]Candidate, []*types.ProviderError) {
	type timed struct {
		candidate Candidate
		latency   time.Duration
	}
	var kept []timed
	var excluded []*types.ProviderError
	for _, c := range candidates {
		avg := r.averageLatency(c.Config.Name)
		if strategy.MaxLatency > 0 && avg > strategy.MaxLatency {
			excluded = append(excluded, types.NewProviderError(c.Config.Name, types.FailureCapability,
				fmt.Errorf("rolling latency %s exceeds limit %s", avg, strategy.MaxLatency)))
			continue
		}
		kept = append(kept, timed{c, avg})
	}
	// Unmeasured candidates (zero latency) sort first and get a chance to
	// establish a baseline.
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].latency < kept[j].latency })

	out := make([]Candidate, len(kept))
	for i, k := range kept {
		out[i] = k.candidate
	}
	return out, excluded
}

func orderByCapability(strategy Strategy, candidates []Candidate) ([]Candidate, []*types.ProviderError) {
	var kept []Candidate
	var excluded []*types.ProviderError
	for _, c := range candidates {
		missing := ""
		for _, required := range strategy.RequiredCapabilities {
			if !c.Config.HasCapability(required) {
				missing = string(required)
				break
			}
		}
		if missing != "" {
			excluded = append(excluded, types.NewProviderError(c.Config.Name, types.FailureCapability,
				fmt.Errorf("missing required capability %q", missing)))
			continue
		}
		kept = append(kept, c)
	}
	return orderByPriority(kept), excluded
}

// orderRoundRobin rotates the starting candidate deterministically across
// successive calls.
func (r *Router) orderRoundRobin(candidates []Candidate) []Candidate {
	base := orderByPriority(candidates)
	r.mu.Lock()
	offset := r.rrCursor % len(base)
	r.rrCursor++
	r.mu.Unlock()

	out := make([]Candidate, 0, len(base))
	out = append(out, base[offset:]...)
	out = append(out, base[:offset]...)
	return out
}
