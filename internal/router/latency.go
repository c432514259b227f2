package router

import "time"

// rollingLatency keeps an exponentially weighted moving average of observed
// call latency. New samples carry 20% weight, enough to track provider
// slowdowns without thrashing the performance ordering on one outlier.
type rollingLatency struct {
	average time.Duration
	samples int
}

func (l *rollingLatency) observe(sample time.Duration) {
	l.samples++
	if l.samples == 1 {
		l.average = sample
		return
	}
	l.average = time.Duration(float64(l.average)*0.8 + float64(sample)*0.2)
}

func (r *Router) recordLatency(provider string, sample time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.latencies[provider]
	if !ok {
		entry = &rollingLatency{}
		r.latencies[provider] = entry
	}
	entry.observe(sample)
}

// averageLatency returns the rolling average for a provider; zero when the
// provider has no recorded samples yet.
func (r *Router) averageLatency(provider string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.latencies[provider]; ok {
		return entry.average
	}
	return 0
}

// LatencySnapshot exposes the rolling averages for diagnostics.
func (r *Router) LatencySnapshot() map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Duration, len(r.latencies))
	for name, entry := range r.latencies {
		out[name] = entry.average
	}
	return out
}
