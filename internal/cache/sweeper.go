package cache

import (
	"time"

	"go.uber.org/zap"
)

// StartSweeper launches the background expiry sweep. It is a no-op if the
// sweeper is already running or the interval is non-positive. The sweeper
// shares the index mutex with foreground get/set, so a sweep never blocks
// callers for longer than one map pass.
func (c *ResponseCache) StartSweeper() {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	if c.sweepStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.sweepStop = stop
	c.sweepDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-stop:
				return
			}
		}
	}()
	c.logger.Debug("sweeper started", zap.Duration("interval", interval))
}

// Stop cancels the background sweep and waits for the goroutine to exit.
// Idempotent; safe to call on a cache whose sweeper never started.
func (c *ResponseCache) Stop() {
	c.mu.Lock()
	stop := c.sweepStop
	done := c.sweepDone
	c.sweepStop = nil
	c.sweepDone = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	c.logger.Debug("sweeper stopped")
}
