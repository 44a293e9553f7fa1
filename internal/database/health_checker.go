package database

import (
	"context"
	"time"
)

// Pinger is anything that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker probes the dynamic tables database.
type HealthChecker struct {
	target  Pinger
	timeout time.Duration
}

// NewHealthChecker creates a HealthChecker that gives each probe timeout.
func NewHealthChecker(target Pinger, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{target: target, timeout: timeout}
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
	Pool      *PoolStats    `json:"pool,omitempty"`
}

// Healthy reports whether the probe succeeded.
func (r *HealthCheckResult) Healthy() bool {
	return r.Status == "connected"
}

// Check pings the target once.
func (hc *HealthChecker) Check(ctx context.Context) *HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	result := &HealthCheckResult{CheckedAt: start}
	if err := hc.target.Ping(ctx); err != nil {
		result.Status = "disconnected"
		result.Message = "ping failed: " + err.Error()
	} else {
		result.Status = "connected"
	}
	result.Latency = time.Since(start)

	if p, ok := hc.target.(*Pool); ok {
		stats := p.Stats()
		result.Pool = &stats
	}
	return result
}

// PeriodicHealthCheck probes every interval until ctx is done.
func (hc *HealthChecker) PeriodicHealthCheck(ctx context.Context, interval time.Duration) <-chan *HealthCheckResult {
	results := make(chan *HealthCheckResult, 1)
	go func() {
		defer close(results)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case results <- hc.Check(ctx):
				default:
				}
			}
		}
	}()
	return results
}
