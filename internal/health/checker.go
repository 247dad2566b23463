// Package health provides periodic health checks for the signaling daemon.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything whose liveness can be probed, typically the
// event journal's database handle.
type Pinger interface {
	Ping() error
}

// PeerCounter reports how many peers are currently registered.
type PeerCounter interface {
	Count() int
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker covering the journal, the peer
// registry, and the data directory. journal may be nil when the
// journal is disabled.
func NewChecker(journal Pinger, peers PeerCounter, dataDir string, maxPeers int) *Checker {
	checks := []Check{
		{
			Name: "registry",
			CheckFn: func(ctx context.Context) error {
				n := peers.Count()
				if n < 0 {
					return fmt.Errorf("negative peer count %d", n)
				}
				if maxPeers > 0 && n > maxPeers {
					return fmt.Errorf("%d peers exceeds limit %d", n, maxPeers)
				}
				return nil
			},
		},
		{
			Name: "data_dir",
			CheckFn: func(ctx context.Context) error {
				return checkDataDir(dataDir)
			},
		},
	}
	if journal != nil {
		checks = append(checks, Check{
			Name: "journal",
			CheckFn: func(ctx context.Context) error {
				return journal.Ping()
			},
		})
	}
	return &Checker{
		interval: 60 * time.Second,
		checks:   checks,
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass. A checker that has not
// run yet reports healthy.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Created lazily on first write
		}
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
