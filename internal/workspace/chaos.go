package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ringtail/che/internal/models"
)

var ErrPartitioned = errors.New("workspace partitioned")

// Fetcher is the snapshot source wrapped by Chaos.
type Fetcher interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
}

// Chaos injects faults into snapshot fetches per workspace: partitions fail
// immediately, latency delays the call. It is used to rehearse out-of-order
// lifecycle completions against a live daemon.
type Chaos struct {
	next Fetcher

	mu          sync.RWMutex
	partitioned map[string]bool
	latency     map[string]time.Duration
}

func NewChaos(next Fetcher) *Chaos {
	return &Chaos{
		next:        next,
		partitioned: make(map[string]bool),
		latency:     make(map[string]time.Duration),
	}
}

func (c *Chaos) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	if c.isPartitioned(id) {
		return nil, fmt.Errorf("%w: %s", ErrPartitioned, id)
	}
	if d := c.delay(id); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return c.next.GetWorkspace(ctx, id)
}

func (c *Chaos) Partition(workspaceID string) {
	c.mu.Lock()
	c.partitioned[workspaceID] = true
	c.mu.Unlock()
}

// Heal removes every fault for workspaceID.
func (c *Chaos) Heal(workspaceID string) {
	c.mu.Lock()
	delete(c.partitioned, workspaceID)
	delete(c.latency, workspaceID)
	c.mu.Unlock()
}

func (c *Chaos) SetLatency(workspaceID string, d time.Duration) error {
	if d < 0 {
		return errors.New("latency must be non-negative")
	}
	c.mu.Lock()
	c.latency[workspaceID] = d
	c.mu.Unlock()
	return nil
}

func (c *Chaos) isPartitioned(workspaceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partitioned[workspaceID]
}

func (c *Chaos) delay(workspaceID string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency[workspaceID]
}
