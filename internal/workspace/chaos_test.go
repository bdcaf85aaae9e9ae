package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ringtail/che/internal/models"
)

type stubFetcher struct{ calls int }

func (s *stubFetcher) GetWorkspace(_ context.Context, id string) (*models.Workspace, error) {
	s.calls++
	return &models.Workspace{ID: id}, nil
}

func TestChaosPartitionAndHeal(t *testing.T) {
	next := &stubFetcher{}
	c := NewChaos(next)
	ctx := context.Background()

	c.Partition("ws1")
	if _, err := c.GetWorkspace(ctx, "ws1"); !errors.Is(err, ErrPartitioned) {
		t.Fatalf("error = %v, want ErrPartitioned", err)
	}
	if _, err := c.GetWorkspace(ctx, "ws2"); err != nil {
		t.Fatalf("other workspace error = %v", err)
	}

	c.Heal("ws1")
	if _, err := c.GetWorkspace(ctx, "ws1"); err != nil {
		t.Fatalf("healed workspace error = %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("next called %d times, want 2", next.calls)
	}
}

func TestChaosLatencyHonoursContext(t *testing.T) {
	c := NewChaos(&stubFetcher{})
	if err := c.SetLatency("ws1", time.Hour); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.GetWorkspace(ctx, "ws1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if err := c.SetLatency("ws1", -time.Second); err == nil {
		t.Fatal("negative latency accepted")
	}
}
