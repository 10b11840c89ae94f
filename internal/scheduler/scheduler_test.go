package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls int32
}

func (c *countingRefresher) RefreshIfStale(context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New(time.UTC)
	if err := s.AddJob("bad", "not a cron spec", func(context.Context) error { return nil }); err == nil {
		t.Error("Expected error for invalid spec")
	}
	if s.Entries() != 0 {
		t.Errorf("Expected no entries, got %d", s.Entries())
	}
}

func TestJobsRun(t *testing.T) {
	s := New(time.UTC)
	r := &countingRefresher{}
	if err := s.AddRefresh("@every 1s", r); err != nil {
		t.Fatalf("AddRefresh failed: %v", err)
	}
	failed := make(chan struct{}, 1)
	if err := s.AddJob("failing", "@every 1s", func(context.Context) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if s.Entries() != 2 {
		t.Fatalf("Expected 2 entries, got %d", s.Entries())
	}

	s.Start()
	defer s.Stop()

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected the failing job to run")
	}
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&r.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&r.calls) == 0 {
		t.Error("Expected RefreshIfStale to be called")
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(time.UTC)
	started := make(chan struct{}, 1)
	cancelled := make(chan struct{}, 1)
	_ = s.AddJob("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		select {
		case cancelled <- struct{}{}:
		default:
		}
		return ctx.Err()
	})
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Error("Expected Stop to cancel the running job")
	}
}
