package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type stubPruner struct {
	calls   atomic.Int64
	cutoffs chan time.Time
}

func (s *stubPruner) PruneEventRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	s.calls.Add(1)
	select {
	case s.cutoffs <- olderThan:
	default:
	}
	return 3, nil
}

func TestPruneWebhookEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner := &stubPruner{cutoffs: make(chan time.Time, 1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		PruneWebhookEvents(ctx, pruner, time.Hour, 5*time.Millisecond, logger)
		close(done)
	}()

	var cutoff time.Time
	select {
	case cutoff = <-pruner.cutoffs:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner was never invoked")
	}

	if age := time.Since(cutoff); age < 55*time.Minute || age > 65*time.Minute {
		t.Errorf("cutoff is %v old, want about the retention window", age)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
}
