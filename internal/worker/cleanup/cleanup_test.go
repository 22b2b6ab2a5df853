package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/afrivac/internal/metrics"
)

// --- モック ---

type mockCodeClearer struct {
	calls   atomic.Int32
	lastNow time.Time
	cleared int64
	err     error
}

func (m *mockCodeClearer) ClearExpiredOneTimeCodes(_ context.Context, now time.Time) (int64, error) {
	m.calls.Add(1)
	m.lastNow = now
	return m.cleared, m.err
}

type clearedCollector struct {
	metrics.Nop
	total int64
}

func (c *clearedCollector) RecordCodesCleared(n int64) { c.total += n }

// compile-time interface check
var (
	_ CodeClearer              = (*mockCodeClearer)(nil)
	_ metrics.MetricsCollector = (*clearedCollector)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// --- テスト ---

func TestCleanupJob_Run_ClearsAndRecords(t *testing.T) {
	var buf bytes.Buffer
	clearer := &mockCodeClearer{cleared: 7}
	collector := &clearedCollector{}
	job := NewCleanupJob(clearer, collector, newTestLogger(&buf))

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !clearer.lastNow.Equal(fixed) {
		t.Errorf("now = %v, want %v", clearer.lastNow, fixed)
	}
	if collector.total != 7 {
		t.Errorf("recorded = %d, want 7", collector.total)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["cleared_count"] != float64(7) {
		t.Errorf("cleared_count = %v, want 7", entry["cleared_count"])
	}
}

func TestCleanupJob_Run_NothingToClearIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockCodeClearer{}, nil, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestCleanupJob_Run_PropagatesError(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	job := NewCleanupJob(&mockCodeClearer{err: dbErr}, nil, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, dbErr)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected error log, got %s", buf.String())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	clearer := &mockCodeClearer{}
	job := NewCleanupJob(clearer, nil, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for clearer.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 runs, got %d", clearer.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
