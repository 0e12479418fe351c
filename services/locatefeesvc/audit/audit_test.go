package audit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"locatefeesvc/services/locatefeesvc/repo"
)

type fakeAppender struct {
	mu    sync.Mutex
	calls []repo.AuditRecordInput
	fail  bool
}

func (f *fakeAppender) AppendAudit(ctx context.Context, rec repo.AuditRecordInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return context.DeadlineExceeded
	}
	f.calls = append(f.calls, rec)
	return nil
}

func (f *fakeAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestQueueDeliversToAppender(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeAppender{}
	q, err := New(16, dir, fa, nil)
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	q.StartWorkers(ctx, 2)

	rec := repo.AuditRecordInput{AuditID: uuid.New(), Ticker: "AAPL"}
	require.NoError(t, q.Enqueue(rec))

	require.Eventually(t, func() bool { return fa.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	q.Wait()
}

func TestQueueSpillsWhenSaturated(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeAppender{}
	q, err := New(1, dir, fa, nil)
	require.NoError(t, err)
	defer q.Close()

	// Fill the single-slot buffer directly without starting workers so the
	// next Enqueue is forced to block out to blockWindow and spill.
	first := repo.AuditRecordInput{AuditID: uuid.New(), Ticker: "AAPL"}
	require.NoError(t, q.Enqueue(first))

	second := repo.AuditRecordInput{AuditID: uuid.New(), Ticker: "GME"}
	require.NoError(t, q.Enqueue(second))

	data, err := os.ReadFile(q.spill.path)
	require.NoError(t, err)
	require.Contains(t, string(data), second.AuditID.String())
}

func TestSpillReconcilerReplaysAndTruncates(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeAppender{}
	q, err := New(1, dir, fa, nil)
	require.NoError(t, err)
	defer q.Close()

	rec := repo.AuditRecordInput{AuditID: uuid.New(), Ticker: "AAPL"}
	require.NoError(t, q.Enqueue(rec))
	require.NoError(t, q.Enqueue(repo.AuditRecordInput{AuditID: uuid.New(), Ticker: "GME"}))

	reconciler := NewSpillReconciler(dir, func(r repo.AuditRecordInput) error {
		return fa.AppendAudit(context.Background(), r)
	}, nil)

	n, err := reconciler.Reconcile()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, fa.count())

	data, err := os.ReadFile(q.spill.path)
	require.NoError(t, err)
	require.Empty(t, data)
}
