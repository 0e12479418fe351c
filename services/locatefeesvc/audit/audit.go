// Package audit implements C9: the asynchronous audit pipeline of spec §4.9.
// Every calculate-locate response is recorded here off the request's
// critical path — Enqueue never blocks the caller for more than 50ms, and an
// overflowing queue spills to disk rather than dropping a record.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"locatefeesvc/services/locatefeesvc/repo"
)

// blockWindow is the maximum time Enqueue waits for room in the in-memory
// queue before spilling to disk, per spec §4.9.
const blockWindow = 50 * time.Millisecond

// dedupWindow bounds how long a recently-processed audit_id is remembered,
// so an at-least-once redelivery (e.g. from spill replay racing a worker)
// is recognized and skipped without a round trip to Postgres.
const dedupWindow = 10 * time.Minute

// appender is the narrow slice of *repo.Repository the worker pool needs.
type appender interface {
	AppendAudit(ctx context.Context, rec repo.AuditRecordInput) error
}

// Queue is the bounded, spill-backed audit queue plus its worker pool.
type Queue struct {
	mu     sync.Mutex
	buf    ring[repo.AuditRecordInput]
	wakeup chan struct{}

	spill  *spillWriter
	dedup  *expirable.LRU[uuid.UUID, struct{}]
	repo   appender
	logger *slog.Logger

	wg sync.WaitGroup
}

// New constructs a Queue with the given in-memory capacity, backed by a
// spill file under spillDir.
func New(capacity int, spillDir string, r appender, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sw, err := newSpillWriter(spillDir)
	if err != nil {
		return nil, err
	}
	return &Queue{
		buf:    newRing[repo.AuditRecordInput](capacity),
		wakeup: make(chan struct{}, 1),
		spill:  sw,
		dedup:  expirable.NewLRU[uuid.UUID, struct{}](8192, nil, dedupWindow),
		repo:   r,
		logger: logger,
	}, nil
}

// Enqueue submits rec for asynchronous persistence. It blocks for up to
// blockWindow waiting for queue capacity; on continued saturation it spills
// rec to disk and returns the spill write's error (nil once the record is on
// disk, where it is delayed rather than lost).
func (q *Queue) Enqueue(rec repo.AuditRecordInput) error {
	deadline := time.Now().Add(blockWindow)
	for {
		q.mu.Lock()
		ok := q.buf.push(rec)
		q.mu.Unlock()
		if ok {
			select {
			case q.wakeup <- struct{}{}:
			default:
			}
			return nil
		}
		if time.Now().After(deadline) {
			q.logger.Warn("audit queue saturated, spilling to disk", "audit_id", rec.AuditID)
			return q.spill.write(rec)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// StartWorkers launches n goroutines draining the queue into repo.AppendAudit
// until ctx is canceled. Callers should also invoke a SpillReconciler at
// startup (and optionally periodically) to replay anything spilled while no
// workers were running.
func (q *Queue) StartWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Wait blocks until every worker goroutine started by StartWorkers has
// returned (i.e. after their context has been canceled).
func (q *Queue) Wait() { q.wg.Wait() }

// Close releases the spill file handle. Call after Wait.
func (q *Queue) Close() error { return q.spill.close() }

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		rec, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wakeup:
				continue
			case <-time.After(25 * time.Millisecond):
				continue
			}
		}
		if _, seen := q.dedup.Get(rec.AuditID); seen {
			continue
		}
		if err := q.repo.AppendAudit(ctx, rec); err != nil {
			q.logger.Error("audit append failed, spilling for retry", "audit_id", rec.AuditID, "error", err)
			if serr := q.spill.write(rec); serr != nil {
				q.logger.Error("audit spill write failed, record may be lost", "audit_id", rec.AuditID, "error", serr)
			}
			continue
		}
		q.dedup.Add(rec.AuditID, struct{}{})
	}
}

func (q *Queue) pop() (repo.AuditRecordInput, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.pop()
}
