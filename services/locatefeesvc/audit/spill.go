package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"locatefeesvc/services/locatefeesvc/repo"
)

// spillWriter appends overflowed audit records to a JSON-lines file on disk
// when the in-memory queue is saturated, per spec §4.9's "block 50ms, then
// spill" rule. A single mutex-guarded *os.File is sufficient: the writer is
// only touched by Queue.Enqueue under back-pressure and by a worker whose
// AppendAudit call failed, both of which are already the unhappy path.
type spillWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func newSpillWriter(dir string) (*spillWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit: spill dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create spill dir: %w", err)
	}
	path := filepath.Join(dir, "audit-spill.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open spill file: %w", err)
	}
	return &spillWriter{path: path, f: f}, nil
}

func (w *spillWriter) write(rec repo.AuditRecordInput) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encode spill record: %w", err)
	}
	line = append(line, '\n')
	_, err = w.f.Write(line)
	return err
}

func (w *spillWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// SpillReconciler replays records written to the spill file by a prior,
// saturated Enqueue call, so an overflow event never loses an audit row —
// only delays it. It is meant to run once at startup and optionally on a
// periodic timer.
type SpillReconciler struct {
	path   string
	sink   func(rec repo.AuditRecordInput) error
	logger *slog.Logger
}

// NewSpillReconciler constructs a reconciler over the same spill file the
// Queue in dir writes to, delivering replayed records to sink (typically
// repo.Repository.AppendAudit).
func NewSpillReconciler(dir string, sink func(rec repo.AuditRecordInput) error, logger *slog.Logger) *SpillReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpillReconciler{path: filepath.Join(dir, "audit-spill.jsonl"), sink: sink, logger: logger}
}

// Reconcile replays every line of the spill file through sink. AppendAudit's
// upsert-as-no-op dedup on audit_id makes this safe to call even if some
// lines were already delivered before a crash. On full success the file is
// truncated; a failed line is left in place (and everything after it is
// retried on the next call) rather than risk dropping a record.
func (s *SpillReconciler) Reconcile() (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("audit: open spill file for reconcile: %w", err)
	}
	defer f.Close()

	var replayed int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec repo.AuditRecordInput
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.logger.Error("audit spill line malformed, skipping", "error", err)
			continue
		}
		if err := s.sink(rec); err != nil {
			s.logger.Error("audit spill replay failed, stopping reconcile", "audit_id", rec.AuditID, "error", err)
			return replayed, err
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, err
	}
	return replayed, os.Truncate(s.path, 0)
}
