// Package persist is the durable side of the ledger: a many-producer,
// single-consumer queue that writes state snapshots and append-only
// history records without ever blocking a ledger mutation for longer
// than the marshal and enqueue itself. The in-memory ledger stays the
// source of truth; the durable copy is best-effort-eventual.
package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/metrics"
)

type TaskKind string

const (
	// TaskState is an idempotent, last-write-wins snapshot of a whole
	// ledger. Duplicate enqueues for the same path collapse naturally at
	// drain time since every write is a full overwrite.
	TaskState TaskKind = "state"
	// TaskHistory is a strictly ordered append; records are never
	// reordered or merged.
	TaskHistory TaskKind = "history"
)

type Task struct {
	Kind    TaskKind
	Path    string
	Payload []byte
}

// StateTask marshals a ledger snapshot into a STATE task. Marshaling
// happens on the producer side so the consumer never touches live data.
func StateTask(path string, state ledger.PersistedState) (Task, error) {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return Task{}, err
	}
	return Task{Kind: TaskState, Path: path, Payload: b}, nil
}

// HistoryTask marshals one closed-position record into a HISTORY task.
func HistoryTask(path string, record ledger.HistoryRecord) (Task, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return Task{}, err
	}
	return Task{Kind: TaskHistory, Path: path, Payload: b}, nil
}

// SessionTask marshals any session/audit document into a HISTORY task so
// it shares the append-only ordering guarantee.
func SessionTask(path string, doc any) (Task, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return Task{}, err
	}
	return Task{Kind: TaskHistory, Path: path, Payload: b}, nil
}

// Queue is the single-consumer durable writer. Producers block for at
// most enqueueTimeout when the queue is full, then the task is dropped
// with a counted metric rather than stalling the mutation that caused it.
type Queue struct {
	tasks          chan Task
	enqueueTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue starts the consumer goroutine and returns the queue.
func NewQueue(size int, enqueueTimeout time.Duration) *Queue {
	q := &Queue{
		tasks:          make(chan Task, size),
		enqueueTimeout: enqueueTimeout,
		done:           make(chan struct{}),
	}
	go q.consume()
	return q
}

// Enqueue hands a task to the consumer. A full queue blocks briefly; past
// the timeout the task is logged and dropped. Returns false on drop.
func (q *Queue) Enqueue(ctx context.Context, task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(ctx, task, "queue closed")
		return false
	}

	select {
	case q.tasks <- task:
		return true
	default:
	}

	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()
	select {
	case q.tasks <- task:
		return true
	case <-timer.C:
		q.drop(ctx, task, "enqueue timeout")
		return false
	}
}

func (q *Queue) drop(ctx context.Context, task Task, why string) {
	metrics.PersistDrops.WithLabelValues(string(task.Kind)).Inc()
	logger.Warn(ctx, "Persistence task dropped",
		"kind", task.Kind,
		"path", task.Path,
		"why", why,
	)
}

// Close stops accepting tasks and drains the backlog. It returns true if
// the drain finished inside the timeout; the host process uses this to
// decide its exit code.
func (q *Queue) Close(timeout time.Duration) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	select {
	case <-q.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// consume drains tasks in enqueue order. Being the only writer, it also
// serves as the write lock of the temp-file-then-rename protocol.
func (q *Queue) consume() {
	defer close(q.done)
	ctx := context.Background()
	for task := range q.tasks {
		var err error
		switch task.Kind {
		case TaskState:
			err = writeAtomic(task.Path, task.Payload)
		case TaskHistory:
			err = appendLine(task.Path, task.Payload)
		}
		if err != nil {
			// Persistence failures never block or fail the mutation that
			// produced the task.
			logger.ErrorWithErr(ctx, "Persistence write failed", err,
				"kind", task.Kind,
				"path", task.Path,
			)
			metrics.PersistDrops.WithLabelValues(string(task.Kind)).Inc()
			continue
		}
		metrics.PersistWrites.WithLabelValues(string(task.Kind)).Inc()
	}
}

// writeAtomic writes payload to a temp file in the target directory and
// renames it into place, so a reader never observes a partial file.
func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func appendLine(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(payload, '\n')); err != nil {
		return err
	}
	return nil
}
