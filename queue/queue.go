package queue

import (
	"context"
	"time"
)

// DefaultLeaseTTL bounds how long a crashed worker holds a task before
// reclaim (default 2 hours).
const DefaultLeaseTTL = 2 * time.Hour

// Queue is the contract C7 (worker loop) and C4/C6 (allocator, splitter)
// depend on. Every mutating operation is atomic with respect to the
// pending/in-flight/finished/dead partitions and the lease keyspace.
type Queue interface {
	// Put appends task to the tail of pending. Idempotent by task.ID:
	// re-putting an ID already present anywhere is a silent no-op.
	Put(ctx context.Context, queueID string, task *Task) error
	// PutToHead prepends task to pending, for urgent retries.
	PutToHead(ctx context.Context, queueID string, task *Task) error

	// Acquire atomically moves the oldest pending task to in-flight and
	// creates its lease key. If pending is empty it blocks up to
	// blockTimeout (0 = return immediately). Returns (nil, true, nil) once
	// AllFinished is also true, signaling the worker loop to exit.
	Acquire(ctx context.Context, queueID, workerKey string, blockTimeout time.Duration) (task *Task, done bool, err error)

	// Complete atomically removes task from in-flight and appends it to
	// finished; idempotent if already finished.
	Complete(ctx context.Context, queueID string, task *Task) error
	// Requeue atomically moves task from in-flight back to pending
	// (tail), incrementing its attempt counter; once the counter reaches
	// maxAttempts (if nonzero) the task is moved to the dead partition
	// instead.
	Requeue(ctx context.Context, queueID string, task *Task, maxAttempts int) error

	// RequeueExpired scans in-flight for entries whose lease key has
	// expired and moves them back to pending. Safe to call from any
	// process holding a Queue client.
	RequeueExpired(ctx context.Context, queueID string) (int, error)

	// AllFinished reports whether pending and in-flight are both empty.
	AllFinished(ctx context.Context, queueID string) (bool, error)

	// Dead lists tasks that exceeded maxAttempts, for operator triage.
	Dead(ctx context.Context, queueID string) ([]*Task, error)

	// Clear removes every partition and lease key for queueID; used by
	// the allocator's write-once seeding.
	Clear(ctx context.Context, queueID string) error
}
