// Package queue implements the persistent task queue: pending / in-flight /
// finished / dead partitions plus lease-based reclaim, modeled as a
// list-backed FIFO over the embeddable, TTL-native buntdb store used
// throughout this module.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package queue

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"path"
	"time"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/store"
)

// WorkerStatus is the lifecycle of a task's current (or most recent) claim.
type WorkerStatus string

const (
	StatusProcessing WorkerStatus = "processing"
	StatusFinished   WorkerStatus = "finished"
	StatusFailed     WorkerStatus = "failed"
)

// Worker records which worker holds (or held) a task and when.
type Worker struct {
	Key         string       `json:"key"`
	Status      WorkerStatus `json:"status"`
	ProcessTime time.Time    `json:"process_time"`
	FinishTime  *time.Time   `json:"finish_time,omitempty"`
	FailTime    *time.Time   `json:"fail_time,omitempty"`
}

// FileRange is the [start, end) index pair into a shard directory's file
// listing; [0,-1] means "all files in ShardDir".
type FileRange [2]int

// AllFiles is the sentinel FileRange meaning "every file in ShardDir".
var AllFiles = FileRange{0, -1}

// Task is the durable unit of work the queue operates on. ID is
// content-addressed over the identity-bearing fields below so retries and
// re-derivation are idempotent.
type Task struct {
	ID                string    `json:"id"`
	ShardDir          string    `json:"shard_dir"`
	FileRange         FileRange `json:"file_range"`
	Files             []string  `json:"files"`
	IsTemp            bool      `json:"is_temp"`
	OriginalShardDir  string    `json:"original_shard_dir,omitempty"`
	Worker            *Worker   `json:"worker,omitempty"`
	// Attempts counts requeues; see SPEC_FULL.md's resolution of the
	// "dead-letter vs. retry forever" open question.
	Attempts int `json:"attempts"`
}

// NewTask builds a task and derives its stable ID. Constructing two tasks
// with the same identity-bearing fields yields the same ID, which is what
// makes duplicate puts (by the allocator, or by the splitter re-deriving a
// chunk group) idempotent.
func NewTask(shardDir string, fileRange FileRange, files []string, isTemp bool, originalShardDir string) *Task {
	t := &Task{
		ShardDir:         shardDir,
		FileRange:        fileRange,
		Files:            files,
		IsTemp:           isTemp,
		OriginalShardDir: originalShardDir,
	}
	t.ID = t.computeID()
	return t
}

// computeID hashes the canonical (sorted-key) JSON encoding of the
// identity-bearing subset of fields: encoding/json already serializes Go
// maps with sorted keys, so a map literal here is enough to make the hash
// deterministic across retries. A faster non-cryptographic hash (e.g.
// xxhash) would not change this: the contract is "stable across
// retries", not "fast".
func (t *Task) computeID() string {
	files := t.Files
	if files == nil {
		files = []string{}
	}
	payload := map[string]any{
		"shard_dir":          t.ShardDir,
		"file_range":         [2]int{t.FileRange[0], t.FileRange[1]},
		"files":              files,
		"original_shard_dir": t.OriginalShardDir,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		panic("queue: task identity fields must be json-marshalable: " + err.Error())
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// ResolveFiles returns the names, relative to ShardDir, of the files this
// task covers: its explicit Files list when set (as the splitter sets for
// temp tasks), or else the base names of ShardDir's listing sliced by
// FileRange.
func (t *Task) ResolveFiles(ctx context.Context, s store.Store) ([]string, error) {
	if len(t.Files) > 0 {
		return t.Files, nil
	}
	all, err := s.ListFiles(ctx, t.ShardDir)
	if err != nil {
		return nil, err
	}
	start, end := t.FileRange[0], t.FileRange[1]
	if end == -1 {
		end = len(all)
	}
	if start < 0 || start > len(all) || end > len(all) || start > end {
		return nil, cos.NewErrConfig("task %s: file range [%d,%d) out of bounds for %d files", t.ID, start, end, len(all))
	}
	names := make([]string, 0, end-start)
	for _, f := range all[start:end] {
		names = append(names, path.Base(f))
	}
	return names, nil
}

// LeaseKey is the expiring marker's key for this task within a given
// queue id.
func LeaseKey(queueID, taskID string) string {
	return "q:" + queueID + ":lease:" + taskID
}
