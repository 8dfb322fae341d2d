// Package alloc implements the task allocator (C4): a one-shot walk of an
// input corpus that enumerates leaf shard directories into task records
// and seeds the queue, over the store.Store abstraction.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package alloc

import (
	"context"
	"path"
	"strings"

	"github.com/xufeisofly/datarig/cmn/rlog"
	"github.com/xufeisofly/datarig/queue"
	"github.com/xufeisofly/datarig/store"
)

var log = rlog.Of("alloc")

// Mode selects which directories are materialised into tasks.
type Mode string

const (
	// ModeProcess materialises every leaf directory under root.
	ModeProcess Mode = "process"
	// ModeDedup materialises only "subject=" directories, pointing the
	// task's ShardDir at that directory's processed_data/ subfolder.
	ModeDedup Mode = "dedup"
)

const subjectPrefix = "subject="

// Allocator walks a corpus root and seeds a Queue with one task per leaf
// shard directory (or per chunk_size-wide slice of one).
type Allocator struct {
	Store     store.Store
	Queue     queue.Queue
	QueueID   string
	Mode      Mode
	ChunkSize int // -1 means "one task per directory"
}

// Run clears the target queue (allocation is write-once) and walks root,
// putting one task per materialised unit of work.
// It returns the number of tasks put.
func (a *Allocator) Run(ctx context.Context, root string) (int, error) {
	if err := a.Queue.Clear(ctx, a.QueueID); err != nil {
		return 0, err
	}
	n := 0
	if err := a.walk(ctx, root, &n); err != nil {
		return n, err
	}
	log.Info().Str("root", root).Int("tasks", n).Msg("allocation complete")
	return n, nil
}

func (a *Allocator) walk(ctx context.Context, dir string, n *int) error {
	if a.Mode == ModeDedup {
		base := strings.TrimSuffix(path.Base(strings.TrimSuffix(dir, "/")), "/")
		if strings.HasPrefix(base, subjectPrefix) {
			return a.materializeDedup(ctx, dir, n)
		}
	}

	subdirs, err := a.Store.ListSubDirs(ctx, dir)
	if err != nil {
		return err
	}
	if a.Mode != ModeDedup && len(subdirs) == 0 {
		// process mode materialises leaf directories only.
		return a.materializeProcess(ctx, dir, n)
	}
	for _, sd := range subdirs {
		if err := a.walk(ctx, sd, n); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) materializeProcess(ctx context.Context, dir string, n *int) error {
	files, err := a.Store.ListFiles(ctx, dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	return a.enqueueRanges(ctx, dir, "", len(files), n)
}

func (a *Allocator) materializeDedup(ctx context.Context, dir string, n *int) error {
	processedDir := strings.TrimSuffix(dir, "/") + "/processed_data"
	files, err := a.Store.ListFiles(ctx, processedDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	return a.enqueueRanges(ctx, processedDir, dir, len(files), n)
}

func (a *Allocator) enqueueRanges(ctx context.Context, shardDir, originalShardDir string, total int, n *int) error {
	if a.ChunkSize == -1 {
		t := queue.NewTask(shardDir, queue.AllFiles, nil, false, originalShardDir)
		if err := a.Queue.Put(ctx, a.QueueID, t); err != nil {
			return err
		}
		*n++
		return nil
	}
	for start := 0; start < total; start += a.ChunkSize {
		end := start + a.ChunkSize
		if end > total {
			end = total
		}
		t := queue.NewTask(shardDir, queue.FileRange{start, end}, nil, false, originalShardDir)
		if err := a.Queue.Put(ctx, a.QueueID, t); err != nil {
			return err
		}
		*n++
	}
	return nil
}
