// Package split implements the oversize-shard guard (C6): when a task's
// shard exceeds the configured byte budget, it is sliced into
// deterministically-named temp chunks in temp storage and re-enqueued as
// new temp tasks, rather than loaded whole into the executor. Documents
// accumulate into a byte-budgeted buffer that is flushed as soon as its
// estimated size reaches the threshold.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package split

import (
	"context"
	"fmt"

	"github.com/xufeisofly/datarig/cmn/rlog"
	"github.com/xufeisofly/datarig/doc"
	"github.com/xufeisofly/datarig/queue"
	"github.com/xufeisofly/datarig/store"
)

var log = rlog.Of("split")

// marginFraction is how far under maxBytes a chunk's flush threshold sits,
// leaves roughly a 10% margin before the hard byte budget.
const marginFraction = 0.10

// Splitter slices oversize shards into chunkSize-wide groups of temp
// files and re-enqueues them as new temp Tasks.
type Splitter struct {
	Store          store.Store
	Queue          queue.Queue
	QueueID        string
	MaxShardSizeMB int64
	TempDir        string
	ChunkSize      int
}

// MaybeSplit inspects task and, if its total input size exceeds the
// configured budget, slices it into temp chunks and enqueues replacement
// tasks. It returns true when a split occurred, in which case the caller
// must treat the original task as successfully completed with zero pages
// processed.
func (s *Splitter) MaybeSplit(ctx context.Context, task *queue.Task) (bool, error) {
	if task.IsTemp {
		return false, nil
	}

	files, err := task.ResolveFiles(ctx, s.Store)
	if err != nil {
		return false, err
	}

	maxBytes := s.MaxShardSizeMB * 1024 * 1024
	var total int64
	for _, f := range files {
		sz, err := s.Store.Size(ctx, joinPath(task.ShardDir, f))
		if err != nil {
			return false, err
		}
		total += sz
	}
	if total <= maxBytes {
		return false, nil
	}

	log.Info().Str("shard", task.ShardDir).Int64("bytes", total).Int64("max_bytes", maxBytes).Msg("shard exceeds budget, splitting")

	chunkFiles, err := s.writeChunks(ctx, task, files, maxBytes)
	if err != nil {
		return false, err
	}

	for start := 0; start < len(chunkFiles); start += s.ChunkSize {
		end := start + s.ChunkSize
		if end > len(chunkFiles) {
			end = len(chunkFiles)
		}
		group := chunkFiles[start:end]
		t := queue.NewTask(s.TempDir, queue.AllFiles, group, true, task.ShardDir)
		if err := s.Queue.Put(ctx, s.QueueID, t); err != nil {
			return false, err
		}
	}
	return true, nil
}

// writeChunks streams every input file's documents and flushes the
// accumulated buffer each time its estimated byte size crosses
// maxBytes*(1-margin), naming outputs deterministically off the original
// task's id so re-running a split after a crash reproduces the same
// chunk set instead of leaving orphaned partial files behind.
func (s *Splitter) writeChunks(ctx context.Context, task *queue.Task, files []string, maxBytes int64) ([]string, error) {
	threshold := int64(float64(maxBytes) * (1 - marginFraction))
	stem := store.ShardName(task.ShardDir)

	var (
		chunkFiles []string
		buffer     []doc.Document
		estBytes   int64
		k          int
	)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		name := fmt.Sprintf("%s_%s_chunk%d.jsonl", stem, task.ID[:8], k)
		uri := joinPath(s.TempDir, name)
		if err := s.Store.WriteJSONL(ctx, buffer, uri, store.WriteOverwrite); err != nil {
			return err
		}
		chunkFiles = append(chunkFiles, name)
		buffer = nil
		estBytes = 0
		k++
		return nil
	}

	for _, f := range files {
		it, err := s.Store.ReadJSONL(ctx, joinPath(task.ShardDir, f))
		if err != nil {
			return nil, err
		}
		for {
			d, ok := it.Next()
			if !ok {
				break
			}
			raw, err := doc.Marshal(d)
			if err != nil {
				it.Close()
				return nil, err
			}
			buffer = append(buffer, d)
			estBytes += int64(len(raw)) + 1
			if estBytes >= threshold {
				if err := flush(); err != nil {
					it.Close()
					return nil, err
				}
			}
		}
		if err := it.Err(); err != nil {
			it.Close()
			return nil, err
		}
		it.Close()
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunkFiles, nil
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	joined := trimSlash(a) + "/" + trimSlash(b)
	if a[0] == '/' {
		joined = "/" + joined
	}
	return joined
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
