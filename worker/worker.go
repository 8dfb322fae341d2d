// Package worker implements the per-process worker loop (C7): acquire a
// task, run the executor (via the split guard), report success or
// requeue, clean temp artifacts, repeat.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/cmn/rlog"
	"github.com/xufeisofly/datarig/config"
	"github.com/xufeisofly/datarig/exec"
	"github.com/xufeisofly/datarig/queue"
	"github.com/xufeisofly/datarig/split"
	"github.com/xufeisofly/datarig/store"
)

var log = rlog.Of("worker")

// GlobalRunner executes a cross-shard global function and returns the new
// working-directory URI the executor loads its input from when it resumes
// with the remaining steps; outputs stay under the same base. Supplied
// by the caller, since global functions are explicitly out of the
// per-shard executor's scope.
type GlobalRunner func(ctx context.Context, funcName string, args map[string]any, files []string, outputBase string) (string, error)

const (
	DefaultPollSleep       = 10 * time.Second
	DefaultBetweenTaskRest = 1 * time.Second
)

// Config wires one worker process's dependencies and run parameters.
type Config struct {
	Store    store.Store
	Queue    queue.Queue
	QueueID  string
	Executor *exec.Executor
	Splitter *split.Splitter // nil disables the oversize guard

	Steps []config.Step

	OutputRoot   string
	ReadableName string

	WorkerKey           string
	AcquireBlockTimeout time.Duration
	PollSleep           time.Duration
	BetweenTaskRest     time.Duration
	MaxAttempts         int
	Overwrite           bool

	RunGlobal GlobalRunner
}

// Worker runs Config's acquire/execute/complete cycle until the queue
// drains or its context is cancelled.
type Worker struct {
	Cfg Config
}

// Run drives the acquire/execute/complete loop until the queue reports
// allFinished or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	pollSleep := w.Cfg.PollSleep
	if pollSleep <= 0 {
		pollSleep = DefaultPollSleep
	}
	rest := w.Cfg.BetweenTaskRest
	if rest <= 0 {
		rest = DefaultBetweenTaskRest
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task, allDone, err := w.Cfg.Queue.Acquire(ctx, w.Cfg.QueueID, w.Cfg.WorkerKey, w.Cfg.AcquireBlockTimeout)
		if err != nil {
			return err
		}
		if task == nil {
			if allDone {
				log.Info().Str("queue", w.Cfg.QueueID).Msg("queue drained, exiting")
				return nil
			}
			if err := sleepCtx(ctx, pollSleep); err != nil {
				return err
			}
			continue
		}

		if err := w.RunTask(ctx, task); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("task failed, requeueing")
			if rqErr := w.Cfg.Queue.Requeue(ctx, w.Cfg.QueueID, task, w.Cfg.MaxAttempts); rqErr != nil {
				return rqErr
			}
		}

		if err := sleepCtx(ctx, rest); err != nil {
			return err
		}
	}
}

// RunTask executes one task to completion: the split guard first, then
// the pipeline executor, then completion bookkeeping. Exported so
// single-shot (useTask=false) callers can drive one task directly without
// the surrounding poll loop.
func (w *Worker) RunTask(ctx context.Context, task *queue.Task) error {
	if w.Cfg.Splitter != nil {
		did, err := w.Cfg.Splitter.MaybeSplit(ctx, task)
		if err != nil {
			return err
		}
		if did {
			return w.Cfg.Queue.Complete(ctx, w.Cfg.QueueID, task)
		}
	}

	files, err := task.ResolveFiles(ctx, w.Cfg.Store)
	if err != nil {
		return err
	}

	outputBase := w.outputBase(task)
	loadDir := task.ShardDir
	steps := w.Cfg.Steps

	for {
		res, err := w.Cfg.Executor.RunFrom(ctx, task.ShardDir, loadDir, files, steps, outputBase, w.Cfg.Overwrite)
		if err != nil {
			return err
		}
		if !res.GlobalStep {
			break
		}

		if w.Cfg.RunGlobal == nil {
			return cos.NewErrConfig("task %s: global step %q encountered but no global runner configured", task.ID, res.GlobalFunc)
		}
		newDir, err := w.Cfg.RunGlobal(ctx, res.GlobalFunc, res.GlobalArgs, files, outputBase)
		if err != nil {
			return err
		}

		newFiles, err := w.Cfg.Store.ListFiles(ctx, newDir)
		if err != nil {
			return err
		}

		loadDir = newDir
		files = make([]string, 0, len(newFiles))
		for _, f := range newFiles {
			files = append(files, baseName(f))
		}
		steps = steps[res.GlobalStepIndex+1:]
	}

	if task.IsTemp {
		for _, f := range task.Files {
			if err := w.Cfg.Store.Delete(ctx, joinPath(task.ShardDir, f)); err != nil && !cos.IsErrNotFound(err) {
				log.Warn().Err(err).Str("file", f).Msg("failed to clean up temp chunk")
			}
		}
	}

	return w.Cfg.Queue.Complete(ctx, w.Cfg.QueueID, task)
}

// outputBase builds {outputRoot}/{readableName}/[originalDatasetName/]{shardName},
// the executor appends processed_data/ and
// stats/ beneath it.
func (w *Worker) outputBase(task *queue.Task) string {
	parts := []string{w.Cfg.OutputRoot, w.Cfg.ReadableName}
	if task.OriginalShardDir != "" {
		parts = append(parts, baseName(task.OriginalShardDir))
	}
	parts = append(parts, store.ShardName(task.ShardDir))
	return joinPath(parts...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func joinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	joined := strings.Join(cleaned, "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "/") {
		joined = "/" + joined
	}
	return joined
}

func baseName(p string) string {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
