/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/buntdb"

	"github.com/xufeisofly/datarig/config"
	"github.com/xufeisofly/datarig/exec"
	"github.com/xufeisofly/datarig/lock"
	_ "github.com/xufeisofly/datarig/mappers"
	"github.com/xufeisofly/datarig/queue"
	"github.com/xufeisofly/datarig/split"
	"github.com/xufeisofly/datarig/store"
	"github.com/xufeisofly/datarig/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a worker loop against a queue, draining tasks until empty",
	RunE:  runWorker,
}

func init() {
	f := runCmd.Flags()
	f.String("queue-db", "", "path to the buntdb file backing the queue (required)")
	f.String("queue-id", "default", "queue identifier")
	f.String("config", "", "path to the step-sequence YAML config (required)")
	f.String("source", "", "source name within --config to run (required)")
	f.String("output-root", "", "output URI root (required)")
	f.String("readable-name", "", "human-readable run name, nested under --output-root (required)")
	f.String("task-file", "", "optional blob-lock URI; when set, this worker holds a blob lock there for its whole run and exits if another holder has it; when unset no lock is taken")
	f.Int64("max-shard-size-mb", 512, "oversize-shard guard threshold in MiB; 0 disables splitting")
	f.String("temp-dir", "", "temp storage URI for oversize-shard chunks")
	f.Int("chunk-size", 8, "number of temp chunks grouped per replacement task")
	f.Int("workers", 1, "in-process worker pool width for fanning out document-level work within a shard")
	f.Bool("overwrite", false, "overwrite existing committed output instead of resuming from it")
	f.Duration("poll-sleep", worker.DefaultPollSleep, "sleep between empty-queue polls")
	f.Duration("between-task-rest", worker.DefaultBetweenTaskRest, "rest between tasks")
	f.Int("max-attempts", 5, "failed attempts after which a task is moved to the dead partition; 0 means unlimited")
	f.String("worker-key", "", "identity recorded against acquired leases; defaults to hostname:pid")

	_ = runCmd.MarkFlagRequired("queue-db")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("source")
	_ = runCmd.MarkFlagRequired("output-root")
	_ = runCmd.MarkFlagRequired("readable-name")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("signal received, winding down after the current task")
		cancel()
	}()

	f := cmd.Flags()
	queueDB, _ := f.GetString("queue-db")
	queueID, _ := f.GetString("queue-id")
	cfgPath, _ := f.GetString("config")
	source, _ := f.GetString("source")
	outputRoot, _ := f.GetString("output-root")
	readableName, _ := f.GetString("readable-name")
	taskFile, _ := f.GetString("task-file")
	maxShardSizeMB, _ := f.GetInt64("max-shard-size-mb")
	tempDir, _ := f.GetString("temp-dir")
	chunkSize, _ := f.GetInt("chunk-size")
	workers, _ := f.GetInt("workers")
	overwrite, _ := f.GetBool("overwrite")
	pollSleep, _ := f.GetDuration("poll-sleep")
	betweenTaskRest, _ := f.GetDuration("between-task-rest")
	maxAttempts, _ := f.GetInt("max-attempts")
	workerKey, _ := f.GetString("worker-key")
	if workerKey == "" {
		host, _ := os.Hostname()
		workerKey = fmt.Sprintf("%s:%d", host, os.Getpid())
	}

	r, err := routerFromFlags(cmd, ctx)
	if err != nil {
		return err
	}

	db, err := buntdb.Open(queueDB)
	if err != nil {
		return fmt.Errorf("opening queue db: %v", err)
	}
	defer db.Close()
	q := queue.NewBuntQueue(db)

	if taskFile != "" {
		bl := lock.NewBlobLock(r, taskFile)
		held, err := bl.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquiring task-file lock: %v", err)
		}
		if !held {
			return fmt.Errorf("task-file %s is already locked by another runner", taskFile)
		}
		defer func() { _, _ = bl.Release(ctx) }()
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("reading config: %v", err)
	}
	sources, err := config.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing config: %v", err)
	}
	steps, err := config.ForSource(sources, source)
	if err != nil {
		return fmt.Errorf("resolving source %q: %v", source, err)
	}

	var splitter *split.Splitter
	if maxShardSizeMB > 0 {
		splitter = &split.Splitter{
			Store:          r,
			Queue:          q,
			QueueID:        queueID,
			MaxShardSizeMB: maxShardSizeMB,
			TempDir:        tempDir,
			ChunkSize:      chunkSize,
		}
	}

	w := &worker.Worker{Cfg: worker.Config{
		Store:               r,
		Queue:               q,
		QueueID:             queueID,
		Executor:            &exec.Executor{Store: r, Workers: workers},
		Splitter:            splitter,
		Steps:               steps,
		OutputRoot:          outputRoot,
		ReadableName:        readableName,
		WorkerKey:           workerKey,
		AcquireBlockTimeout: 2 * time.Second,
		PollSleep:           pollSleep,
		BetweenTaskRest:     betweenTaskRest,
		MaxAttempts:         maxAttempts,
		Overwrite:           overwrite,
	}}

	return w.Run(ctx)
}

func routerFromFlags(cmd *cobra.Command, ctx context.Context) (*store.Router, error) {
	root := cmd.Root()
	s3, _ := root.PersistentFlags().GetBool("s3")
	azAccount, _ := root.PersistentFlags().GetString("azure-account")
	azKey, _ := root.PersistentFlags().GetString("azure-key")
	gcs, _ := root.PersistentFlags().GetBool("gcs")
	hdfs, _ := root.PersistentFlags().GetString("hdfs-namenode")

	return store.NewDefaultRouter(ctx, store.BackendConfig{
		S3Enabled:    s3,
		AzureAccount: azAccount,
		AzureKey:     azKey,
		GCSEnabled:   gcs,
		HDFSNamenode: hdfs,
	})
}
