/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/buntdb"

	"github.com/xufeisofly/datarig/alloc"
	"github.com/xufeisofly/datarig/queue"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate ROOT",
	Short: "Walk a corpus root and seed a queue with one task per shard",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllocate,
}

func init() {
	f := allocateCmd.Flags()
	f.String("queue-db", "", "path to the buntdb file backing the queue (required)")
	f.String("queue-id", "default", "queue identifier")
	f.String("mode", "process", "allocation mode: process or dedup")
	f.Int("chunk-size", -1, "files per task; -1 means one task per leaf directory")

	_ = allocateCmd.MarkFlagRequired("queue-db")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	root := args[0]

	f := cmd.Flags()
	queueDB, _ := f.GetString("queue-db")
	queueID, _ := f.GetString("queue-id")
	mode, _ := f.GetString("mode")
	chunkSize, _ := f.GetInt("chunk-size")

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

	a := &alloc.Allocator{
		Store:     r,
		Queue:     q,
		QueueID:   queueID,
		Mode:      alloc.Mode(mode),
		ChunkSize: chunkSize,
	}

	n, err := a.Run(ctx, root)
	if err != nil {
		return fmt.Errorf("allocating: %v", err)
	}
	log.Info().Str("root", root).Int("tasks", n).Msg("allocation complete")
	return nil
}
