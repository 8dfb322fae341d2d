/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/buntdb"

	"github.com/xufeisofly/datarig/queue"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim tasks whose worker lease has expired back onto pending",
	RunE:  runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.String("queue-db", "", "path to the buntdb file backing the queue (required)")
	f.String("queue-id", "default", "queue identifier")
	f.Duration("interval", 0, "if set, sweep repeatedly on this interval instead of once")

	_ = sweepCmd.MarkFlagRequired("queue-db")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	queueDB, _ := f.GetString("queue-db")
	queueID, _ := f.GetString("queue-id")
	interval, _ := f.GetDuration("interval")

	db, err := buntdb.Open(queueDB)
	if err != nil {
		return fmt.Errorf("opening queue db: %v", err)
	}
	defer db.Close()
	q := queue.NewBuntQueue(db)

	ctx := context.Background()
	if interval <= 0 {
		n, err := q.RequeueExpired(ctx, queueID)
		if err != nil {
			return err
		}
		log.Info().Int("reclaimed", n).Msg("sweep complete")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		n, err := q.RequeueExpired(ctx, queueID)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Int("reclaimed", n).Msg("swept expired leases")
		}
	}
	return nil
}
