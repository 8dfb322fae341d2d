// Package exec implements the shard pipeline executor (C5): runs a
// configured mapper sequence over a shard's documents, checkpoints
// progress to a stats file, and resumes mid-run from it. Drives a
// multi-phase pipeline over in-memory document batches, persisting step
// progress at each commit, before a global step, and at the end of a run.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package exec

import (
	"bytes"
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/store"
)

var statsJS = jsoniter.ConfigFastest

// EntryKind distinguishes a process marker from a step's accumulated
// counters within the stats file.
type EntryKind string

const (
	EntrySetup  EntryKind = "setup"
	EntryCommit EntryKind = "commit"
	EntryEnd    EntryKind = "end"
	EntryStep   EntryKind = "step"
	EntryGlobal EntryKind = "global"
)

// StatEntry is one JSONL line of a shard's stats file: either a process
// marker or one step's accumulated counters.
type StatEntry struct {
	Kind EntryKind `json:"kind"`
	Time time.Time `json:"time"`

	// Populated when Kind == EntryStep; Step is also set for EntryGlobal.
	Step      string             `json:"step,omitempty"`
	PagesIn   int                `json:"pages_in,omitempty"`
	PagesOut  int                `json:"pages_out,omitempty"`
	Removed   int                `json:"removed,omitempty"`
	Kept      int                `json:"kept,omitempty"`
	Split     int                `json:"split,omitempty"`
	Errors    int                `json:"errors,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Aggregate map[string]float64 `json:"aggregate,omitempty"`
}

func readStats(ctx context.Context, s store.Store, uri string) ([]StatEntry, error) {
	raw, err := s.ReadBytes(ctx, uri)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []StatEntry
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e StatEntry
		if err := statsJS.Unmarshal(line, &e); err != nil {
			return nil, cos.NewErrCodec(uri, 0, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
