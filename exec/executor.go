package exec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/cmn/rlog"
	"github.com/xufeisofly/datarig/config"
	"github.com/xufeisofly/datarig/doc"
	"github.com/xufeisofly/datarig/mappers"
	"github.com/xufeisofly/datarig/store"
)

var log = rlog.Of("exec")

// Result reports what one Run accomplished.
type Result struct {
	PagesIn  int
	PagesOut int

	// GlobalStep is set when execution halted on a cross-shard function;
	// the caller is responsible for running it and resuming with a new
	// working directory. GlobalStepIndex is that step's position in the
	// steps slice the caller passed in, so it can resume from
	// steps[GlobalStepIndex+1:].
	GlobalStep      bool
	GlobalFunc      string
	GlobalArgs      map[string]any
	GlobalStepIndex int
}

// Executor runs one shard's configured step sequence to completion or to
// its first global-function short-circuit.
type Executor struct {
	Store   store.Store
	Workers int // > 1 fans documents out across a bounded pool per step
}

// Run executes steps over the documents named by files (relative to
// shardDir) and checkpoints to {outputBase}/stats and
// {outputBase}/processed_data.
func (e *Executor) Run(ctx context.Context, shardDir string, files []string, steps []config.Step, outputBase string, overwrite bool) (*Result, error) {
	return e.RunFrom(ctx, shardDir, shardDir, files, steps, outputBase, overwrite)
}

// RunFrom is Run with the load location split out from the shard's
// identity: shardDir names the shard (stats/output file naming), while
// loadDir is where raw input files are actually read from. The two
// differ only when resuming a pipeline past a global step, whose output
// lands in a fresh working directory but must still check in under the
// original shard's name.
func (e *Executor) RunFrom(ctx context.Context, shardDir, loadDir string, files []string, steps []config.Step, outputBase string, overwrite bool) (*Result, error) {
	shardName := store.ShardName(shardDir)
	outputURI := joinPath(outputBase, "processed_data", shardName+"_processed.jsonl")
	statsURI := joinPath(outputBase, "stats", shardName+"_stats.jsonl")

	var existing []StatEntry
	if !overwrite {
		var err error
		existing, err = readStats(ctx, e.Store, statsURI)
		if err != nil {
			return nil, err
		}
	}

	skip, lastCommitSkipped := resumePoint(existing, steps)

	docs, err := e.loadDocs(ctx, loadDir, files, outputURI, lastCommitSkipped >= 0)
	if err != nil {
		return nil, cos.NewErrIO("load-shard", loadDir, err)
	}
	pagesIn := len(docs)

	var buffer []StatEntry
	mutated := false
	if skip == 0 {
		buffer = append(buffer, StatEntry{Kind: EntrySetup, Time: time.Now()})
	}

	for i := skip; i < len(steps); i++ {
		step := steps[i]

		if step.IsCommit {
			if mutated {
				if err := e.Store.WriteJSONL(ctx, docs, outputURI, store.WriteOverwrite); err != nil {
					return nil, cos.NewErrIO("commit-write", outputURI, err)
				}
				buffer = append(buffer, StatEntry{Kind: EntryCommit, Time: time.Now()})
				if err := e.appendStats(ctx, statsURI, buffer); err != nil {
					return nil, err
				}
				buffer = nil
				mutated = false
			}
			continue
		}

		if IsGlobal(step.Func) {
			// Commit whatever has accumulated so the global function has
			// real files to operate on, and flush the stats buffer
			// rather than discarding it -- the stats file still records
			// that this point was reached, even though the global
			// function itself hasn't run yet.
			if mutated {
				if err := e.Store.WriteJSONL(ctx, docs, outputURI, store.WriteOverwrite); err != nil {
					return nil, cos.NewErrIO("pre-global-commit-write", outputURI, err)
				}
				buffer = append(buffer, StatEntry{Kind: EntryCommit, Time: time.Now()})
			}
			buffer = append(buffer, StatEntry{Kind: EntryGlobal, Time: time.Now(), Step: step.Func})
			if err := e.appendStats(ctx, statsURI, buffer); err != nil {
				return nil, err
			}
			return &Result{
				PagesIn:         pagesIn,
				PagesOut:        len(docs),
				GlobalStep:      true,
				GlobalFunc:      step.Func,
				GlobalArgs:      step.Args,
				GlobalStepIndex: i,
			}, nil
		}

		entry, next, err := e.runStep(ctx, shardDir, step, docs)
		if err != nil {
			return nil, err
		}
		buffer = append(buffer, entry)
		mutated = true
		docs = next

		if len(docs) == 0 {
			log.Info().Str("shard", shardDir).Str("step", step.Func).Msg("pipeline drained, terminating early")
			break
		}
	}

	buffer = append(buffer, StatEntry{Kind: EntryEnd, Time: time.Now()})
	if mutated {
		if err := e.Store.WriteJSONL(ctx, docs, outputURI, store.WriteOverwrite); err != nil {
			return nil, cos.NewErrIO("final-commit-write", outputURI, err)
		}
		buffer = append(buffer, StatEntry{Kind: EntryCommit, Time: time.Now()})
	}
	if err := e.appendStats(ctx, statsURI, buffer); err != nil {
		return nil, err
	}

	return &Result{PagesIn: pagesIn, PagesOut: len(docs)}, nil
}

// resumePoint returns how many leading steps are already durable in the
// existing stats, and the index of the last commit among them (-1 if
// none), which tells loadDocs whether the committed output is the correct
// starting point.
func resumePoint(existing []StatEntry, steps []config.Step) (skip, lastCommitSkipped int) {
	lastCommitSkipped = -1
	i, ei := 0, 0
	for i < len(steps) && ei < len(existing) {
		e := existing[ei]
		if e.Kind == EntrySetup || e.Kind == EntryEnd {
			ei++
			continue
		}
		if steps[i].IsCommit {
			if e.Kind != EntryCommit {
				break
			}
			lastCommitSkipped = i
			i++
			ei++
			continue
		}
		if e.Kind == EntryStep && e.Step == steps[i].Func {
			i++
			ei++
			continue
		}
		break
	}
	return i, lastCommitSkipped
}

func (e *Executor) loadDocs(ctx context.Context, shardDir string, files []string, outputURI string, fromCommit bool) ([]doc.Document, error) {
	if fromCommit {
		return e.readAll(ctx, outputURI)
	}
	var out []doc.Document
	for _, f := range files {
		uri := joinPath(shardDir, f)
		ds, err := e.readAll(ctx, uri)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

func (e *Executor) readAll(ctx context.Context, uri string) ([]doc.Document, error) {
	it, err := e.Store.ReadJSONL(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []doc.Document
	for {
		d, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out, it.Err()
}

// appendStats flattens each entry into a doc.Document so it can ride the
// store's existing append-mode WriteJSONL path rather than a bespoke
// raw-bytes append.
func (e *Executor) appendStats(ctx context.Context, statsURI string, entries []StatEntry) error {
	docs := make([]doc.Document, 0, len(entries))
	for _, en := range entries {
		docs = append(docs, statsDoc(en))
	}
	return e.Store.WriteJSONL(ctx, docs, statsURI, store.WriteAppend)
}

func statsDoc(e StatEntry) doc.Document {
	raw, _ := statsJS.Marshal(e)
	var m map[string]any
	_ = statsJS.Unmarshal(raw, &m)
	return doc.Document(m)
}

// runStep executes one mapper step over docs, classifying outputs per
// the L=0/1/>=2 classification law, and returns the step's stat entry plus the
// replacement document list.
func (e *Executor) runStep(ctx context.Context, shardDir string, step config.Step, docs []doc.Document) (StatEntry, []doc.Document, error) {
	m, err := mappers.Build(step.Func, step.Args)
	if err != nil {
		return StatEntry{}, nil, err
	}
	safe := mappers.Safe(step.Func, m)

	type outcome struct {
		out      []doc.Document
		duration time.Duration
		err      error
	}

	results := make([]outcome, len(docs))

	run := func(i int) {
		start := time.Now()
		out, err := safe(docs[i])
		results[i] = outcome{out: out, duration: time.Since(start), err: err}
	}

	if e.Workers <= 1 {
		for i := range docs {
			run(i)
		}
	} else {
		// results is indexed per-document, so concurrent goroutines never
		// share a write target and need no additional locking.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.Workers)
		for i := range docs {
			i := i
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				run(i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return StatEntry{}, nil, err
		}
	}

	entry := StatEntry{Kind: EntryStep, Time: time.Now(), Step: step.Func, PagesIn: len(docs)}
	var next []doc.Document
	var totalDur time.Duration
	for _, r := range results {
		totalDur += r.duration
		if r.err != nil {
			entry.Errors++
			continue
		}
		switch len(r.out) {
		case 0:
			entry.Removed++
		case 1:
			entry.Kept++
		default:
			entry.Split++
		}
		next = append(next, r.out...)
	}
	entry.DurationMS = totalDur.Milliseconds()
	entry.PagesOut = len(next)

	if len(docs) > 0 && entry.Errors == len(docs) {
		return StatEntry{}, nil, cos.NewErrFatalShard(shardDir, step.Func, fmt.Errorf("all %d documents errored", len(docs)))
	}

	if step.Aggregate != nil {
		entry.Aggregate = make(map[string]float64, len(step.Aggregate))
		for key, spec := range step.Aggregate {
			v, err := mappers.Aggregate(key, spec, next)
			if err != nil {
				return StatEntry{}, nil, err
			}
			entry.Aggregate[key] = v
		}
	}

	return entry, next, nil
}

func joinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned = append(cleaned, strings.Trim(p, "/"))
	}
	joined := strings.Join(cleaned, "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "/") {
		joined = "/" + joined
	}
	return joined
}
