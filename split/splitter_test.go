package split_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/buntdb"

	"github.com/xufeisofly/datarig/queue"
	"github.com/xufeisofly/datarig/split"
	"github.com/xufeisofly/datarig/store"
)

func TestMaybeSplitSkipsSmallShard(t *testing.T) {
	root := t.TempDir()
	shardDir := filepath.Join(root, "shard")
	require.NoError(t, os.MkdirAll(shardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, "0000.jsonl"), []byte(`{"text":"a"}`+"\n"), 0o644))

	r := store.NewRouter()
	r.Register("", store.NewLocalBackend())
	db, err := buntdb.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	q := queue.NewBuntQueue(db)

	s := &split.Splitter{Store: r, Queue: q, QueueID: "qid", MaxShardSizeMB: 100, TempDir: filepath.Join(root, "tmp"), ChunkSize: 2}
	task := queue.NewTask(shardDir, queue.AllFiles, nil, false, "")
	didSplit, err := s.MaybeSplit(context.Background(), task)
	require.NoError(t, err)
	require.False(t, didSplit)
}

func TestMaybeSplitChunksOversizeShard(t *testing.T) {
	root := t.TempDir()
	shardDir := filepath.Join(root, "shard")
	require.NoError(t, os.MkdirAll(shardDir, 0o755))

	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString(`{"text":"` + strings.Repeat("x", 200) + `"}` + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, "0000.jsonl"), []byte(sb.String()), 0o644))

	r := store.NewRouter()
	r.Register("", store.NewLocalBackend())
	db, err := buntdb.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	q := queue.NewBuntQueue(db)

	tempDir := filepath.Join(root, "tmp")
	s := &split.Splitter{Store: r, Queue: q, QueueID: "qid", MaxShardSizeMB: 0, TempDir: tempDir, ChunkSize: 2}
	// MaxShardSizeMB=0 forces the guard to trip regardless of actual size.
	task := queue.NewTask(shardDir, queue.AllFiles, nil, false, "")
	did, err := s.MaybeSplit(context.Background(), task)
	require.NoError(t, err)
	require.True(t, did)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	done, err := q.AllFinished(context.Background(), "qid")
	require.NoError(t, err)
	require.False(t, done) // replacement temp tasks were enqueued
}

func TestMaybeSplitNeverReSplitsTempTask(t *testing.T) {
	root := t.TempDir()
	r := store.NewRouter()
	r.Register("", store.NewLocalBackend())
	db, err := buntdb.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	q := queue.NewBuntQueue(db)

	s := &split.Splitter{Store: r, Queue: q, QueueID: "qid", MaxShardSizeMB: 0, TempDir: filepath.Join(root, "tmp"), ChunkSize: 2}
	task := queue.NewTask(filepath.Join(root, "tmp"), queue.FileRange{0, 1}, []string{"chunk0.jsonl"}, true, filepath.Join(root, "shard"))
	did, err := s.MaybeSplit(context.Background(), task)
	require.NoError(t, err)
	require.False(t, did)
}
