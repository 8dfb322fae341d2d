package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/cmn/rlog"
)

var log = rlog.Of("queue")

// seqBase centers the tail/head counters so PutToHead (which decrements)
// and Put (which increments) never collide or go negative across a
// realistic queue lifetime.
const seqBase = int64(1) << 40

// BuntQueue is the KV-backed Queue variant, backed by the same buntdb
// handle the KV lock uses. Keys are namespaced per queueID so one handle
// can back many independent queues (one per source/config pairing).
type BuntQueue struct {
	db *buntdb.DB
}

func NewBuntQueue(db *buntdb.DB) *BuntQueue {
	return &BuntQueue{db: db}
}

func pendingKey(queueID string, seq int64) string {
	return fmt.Sprintf("q:%s:pending:%020d", queueID, seq)
}
func pendingPrefix(queueID string) string { return "q:" + queueID + ":pending:" }

func inflightKey(queueID, taskID string) string { return "q:" + queueID + ":inflight:" + taskID }
func inflightPrefix(queueID string) string      { return "q:" + queueID + ":inflight:" }

func finishedKey(queueID, taskID string) string { return "q:" + queueID + ":finished:" + taskID }

func deadKey(queueID, taskID string) string { return "q:" + queueID + ":dead:" + taskID }
func deadPrefix(queueID string) string      { return "q:" + queueID + ":dead:" }

func tailSeqKey(queueID string) string { return "q:" + queueID + ":seq:tail" }
func headSeqKey(queueID string) string { return "q:" + queueID + ":seq:head" }

func nextSeq(tx *buntdb.Tx, key string, start int64, delta int64) (int64, error) {
	val, err := tx.Get(key)
	var cur int64
	if err == nil {
		fmt.Sscanf(val, "%d", &cur)
	} else if errors.Is(err, buntdb.ErrNotFound) {
		cur = start
	} else {
		return 0, err
	}
	next := cur + delta
	if _, _, err := tx.Set(key, fmt.Sprintf("%d", next), nil); err != nil {
		return 0, err
	}
	return next, nil
}

func (q *BuntQueue) Put(_ context.Context, queueID string, task *Task) error {
	return q.db.Update(func(tx *buntdb.Tx) error {
		if exists, err := taskIDExistsAnywhere(tx, queueID, task.ID); err != nil {
			return err
		} else if exists {
			return nil // idempotent by id
		}
		seq, err := nextSeq(tx, tailSeqKey(queueID), seqBase, 1)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(pendingKey(queueID, seq), string(raw), nil)
		return err
	})
}

func (q *BuntQueue) PutToHead(_ context.Context, queueID string, task *Task) error {
	return q.db.Update(func(tx *buntdb.Tx) error {
		if exists, err := taskIDExistsAnywhere(tx, queueID, task.ID); err != nil {
			return err
		} else if exists {
			return nil
		}
		seq, err := nextSeq(tx, headSeqKey(queueID), seqBase, -1)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(pendingKey(queueID, seq), string(raw), nil)
		return err
	})
}

// taskIDExistsAnywhere checks pending/in-flight/finished/dead for an
// existing task with this ID, making Put/PutToHead idempotent by ID.
func taskIDExistsAnywhere(tx *buntdb.Tx, queueID, taskID string) (bool, error) {
	for _, key := range []string{
		inflightKey(queueID, taskID),
		finishedKey(queueID, taskID),
		deadKey(queueID, taskID),
	} {
		if _, err := tx.Get(key); err == nil {
			return true, nil
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return false, err
		}
	}
	found := false
	err := tx.AscendKeys(pendingPrefix(queueID)+"*", func(_, v string) bool {
		var t Task
		if json.Unmarshal([]byte(v), &t) == nil && t.ID == taskID {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func (q *BuntQueue) Acquire(ctx context.Context, queueID, workerKey string, blockTimeout time.Duration) (*Task, bool, error) {
	deadline := time.Now().Add(blockTimeout)
	for {
		task, err := q.tryAcquireOnce(queueID, workerKey)
		if err != nil {
			return nil, false, err
		}
		if task != nil {
			return task, false, nil
		}
		done, err := q.AllFinished(ctx, queueID)
		if err != nil {
			return nil, false, err
		}
		if done {
			return nil, true, nil
		}
		if blockTimeout <= 0 || time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (q *BuntQueue) tryAcquireOnce(queueID, workerKey string) (*Task, error) {
	var acquired *Task
	err := q.db.Update(func(tx *buntdb.Tx) error {
		var foundKey, foundVal string
		_ = tx.AscendKeys(pendingPrefix(queueID)+"*", func(k, v string) bool {
			foundKey, foundVal = k, v
			return false // stop at the first (oldest) match
		})
		if foundKey == "" {
			return nil
		}
		var t Task
		if err := json.Unmarshal([]byte(foundVal), &t); err != nil {
			return err
		}
		now := time.Now()
		t.Worker = &Worker{Key: workerKey, Status: StatusProcessing, ProcessTime: now}
		raw, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		if _, err := tx.Delete(foundKey); err != nil {
			return err
		}
		if _, _, err := tx.Set(inflightKey(queueID, t.ID), string(raw), nil); err != nil {
			return err
		}
		if _, _, err := tx.Set(LeaseKey(queueID, t.ID), workerKey, &buntdb.SetOptions{Expires: true, TTL: DefaultLeaseTTL}); err != nil {
			return err
		}
		acquired = &t
		return nil
	})
	if err != nil {
		return nil, cos.NewErrIO("queue-acquire", queueID, err)
	}
	return acquired, nil
}

func (q *BuntQueue) Complete(_ context.Context, queueID string, task *Task) error {
	return q.db.Update(func(tx *buntdb.Tx) error {
		ik := inflightKey(queueID, task.ID)
		val, err := tx.Get(ik)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil // already finished: idempotent
		}
		if err != nil {
			return err
		}
		var t Task
		if err := json.Unmarshal([]byte(val), &t); err != nil {
			return err
		}
		now := time.Now()
		if t.Worker == nil {
			t.Worker = &Worker{}
		}
		t.Worker.Status = StatusFinished
		t.Worker.FinishTime = &now
		raw, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		if _, err := tx.Delete(ik); err != nil {
			return err
		}
		if _, _, err := tx.Set(finishedKey(queueID, task.ID), string(raw), nil); err != nil {
			return err
		}
		_, _ = tx.Delete(LeaseKey(queueID, task.ID))
		return nil
	})
}

func (q *BuntQueue) Requeue(_ context.Context, queueID string, task *Task, maxAttempts int) error {
	return q.db.Update(func(tx *buntdb.Tx) error {
		ik := inflightKey(queueID, task.ID)
		val, err := tx.Get(ik)
		if errors.Is(err, buntdb.ErrNotFound) {
			return cos.NewErrQueueContention("requeue")
		}
		if err != nil {
			return err
		}
		var t Task
		if err := json.Unmarshal([]byte(val), &t); err != nil {
			return err
		}
		if _, err := tx.Delete(ik); err != nil {
			return err
		}
		_, _ = tx.Delete(LeaseKey(queueID, task.ID))

		t.Attempts++
		t.Worker = nil

		if maxAttempts > 0 && t.Attempts >= maxAttempts {
			now := time.Now()
			t.Worker = &Worker{Status: StatusFailed, FailTime: &now}
			raw, err := json.Marshal(&t)
			if err != nil {
				return err
			}
			_, _, err = tx.Set(deadKey(queueID, t.ID), string(raw), nil)
			return err
		}

		seq, err := nextSeq(tx, tailSeqKey(queueID), seqBase, 1)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(pendingKey(queueID, seq), string(raw), nil)
		return err
	})
}

func (q *BuntQueue) RequeueExpired(_ context.Context, queueID string) (int, error) {
	var stale []Task
	err := q.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(inflightPrefix(queueID)+"*", func(_, v string) bool {
			var t Task
			if json.Unmarshal([]byte(v), &t) != nil {
				return true
			}
			if _, err := tx.Get(LeaseKey(queueID, t.ID)); errors.Is(err, buntdb.ErrNotFound) {
				stale = append(stale, t)
			}
			return true
		})
	})
	if err != nil {
		return 0, cos.NewErrIO("queue-sweep", queueID, err)
	}

	reclaimed := 0
	for i := range stale {
		t := &stale[i]
		err := q.db.Update(func(tx *buntdb.Tx) error {
			ik := inflightKey(queueID, t.ID)
			if _, err := tx.Get(ik); errors.Is(err, buntdb.ErrNotFound) {
				return nil // already reclaimed or completed by another sweep
			}
			if _, err := tx.Delete(ik); err != nil {
				return err
			}
			t.Worker = nil
			seq, err := nextSeq(tx, tailSeqKey(queueID), seqBase, 1)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			_, _, err = tx.Set(pendingKey(queueID, seq), string(raw), nil)
			return err
		})
		if err != nil {
			return reclaimed, cos.NewErrIO("queue-sweep", queueID, err)
		}
		reclaimed++
		log.Info().Str("queue", queueID).Str("task", t.ID).Msg("reclaimed expired lease")
	}
	return reclaimed, nil
}

func (q *BuntQueue) AllFinished(_ context.Context, queueID string) (bool, error) {
	empty := true
	err := q.db.View(func(tx *buntdb.Tx) error {
		for _, prefix := range []string{pendingPrefix(queueID), inflightPrefix(queueID)} {
			stop := false
			if aerr := tx.AscendKeys(prefix+"*", func(_, _ string) bool {
				stop = true
				return false
			}); aerr != nil {
				return aerr
			}
			if stop {
				empty = false
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, cos.NewErrIO("queue-allfinished", queueID, err)
	}
	return empty, nil
}

func (q *BuntQueue) Dead(_ context.Context, queueID string) ([]*Task, error) {
	var out []*Task
	err := q.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(deadPrefix(queueID)+"*", func(_, v string) bool {
			var t Task
			if json.Unmarshal([]byte(v), &t) == nil {
				out = append(out, &t)
			}
			return true
		})
	})
	if err != nil {
		return nil, cos.NewErrIO("queue-dead", queueID, err)
	}
	return out, nil
}

func (q *BuntQueue) Clear(_ context.Context, queueID string) error {
	return q.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		for _, prefix := range []string{
			pendingPrefix(queueID), inflightPrefix(queueID),
			"q:" + queueID + ":finished:", deadPrefix(queueID),
			"q:" + queueID + ":lease:",
		} {
			if err := tx.AscendKeys(prefix+"*", func(k, _ string) bool {
				keys = append(keys, k)
				return true
			}); err != nil {
				return err
			}
		}
		for _, k := range append(keys, tailSeqKey(queueID), headSeqKey(queueID)) {
			_, _ = tx.Delete(k)
		}
		return nil
	})
}
