package lock

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/buntdb"
	"github.com/xufeisofly/datarig/cmn/cos"
)

// DefaultLeaseTTL is the KV lock's default lease.
const DefaultLeaseTTL = 60 * time.Second

// KVLock is the KV-backed lock variant: set-if-absent of key -> fingerprint
// with an expiring lease, backed by buntdb. buntdb serializes all Update
// transactions against one file/in-memory handle, which gives the
// test-and-set semantics without any extra coordination: the
// get-then-set below is atomic because it all runs inside one
// db.Update callback.
type KVLock struct {
	db          *buntdb.DB
	key         string
	ttl         time.Duration
	fingerprint string
}

// NewKVLock builds a lock keyed by name over db, sharing the same handle
// the task queue (queue.BuntQueue) uses so both coordinate through one
// embedded store.
func NewKVLock(db *buntdb.DB, name string, ttl time.Duration) *KVLock {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &KVLock{db: db, key: "lock:" + name, ttl: ttl, fingerprint: Fingerprint()}
}

func (l *KVLock) Acquire(context.Context) (bool, error) {
	var acquired bool
	err := l.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(l.key)
		if err == nil {
			return nil // held by someone else (or by us -- not reentrant)
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		_, _, err = tx.Set(l.key, l.fingerprint, &buntdb.SetOptions{Expires: true, TTL: l.ttl})
		if err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, cos.NewErrIO("lock-acquire", l.key, err)
	}
	return acquired, nil
}

func (l *KVLock) AcquireOrBlock(ctx context.Context, timeout time.Duration) (bool, error) {
	return acquireOrBlock(ctx, timeout, l.Acquire)
}

func (l *KVLock) Release(context.Context) (bool, error) {
	var released bool
	err := l.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(l.key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if val != l.fingerprint {
			return nil
		}
		if _, err := tx.Delete(l.key); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, cos.NewErrIO("lock-release", l.key, err)
	}
	return released, nil
}
