package lock

import (
	"context"
	"time"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/store"
)

// blobStore is the narrow slice of store.Store the blob lock needs.
type blobStore interface {
	CreateIfAbsent(ctx context.Context, uri string, body []byte) (bool, error)
	ReadBytes(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
	Exists(ctx context.Context, uri string) (bool, error)
}

// BlobLock is the blob-store-backed lock variant: conditional PUT with
// forbid-overwrite of a known object, fingerprint written as the body;
// release deletes iff the body matches. Coarser and slower than KVLock
// (every acquire attempt is a remote round trip). This is the fallback
// for environments without a KV store, meant for
// low-churn coordination (allocator/queue-file rewrites), not per-task
// leasing.
type BlobLock struct {
	s           blobStore
	uri         string
	fingerprint string
}

func NewBlobLock(s store.Store, uri string) *BlobLock {
	return &BlobLock{s: s, uri: uri, fingerprint: Fingerprint()}
}

func (l *BlobLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.s.CreateIfAbsent(ctx, l.uri, []byte(l.fingerprint))
	if err != nil {
		return false, cos.NewErrIO("lock-acquire", l.uri, err)
	}
	return ok, nil
}

func (l *BlobLock) AcquireOrBlock(ctx context.Context, timeout time.Duration) (bool, error) {
	return acquireOrBlock(ctx, timeout, l.Acquire)
}

func (l *BlobLock) Release(ctx context.Context) (bool, error) {
	body, err := l.s.ReadBytes(ctx, l.uri)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return false, nil
		}
		return false, cos.NewErrIO("lock-release", l.uri, err)
	}
	if string(body) != l.fingerprint {
		return false, nil
	}
	if err := l.s.Delete(ctx, l.uri); err != nil {
		return false, cos.NewErrIO("lock-release", l.uri, err)
	}
	return true, nil
}
