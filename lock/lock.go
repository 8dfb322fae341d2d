// Package lock provides a distributed mutual-exclusion primitive: a named,
// coarse-grained critical section with bounded wait and lease expiry. The
// run command holds a BlobLock when given a task file; the task queue and
// the allocator do not take a lock (queue mutations rely on buntdb's
// serialized transactions, and allocation runs unguarded).
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package lock

import (
	"context"
	"time"

	"github.com/xufeisofly/datarig/cmn/rlog"
)

var log = rlog.Of("lock")

// pollInterval is the tick AcquireOrBlock polls at; this fixes
// this at roughly 2 seconds for both lock variants.
const pollInterval = 2 * time.Second

// Forever requests an unbounded AcquireOrBlock wait.
const Forever = -1 * time.Second

// Lock is the contract both backings satisfy.
type Lock interface {
	// Acquire is non-blocking; true means this call obtained exclusive
	// ownership.
	Acquire(ctx context.Context) (bool, error)
	// AcquireOrBlock polls at ~2s intervals until success or timeout.
	// timeout == Forever waits indefinitely.
	AcquireOrBlock(ctx context.Context, timeout time.Duration) (bool, error)
	// Release succeeds only if the caller's fingerprint matches the
	// current holder; releasing when not holding is a no-op returning
	// false.
	Release(ctx context.Context) (bool, error)
}

// acquireOrBlock is the shared polling loop both KV and Blob locks use,
// so both variants poll at the same cadence rather than each hand-rolling
// their own backoff.
func acquireOrBlock(ctx context.Context, timeout time.Duration, tryAcquire func(context.Context) (bool, error)) (bool, error) {
	ok, err := tryAcquire(ctx)
	if err != nil || ok {
		return ok, err
	}

	var deadline time.Time
	bounded := timeout != Forever
	if bounded {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			ok, err := tryAcquire(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
			if bounded && time.Now().After(deadline) {
				return false, nil
			}
		}
	}
}
