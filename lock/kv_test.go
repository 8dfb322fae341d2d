package lock_test

import (
	"context"
	"time"

	"github.com/tidwall/buntdb"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/xufeisofly/datarig/lock"
)

var _ = Describe("KVLock", func() {
	var (
		ctx context.Context
		db  *buntdb.DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = buntdb.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
	})

	It("grants exclusive acquire to exactly one caller", func() {
		l1 := lock.NewKVLock(db, "critical", time.Minute)
		l2 := lock.NewKVLock(db, "critical", time.Minute)

		ok1, err := l1.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok1).To(BeTrue())

		ok2, err := l2.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok2).To(BeFalse())
	})

	It("release is a no-op for a non-holder", func() {
		l1 := lock.NewKVLock(db, "critical", time.Minute)
		l2 := lock.NewKVLock(db, "critical", time.Minute)

		_, err := l1.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())

		released, err := l2.Release(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeFalse())

		released, err = l1.Release(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeTrue())
	})

	It("allows re-acquire after lease expiry", func() {
		l1 := lock.NewKVLock(db, "critical", 10*time.Millisecond)
		l2 := lock.NewKVLock(db, "critical", time.Minute)

		ok, err := l1.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		time.Sleep(50 * time.Millisecond)

		ok, err = l2.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})
