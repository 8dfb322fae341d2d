package queue_test

import (
	"context"

	"github.com/tidwall/buntdb"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/xufeisofly/datarig/queue"
)

func newTestQueue() (*queue.BuntQueue, *buntdb.DB) {
	db, err := buntdb.Open(":memory:")
	Expect(err).NotTo(HaveOccurred())
	return queue.NewBuntQueue(db), db
}

var _ = Describe("BuntQueue", func() {
	var (
		ctx context.Context
		q   *queue.BuntQueue
		db  *buntdb.DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		q, db = newTestQueue()
	})

	AfterEach(func() { db.Close() })

	It("delivers a put task to exactly one acquirer and preserves FIFO order", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		t2 := queue.NewTask("s3://bucket/b", queue.AllFiles, nil, false, "")
		Expect(q.Put(ctx, "qid", t1)).To(Succeed())
		Expect(q.Put(ctx, "qid", t2)).To(Succeed())

		got1, done, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeFalse())
		Expect(got1.ID).To(Equal(t1.ID))

		got2, _, err := q.Acquire(ctx, "qid", "w2", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got2.ID).To(Equal(t2.ID))
	})

	It("reports done once all pending and in-flight are drained", func() {
		got, done, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
		Expect(done).To(BeTrue())
	})

	It("conserves task identity across put/acquire/complete", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		Expect(q.Put(ctx, "qid", t1)).To(Succeed())

		got, _, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).NotTo(BeNil())

		Expect(q.Complete(ctx, "qid", got)).To(Succeed())
		// idempotent re-complete
		Expect(q.Complete(ctx, "qid", got)).To(Succeed())

		done, err := q.AllFinished(ctx, "qid")
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
	})

	It("requeue moves a task back to pending and bumps its attempt count", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		Expect(q.Put(ctx, "qid", t1)).To(Succeed())

		got, _, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Requeue(ctx, "qid", got, 0)).To(Succeed())

		got2, _, err := q.Acquire(ctx, "qid", "w2", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got2.ID).To(Equal(t1.ID))
		Expect(got2.Attempts).To(Equal(1))
	})

	It("moves a task to dead once its attempts reach maxAttempts", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		Expect(q.Put(ctx, "qid", t1)).To(Succeed())

		got, _, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Requeue(ctx, "qid", got, 1)).To(Succeed())

		dead, err := q.Dead(ctx, "qid")
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].ID).To(Equal(t1.ID))

		done, err := q.AllFinished(ctx, "qid")
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
	})

	It("PutToHead delivers ahead of normally queued tasks", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		t2 := queue.NewTask("s3://bucket/b", queue.AllFiles, nil, false, "")
		Expect(q.Put(ctx, "qid", t1)).To(Succeed())
		Expect(q.PutToHead(ctx, "qid", t2)).To(Succeed())

		got, _, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(t2.ID))
	})

	It("is idempotent when the same task id is put twice", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		dup := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		Expect(t1.ID).To(Equal(dup.ID))

		Expect(q.Put(ctx, "qid", t1)).To(Succeed())
		Expect(q.Put(ctx, "qid", dup)).To(Succeed())

		got, _, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Complete(ctx, "qid", got)).To(Succeed())

		done, err := q.AllFinished(ctx, "qid")
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue()) // only one copy was ever pending
	})

	It("requeues expired in-flight tasks via RequeueExpired", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.AllFiles, nil, false, "")
		Expect(q.Put(ctx, "qid", t1)).To(Succeed())
		got, _, err := q.Acquire(ctx, "qid", "w1", 0)
		Expect(err).NotTo(HaveOccurred())
		_ = got

		// Force the lease to look expired by deleting it directly.
		Expect(db.Update(func(tx *buntdb.Tx) error {
			_, err := tx.Delete(queue.LeaseKey("qid", t1.ID))
			return err
		})).To(Succeed())

		n, err := q.RequeueExpired(ctx, "qid")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		got2, _, err := q.Acquire(ctx, "qid", "w2", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got2.ID).To(Equal(t1.ID))
	})
})

var _ = Describe("Task.ID", func() {
	It("depends only on the identity-bearing fields", func() {
		t1 := queue.NewTask("s3://bucket/a", queue.FileRange{0, 10}, []string{"x"}, true, "s3://bucket/orig")
		t2 := queue.NewTask("s3://bucket/a", queue.FileRange{0, 10}, []string{"x"}, true, "s3://bucket/orig")
		Expect(t1.ID).To(Equal(t2.ID))

		t3 := queue.NewTask("s3://bucket/a", queue.FileRange{0, 11}, []string{"x"}, true, "s3://bucket/orig")
		Expect(t3.ID).NotTo(Equal(t1.ID))
	})
})
