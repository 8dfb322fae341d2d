package store_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/xufeisofly/datarig/doc"
	"github.com/xufeisofly/datarig/store"
)

var _ = Describe("LocalBackend", func() {
	var (
		ctx context.Context
		dir string
		r   *store.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dir, err = os.MkdirTemp("", "datarig-store-")
		Expect(err).NotTo(HaveOccurred())
		r = store.NewRouter()
		r.Register("", store.NewLocalBackend())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("round-trips plain jsonl", func() {
		uri := filepath.Join(dir, "shard.jsonl")
		docs := []doc.Document{
			{"text": "a"},
			{"text": "b"},
		}
		Expect(r.WriteJSONL(ctx, docs, uri, store.WriteOverwrite)).To(Succeed())

		it, err := r.ReadJSONL(ctx, uri)
		Expect(err).NotTo(HaveOccurred())
		defer it.Close()

		var got []doc.Document
		for {
			d, ok := it.Next()
			if !ok {
				break
			}
			got = append(got, d)
		}
		Expect(it.Err()).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Content()).To(Equal("a"))
		Expect(got[1].Content()).To(Equal("b"))
	})

	It("round-trips gzip-compressed jsonl", func() {
		uri := filepath.Join(dir, "shard.jsonl.gz")
		docs := []doc.Document{{"text": "x"}}
		Expect(r.WriteJSONL(ctx, docs, uri, store.WriteOverwrite)).To(Succeed())

		sz, err := r.Size(ctx, uri)
		Expect(err).NotTo(HaveOccurred())
		Expect(sz).To(BeNumerically(">", 0))

		it, err := r.ReadJSONL(ctx, uri)
		Expect(err).NotTo(HaveOccurred())
		defer it.Close()
		d, ok := it.Next()
		Expect(ok).To(BeTrue())
		Expect(d.Content()).To(Equal("x"))
	})

	It("appends without clobbering prior content", func() {
		uri := filepath.Join(dir, "shard.jsonl")
		Expect(r.WriteJSONL(ctx, []doc.Document{{"text": "a"}}, uri, store.WriteOverwrite)).To(Succeed())
		Expect(r.WriteJSONL(ctx, []doc.Document{{"text": "b"}}, uri, store.WriteAppend)).To(Succeed())

		it, err := r.ReadJSONL(ctx, uri)
		Expect(err).NotTo(HaveOccurred())
		defer it.Close()
		var lines []string
		for {
			d, ok := it.Next()
			if !ok {
				break
			}
			lines = append(lines, d.Content())
		}
		Expect(lines).To(Equal([]string{"a", "b"}))
	})

	It("reports NotFound on delete of a missing object", func() {
		err := r.Delete(ctx, filepath.Join(dir, "missing.jsonl"))
		Expect(err).To(HaveOccurred())
	})

	It("lists direct children only, skipping dotfiles", func() {
		Expect(os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("{}"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, ".hidden"), []byte("{}"), 0o644)).To(Succeed())
		Expect(os.Mkdir(filepath.Join(dir, "sub"), 0o755)).To(Succeed())

		files, err := r.ListFiles(ctx, dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(1))

		subdirs, err := r.ListSubDirs(ctx, dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(subdirs).To(HaveLen(1))
	})
})

var _ = Describe("ShardName", func() {
	It("strips compression suffix and _processed marker", func() {
		Expect(store.ShardName("s3://bucket/foo/bar_processed.jsonl.gz")).To(Equal("bar"))
		Expect(store.ShardName("/data/shard.jsonl")).To(Equal("shard"))
	})
})
