package store

import (
	"context"
	"errors"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
	"google.golang.org/api/iterator"
)

// GCSBackend serves "gs://bucket/object" URIs via cloud.google.com/go/storage.
type GCSBackend struct {
	client *gcs.Client
}

func NewGCSBackend(ctx context.Context) (*GCSBackend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, cos.NewErrConfig("gcs client: %v", err)
	}
	return &GCSBackend{client: client}, nil
}

func (b *GCSBackend) exists(ctx context.Context, path string) (bool, error) {
	bucket, object := splitBucketKey(path)
	_, err := b.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, cos.NewErrIO("attrs", path, err)
}

func (b *GCSBackend) delete(ctx context.Context, path string) error {
	bucket, object := splitBucketKey(path)
	if err := b.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		return cos.NewErrIO("delete", path, err)
	}
	return nil
}

func (b *GCSBackend) size(ctx context.Context, path string) (int64, error) {
	bucket, object := splitBucketKey(path)
	attrs, err := b.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return 0, cos.NewErrNotFound("object %s", path)
		}
		return 0, cos.NewErrIO("attrs", path, err)
	}
	return attrs.Size, nil
}

func (b *GCSBackend) list(ctx context.Context, dir string) ([]string, error) {
	bucket, prefix := splitBucketKey(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	it := b.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: "/"})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, cos.NewErrIO("list", dir, err)
		}
		if attrs.Prefix != "" {
			out = append(out, bucket+"/"+attrs.Prefix)
			continue
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, bucket+"/"+attrs.Name)
	}
	return out, nil
}

func (b *GCSBackend) read(ctx context.Context, path string) (DocIter, error) {
	bucket, object := splitBucketKey(path)
	r, err := b.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, cos.NewErrNotFound("object %s", path)
		}
		return nil, cos.NewErrIO("get", path, err)
	}
	rc, err := decodeReader(path, r)
	if err != nil {
		r.Close()
		return nil, cos.NewErrCodec(path, 0, err)
	}
	return newLineIter(path, rc), nil
}

func (b *GCSBackend) write(ctx context.Context, docs []doc.Document, path string, mode WriteMode) error {
	bucket, object := splitBucketKey(path)
	payload, err := encodeToBytes(path, docs)
	if err != nil {
		return cos.NewErrIO("encode", path, err)
	}
	if mode == WriteAppend {
		if ok, _ := b.exists(ctx, path); ok {
			prior, err := b.readAll(ctx, path)
			if err != nil {
				return err
			}
			payload = append(prior, payload...)
		}
	}
	w := b.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return cos.NewErrIO("put", path, err)
	}
	if err := w.Close(); err != nil {
		return cos.NewErrIO("put", path, err)
	}
	return nil
}

func (b *GCSBackend) readAll(ctx context.Context, path string) ([]byte, error) {
	bucket, object := splitBucketKey(path)
	r, err := b.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, cos.NewErrIO("get", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, cos.NewErrIO("read", path, err)
	}
	return data, nil
}

func (*GCSBackend) makeDirsIfMissing(context.Context, string) error { return nil }

// putIfAbsent implements the blob lock's conditional PUT via GCS's
// DoesNotExist object-generation precondition.
func (b *GCSBackend) putIfAbsent(ctx context.Context, path string, body []byte) (bool, error) {
	bucket, object := splitBucketKey(path)
	w := b.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return false, nil
	}
	if err := w.Close(); err != nil {
		return false, nil
	}
	return true, nil
}
