package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
)

// S3Backend serves "s3://bucket/key" URIs via aws-sdk-go-v2.
type S3Backend struct {
	client *s3.Client
}

func NewS3Backend(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, cos.NewErrConfig("load aws config: %v", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg)}, nil
}

func splitBucketKey(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, "/")
	i := strings.Index(path, "/")
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

func (b *S3Backend) exists(ctx context.Context, path string) (bool, error) {
	bucket, key := splitBucketKey(path)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, cos.NewErrIO("head", path, err)
}

func (b *S3Backend) delete(ctx context.Context, path string) error {
	bucket, key := splitBucketKey(path)
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return cos.NewErrIO("delete", path, err)
	}
	return nil
}

func (b *S3Backend) size(ctx context.Context, path string) (int64, error) {
	bucket, key := splitBucketKey(path)
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, cos.NewErrNotFound("object %s", path)
		}
		return 0, cos.NewErrIO("head", path, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// list enumerates direct children of a prefix using Delimiter="/", the
// paginated "directory-like" listing S3 offers over its flat key space.
func (b *S3Backend) list(ctx context.Context, dir string) ([]string, error) {
	bucket, prefix := splitBucketKey(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	delim := "/"
	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    &bucket,
		Prefix:    &prefix,
		Delimiter: &delim,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cos.NewErrIO("list", dir, err)
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, bucket+"/"+*cp.Prefix)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" || strings.HasPrefix(name, ".") {
				continue
			}
			out = append(out, bucket+"/"+*obj.Key)
		}
	}
	return out, nil
}

func (b *S3Backend) read(ctx context.Context, path string) (DocIter, error) {
	bucket, key := splitBucketKey(path)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, cos.NewErrNotFound("object %s", path)
		}
		return nil, cos.NewErrIO("get", path, err)
	}
	rc, err := decodeReader(path, out.Body)
	if err != nil {
		out.Body.Close()
		return nil, cos.NewErrCodec(path, 0, err)
	}
	return newLineIter(path, rc), nil
}

// write uploads via the s3manager uploader for multipart-safe, "commit or
// nothing" semantics on overwrite; append mode is implemented as
// read-modify-write since S3 objects have no native append, mirroring
// the buffered-then-upload approach append-only remotes need.
func (b *S3Backend) write(ctx context.Context, docs []doc.Document, path string, mode WriteMode) error {
	bucket, key := splitBucketKey(path)
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
	uploader := manager.NewUploader(b.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return cos.NewErrIO("put", path, err)
	}
	return nil
}

func (b *S3Backend) readAll(ctx context.Context, path string) ([]byte, error) {
	bucket, key := splitBucketKey(path)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, cos.NewErrIO("get", path, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, cos.NewErrIO("read", path, err)
	}
	return data, nil
}

func (*S3Backend) makeDirsIfMissing(context.Context, string) error {
	return nil // object stores have no directory concept
}

// putIfAbsent performs the conditional PUT the blob-backed distributed
// lock needs: succeeds only if no object currently exists at path.
func (b *S3Backend) putIfAbsent(ctx context.Context, path string, body []byte) (bool, error) {
	bucket, key := splitBucketKey(path)
	ok, err := b.exists(ctx, path)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	ifNoneMatch := "*"
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		IfNoneMatch: &ifNoneMatch,
	})
	if err != nil {
		return false, nil // lost the race or backend lacks conditional-write support
	}
	return true, nil
}
