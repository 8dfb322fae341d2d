package store

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
)

// AzureBackend serves "az://container/blob" URIs via azblob. It also
// backs the blob-variant distributed lock, since Azure
// blob leases/conditional headers give the same "forbid-overwrite" PUT
// semantics the conditional-write lock variant needs.
type AzureBackend struct {
	client *azblob.Client
}

func NewAzureBackend(accountName, accountKey string) (*AzureBackend, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, cos.NewErrConfig("azure credential: %v", err)
	}
	accountURL := "https://" + accountName + ".blob.core.windows.net/"
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, cos.NewErrConfig("azure client: %v", err)
	}
	return &AzureBackend{client: client}, nil
}

func splitContainerBlob(path string) (container, blob string) {
	path = strings.TrimPrefix(path, "/")
	i := strings.Index(path, "/")
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

func (b *AzureBackend) exists(ctx context.Context, path string) (bool, error) {
	container, blob := splitContainerBlob(path)
	_, err := b.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, cos.NewErrIO("properties", path, err)
}

func (b *AzureBackend) delete(ctx context.Context, path string) error {
	container, blob := splitContainerBlob(path)
	_, err := b.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).Delete(ctx, nil)
	if err != nil {
		return cos.NewErrIO("delete", path, err)
	}
	return nil
}

func (b *AzureBackend) size(ctx context.Context, path string) (int64, error) {
	container, blob := splitContainerBlob(path)
	props, err := b.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return 0, cos.NewErrNotFound("blob %s", path)
		}
		return 0, cos.NewErrIO("properties", path, err)
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (b *AzureBackend) list(ctx context.Context, dir string) ([]string, error) {
	container, prefix := splitContainerBlob(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	delim := "/"
	var out []string
	pager := b.client.ServiceClient().NewContainerClient(container).NewListBlobsHierarchyPager(delim, &azblob.ListBlobsHierarchyOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, cos.NewErrIO("list", dir, err)
		}
		for _, p := range page.Segment.BlobPrefixes {
			out = append(out, container+"/"+*p.Name)
		}
		for _, item := range page.Segment.BlobItems {
			name := strings.TrimPrefix(*item.Name, prefix)
			if name == "" || strings.HasPrefix(name, ".") {
				continue
			}
			out = append(out, container+"/"+*item.Name)
		}
	}
	return out, nil
}

func (b *AzureBackend) read(ctx context.Context, path string) (DocIter, error) {
	container, blob := splitContainerBlob(path)
	resp, err := b.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, cos.NewErrNotFound("blob %s", path)
		}
		return nil, cos.NewErrIO("download", path, err)
	}
	rc, err := decodeReader(path, resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, cos.NewErrCodec(path, 0, err)
	}
	return newLineIter(path, rc), nil
}

func (b *AzureBackend) write(ctx context.Context, docs []doc.Document, path string, mode WriteMode) error {
	container, blob := splitContainerBlob(path)
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
	_, err = b.client.UploadBuffer(ctx, container, blob, payload, nil)
	if err != nil {
		return cos.NewErrIO("upload", path, err)
	}
	return nil
}

func (b *AzureBackend) readAll(ctx context.Context, path string) ([]byte, error) {
	container, blob := splitContainerBlob(path)
	resp, err := b.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).DownloadStream(ctx, nil)
	if err != nil {
		return nil, cos.NewErrIO("download", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cos.NewErrIO("read", path, err)
	}
	return data, nil
}

func (*AzureBackend) makeDirsIfMissing(context.Context, string) error {
	return nil
}

// putIfAbsent implements the blob lock's conditional PUT via azblob's
// If-None-Match: "*" access condition.
func (b *AzureBackend) putIfAbsent(ctx context.Context, path string, body []byte) (bool, error) {
	container, blob := splitContainerBlob(path)
	star := "*"
	_, err := b.client.UploadBuffer(ctx, container, blob, body, &azblob.UploadBufferOptions{
		AccessConditions: &azblob.AccessConditions{
			ModifiedAccessConditions: &azblob.ModifiedAccessConditions{IfNoneMatch: (*azblob.ETag)(&star)},
		},
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
