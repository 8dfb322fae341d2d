package store

import (
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/colinmarc/hdfs/v2"
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
)

// HDFSBackend serves "hdfs://path" URIs via colinmarc/hdfs, a pure-Go
// HDFS client wired alongside the other backends that make Store
// multi-cloud.
type HDFSBackend struct {
	client *hdfs.Client
}

func NewHDFSBackend(namenode string) (*HDFSBackend, error) {
	client, err := hdfs.New(namenode)
	if err != nil {
		return nil, cos.NewErrConfig("hdfs client: %v", err)
	}
	return &HDFSBackend{client: client}, nil
}

func (b *HDFSBackend) exists(_ context.Context, p string) (bool, error) {
	_, err := b.client.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, cos.NewErrIO("stat", p, err)
}

func (b *HDFSBackend) delete(_ context.Context, p string) error {
	if err := b.client.Remove(p); err != nil {
		return cos.NewErrIO("remove", p, err)
	}
	return nil
}

func (b *HDFSBackend) size(_ context.Context, p string) (int64, error) {
	fi, err := b.client.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, cos.NewErrNotFound("file %s", p)
		}
		return 0, cos.NewErrIO("stat", p, err)
	}
	return fi.Size(), nil
}

func (b *HDFSBackend) list(_ context.Context, dir string) ([]string, error) {
	entries, err := b.client.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("directory %s", dir)
		}
		return nil, cos.NewErrIO("readdir", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, fi := range entries {
		name := fi.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := path.Join(dir, name)
		if fi.IsDir() {
			full += "/"
		}
		out = append(out, full)
	}
	return out, nil
}

func (b *HDFSBackend) readAll(_ context.Context, p string) ([]byte, error) {
	f, err := b.client.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("file %s", p)
		}
		return nil, cos.NewErrIO("open", p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, cos.NewErrIO("read", p, err)
	}
	return data, nil
}

func (b *HDFSBackend) read(_ context.Context, p string) (DocIter, error) {
	f, err := b.client.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("file %s", p)
		}
		return nil, cos.NewErrIO("open", p, err)
	}
	rc, err := decodeReader(p, f)
	if err != nil {
		f.Close()
		return nil, cos.NewErrCodec(p, 0, err)
	}
	return newLineIter(p, rc), nil
}

// write commits via a temp-file-then-rename within the same directory, the
// HDFS analogue of the local backend's crash-safe overwrite.
func (b *HDFSBackend) write(_ context.Context, docs []doc.Document, p string, mode WriteMode) error {
	if err := b.client.MkdirAll(path.Dir(p), 0o755); err != nil {
		return cos.NewErrIO("mkdir", path.Dir(p), err)
	}
	payload, err := encodeToBytes(p, docs)
	if err != nil {
		return cos.NewErrIO("encode", p, err)
	}
	if mode == WriteAppend {
		f, err := b.client.Append(p)
		if err != nil {
			w, cerr := b.client.Create(p)
			if cerr != nil {
				return cos.NewErrIO("create", p, cerr)
			}
			defer w.Close()
			if _, err := w.Write(payload); err != nil {
				return cos.NewErrIO("write", p, err)
			}
			return nil
		}
		defer f.Close()
		if _, err := f.Write(payload); err != nil {
			return cos.NewErrIO("append", p, err)
		}
		return nil
	}
	tmp := p + ".tmp"
	w, err := b.client.Create(tmp)
	if err != nil {
		return cos.NewErrIO("create", tmp, err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return cos.NewErrIO("write", tmp, err)
	}
	if err := w.Close(); err != nil {
		return cos.NewErrIO("close", tmp, err)
	}
	_ = b.client.Remove(p)
	if err := b.client.Rename(tmp, p); err != nil {
		return cos.NewErrIO("rename", p, err)
	}
	return nil
}

func (b *HDFSBackend) makeDirsIfMissing(_ context.Context, p string) error {
	if err := b.client.MkdirAll(p, 0o755); err != nil {
		return cos.NewErrIO("mkdir", p, err)
	}
	return nil
}
