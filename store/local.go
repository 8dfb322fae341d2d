package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
)

// LocalBackend serves bare filesystem paths. It is also registered as the
// Router's "" (no-scheme) fallback.
type LocalBackend struct{}

func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

func (LocalBackend) exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, cos.NewErrIO("stat", path, err)
}

func (LocalBackend) delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		return cos.NewErrIO("delete", path, err)
	}
	return nil
}

func (LocalBackend) size(_ context.Context, path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, cos.NewErrNotFound("file %s", path)
		}
		return 0, cos.NewErrIO("stat", path, err)
	}
	return fi.Size(), nil
}

// list performs a non-recursive, dotfile-skipping enumeration of dir's
// direct children using godirwalk's fast ReadDirents.
func (LocalBackend) list(_ context.Context, dir string) ([]string, error) {
	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("directory %s", dir)
		}
		return nil, cos.NewErrIO("readdir", dir, err)
	}
	out := make([]string, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		if de.IsDir() {
			full += "/"
		}
		out = append(out, full)
	}
	return out, nil
}

func (b LocalBackend) read(ctx context.Context, path string) (DocIter, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("file %s", path)
		}
		return nil, cos.NewErrIO("open", path, err)
	}
	rc, err := decodeReader(path, f)
	if err != nil {
		f.Close()
		return nil, cos.NewErrCodec(path, 0, err)
	}
	return newLineIter(path, rc), nil
}

// write commits either a full-overwrite (temp-then-rename, so a crash
// mid-write never leaves a partially-committed file) or an append.
func (b LocalBackend) write(_ context.Context, docs []doc.Document, path string, mode WriteMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cos.NewErrIO("mkdir", filepath.Dir(path), err)
	}
	payload, err := encodeToBytes(path, docs)
	if err != nil {
		return cos.NewErrIO("encode", path, err)
	}
	if mode == WriteAppend {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cos.NewErrIO("open", path, err)
		}
		defer f.Close()
		if _, err := f.Write(payload); err != nil {
			return cos.NewErrIO("write", path, err)
		}
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return cos.NewErrIO("write", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cos.NewErrIO("rename", path, err)
	}
	return nil
}

func (LocalBackend) readAll(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("file %s", path)
		}
		return nil, cos.NewErrIO("read", path, err)
	}
	return data, nil
}

func (LocalBackend) makeDirsIfMissing(_ context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return cos.NewErrIO("mkdir", path, err)
	}
	return nil
}

// putIfAbsent implements the blob lock's conditional PUT via O_EXCL, the
// local-filesystem analogue of an object store's forbid-overwrite header.
func (LocalBackend) putIfAbsent(_ context.Context, path string, body []byte) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, cos.NewErrIO("mkdir", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, cos.NewErrIO("create", path, err)
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		return false, cos.NewErrIO("write", path, err)
	}
	return true, nil
}

// encodeToBytes runs docs through the codec implied by path's suffix into
// an in-memory buffer, the simplest correct approach for append-mode and
// for small-to-moderate shards; large-shard streaming is not required
// since the executor already holds the whole shard in memory.
func encodeToBytes(path string, docs []doc.Document) ([]byte, error) {
	raw, err := encodeJSONL(docs)
	if err != nil {
		return nil, err
	}
	if codecOf(path) == codecPlain {
		return raw, nil
	}
	var buf bytes.Buffer
	w, err := encodeWriter(path, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
