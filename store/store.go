// Package store provides a uniform read/write/list/delete/size capability
// over multiple URI schemes, with transparent compressed-JSONL streaming,
// generalized from "bucket+object" addressing to bare URIs.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/cmn/rlog"
	"github.com/xufeisofly/datarig/doc"
)

var log = rlog.Of("store")

// WriteMode selects append vs. full-overwrite semantics for WriteJSONL.
type WriteMode int

const (
	WriteOverwrite WriteMode = iota
	WriteAppend
)

// DocIter lazily yields documents from a shard. Next returns (nil, false)
// once the sequence is exhausted or when iteration has failed; Err reports
// the failure, if any.
type DocIter interface {
	Next() (doc.Document, bool)
	Err() error
	Close() error
}

// Store is the capability the rest of the pipeline depends on. Every
// operation fails with one of the typed error kinds in cmn/cos.
type Store interface {
	Exists(ctx context.Context, uri string) (bool, error)
	Delete(ctx context.Context, uri string) error
	Size(ctx context.Context, uri string) (int64, error)

	// List returns a non-recursive listing of dirURI's direct children,
	// files and directories alike, skipping dotfiles.
	List(ctx context.Context, dirURI string) ([]string, error)
	// ListSubDirs returns only direct subdirectories of dirURI.
	ListSubDirs(ctx context.Context, dirURI string) ([]string, error)
	// ListFiles returns only direct files of dirURI.
	ListFiles(ctx context.Context, dirURI string) ([]string, error)

	ReadJSONL(ctx context.Context, uri string) (DocIter, error)
	WriteJSONL(ctx context.Context, docs []doc.Document, uri string, mode WriteMode) error

	// ReadBytes reads an object's full raw body; used by the blob lock to
	// verify a holder's fingerprint before releasing.
	ReadBytes(ctx context.Context, uri string) ([]byte, error)

	MakeDirsIfMissing(ctx context.Context, uri string) error

	// CreateIfAbsent performs the conditional "forbid-overwrite" PUT the
	// blob-backed distributed lock needs: it succeeds (true, nil) only if
	// no object currently exists at uri.
	CreateIfAbsent(ctx context.Context, uri string, body []byte) (bool, error)
}

// backend is the narrower per-scheme capability a concrete provider
// implements; Router adapts it to Store by stripping/re-adding the scheme.
type backend interface {
	exists(ctx context.Context, path string) (bool, error)
	delete(ctx context.Context, path string) error
	size(ctx context.Context, path string) (int64, error)
	list(ctx context.Context, dir string) ([]string, error)
	read(ctx context.Context, path string) (DocIter, error)
	write(ctx context.Context, docs []doc.Document, path string, mode WriteMode) error
	readAll(ctx context.Context, path string) ([]byte, error)
	makeDirsIfMissing(ctx context.Context, path string) error
}

// conditionalBackend is implemented by backends that can do a native
// forbid-overwrite conditional write; the blob lock depends on it via
// Router.CreateIfAbsent.
type conditionalBackend interface {
	putIfAbsent(ctx context.Context, path string, body []byte) (bool, error)
}

// Router dispatches by URI scheme to a registered backend, the way
// ais/backend.Providers dispatches GET/PUT to the per-cloud implementation
// selected by the bucket's provider field.
type Router struct {
	backends map[string]backend
	local    backend // fallback for bare paths with no scheme
}

func NewRouter() *Router {
	return &Router{backends: make(map[string]backend)}
}

// Register wires a scheme (without "://") to its backend. Register "" to
// set the local-filesystem fallback used for bare paths.
func (r *Router) Register(scheme string, b backend) {
	if scheme == "" {
		r.local = b
		return
	}
	r.backends[scheme] = b
}

func splitScheme(uri string) (scheme, rest string) {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i], uri[i+3:]
	}
	return "", uri
}

func (r *Router) resolve(uri string) (backend, string, error) {
	scheme, rest := splitScheme(uri)
	if scheme == "" {
		if r.local == nil {
			return nil, "", cos.NewErrConfig("no local backend registered")
		}
		return r.local, rest, nil
	}
	b, ok := r.backends[scheme]
	if !ok {
		return nil, "", cos.NewErrConfig("no backend registered for scheme %q", scheme)
	}
	return b, rest, nil
}

func (r *Router) Exists(ctx context.Context, uri string) (bool, error) {
	b, p, err := r.resolve(uri)
	if err != nil {
		return false, err
	}
	return b.exists(ctx, p)
}

func (r *Router) Delete(ctx context.Context, uri string) error {
	b, p, err := r.resolve(uri)
	if err != nil {
		return err
	}
	ok, err := b.exists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return cos.NewErrNotFound("object %s", uri)
	}
	return b.delete(ctx, p)
}

func (r *Router) Size(ctx context.Context, uri string) (int64, error) {
	b, p, err := r.resolve(uri)
	if err != nil {
		return 0, err
	}
	return b.size(ctx, p)
}

func (r *Router) List(ctx context.Context, dirURI string) ([]string, error) {
	scheme, _, err := r.schemeOf(dirURI)
	if err != nil {
		return nil, err
	}
	b, p, err := r.resolve(dirURI)
	if err != nil {
		return nil, err
	}
	entries, err := b.list(ctx, p)
	if err != nil {
		return nil, err
	}
	return reattachScheme(scheme, entries), nil
}

func (r *Router) schemeOf(uri string) (string, string, error) {
	scheme, rest := splitScheme(uri)
	return scheme, rest, nil
}

func reattachScheme(scheme string, entries []string) []string {
	if scheme == "" {
		return entries
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%s://%s", scheme, e)
	}
	return out
}

// ListSubDirs and ListFiles classify List's output by trailing slash, the
// convention every backend here uses to mark directory entries.
func (r *Router) ListSubDirs(ctx context.Context, dirURI string) ([]string, error) {
	all, err := r.List(ctx, dirURI)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range all {
		if strings.HasSuffix(e, "/") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Router) ListFiles(ctx context.Context, dirURI string) ([]string, error) {
	all, err := r.List(ctx, dirURI)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range all {
		if !strings.HasSuffix(e, "/") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Router) ReadJSONL(ctx context.Context, uri string) (DocIter, error) {
	b, p, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.read(ctx, p)
}

func (r *Router) WriteJSONL(ctx context.Context, docs []doc.Document, uri string, mode WriteMode) error {
	b, p, err := r.resolve(uri)
	if err != nil {
		return err
	}
	return b.write(ctx, docs, p, mode)
}

func (r *Router) MakeDirsIfMissing(ctx context.Context, uri string) error {
	b, p, err := r.resolve(uri)
	if err != nil {
		return err
	}
	return b.makeDirsIfMissing(ctx, p)
}

func (r *Router) ReadBytes(ctx context.Context, uri string) ([]byte, error) {
	b, p, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.readAll(ctx, p)
}

func (r *Router) CreateIfAbsent(ctx context.Context, uri string, body []byte) (bool, error) {
	b, p, err := r.resolve(uri)
	if err != nil {
		return false, err
	}
	cb, ok := b.(conditionalBackend)
	if !ok {
		return false, cos.NewErrConfig("backend for %s does not support conditional create", uri)
	}
	return cb.putIfAbsent(ctx, p, body)
}

// ShardName derives the output-naming stem from a shard URI: its file or
// directory stem with any "_processed" suffix removed.
func ShardName(uri string) string {
	_, rest := splitScheme(uri)
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.Split(rest, "/")
	last := parts[len(parts)-1]
	for _, ext := range []string{".jsonl.gz", ".jsonl.zst", ".jsonl.lz4", ".jsonl"} {
		if strings.HasSuffix(last, ext) {
			last = strings.TrimSuffix(last, ext)
			break
		}
	}
	last = strings.TrimSuffix(last, "_processed")
	return last
}
