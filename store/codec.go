package store

import (
	"bufio"
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v3"
)

// codecOf picks a transparent compression codec by file suffix. Plain
// JSONL (no recognized suffix) passes bytes through unchanged.
type codec int

const (
	codecPlain codec = iota
	codecGzip
	codecZstd
	codecLZ4
)

func codecOf(path string) codec {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return codecGzip
	case strings.HasSuffix(path, ".zst") || strings.HasSuffix(path, ".zstd"):
		return codecZstd
	case strings.HasSuffix(path, ".lz4"):
		return codecLZ4
	default:
		return codecPlain
	}
}

// decodeReader wraps r with the decompressor implied by path's suffix. The
// caller owns closing the returned ReadCloser, which also closes r's
// underlying resource where applicable.
func decodeReader(path string, r io.ReadCloser) (io.ReadCloser, error) {
	switch codecOf(path) {
	case codecGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &readCloserPair{Reader: gz, closers: []io.Closer{gz, r}}, nil
	case codecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &readCloserPair{Reader: zr.IOReadCloser(), closers: []io.Closer{zr.IOReadCloser(), r}}, nil
	case codecLZ4:
		lr := lz4.NewReader(r)
		return &readCloserPair{Reader: lr, closers: []io.Closer{r}}, nil
	default:
		return r, nil
	}
}

type readCloserPair struct {
	io.Reader
	closers []io.Closer
}

func (p *readCloserPair) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// encodeWriter wraps w with the compressor implied by path's suffix.
// Flush/Close on the returned WriteCloser finalizes the compressed frame;
// it does not close w itself, which remains the caller's responsibility.
func encodeWriter(path string, w io.Writer) (io.WriteCloser, error) {
	switch codecOf(path) {
	case codecGzip:
		return gzip.NewWriter(w), nil
	case codecZstd:
		return zstd.NewWriter(w)
	case codecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nopWriteCloser{bufio.NewWriter(w), w}, nil
	}
}

// nopWriteCloser flushes a buffered writer on Close without closing the
// underlying stream.
type nopWriteCloser struct {
	*bufio.Writer
	under io.Writer
}

func (n nopWriteCloser) Close() error { return n.Flush() }
