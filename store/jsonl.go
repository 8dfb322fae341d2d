package store

import (
	"bufio"
	"bytes"
	"io"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
)

// lineIter is a DocIter over a decompressed byte stream, decoding one JSON
// document per line and skipping malformed lines with a CodecError logged
// rather than propagated.
type lineIter struct {
	uri     string
	rc      io.ReadCloser
	sc      *bufio.Scanner
	lineNum int
	err     error
}

func newLineIter(uri string, rc io.ReadCloser) *lineIter {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &lineIter{uri: uri, rc: rc, sc: sc}
}

func (it *lineIter) Next() (doc.Document, bool) {
	for it.sc.Scan() {
		it.lineNum++
		line := bytes.TrimSpace(it.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		d, err := doc.Unmarshal(line)
		if err != nil {
			log.Warn().Err(err).Str("uri", it.uri).Int("line", it.lineNum).Msg("skipping malformed jsonl line")
			_ = cos.NewErrCodec(it.uri, it.lineNum, err)
			continue
		}
		return d, true
	}
	if err := it.sc.Err(); err != nil {
		it.err = cos.NewErrIO("read", it.uri, err)
	}
	return nil, false
}

func (it *lineIter) Err() error   { return it.err }
func (it *lineIter) Close() error { return it.rc.Close() }

// encodeJSONL serializes docs as newline-delimited JSON into buf.
func encodeJSONL(docs []doc.Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, d := range docs {
		b, err := doc.Marshal(d)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
