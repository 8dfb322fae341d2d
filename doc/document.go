// Package doc defines the Document value that flows through the pipeline:
// an opaque bag of JSON-compatible fields with two reserved, structural
// keys. Marshal/unmarshal goes through jsoniter.ConfigFastest, a
// performance-tuned codec for the hot per-document path.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package doc

import (
	jsoniter "github.com/json-iterator/go"
)

const (
	// ContentKey holds the primary text payload of a document.
	ContentKey = "text"
	// FilterReasonKey is set by annotating filters that keep a document
	// but record why it would otherwise have been dropped.
	FilterReasonKey = "filter_reason"
)

var js = jsoniter.ConfigFastest

// Document is a JSON object keyed by opaque string fields, plus the two
// reserved keys above. The core never interprets any other key.
type Document map[string]any

// Content returns the document's primary text payload, or "" if absent or
// not a string.
func (d Document) Content() string {
	v, ok := d[ContentKey]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetFilterReason records why an annotating filter would have dropped this
// document, without removing it from the stream.
func (d Document) SetFilterReason(reason string) {
	if _, ok := d[FilterReasonKey]; !ok {
		d[FilterReasonKey] = reason
	}
}

// Clone returns a shallow copy suitable for mappers that must not mutate
// their input in place.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func Unmarshal(line []byte) (Document, error) {
	var d Document
	if err := js.Unmarshal(line, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func Marshal(d Document) ([]byte, error) {
	return js.Marshal(d)
}
