package mappers

import (
	"strings"

	"github.com/xufeisofly/datarig/doc"
)

func init() {
	Register("length_filter", newLengthFilter)
	Register("split_on_blank_line", newSplitOnBlankLine)
}

// newLengthFilter builds the worked
// examples: a document passes through unchanged when len(content) is
// within [min, max]; otherwise it is dropped (classified "removed").
// max defaults to no upper bound when absent.
func newLengthFilter(args map[string]any) (Mapper, error) {
	min := intArg(args, "min", 0)
	max := intArg(args, "max", -1)

	return func(d doc.Document) ([]doc.Document, error) {
		n := len(d.Content())
		if n < min {
			return nil, nil
		}
		if max >= 0 && n > max {
			return nil, nil
		}
		return []doc.Document{d}, nil
	}, nil
}

// newSplitOnBlankLine splits one document's content on blank lines ("\n\n")
// into one document per non-empty segment.
func newSplitOnBlankLine(map[string]any) (Mapper, error) {
	return func(d doc.Document) ([]doc.Document, error) {
		parts := strings.Split(d.Content(), "\n\n")
		out := make([]doc.Document, 0, len(parts))
		for _, p := range parts {
			if p == "" {
				continue
			}
			child := d.Clone()
			child[doc.ContentKey] = p
			out = append(out, child)
		}
		return out, nil
	}, nil
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
