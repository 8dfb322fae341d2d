package mappers

import (
	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/config"
	"github.com/xufeisofly/datarig/doc"
)

// Aggregate reduces one document field across a step's output documents,
// per an AggregateSpec's type. key names the field to read from each
// document (the outer key of the step's _aggregate map, e.g.
// "quality_score"); spec.Transform, when set, is applied to each
// extracted value before the reduction runs -- extract then transform,
// not the other way around.
func Aggregate(key string, spec config.AggregateSpec, docs []doc.Document) (float64, error) {
	values := make([]float64, 0, len(docs))
	for _, d := range docs {
		v, ok := d[key]
		if !ok {
			return 0, cos.NewErrConfig("_aggregate: document missing field %q", key)
		}
		tv, err := applyTransform(spec.Transform, v)
		if err != nil {
			return 0, err
		}
		values = append(values, tv)
	}
	switch spec.Type {
	case "sum":
		return sum(values), nil
	case "mean":
		if len(values) == 0 {
			return 0, nil
		}
		return sum(values) / float64(len(values)), nil
	case "histogram":
		return float64(len(values)), nil // number of values; no binning is done
	default:
		return 0, cos.NewErrConfig("unknown aggregator type %q", spec.Type)
	}
}

// applyTransform converts an extracted field value to float64, optionally
// running it through a named transform first. An empty transform name
// treats the value itself as numeric.
func applyTransform(transform string, v any) (float64, error) {
	switch transform {
	case "":
		return toFloat(v), nil
	case "len":
		return float64(lengthOf(v)), nil
	default:
		return 0, cos.NewErrConfig("unknown aggregate transform %q", transform)
	}
}

func lengthOf(v any) int {
	switch x := v.(type) {
	case string:
		return len(x)
	case []any:
		return len(x)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
