package mappers_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xufeisofly/datarig/config"
	"github.com/xufeisofly/datarig/doc"
	"github.com/xufeisofly/datarig/mappers"
)

func TestLengthFilterKeepsWithinRange(t *testing.T) {
	m, err := mappers.Build("length_filter", map[string]any{"min": 1})
	require.NoError(t, err)

	out, err := m(doc.Document{doc.ContentKey: "abc"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestLengthFilterRemovesBelowMin(t *testing.T) {
	m, err := mappers.Build("length_filter", map[string]any{"min": 100})
	require.NoError(t, err)

	out, err := m(doc.Document{doc.ContentKey: "abc"})
	require.NoError(t, err)
	require.Len(t, out, 0)
}

func TestSplitOnBlankLine(t *testing.T) {
	m, err := mappers.Build("split_on_blank_line", nil)
	require.NoError(t, err)

	out, err := m(doc.Document{doc.ContentKey: "x\n\ny"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "x", out[0].Content())
	require.Equal(t, "y", out[1].Content())
}

func TestBuildUnknownMapper(t *testing.T) {
	_, err := mappers.Build("nope", nil)
	require.Error(t, err)
}

func TestSafeConvertsPanicToError(t *testing.T) {
	boom := mappers.Safe("boom-step", func(doc.Document) ([]doc.Document, error) {
		panic("kaboom")
	})
	_, err := boom(doc.Document{})
	require.Error(t, err)
}

func TestAggregateMeanOfLengthTransform(t *testing.T) {
	docs := []doc.Document{
		{doc.ContentKey: "ab"},
		{doc.ContentKey: "abcd"},
	}
	v, err := mappers.Aggregate(doc.ContentKey, config.AggregateSpec{Type: "mean", Transform: "len"}, docs)
	require.NoError(t, err)
	require.Equal(t, 3.0, v)
}

func TestAggregateSumOfNamedField(t *testing.T) {
	docs := []doc.Document{
		{"quality_score": 1.5},
		{"quality_score": 2.5},
	}
	v, err := mappers.Aggregate("quality_score", config.AggregateSpec{Type: "sum"}, docs)
	require.NoError(t, err)
	require.Equal(t, 4.0, v)
}

func TestAggregateMissingFieldErrors(t *testing.T) {
	docs := []doc.Document{{doc.ContentKey: "ab"}}
	_, err := mappers.Aggregate("quality_score", config.AggregateSpec{Type: "sum"}, docs)
	require.Error(t, err)
}

func TestAggregateUnknownType(t *testing.T) {
	_, err := mappers.Aggregate(doc.ContentKey, config.AggregateSpec{Type: "bogus"}, nil)
	require.Error(t, err)
}
