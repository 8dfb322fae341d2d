package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xufeisofly/datarig/config"
)

const sampleYAML = `
- source: docs
  steps:
    - func: length_filter
      min_length: 10
    - commit
    - func: split_on_blank_line
      _aggregate:
        chunks:
          type: mean
          transform: len
`

func TestParseSteps(t *testing.T) {
	sources, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, sources, 1)

	steps, err := config.ForSource(sources, "docs")
	require.NoError(t, err)
	require.Len(t, steps, 3)

	require.Equal(t, "length_filter", steps[0].Func)
	require.Equal(t, 10, steps[0].Args["min_length"])
	require.False(t, steps[0].IsCommit)

	require.True(t, steps[1].IsCommit)

	require.Equal(t, "split_on_blank_line", steps[2].Func)
	require.NotNil(t, steps[2].Aggregate)
	agg := steps[2].Aggregate["chunks"]
	require.Equal(t, "mean", agg.Type)
	require.Equal(t, "len", agg.Transform)
}

func TestParseRejectsBadCommitLiteral(t *testing.T) {
	_, err := config.Parse([]byte(`
- source: docs
  steps:
    - commitnow
`))
	require.Error(t, err)
}

func TestParseRejectsMissingFunc(t *testing.T) {
	_, err := config.Parse([]byte(`
- source: docs
  steps:
    - min_length: 10
`))
	require.Error(t, err)
}

func TestForSourceMissing(t *testing.T) {
	sources, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	_, err = config.ForSource(sources, "nope")
	require.Error(t, err)
}
