package params_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/params"
)

func TestParse(t *testing.T) {
	out, err := params.Parse([]byte(`
suite: main
force: true
retries: 3
mirrors:
  - primary
  - fallback
`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"suite":   "main",
		"force":   true,
		"retries": 3,
		"mirrors": []any{"primary", "fallback"},
	}, out)
}

func TestParseEmptyDocument(t *testing.T) {
	out, err := params.Parse(nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestParseRejectsNonMapping(t *testing.T) {
	_, err := params.Parse([]byte("[one, two, three]"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("suite: stable\n"), 0o644))

	out, err := params.Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"suite": "stable"}, out)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := params.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	a := map[string]any{"suite": "main", "force": false}
	b := map[string]any{"force": true, "retries": 3}

	merged := params.Merge(a, b)
	assert.Equal(t, map[string]any{"suite": "main", "force": true, "retries": 3}, merged)

	// Inputs are untouched.
	assert.Equal(t, false, a["force"])
	assert.Nil(t, params.Merge(nil, nil))
}
