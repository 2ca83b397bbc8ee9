package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testLoader() *Loader {
	return &Loader{Environ: func() []string { return []string{"BOT_NAME=cutlet", "EMPTY="} }}
}

func TestLoad_NativeSyntax(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	dir := t.TempDir()
	path := writeConfig(t, dir, "main.hcl", `
runtime {
  workers = 4
}

entity "heartbeat" "A" {
  message  = upper(env.BOT_NAME)
  interval = "1s"

  options {
    verbose = true
  }
}

entity "echo" "B" {
  depends_on = ["A"]
  name       = "ping"
}
`)

	doc, err := testLoader().Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, doc.Sources)

	rt, ok := doc.Section("runtime")
	require.True(t, ok)
	workers, ok := rt.Attr("workers")
	require.True(t, ok)
	assert.True(t, workers.RawEquals(cty.NumberIntVal(4)))

	a, ok := doc.Section("entity.A")
	require.True(t, ok)
	assert.Equal(t, []string{"heartbeat", "A"}, a.Labels)
	require.Len(t, a.Attributes, 2)
	assert.Equal(t, "message", a.Attributes[0].Name, "declaration order is preserved")
	assert.Equal(t, cty.StringVal("CUTLET"), a.Attributes[0].Value)
	assert.Equal(t, "interval", a.Attributes[1].Name)

	opts, ok := doc.Section("entity.A.options")
	require.True(t, ok)
	verbose, _ := opts.Attr("verbose")
	assert.Equal(t, cty.True, verbose)

	entities := doc.SectionsOfKind("entity")
	require.Len(t, entities, 2)
	assert.Equal(t, "entity.B", entities[1].Path)

	_, ok = doc.Section("entity.C")
	assert.False(t, ok)
}

func TestLoad_JSONSyntax(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	dir := t.TempDir()
	writeConfig(t, dir, "bots.hcl.json", `{
  "entity": {
    "heartbeat": {
      "A": {"interval": "2s", "message": "${lower(env.BOT_NAME)}"}
    }
  }
}`)

	doc, err := testLoader().Load(ctx, dir)
	require.NoError(t, err)

	a, ok := doc.Section("entity.A")
	require.True(t, ok)
	msg, ok := a.Attr("message")
	require.True(t, ok)
	assert.Equal(t, cty.StringVal("cutlet"), msg)
	assert.Equal(t, "interval", a.Attributes[0].Name)
}

func TestLoad_Deterministic(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	dir := t.TempDir()
	path := writeConfig(t, dir, "main.hcl", `
entity "heartbeat" "A" {
  interval = "1s"
  tags     = ["a", "b"]
}
`)

	first, err := testLoader().Load(ctx, path)
	require.NoError(t, err)
	second, err := testLoader().Load(ctx, path)
	require.NoError(t, err)

	a1, _ := first.Section("entity.A")
	a2, _ := second.Section("entity.A")
	assert.True(t, a1.Equal(a2))
}

func TestLoad_Errors(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())

	testCases := []struct {
		name     string
		content  string
		contains string
	}{
		{
			name:     "syntax error",
			content:  "entity \"heartbeat\" \"A\" {\n  interval = \n",
			contains: "failed to parse",
		},
		{
			name:     "unknown root block",
			content:  "bot \"A\" {}\n",
			contains: "failed to decode",
		},
		{
			name:     "missing entity label",
			content:  "entity \"heartbeat\" {}\n",
			contains: "failed to decode",
		},
		{
			name:     "unknown variable",
			content:  "entity \"heartbeat\" \"A\" {\n  interval = env.NOPE\n}\n",
			contains: "Unsupported attribute",
		},
		{
			name:     "duplicate runtime",
			content:  "runtime {}\nruntime {}\n",
			contains: "only one \"runtime\" block",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "main.hcl", tc.content)
			_, err := testLoader().Load(ctx, path)
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrConfigLoad)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}

	t.Run("missing path", func(t *testing.T) {
		_, err := testLoader().Load(ctx, filepath.Join(t.TempDir(), "nope.hcl"))
		assert.ErrorIs(t, err, config.ErrConfigLoad)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := testLoader().Load(ctx, t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrConfigLoad)
		assert.ErrorIs(t, err, errNoFiles)
	})

	t.Run("duplicate runtime across files", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "a.hcl", "runtime {}\n")
		writeConfig(t, dir, "b.hcl", "runtime {}\n")
		_, err := testLoader().Load(ctx, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate \"runtime\" block")
	})
}
