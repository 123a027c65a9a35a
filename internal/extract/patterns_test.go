package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPatterns_Compile(t *testing.T) {
	p := DefaultPatterns()
	assert.Len(t, p.anchorRes, len(p.Anchors))
	assert.Len(t, p.scriptRes, len(p.ScriptAssigns))
}

func TestLoadPatterns_PrependsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	yaml := `
anchors:
  - 'custom-anchor-(\d+)'
script_assigns:
  - 'customPrice\s*=\s*(\d+)'
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	p, err := LoadPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, `custom-anchor-(\d+)`, p.Anchors[0])
	assert.Equal(t, `customPrice\s*=\s*(\d+)`, p.ScriptAssigns[0])
	assert.Len(t, p.Anchors, len(defaultAnchors)+1)
	assert.Len(t, p.ScriptAssigns, len(defaultScriptAssigns)+1)
}

func TestLoadPatterns_BadRegex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anchors:\n  - '(unclosed'\n"), 0644))

	_, err := LoadPatterns(path)
	require.Error(t, err)
}

func TestLoadPatterns_MissingFile(t *testing.T) {
	_, err := LoadPatterns(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
