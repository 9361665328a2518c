package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Len(t, c.FixTypes, 5)
	assert.Equal(t, "Plumbing", c.FixTypes[0].Name)
	assert.Equal(t, "Flooring", c.FixTypes[4].Name)

	steps, ok := c.Steps("plumbing", "replace sink")
	require.True(t, ok)
	assert.Equal(t, "Shut off water", steps[0])
	assert.Equal(t, "Test for leaks", steps[len(steps)-1])

	steps[0] = "mutated"
	again, _ := c.Steps("Plumbing", "Replace Sink")
	assert.Equal(t, "Shut off water", again[0])

	_, ok = c.Steps("Plumbing", "Build Deck")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("fixTypes: [{name: A, projectTypes: [{name: X}]}]"))
	assert.ErrorContains(t, err, "no steps")

	_, err = Parse([]byte("fixTypes: [{name: A}, {name: a}]"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("fixTypes: ["))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fixTypes:
  - name: Painting
    projectTypes:
      - name: Interior
        steps: [Tape, Prime, Paint]
`), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	steps, ok := c.Steps("Painting", "Interior")
	require.True(t, ok)
	assert.Equal(t, []string{"Tape", "Prime", "Paint"}, steps)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
