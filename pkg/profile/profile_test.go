package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskData_Profile_Load(t *testing.T) {
	t.Parallel()

	t.Run("built-in profiles", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"brewmind", "shipsticks"}, Names())
		for _, name := range Names() {
			p, err := Load(name)
			require.NoError(t, err, name)
			assert.Equal(t, name, p.Name)
			assert.NotEmpty(t, p.DisplayName)
			assert.NotEmpty(t, p.Context)
			assert.NotEmpty(t, p.Entities)
			assert.NotEmpty(t, p.CannedQuestions)
		}
	})

	t.Run("empty name is the default", func(t *testing.T) {
		t.Parallel()
		p, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultName, p.Name)
		assert.Equal(t, "Ship Sticks", p.DisplayName)
	})

	t.Run("unknown profile", func(t *testing.T) {
		t.Parallel()
		_, err := Load("acme")
		require.ErrorContains(t, err, `unknown profile "acme"`)
		require.ErrorContains(t, err, "brewmind, shipsticks")
	})
}

func TestAskData_Profile_LoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(dir, "acme.yaml")
		require.NoError(t, os.WriteFile(file, []byte(`
name: acme
dataAreas: [Widgets]
exampleQuestions: [How many widgets did we sell?]
`), 0o644))
		p, err := LoadFile(file)
		require.NoError(t, err)
		assert.Equal(t, "acme", p.DisplayName)
		assert.Equal(t, []string{"Widgets"}, p.DataAreas)
	})

	t.Run("missing data areas", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(file, []byte("name: broken\nexampleQuestions: [x]\n"), 0o644))
		_, err := LoadFile(file)
		require.ErrorContains(t, err, "dataAreas is required")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadFile(filepath.Join(dir, "nope.yaml"))
		require.ErrorContains(t, err, "failed to read profile file")
	})
}
