package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTest_GoldenFilesMatch(t *testing.T) {
	out, err := execute(t, "test", scenariosDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "PASS    undo_redo_views")
	assert.Contains(t, out, "PASS    remote_modification")
	assert.Contains(t, out, "PASS    alter_and_release")
	assert.Contains(t, out, "3 passed, 0 failed")
}

func TestTest_Filter(t *testing.T) {
	out, err := execute(t, "test", "--format", "json", "--filter", "undo_*.yaml", scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Data TestSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, "undo_redo_views", resp.Data.Results[0].Name)
	assert.Equal(t, 1, resp.Data.Passed)
}

func TestTest_UpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	require.NoError(t, os.Mkdir(scenarios, 0o755))
	writeScenario(t, scenarios, "passing.yaml", passingScenario)

	out, err := execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "missing golden file")

	out, err = execute(t, "test", "--update", scenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "UPDATED passing")
	assert.FileExists(t, filepath.Join(root, "golden", "passing.golden"))

	out, err = execute(t, "test", scenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 passed, 0 failed")
}

func TestTest_DetectsDrift(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	golden := filepath.Join(root, "expected")
	require.NoError(t, os.Mkdir(scenarios, 0o755))
	require.NoError(t, os.Mkdir(golden, 0o755))
	writeScenario(t, scenarios, "passing.yaml", passingScenario)
	require.NoError(t, os.WriteFile(filepath.Join(golden, "passing.golden"), []byte("{}\n"), 0o644))

	out, err := execute(t, "test", "--golden", golden, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL    passing")
	assert.Contains(t, out, "trace differs from")
}

func TestTest_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		out, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E001]")
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := execute(t, "test", t.TempDir())
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "no scenarios")
	})

	t.Run("bad filter", func(t *testing.T) {
		_, err := execute(t, "test", "--filter", "[", scenariosDir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid filter")
	})
}
