package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRejectsCustomModelPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	customModel := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(customModel, []byte("weights"), 0o644))

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"setup", "--model", customModel, "--model-dir", dir})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "setup expects a named model")
}

func TestSetupRejectsUnknownModelName(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"setup", "--model", "does-not-exist", "--model-dir", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown model")
}
