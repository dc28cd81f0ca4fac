// Package testutil provides utilities for testing pandock in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env is the set of isolated directories created by SetupTestEnv.
type Env struct {
	Root      string
	DataDir   string
	ConfigDir string
}

// SetupTestEnv points HOME, XDG and PANDOCK_* variables at fresh directories
// under t.TempDir so tests never read or write the user's pandock data.
// Cleanup happens with the temp dir.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Root:      tmpDir,
		DataDir:   filepath.Join(tmpDir, "data"),
		ConfigDir: filepath.Join(tmpDir, "config"),
	}

	t.Setenv("PANDOCK_DATA_DIR", env.DataDir)
	t.Setenv("PANDOCK_CONFIG_DIR", env.ConfigDir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "xdg-data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-config"))

	for _, dir := range []string{env.DataDir, env.ConfigDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return env
}
