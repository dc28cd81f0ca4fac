// Package paths computes where pandock keeps its data and configuration.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// EnvDataDir overrides the data directory.
	EnvDataDir = "PANDOCK_DATA_DIR"
	// EnvConfigDir overrides the configuration directory.
	EnvConfigDir = "PANDOCK_CONFIG_DIR"

	appName = "pandock"
	// ConfigFileName is the Lua configuration file inside the config dir.
	ConfigFileName = "pandock.lua"
)

// Layout is the resolved set of directories.
type Layout struct {
	DataDir   string
	ConfigDir string
}

// Resolve picks the data and config directories. Explicit arguments win over
// the PANDOCK_* environment, which wins over XDG and platform defaults.
func Resolve(dataDir, configDir string) (Layout, error) {
	var err error
	if dataDir == "" {
		dataDir = os.Getenv(EnvDataDir)
	}
	if dataDir == "" {
		if dataDir, err = defaultDataDir(); err != nil {
			return Layout{}, err
		}
	}
	if configDir == "" {
		configDir = os.Getenv(EnvConfigDir)
	}
	if configDir == "" {
		if configDir, err = defaultConfigDir(); err != nil {
			return Layout{}, err
		}
	}
	return Layout{DataDir: filepath.Clean(dataDir), ConfigDir: filepath.Clean(configDir)}, nil
}

// BinDir holds the managed converter binary.
func (l Layout) BinDir() string { return filepath.Join(l.DataDir, "bin") }

// TmpDir holds per-attempt staging directories.
func (l Layout) TmpDir() string { return filepath.Join(l.DataDir, "tmp") }

// TxnDir holds install journals.
func (l Layout) TxnDir() string { return filepath.Join(l.DataDir, "txn") }

// LockDir holds the install lock.
func (l Layout) LockDir() string { return filepath.Join(l.DataDir, "locks") }

// ConfigFile is the Lua configuration path.
func (l Layout) ConfigFile() string { return filepath.Join(l.ConfigDir, ConfigFileName) }

// Ensure creates the data directory tree.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.DataDir, l.BinDir(), l.TmpDir(), l.TxnDir(), l.LockDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName), nil
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

func defaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, appName), nil
}
