package store

import (
	"os"
	"path/filepath"
)

// DefaultDataRoot returns the root directory for on-device data.
// Defaults to ~/.qamus, falls back to ./.qamus if home dir unavailable.
func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".qamus")
	}
	return filepath.Join(home, ".qamus")
}

// DefaultDBPath returns the full path to the dictionary database file.
func DefaultDBPath() string {
	return filepath.Join(DefaultDataRoot(), "dictionary.db")
}
