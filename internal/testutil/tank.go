// Package testutil provides fixtures shared by tests across packages.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TankConfig creates a configuration directory containing a POSIX shell
// tank script with the given body and returns the directory path.
func TankConfig(t testing.TB, body string) string {
	t.Helper()
	dir := t.TempDir()
	WriteScript(t, filepath.Join(dir, "tank"), body)
	return dir
}

// WriteScript writes an executable "#!/bin/sh" script to path.
func WriteScript(t testing.TB, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing script %s: %v", path, err)
	}
}
