package appdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	ResetCache()
	defer ResetCache()

	customDir := t.TempDir()
	t.Setenv(DirEnv, customDir)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if dir != customDir {
		t.Errorf("Dir() = %q, want %q", dir, customDir)
	}
}

func TestDir_DefaultPath(t *testing.T) {
	ResetCache()
	defer ResetCache()

	t.Setenv(DirEnv, "")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if !strings.Contains(strings.ToLower(dir), "helpdesk") {
		t.Errorf("Dir() = %q, expected path to contain 'helpdesk'", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	ResetCache()
	defer ResetCache()

	customDir := filepath.Join(t.TempDir(), "helpdesk-test")
	t.Setenv(DirEnv, customDir)

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(customDir, StateDirName))
	if err != nil {
		t.Fatalf("state directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("state path is not a directory")
	}
}

func TestPaths(t *testing.T) {
	ResetCache()
	defer ResetCache()

	customDir := t.TempDir()
	t.Setenv(DirEnv, customDir)

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"ConfigPath", ConfigPath, filepath.Join(customDir, ConfigFileName)},
		{"StateDir", StateDir, filepath.Join(customDir, StateDirName)},
		{"LogPath", LogPath, filepath.Join(customDir, LogsDirName, "helpdesk.log")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("%s() failed: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
