package harness

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	rootOnce sync.Once
	rootDir  string
	rootErr  error

	binOnce sync.Once
	binPath string
	binErr  error
)

// RepoRoot returns the directory holding go.mod.
func RepoRoot(t *testing.T) string {
	t.Helper()
	rootOnce.Do(func() { rootDir, rootErr = findModuleRoot() })
	if rootErr != nil {
		t.Fatalf("resolve repo root: %v", rootErr)
	}
	return rootDir
}

func findModuleRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("runtime.Caller failed")
	}
	for dir := filepath.Dir(file); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", file)
		}
		dir = parent
	}
}

// BuildBinary compiles cmd/planengine once per test process. The SQLite
// driver is pure Go, so the binary builds with cgo disabled.
func BuildBinary(t *testing.T) string {
	t.Helper()
	root := RepoRoot(t)
	binOnce.Do(func() {
		dir, err := os.MkdirTemp("", "planengine-bin-")
		if err != nil {
			binErr = fmt.Errorf("create temp dir: %w", err)
			return
		}
		out := filepath.Join(dir, "planengine")
		cmd := exec.Command("go", "build", "-trimpath", "-o", out, "./cmd/planengine")
		cmd.Dir = root
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		if output, err := cmd.CombinedOutput(); err != nil {
			binErr = fmt.Errorf("go build: %w\n%s", err, output)
			return
		}
		binPath = out
	})
	if binErr != nil {
		t.Fatalf("build planengine binary: %v", binErr)
	}
	return binPath
}
