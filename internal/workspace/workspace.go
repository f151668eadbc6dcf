package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoRoot is returned when no workspace directory was given.
var ErrNoRoot = errors.New("workspace root is not set (use --workspace or PLANENGINE_WORKSPACE)")

// Workspace defines workspace-relative paths for the engine.
type Workspace struct {
	Root          string
	ConfigPath    string
	EnvPath       string
	DirectoryPath string
	PolicyPath    string
	DataDir       string
	DBPath        string
}

// Resolve opens an existing workspace directory.
func Resolve(root string) (*Workspace, error) {
	abs, err := Abs(root)
	if err != nil {
		return nil, err
	}
	switch info, err := os.Stat(abs); {
	case err != nil:
		return nil, fmt.Errorf("open workspace: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("workspace %s is a file, not a directory", abs)
	}
	return layout(abs), nil
}

// Abs turns a --workspace value into an absolute path without touching
// the filesystem. init calls it before the directory exists.
func Abs(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", ErrNoRoot
	}
	p, err := untilde(root)
	if err != nil {
		return "", err
	}
	return filepath.Abs(p)
}

// EnsureDirs creates the data directory the SQLite database lives in.
func (w *Workspace) EnsureDirs() error {
	if err := os.MkdirAll(w.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// Path anchors a path read from config.yaml at the workspace root. A blank
// path stays blank so callers can tell "unset" apart.
func (w *Workspace) Path(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p, err := untilde(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	return filepath.Clean(p), nil
}

// Scaffold writes the starter files that are missing and returns the
// paths it created. Existing files are left alone.
func (w *Workspace) Scaffold() ([]string, error) {
	if err := w.EnsureDirs(); err != nil {
		return nil, err
	}
	files := []struct {
		path, body string
	}{
		{w.ConfigPath, configTemplate},
		{w.DirectoryPath, directoryTemplate},
		{w.PolicyPath, policyTemplate},
	}
	var created []string
	for _, f := range files {
		ok, err := writeFileIfMissing(f.path, f.body)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, f.path)
		}
	}
	return created, nil
}

func writeFileIfMissing(path, body string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return true, f.Close()
}

func layout(root string) *Workspace {
	data := filepath.Join(root, "data")
	return &Workspace{
		Root:          root,
		ConfigPath:    filepath.Join(root, "config.yaml"),
		EnvPath:       filepath.Join(root, ".env"),
		DirectoryPath: filepath.Join(root, "directory.yml"),
		PolicyPath:    filepath.Join(root, "policy.yml"),
		DataDir:       data,
		DBPath:        filepath.Join(data, "planengine.db"),
	}
}

// untilde expands a leading "~" or "~/". The "~user" form is refused.
func untilde(p string) (string, error) {
	rest, ok := strings.CutPrefix(p, "~")
	if !ok {
		return p, nil
	}
	if rest != "" && rest[0] != '/' && rest[0] != filepath.Separator {
		return "", fmt.Errorf("path %q: ~user is not supported", p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return filepath.Join(home, rest), nil
}
