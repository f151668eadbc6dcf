package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"planengine/integration/harness"
)

func TestInitSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspaceRoot := filepath.Join(t.TempDir(), "workspace-init")
	cli := harness.NewCLI(t, binPath, workspaceRoot)

	res := cli.MustRun("init")
	if !strings.Contains(res.Stdout, "Workspace ready") {
		t.Fatalf("init output:\n%s", res.Output())
	}

	paths := []string{
		filepath.Join(workspaceRoot, "config.yaml"),
		filepath.Join(workspaceRoot, "directory.yml"),
		filepath.Join(workspaceRoot, "policy.yml"),
		filepath.Join(workspaceRoot, "data"),
		filepath.Join(workspaceRoot, "data", "planengine.db"),
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing init path %s: %v", path, err)
		}
	}
	requireAuditActions(t, filepath.Join(workspaceRoot, "data", "planengine.db"), []string{"workspace_init"})

	res = cli.MustRun("init")
	if strings.Contains(res.Stdout, "Created") {
		t.Fatalf("second init rewrote files:\n%s", res.Output())
	}
}
