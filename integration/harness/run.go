package harness

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// Result is one CLI invocation.
type Result struct {
	Args   []string
	Stdout string
	Stderr string
	Code   int
}

// Output is stdout and stderr together, for assertions that do not
// care which stream a message went to.
func (r Result) Output() string {
	return r.Stdout + r.Stderr
}

// CLI runs the binary against one workspace.
type CLI struct {
	t         *testing.T
	bin       string
	dir       string
	workspace string
	env       map[string]string
}

// NewCLI returns a CLI whose commands all target workspace. Commands run
// from a scratch directory so nothing is written beside the repository.
func NewCLI(t *testing.T, bin, workspace string) *CLI {
	t.Helper()
	return &CLI{t: t, bin: bin, dir: t.TempDir(), workspace: workspace, env: map[string]string{}}
}

// Setenv sets an environment variable for later commands.
func (c *CLI) Setenv(key, value string) {
	c.env[key] = value
}

// Run executes args with --workspace appended.
func (c *CLI) Run(args ...string) Result {
	c.t.Helper()
	if c.workspace != "" {
		args = append(args, "--workspace", c.workspace)
	}
	return c.exec(args)
}

// MustRun is Run that fails the test on a non-zero exit.
func (c *CLI) MustRun(args ...string) Result {
	c.t.Helper()
	res := c.Run(args...)
	if res.Code != 0 {
		c.t.Fatalf("planengine %s exit code %d\nstdout:\n%s\nstderr:\n%s",
			strings.Join(res.Args, " "), res.Code, res.Stdout, res.Stderr)
	}
	return res
}

func (c *CLI) exec(args []string) Result {
	c.t.Helper()
	cmd := exec.Command(c.bin, args...)
	cmd.Dir = c.dir
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	res := Result{Args: args}
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			c.t.Fatalf("run %s: %v", c.bin, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}
