package e2e_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testProject builds the prodigy binary once per test into an isolated
// project directory, with its own PRODIGY_HOME so concurrent tests never
// share state.
type testProject struct {
	Dir        string
	Home       string
	BinaryPath string
	t          *testing.T
}

func newTestProject(t *testing.T) *testProject {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("e2e tests shell out to sh and git; unsupported on Windows")
	}

	dir := t.TempDir()
	home := filepath.Join(t.TempDir(), "prodigy-home")

	binary := filepath.Join(dir, "prodigy")
	build := exec.Command("go", "build", "-o", binary, "./cmd/prodigy")
	build.Dir = projectRoot()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "building prodigy: %s", string(out))

	return &testProject{Dir: dir, Home: home, BinaryPath: binary, t: t}
}

// projectRoot returns the repository root, two directories up from this
// file (tests/e2e/helpers_test.go -> tests/ -> root).
func projectRoot() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..")
}

func (tp *testProject) writeFile(relPath, content string) string {
	tp.t.Helper()
	full := filepath.Join(tp.Dir, relPath)
	require.NoError(tp.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(tp.t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func (tp *testProject) writeConfig(content string) {
	tp.t.Helper()
	tp.writeFile("prodigy.toml", content)
}

func (tp *testProject) initGitRepo() {
	tp.t.Helper()
	for _, args := range [][]string{
		{"git", "init", "-b", "main"},
		{"git", "config", "user.email", "test@example.com"},
		{"git", "config", "user.name", "Test"},
	} {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = tp.Dir
		out, err := cmd.CombinedOutput()
		require.NoError(tp.t, err, "%v failed: %s", args, string(out))
	}
	tp.writeFile("README.md", "# test project\n")
	for _, args := range [][]string{
		{"git", "add", "."},
		{"git", "commit", "-m", "init"},
	} {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = tp.Dir
		out, err := cmd.CombinedOutput()
		require.NoError(tp.t, err, "%v failed: %s", args, string(out))
	}
}

// run builds an *exec.Cmd for the prodigy binary, isolated under its own
// PRODIGY_HOME.
func (tp *testProject) run(args ...string) *exec.Cmd {
	cmd := exec.Command(tp.BinaryPath, args...)
	cmd.Dir = tp.Dir
	cmd.Env = append(os.Environ(),
		"PRODIGY_HOME="+tp.Home,
		"NO_COLOR=1",
	)
	return cmd
}

func (tp *testProject) runExpectSuccess(args ...string) string {
	tp.t.Helper()
	out, err := tp.run(args...).CombinedOutput()
	require.NoError(tp.t, err, "prodigy %v failed:\n%s", args, string(out))
	return string(out)
}

func (tp *testProject) runExpectFailure(args ...string) (string, int) {
	tp.t.Helper()
	out, err := tp.run(args...).CombinedOutput()
	require.Error(tp.t, err, "prodigy %v expected to fail but succeeded:\n%s", args, string(out))
	var exitErr *exec.ExitError
	require.True(tp.t, errors.As(err, &exitErr), "expected *exec.ExitError, got %T: %v", err, err)
	return string(out), exitErr.ExitCode()
}

// firstToken returns the first whitespace-delimited token of output, useful
// for pulling a leading id (checkpoint id, dlq item id) off a listing line.
func firstToken(t *testing.T, output string) string {
	t.Helper()
	fields := strings.Fields(output)
	require.NotEmpty(t, fields, "expected at least one token in output:\n%s", output)
	return fields[0]
}

var jobIDPattern = regexp.MustCompile(`job ([0-9a-f-]{36})`)

// extractJobID pulls the UUID jobID out of run/resume's "job <id> ..."
// summary line.
func extractJobID(t *testing.T, output string) string {
	t.Helper()
	m := jobIDPattern.FindStringSubmatch(output)
	require.NotEmpty(t, m, "output did not contain a job id:\n%s", output)
	return m[1]
}
