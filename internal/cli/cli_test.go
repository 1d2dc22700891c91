package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/flux/internal/unit"
)

const mathSource = `
class MathTasks {
  add(a, b) { console.log("adding"); return a + b; }
  static version() { return %d; }
}
flux.task(MathTasks.prototype.add, { timeout: 2000 });
flux.workflow(MathTasks.version);
flux.define("com.example.MathTasks", MathTasks);
`

func writeMathUnit(t *testing.T, dir string, version int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "main"), 0o755))
	src := []byte(fmt.Sprintf(mathSource, version))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main", "math.js"), src, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flux_config.yml"), []byte("workflowClasses: [com.example.MathTasks]\n"), 0o644))
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func newStore(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeMathUnit(t, filepath.Join(root, "math", "1"), 1)
	writeMathUnit(t, filepath.Join(root, "math", "2"), 2)
	return root
}

func TestListCommand(t *testing.T) {
	root := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "flat", "main"), 0o755))

	out, _, err := run(t, "list", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `flat\s+-`, out)
	assert.Regexp(t, `math\s+1,2`, out)
}

func TestInspectCommandJSON(t *testing.T) {
	root := newStore(t)

	out, _, err := run(t, "inspect", "math", "--root", root, "--json")
	require.NoError(t, err)

	var got inspectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "com.example.MathTasks_add", got.Tasks[0].ID)
	assert.Equal(t, 2, got.Tasks[0].Arity)
	assert.Equal(t, 2000, got.Tasks[0].TimeoutMS)
	require.Len(t, got.Workflows, 1)
	assert.True(t, got.Workflows[0].Static)
}

func TestInspectCommandTable(t *testing.T) {
	root := newStore(t)

	out, _, err := run(t, "inspect", "math", "--root", root, "--version", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "math@1")
	assert.Regexp(t, `task\s+com\.example\.MathTasks_add\s+2\s+\d+\s+2000ms`, out)
}

func TestInspectMissingUnit(t *testing.T) {
	root := newStore(t)

	_, _, err := run(t, "inspect", "nope", "--root", root)
	assert.ErrorIs(t, err, unit.ErrNotFound)
}

func TestCallCommand(t *testing.T) {
	root := newStore(t)

	out, stderr, err := run(t, "call", "math", "com.example.MathTasks_add", "[2, 3]", "--root", root)
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
	assert.Contains(t, stderr, "[LOG] adding")
}

func TestCallCommandErrors(t *testing.T) {
	root := newStore(t)

	_, _, err := run(t, "call", "math", "com.example.MathTasks_missing", "--root", root)
	assert.ErrorIs(t, err, unit.ErrNotFound)

	_, _, err = run(t, "call", "math", "com.example.MathTasks_add", "[1]", "--root", root)
	assert.ErrorIs(t, err, unit.ErrBadSignature)

	_, _, err = run(t, "call", "math", "com.example.MathTasks_add", "not json", "--root", root)
	assert.ErrorIs(t, err, unit.ErrBadSignature)
}
