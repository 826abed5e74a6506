package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"mobius-kernel"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// isolate points every MOBIUS_* setting at a scratch directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MOBIUS_LOG_LEVEL", "ERROR")
	t.Setenv("MOBIUS_DB_DRIVER", "sqlite")
	t.Setenv("MOBIUS_DATABASE_URL", filepath.Join(dir, "mobius.db"))
	t.Setenv("MOBIUS_ARCHIVE", "file")
	t.Setenv("MOBIUS_ARCHIVE_DIR", filepath.Join(dir, "archive"))
	t.Setenv("MOBIUS_GENESIS_PATH", "")
	t.Setenv("MOBIUS_REDIS_ADDR", "")
	t.Setenv("MOBIUS_OTLP_ENDPOINT", "")
	t.Setenv("MOBIUS_KEY_SEED", "")
	return dir
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "USAGE")

	code, stdout, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "verify")

	code, _, stderr = run("launch")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: launch")

	code, stdout, _ = run("version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "mobius-kernel "+version+"\n", stdout)
}

func TestGenesisPrintAndCheck(t *testing.T) {
	isolate(t)
	code, stdout, _ := run("genesis")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "economics:")

	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stdout), 0o600))
	code, out, stderr := run("genesis", "--check", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "genesis OK")

	bad := strings.Replace(stdout, "economics:", "economy:", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))
	code, _, stderr = run("genesis", "--check", path)
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stderr)
}

func TestDemoThenVerify(t *testing.T) {
	dir := isolate(t)
	snapPath := filepath.Join(dir, "snapshot.json")

	code, stdout, stderr := run("demo", "--blocks", "2", "--snapshot-out", snapPath, "--json")
	require.Equal(t, 0, code, stderr)

	var rep demoReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Len(t, rep.Citizens, 3)
	assert.GreaterOrEqual(t, rep.Blocks, 2)
	assert.NotEmpty(t, rep.Snapshot.ID)
	assert.Equal(t, rep.Status.StateRoot, rep.Snapshot.StateRoot)

	code, stdout, stderr = run("verify", "--json")
	require.Equal(t, 0, code, stdout+stderr)
	var vr VerifyReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &vr))
	assert.True(t, vr.Verified)
	assert.Equal(t, rep.Status.TipHash, vr.TipHash)
	names := make([]string, 0, len(vr.Checks))
	for _, c := range vr.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"snapshot_hash", "import", "chain", "conservation", "store_blocks", "archive"}, names)

	code, stdout, stderr = run("verify", "--snapshot", snapPath)
	require.Equal(t, 0, code, stdout+stderr)
	assert.Contains(t, stdout, "PASS  conservation")
}

func TestVerifyRejectsTamperedSnapshot(t *testing.T) {
	dir := isolate(t)
	snapPath := filepath.Join(dir, "snapshot.json")
	code, _, stderr := run("demo", "--blocks", "1", "--snapshot-out", snapPath)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	var top struct {
		StateRoot string `json:"state_root"`
	}
	require.NoError(t, json.Unmarshal(data, &top))
	require.NotEmpty(t, top.StateRoot)
	forged := strings.Replace(string(data), `"state_root": "`+top.StateRoot+`"`, `"state_root": "`+strings.Repeat("0", 64)+`"`, 1)
	require.NotEqual(t, string(data), forged)
	require.NoError(t, os.WriteFile(snapPath, []byte(forged), 0o600))

	code, stdout, _ := run("verify", "--snapshot", snapPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "FAIL  import")
}

func TestVerifyWithEmptyStore(t *testing.T) {
	isolate(t)
	code, stdout, _ := run("verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "FAIL  snapshot_hash")
}
