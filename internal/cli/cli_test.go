package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const budgetBC3 = `~V|FIEBDC-3/2020|Prog 1.0|
~C|OBRA||Obra completa|0|010121|0|
~C|CAP01|m|Capitulo 1|0|010121|0|
~C|P01|m2|Partida 1|10,5|010121|3|
~D|OBRA|CAP01\1\1\|
~D|CAP01|P01\2\1\|
~M|CAP01\P01|1\1|4|1\Tramo\2\2\\\|
`

const cycleBC3 = `~C|A||Capitulo A|0||0|
~C|B||Capitulo B|0||0|
~D|A|B\1\1\|
~D|B|A\1\1\|
`

func writeBC3(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obra.bc3")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("IMPORTER_MAX_REJECTED_RELATIONS", "0")
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestParseCommand(t *testing.T) {
	path := writeBC3(t, budgetBC3)

	out, _, err := run(t, "parse", path)
	require.NoError(t, err)
	assert.Contains(t, out, "FIEBDC-3/2020")
	assert.Contains(t, out, "~C  3")
	assert.Contains(t, out, "~D  2")

	out, _, err = run(t, "parse", "--json", path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	stats := doc["stats"].(map[string]interface{})
	assert.EqualValues(t, 0, stats["malformed_records"])
	assert.Contains(t, doc, "metadata")
	assert.Contains(t, doc, "diagnostics")
}

func TestTreeCommand(t *testing.T) {
	path := writeBC3(t, budgetBC3)

	out, _, err := run(t, "tree", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OBRA  Obra completa")
	assert.Contains(t, out, "\n  CAP01  Capitulo 1 (m)")
	assert.Contains(t, out, "\n    P01  Partida 1 (m2)")
	assert.Contains(t, out, "3 个节点，最大层级 2")

	out, _, err = run(t, "tree", "--depth", "1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "CAP01")
	assert.NotContains(t, out, "P01  Partida")

	out, _, err = run(t, "tree", "--from", "CAP01", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "OBRA  Obra")
	assert.Contains(t, out, "\n  P01  Partida 1")

	_, _, err = run(t, "tree", "--from", "NOPE", path)
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	out, _, err := run(t, "validate", writeBC3(t, budgetBC3))
	require.NoError(t, err)
	assert.Contains(t, out, "校验: 通过")

	out, _, err = run(t, "validate", writeBC3(t, cycleBC3))
	require.Error(t, err)
	assert.Contains(t, out, "成环 1")

	out, _, err = run(t, "validate", "--json", writeBC3(t, budgetBC3))
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "completed", doc["status"])
}

func TestExportCommand(t *testing.T) {
	path := writeBC3(t, budgetBC3)

	out, _, err := run(t, "export", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"CAP01"`)

	target := filepath.Join(t.TempDir(), "out", "obra.xlsx")
	_, stderr, err := run(t, "export", "--format", "xlsx", "-o", target, path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "已导出 3 个节点")

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()
	assert.NotEmpty(t, f.GetSheetList())

	_, _, err = run(t, "export", "--format", "xlsx", path)
	assert.Error(t, err)

	_, _, err = run(t, "export", "--format", "csv", "-o", filepath.Join(t.TempDir(), "x.csv"), path)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, _, err := run(t, "parse", filepath.Join(t.TempDir(), "missing.bc3"))
	assert.Error(t, err)
}
