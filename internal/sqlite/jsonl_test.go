package sqlite

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONLSkipsEmptyAndMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	content := `{"id":"a1","action":"trash_restore"}

not json at all
{"id":"a2","action":"trash_empty"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, string(records[0]), "a1")
	assert.Contains(t, string(records[1]), "a2")
}

func TestReadJSONLMissingFile(t *testing.T) {
	_, err := readJSONL(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteJSONLReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("old contents\n"), 0o644))

	records := []json.RawMessage{
		json.RawMessage(`{"id":"1"}`),
		json.RawMessage(`{"id":"2"}`),
	}
	require.NoError(t, writeJSONL(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{`{"id":"1"}`, `{"id":"2"}`}, lines)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestAppendJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.jsonl")

	require.NoError(t, appendJSONL(path, json.RawMessage(`{"key":"value1"}`)))
	require.NoError(t, appendJSONL(path, json.RawMessage(`{"key":"value2"}`)))

	records, err := readJSONL(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
