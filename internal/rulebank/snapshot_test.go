package rulebank

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experience.snapshot.json")

	src := NewStore()
	_, _, err := src.Add(Rule{Title: "A", Content: "1", Category: "ops", Tags: []string{"x"}}, false, false)
	require.NoError(t, err)
	_, _, err = src.Add(Rule{Title: "B", Content: "2", Status: StatusDraft}, false, false)
	require.NoError(t, err)

	require.NoError(t, SaveSnapshot(src, path))

	dst := NewStore()
	imported, err := LoadSnapshot(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	rules := dst.ListAll()
	require.Len(t, rules, 2)
	byTitle := map[string]Rule{}
	for _, r := range rules {
		byTitle[r.Title] = r
	}
	assert.Equal(t, "ops", byTitle["A"].Category)
	assert.Equal(t, []string{"x"}, byTitle["A"].Tags)
	assert.Equal(t, StatusDraft, byTitle["B"].Status)
}

func TestSnapshotFileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")

	s := NewStore()
	_, _, err := s.Add(Rule{Title: "A", Content: "1"}, false, false)
	require.NoError(t, err)
	require.NoError(t, SaveSnapshot(s, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "items_compact")
	assert.Contains(t, doc, "updated_at")
	assert.Contains(t, doc, "version")

	var items []map[string]any
	require.NoError(t, json.Unmarshal(doc["items_compact"], &items))
	require.Len(t, items, 1)
	// Compact keys only.
	assert.Contains(t, items[0], "t")
	assert.Contains(t, items[0], "c")
	assert.Contains(t, items[0], "fp")
	assert.NotContains(t, items[0], "title")
}

func TestLoadSnapshotLegacyItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	legacy := `{"items":[{"id":"r-1","title":"A","content":"1","tags":[],"sources":[]}],"version":"1"}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s := NewStore()
	imported, err := LoadSnapshot(s, path)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	got, err := s.Get("r-1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, DefaultCategory, got.Category)
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	s := NewStore()
	imported, err := LoadSnapshot(s, filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
}

func TestLoadSnapshotMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore()
	_, err := LoadSnapshot(s, path)
	assert.Error(t, err)
}

func TestSaveSnapshotCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "snap.json")
	s := NewStore()
	_, _, err := s.Add(Rule{Title: "A", Content: "1"}, false, false)
	require.NoError(t, err)

	require.NoError(t, SaveSnapshot(s, path))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
