package rulebank

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion identifies the snapshot file format.
const SnapshotVersion = "1"

// snapshotFile is the on-disk document. ItemsCompact is the current
// format; Items is the legacy verbose array still accepted on load.
type snapshotFile struct {
	ItemsCompact []CompactRule `json:"items_compact,omitempty"`
	Items        []Rule        `json:"items,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      string        `json:"version"`
}

// SaveSnapshot writes the store's rules to path in the compact shape.
// The file is written to a temp path in the same directory, then renamed,
// so a crash mid-write never leaves a truncated snapshot.
func SaveSnapshot(s *Store, path string) error {
	rules := s.ListAll()
	doc := snapshotFile{
		ItemsCompact: make([]CompactRule, 0, len(rules)),
		UpdatedAt:    time.Now().UTC(),
		Version:      SnapshotVersion,
	}
	for _, r := range rules {
		doc.ItemsCompact = append(doc.ItemsCompact, r.ToCompact())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}

	s.obs.Inc("experience_snapshot_save_total", 1)

	return nil
}

// LoadSnapshot reads rules from path into the store via ImportBatch with
// upsert and dedup enabled. A missing file is not an error; the store
// simply starts empty. Returns how many rules were imported.
func LoadSnapshot(s *Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	var rules []Rule
	switch {
	case len(doc.ItemsCompact) > 0:
		rules = make([]Rule, 0, len(doc.ItemsCompact))
		for _, c := range doc.ItemsCompact {
			rules = append(rules, FromCompact(c))
		}
	case len(doc.Items) > 0:
		rules = doc.Items
	default:
		return 0, nil
	}

	imported, _, err := s.ImportBatch(rules, true, true)
	if err != nil {
		return 0, fmt.Errorf("import snapshot: %w", err)
	}

	s.obs.Inc("experience_snapshot_load_total", 1)

	return imported, nil
}
