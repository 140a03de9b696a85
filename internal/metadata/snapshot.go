package metadata

import (
	"encoding/json"
	"fmt"
	"os"
)

// SnapshotError reports a problem with a metadata snapshot file.
type SnapshotError struct {
	Path    string
	Message string
}

func (e *SnapshotError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// LoadSnapshot reads and validates a metadata snapshot file, the JSON shape
// written by the upstream extraction step.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &SnapshotError{Path: path, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if err := snap.Normalize(); err != nil {
		return nil, &SnapshotError{Path: path, Message: err.Error()}
	}
	return &snap, nil
}

// Normalize validates the snapshot and applies the uniqueness rules: table
// logical names must be unique, and attribute selections are deduplicated by
// logical name preserving first occurrence.
func (s *Snapshot) Normalize() error {
	seen := make(map[string]bool, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.LogicalName == "" {
			return fmt.Errorf("table %d has no LogicalName", i)
		}
		if seen[t.LogicalName] {
			return fmt.Errorf("duplicate table %q", t.LogicalName)
		}
		seen[t.LogicalName] = true

		if t.DisplayName == "" {
			t.DisplayName = t.LogicalName
		}
		if t.PrimaryID == "" {
			return fmt.Errorf("table %q has no PrimaryIdAttribute", t.LogicalName)
		}
		if t.Role == "" {
			t.Role = RoleOther
		}

		t.Attributes = dedupeAttributes(t.Attributes)
	}
	return nil
}

func dedupeAttributes(attrs []Attribute) []Attribute {
	seen := make(map[string]bool, len(attrs))
	out := attrs[:0]
	for _, a := range attrs {
		if a.LogicalName == "" || seen[a.LogicalName] {
			continue
		}
		seen[a.LogicalName] = true
		if a.DisplayName == "" {
			a.DisplayName = a.SchemaName
		}
		out = append(out, a)
	}
	return out
}
