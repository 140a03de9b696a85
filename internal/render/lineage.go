package render

import "github.com/google/uuid"

// TagAllocator hands out lineage tags and relationship GUIDs, reusing the
// identifier recorded for a key whenever one exists and minting a new one
// only the first time a key appears. Identifier reuse is the load-bearing
// invariant of incremental regeneration: a changed identifier makes the
// consuming tool treat an unchanged object as deleted and recreated.
type TagAllocator struct {
	existing map[string]string
	used     map[string]string
}

// NewTagAllocator creates an allocator seeded with previously persisted
// identifiers. existing may be nil.
func NewTagAllocator(existing map[string]string) *TagAllocator {
	return &TagAllocator{
		existing: existing,
		used:     make(map[string]string),
	}
}

// Tag returns the identifier for a key, reusing the seeded value when
// present and minting otherwise. Repeated calls with the same key within a
// pass return the same value.
func (a *TagAllocator) Tag(key string) string {
	if tag, ok := a.used[key]; ok {
		return tag
	}
	if tag, ok := a.existing[key]; ok && tag != "" {
		a.used[key] = tag
		return tag
	}
	tag := uuid.NewString()
	a.used[key] = tag
	return tag
}

// Used returns every identifier assignment made during this pass, for
// persisting into the sidecar manifest.
func (a *TagAllocator) Used() map[string]string {
	out := make(map[string]string, len(a.used))
	for k, v := range a.used {
		out[k] = v
	}
	return out
}

// ColumnTagKey builds the allocator key for a column, keyed by table and
// source-column name.
func ColumnTagKey(table, sourceColumn string) string {
	return "column:" + table + ":" + sourceColumn
}

// TableTagKey builds the allocator key for a table.
func TableTagKey(table string) string {
	return "table:" + table
}

// MeasureTagKey builds the allocator key for a measure, keyed by name.
func MeasureTagKey(table, measure string) string {
	return "measure:" + table + ":" + measure
}

// RelationshipKey builds the allocator key for a relationship GUID from its
// endpoint key.
func RelationshipKey(endpointKey string) string {
	return "relationship:" + endpointKey
}
