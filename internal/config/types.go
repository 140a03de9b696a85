// Package config provides shared configuration types for dv2pbi.
// This package is decoupled from CLI concerns so the engine and tests can
// load project configuration directly.
package config

import (
	"fmt"
	"strings"
)

// ConnectionMode selects how generated queries resolve choice and lookup
// labels.
type ConnectionMode string

const (
	// ConnectionTDS targets the native Dataverse SQL (TDS) endpoint, where
	// choice labels are exposed as virtual "{name}name" columns.
	ConnectionTDS ConnectionMode = "tds"

	// ConnectionFabric targets a Fabric lakehouse SQL endpoint, where choice
	// labels require joins against the synchronized metadata tables.
	ConnectionFabric ConnectionMode = "fabric"
)

// StorageMode selects the per-table query execution strategy persisted in
// generated partitions.
type StorageMode string

const (
	StorageDirectQuery StorageMode = "directquery"
	StorageImport      StorageMode = "import"
	StorageDual        StorageMode = "dual"
	StorageDirectLake  StorageMode = "directlake"
)

// NormalizeStorageMode folds the two observed spellings of the Direct Lake
// mode into one value. Existing projects written by older releases persist
// "directLake" while newer ones persist "directlake"; the two are
// functionally identical.
func NormalizeStorageMode(s string) StorageMode {
	return StorageMode(strings.ToLower(strings.TrimSpace(s)))
}

// Cached reports whether the mode executes against a local cache rather than
// under the interactive user's identity. User-context filter operators cannot
// run in cached modes and must be stripped from generated predicates.
func (m StorageMode) Cached() bool {
	return m == StorageImport || m == StorageDirectLake
}

// PartitionMode returns the spelling used inside TMDL partition blocks.
func (m StorageMode) PartitionMode() string {
	switch m {
	case StorageDirectQuery:
		return "directQuery"
	case StorageDirectLake:
		return "directLake"
	case StorageDual:
		return "dual"
	default:
		return "import"
	}
}

// TableField addresses a single column on a table.
type TableField struct {
	Table string `koanf:"table" yaml:"table"`
	Field string `koanf:"field" yaml:"field"`
}

// DateTableConfig controls the synthesized Date dimension and date-only
// column wrapping.
type DateTableConfig struct {
	// Table and Field define the single relationship from the model to the
	// Date dimension. At most one date relationship is ever generated.
	Table string `koanf:"table" yaml:"table"`
	Field string `koanf:"field" yaml:"field"`

	UTCOffsetHours int `koanf:"utc_offset_hours" yaml:"utc_offset_hours"`
	StartYear      int `koanf:"start_year" yaml:"start_year"`
	EndYear        int `koanf:"end_year" yaml:"end_year"`

	// DateOnly lists DateTime columns rendered as timezone-shifted calendar
	// dates instead of full timestamps.
	DateOnly []TableField `koanf:"date_only" yaml:"date_only"`
}

// Project is the full project configuration loaded from dv2pbi.yaml.
type Project struct {
	// MetadataPath points at the Dataverse metadata snapshot (JSON).
	MetadataPath string `koanf:"metadata"`

	// ProjectDir is the semantic-model directory to synthesize into.
	ProjectDir string `koanf:"project_dir"`

	// ModelName is the display name written to the .platform identity file.
	ModelName string `koanf:"model_name"`

	// EnvironmentURL is the Dataverse environment, used by the record-link
	// auto-measure and the generated partition source.
	EnvironmentURL string `koanf:"environment_url"`

	Connection ConnectionMode `koanf:"connection_mode"`
	Storage    StorageMode    `koanf:"storage_mode"`

	// AliasDisplayNames emits an explicit SQL alias for any column whose
	// display name differs from its logical name.
	AliasDisplayNames bool `koanf:"alias_display_names"`

	// LanguageCode selects localized labels in metadata joins (1033 = English).
	LanguageCode int `koanf:"language_code"`

	DateTable *DateTableConfig `koanf:"date_table"`

	// VirtualColumnOverrides maps "table.attribute" to the actual queryable
	// label column where it deviates from the "{name}name" convention.
	// Injected here rather than hard-coded so exceptions can be extended
	// without code changes.
	VirtualColumnOverrides map[string]string `koanf:"virtual_column_overrides"`

	// JournalPath is the SQLite run-journal location. Empty disables the
	// journal.
	JournalPath string `koanf:"journal"`

	Verbose bool `koanf:"verbose"`
}

// ApplyDefaults fills unset fields with their defaults.
func (p *Project) ApplyDefaults() {
	if p.Connection == "" {
		p.Connection = ConnectionTDS
	}
	if p.Storage == "" {
		p.Storage = StorageDirectQuery
	}
	if p.LanguageCode == 0 {
		p.LanguageCode = 1033
	}
	if p.ModelName == "" {
		p.ModelName = "Dataverse Semantic Model"
	}
	if p.DateTable != nil {
		if p.DateTable.StartYear == 0 {
			p.DateTable.StartYear = 2020
		}
		if p.DateTable.EndYear == 0 {
			p.DateTable.EndYear = 2030
		}
	}
}

// Validate checks mode enums and required paths.
func (p *Project) Validate() error {
	switch p.Connection {
	case ConnectionTDS, ConnectionFabric:
	default:
		return fmt.Errorf("invalid connection_mode %q (must be tds or fabric)", p.Connection)
	}
	switch p.Storage {
	case StorageDirectQuery, StorageImport, StorageDual, StorageDirectLake:
	default:
		return fmt.Errorf("invalid storage_mode %q (must be directquery, import, dual or directlake)", p.Storage)
	}
	if p.MetadataPath == "" {
		return fmt.Errorf("metadata path is required")
	}
	if p.ProjectDir == "" {
		return fmt.Errorf("project_dir is required")
	}
	return nil
}

// VirtualColumnFor returns the configured label-column override for a
// table.attribute pair, or the empty string when none applies.
func (p *Project) VirtualColumnFor(table, attribute string) string {
	if p.VirtualColumnOverrides == nil {
		return ""
	}
	return p.VirtualColumnOverrides[table+"."+attribute]
}

// DateOnlyFields returns the set of date-only wrapped fields for one table.
func (p *Project) DateOnlyFields(table string) map[string]bool {
	out := make(map[string]bool)
	if p.DateTable == nil {
		return out
	}
	for _, tf := range p.DateTable.DateOnly {
		if tf.Table == table {
			out[tf.Field] = true
		}
	}
	return out
}

// UTCOffsetHours returns the configured timezone offset, or zero when no
// date table is configured.
func (p *Project) UTCOffsetHours() int {
	if p.DateTable == nil {
		return 0
	}
	return p.DateTable.UTCOffsetHours
}
