package tmdlparse

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/render"
)

// ManifestFileName is the sidecar manifest written next to the definition
// folder. It records entity-to-identifier assignments in a structured form so
// the next run can recover identifiers without pattern-matching generated
// text.
const ManifestFileName = "manifest.yaml"

// ManifestDirName holds tool-private files inside the project directory.
const ManifestDirName = ".dv2pbi"

// Manifest is the sidecar identifier map, keyed by the allocator keys used
// during rendering.
type Manifest struct {
	Version     int               `yaml:"version"`
	Identifiers map[string]string `yaml:"identifiers"`
}

// Project is the recovered state of an on-disk TMDL project.
type Project struct {
	Dir string

	// Tables is keyed by table display name.
	Tables map[string]*TableState

	Relationships []RelationshipState

	// Manifest is nil when no sidecar was found (projects written by other
	// tools, or pre-manifest versions).
	Manifest *Manifest

	// MissingStructure lists required files/folders that were absent. Any
	// entry escalates the project to a full rebuild.
	MissingStructure []string

	// PlatformRaw is the .platform identity file content, preserved across
	// incremental updates.
	PlatformRaw []byte
}

// Exists reports whether anything recoverable was found on disk.
func (p *Project) Exists() bool {
	return len(p.Tables) > 0 || len(p.Relationships) > 0
}

// requiredStructure lists the files and folders an existing project must
// have before incremental reconciliation is attempted.
var requiredStructure = []string{
	"definition",
	filepath.Join("definition", "tables"),
	filepath.Join("definition", "model.tmdl"),
	filepath.Join("definition", "database.tmdl"),
}

// LoadProject reads the existing project state fresh from disk. Parse
// failures on individual files are logged and treated as "nothing
// recovered" for that file; callers fall back to full regeneration for the
// affected entity.
func LoadProject(dir string, logger *slog.Logger) (*Project, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	proj := &Project{Dir: dir, Tables: make(map[string]*TableState)}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		proj.MissingStructure = append([]string{"."}, requiredStructure...)
		return proj, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat project directory: %w", err)
	}

	for _, rel := range requiredStructure {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			proj.MissingStructure = append(proj.MissingStructure, rel)
		}
	}

	tablesDir := filepath.Join(dir, "definition", "tables")
	entries, err := os.ReadDir(tablesDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmdl") {
				continue
			}
			path := filepath.Join(tablesDir, e.Name())
			state, perr := ParseTableFile(path)
			if perr != nil {
				logger.Warn("existing table file not recovered, will regenerate", "file", path, "error", perr)
				continue
			}
			proj.Tables[state.Name] = state
		}
	}

	relPath := filepath.Join(dir, "definition", "relationships.tmdl")
	if text, rerr := ReadText(relPath); rerr == nil {
		proj.Relationships = ParseRelationships(text)
	}

	if data, merr := os.ReadFile(filepath.Join(dir, ManifestDirName, ManifestFileName)); merr == nil {
		var m Manifest
		if uerr := yaml.Unmarshal(data, &m); uerr != nil {
			logger.Warn("sidecar manifest not recovered, falling back to text recovery", "error", uerr)
		} else {
			proj.Manifest = &m
		}
	}

	if data, perr := os.ReadFile(filepath.Join(dir, ".platform")); perr == nil {
		proj.PlatformRaw = data
	}

	return proj, nil
}

// SaveManifest writes the sidecar manifest for the identifiers used by a
// generation pass.
func SaveManifest(dir string, identifiers map[string]string) error {
	m := Manifest{Version: 1, Identifiers: identifiers}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	sidecarDir := filepath.Join(dir, ManifestDirName)
	if err := os.MkdirAll(sidecarDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sidecarDir, ManifestFileName), data, 0o644)
}

// IdentifierSeed builds the allocator seed map for a regeneration pass: the
// manifest when present, else identifiers recovered from the parsed text.
func (p *Project) IdentifierSeed() map[string]string {
	if p.Manifest != nil && len(p.Manifest.Identifiers) > 0 {
		return p.Manifest.Identifiers
	}

	seed := make(map[string]string)
	for name, table := range p.Tables {
		if table.LineageTag != "" {
			seed[render.TableTagKey(name)] = table.LineageTag
		}
		for source, col := range table.Columns {
			if col.LineageTag != "" {
				seed[render.ColumnTagKey(name, source)] = col.LineageTag
			}
		}
		for _, m := range append(append([]Measure{}, table.AutoMeasures...), table.UserMeasures...) {
			if m.LineageTag != "" {
				seed[render.MeasureTagKey(name, m.Name)] = m.LineageTag
			}
		}
	}
	for _, rel := range p.Relationships {
		seed[render.RelationshipKey(rel.Key)] = rel.GUID
	}
	return seed
}
