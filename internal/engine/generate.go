package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/analyzer"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/render"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/state"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/tmdlparse"
)

// ErrDestructiveChanges is returned when a pass would apply destructive
// changes without approval. The accompanying Result carries the analysis.
var ErrDestructiveChanges = errors.New("destructive changes require approval")

// GenerateOptions controls one generation pass.
type GenerateOptions struct {
	// ForceFull discards all recovered state and regenerates from scratch,
	// minting fresh identifiers.
	ForceFull bool

	// ApproveDestructive permits applying changes classified as
	// destructive. Without it a destructive analysis stops before any
	// write.
	ApproveDestructive bool

	// NoBackup skips the project backup before a destructive apply.
	NoBackup bool

	// DryRun computes and reports the change analysis without writing.
	DryRun bool
}

// Result reports what a generation pass did.
type Result struct {
	Analysis *analyzer.Analysis

	Written []string
	Deleted []string

	// BackupDir is the copy made before a destructive apply, empty when no
	// backup was taken.
	BackupDir string
}

// Generate computes the target model and applies it to the project
// directory.
func (e *Engine) Generate(opts GenerateOptions) (*Result, error) {
	m, err := e.compute()
	if err != nil {
		return nil, err
	}
	if opts.ForceFull {
		m.project = &tmdlparse.Project{
			Dir:              e.cfg.ProjectDir,
			Tables:           map[string]*tmdlparse.TableState{},
			MissingStructure: []string{"."},
		}
	}

	analysis := e.analyze(m)
	res := &Result{Analysis: analysis}
	if opts.DryRun {
		return res, nil
	}

	if analysis.MaxImpact() == analyzer.ImpactDestructive {
		if !opts.ApproveDestructive {
			return res, ErrDestructiveChanges
		}
		if !opts.NoBackup && m.project.Exists() {
			res.BackupDir = e.backup()
		}
	}

	if err := e.apply(m, res, analysis); err != nil {
		e.journalRun(m, analysis, err)
		return nil, err
	}
	e.journalRun(m, analysis, nil)
	return res, nil
}

// apply writes the full project tree. TMDL content is rendered before any
// file is touched so a rendering failure never leaves a half-written tree.
func (e *Engine) apply(m *model, res *Result, analysis *analyzer.Analysis) error {
	dir := e.cfg.ProjectDir
	tablesDir := filepath.Join(dir, "definition", "tables")
	if err := os.MkdirAll(tablesDir, 0o750); err != nil {
		return fmt.Errorf("failed to create project structure: %w", err)
	}

	tags := render.NewTagAllocator(m.project.IdentifierSeed())

	expected := make(map[string]bool)
	var tableNames []string
	for _, t := range m.targets {
		name := t.table.DisplayName
		tableNames = append(tableNames, name)

		in := render.TableInput{
			Table:          t.table,
			Plans:          t.plans,
			Filter:         t.filter,
			Storage:        e.cfg.Storage,
			EnvironmentURL: e.cfg.EnvironmentURL,
			Server:         m.server,
			Database:       m.database,
		}
		if prior, ok := m.project.Tables[name]; ok {
			in.ExistingColumns = existingColumns(prior)
			in.UserColumns = userColumns(prior)
			in.UserMeasures = userMeasures(prior)
		}

		file := render.FileName(name)
		expected[file] = true
		if err := e.writeText(res, filepath.Join(tablesDir, file), render.Table(in, tags)); err != nil {
			return err
		}
	}

	if cfg := e.cfg.DateTable; cfg != nil {
		file := render.FileName(render.DateTableName)
		expected[file] = true
		tableNames = append(tableNames, render.DateTableName)
		if err := e.writeText(res, filepath.Join(tablesDir, file), render.DateTable(cfg, tags)); err != nil {
			return err
		}
	}

	relText, _ := render.Relationships(m.relationshipInput, tags)
	if err := e.writeText(res, filepath.Join(dir, "definition", "relationships.tmdl"), relText); err != nil {
		return err
	}

	if err := e.writeText(res, filepath.Join(dir, "definition", "model.tmdl"),
		render.Model(render.ModelInput{TableNames: tableNames})); err != nil {
		return err
	}
	if err := e.writeText(res, filepath.Join(dir, "definition", "database.tmdl"), render.Database()); err != nil {
		return err
	}
	if err := e.writeProjectFiles(m, res); err != nil {
		return err
	}

	e.deleteStaleTables(tablesDir, expected, res)
	e.invalidateCache(analysis, res)

	if err := tmdlparse.SaveManifest(dir, tags.Used()); err != nil {
		e.logger.Warn("failed to write identifier manifest", "error", err)
	}
	return nil
}

// writeProjectFiles writes the PBIP wrapper files. The .platform identity
// is preserved across incremental updates; a structural rebuild mints a
// fresh logical id.
func (e *Engine) writeProjectFiles(m *model, res *Result) error {
	dir := e.cfg.ProjectDir

	pbism, _ := json.MarshalIndent(map[string]any{
		"version":  "4.0",
		"settings": map[string]any{},
	}, "", "  ")
	if err := e.writeBytes(res, filepath.Join(dir, "definition.pbism"), pbism); err != nil {
		return err
	}

	platformPath := filepath.Join(dir, ".platform")
	if len(m.project.PlatformRaw) > 0 && len(m.project.MissingStructure) == 0 {
		return nil
	}
	platform, _ := json.MarshalIndent(map[string]any{
		"$schema": "https://developer.microsoft.com/json-schemas/fabric/gitIntegration/platformProperties/2.0.0/schema.json",
		"metadata": map[string]any{
			"type":        "SemanticModel",
			"displayName": e.cfg.ModelName,
		},
		"config": map[string]any{
			"version":   "2.0",
			"logicalId": uuid.NewString(),
		},
	}, "", "  ")
	return e.writeBytes(res, platformPath, platform)
}

// deleteStaleTables removes table files for tables no longer in scope.
// A failed delete is logged and skipped.
func (e *Engine) deleteStaleTables(tablesDir string, expected map[string]bool, res *Result) {
	entries, err := os.ReadDir(tablesDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".tmdl") || expected[name] {
			continue
		}
		path := filepath.Join(tablesDir, name)
		if err := os.Remove(path); err != nil {
			e.logger.Warn("failed to delete stale table file", "file", path, "error", err)
			continue
		}
		e.logger.Info("deleted stale table file", "file", path)
		res.Deleted = append(res.Deleted, path)
	}
}

// cacheFiles are the local Power BI Desktop artifacts that go stale when
// the storage mode changes.
var cacheFiles = []string{
	filepath.Join(".pbi", "cache.abf"),
	filepath.Join(".pbi", "localSettings.json"),
}

// invalidateCache removes the desktop cache after a storage-mode
// transition. A stale cache makes the desktop tool open the model in the
// old mode and silently ignore the regenerated partitions.
func (e *Engine) invalidateCache(analysis *analyzer.Analysis, res *Result) {
	transition := false
	for _, r := range analysis.Records {
		if r.Object == analyzer.ObjectProject && r.Kind == analyzer.KindUpdate {
			transition = true
			break
		}
	}
	if !transition {
		return
	}
	for _, rel := range cacheFiles {
		path := filepath.Join(e.cfg.ProjectDir, rel)
		if err := os.Remove(path); err == nil {
			e.logger.Info("invalidated desktop cache", "file", path)
			res.Deleted = append(res.Deleted, path)
		}
	}
}

// backup copies the project directory aside before a destructive apply.
// A failed backup is logged and generation continues.
func (e *Engine) backup() string {
	src := e.cfg.ProjectDir
	dst := strings.TrimRight(src, string(filepath.Separator)) + "-backup-" + time.Now().Format("20060102-150405")
	if err := copyDir(src, dst); err != nil {
		e.logger.Warn("project backup failed, continuing without one", "error", err)
		return ""
	}
	e.logger.Info("project backed up", "dir", dst)
	return dst
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

func (e *Engine) writeText(res *Result, path, text string) error {
	return e.writeBytes(res, path, []byte(text))
}

func (e *Engine) writeBytes(res *Result, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	res.Written = append(res.Written, path)
	return nil
}

// journalRun records the pass in the run journal. Journal trouble never
// fails a generation.
func (e *Engine) journalRun(m *model, analysis *analyzer.Analysis, genErr error) {
	if e.journal == nil {
		return
	}
	id, err := e.journal.BeginRun(string(e.cfg.Connection), string(e.cfg.Storage),
		len(m.targets), analysis.RequiresFullRebuild)
	if err != nil {
		e.logger.Warn("run journal unavailable", "error", err)
		return
	}
	if err := e.journal.AddChangeRecords(id, analysis.Records); err != nil {
		e.logger.Warn("failed to journal change records", "error", err)
	}
	status, msg := state.RunStatusCompleted, ""
	if genErr != nil {
		status, msg = state.RunStatusFailed, genErr.Error()
	}
	if err := e.journal.FinishRun(id, status, msg); err != nil {
		e.logger.Warn("failed to finish journal run", "error", err)
	}
}

func existingColumns(prior *tmdlparse.TableState) map[string]render.ExistingColumn {
	out := make(map[string]render.ExistingColumn, len(prior.Columns))
	for source, col := range prior.Columns {
		if col.SourceColumn == "" {
			continue
		}
		out[source] = render.ExistingColumn{
			DataType:     col.DataType,
			FormatString: col.FormatString,
			SummarizeBy:  col.SummarizeBy,
			Description:  col.Description,
			Annotations:  col.Annotations,
		}
	}
	return out
}

// userColumns returns the verbatim blocks of calculated columns the user
// added, in file order.
func userColumns(prior *tmdlparse.TableState) []string {
	var out []string
	for _, key := range prior.ColumnOrder {
		col := prior.Columns[key]
		if col.SourceColumn == "" && col.Text != "" {
			out = append(out, col.Text)
		}
	}
	return out
}

func userMeasures(prior *tmdlparse.TableState) []render.UserMeasure {
	out := make([]render.UserMeasure, 0, len(prior.UserMeasures))
	for _, m := range prior.UserMeasures {
		out = append(out, render.UserMeasure{Name: m.Name, Text: m.Text})
	}
	return out
}
