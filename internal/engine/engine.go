// Package engine orchestrates a synthesis pass: load the metadata
// snapshot, recover existing project state, compute the target model,
// classify the differences and apply them to disk.
package engine

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/analyzer"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/fetchxml"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/planner"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/render"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/state"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/tmdlparse"
)

// tdsPort is the SQL endpoint port of a Dataverse environment.
const tdsPort = "5558"

// Config carries everything an Engine needs.
type Config struct {
	Project config.Project
	Logger  *slog.Logger

	// Journal is optional; a nil journal disables run recording.
	Journal *state.Store
}

// Engine computes and applies semantic-model state.
type Engine struct {
	cfg     config.Project
	logger  *slog.Logger
	journal *state.Store
}

// New creates an engine. The configuration is expected to be validated.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{cfg: cfg.Project, logger: logger, journal: cfg.Journal}
}

// tableTarget bundles everything computed for one table before rendering.
type tableTarget struct {
	table  *metadata.Table
	plans  []planner.Plan
	filter fetchxml.Translation
	query  string
}

// model is the fully computed target state for one pass.
type model struct {
	snapshot *metadata.Snapshot
	project  *tmdlparse.Project
	targets  []tableTarget

	relationshipInput render.RelationshipInput

	// priorGeneratedRelKeys marks existing relationship blocks recorded as
	// tool-generated in the sidecar manifest.
	priorGeneratedRelKeys map[string]bool

	server   string
	database string
}

// compute loads both sides and derives the full target state.
func (e *Engine) compute() (*model, error) {
	snapshot, err := metadata.LoadSnapshot(e.cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	project, err := tmdlparse.LoadProject(e.cfg.ProjectDir, e.logger)
	if err != nil {
		return nil, err
	}

	server, database, err := sqlEndpoint(e.cfg.EnvironmentURL)
	if err != nil {
		return nil, err
	}

	m := &model{
		snapshot: snapshot,
		project:  project,
		server:   server,
		database: database,
	}

	selected := make(map[string]bool, len(snapshot.Tables))
	for i := range snapshot.Tables {
		selected[snapshot.Tables[i].LogicalName] = true
	}

	// A relationship whose target table is not selected never renders, so
	// its foreign key must not force a hidden column either.
	requiredFKs := make(map[string][]string)
	for _, rel := range snapshot.Relationships {
		if !selected[rel.ToTable] {
			continue
		}
		requiredFKs[rel.FromTable] = append(requiredFKs[rel.FromTable], rel.FromAttribute)
	}

	tables := make([]*metadata.Table, 0, len(snapshot.Tables))
	for i := range snapshot.Tables {
		table := &snapshot.Tables[i]
		tables = append(tables, table)
		logical := table.LogicalName

		var filter fetchxml.Translation
		if table.View != nil && table.View.FetchXML != "" {
			filter = fetchxml.TranslateXML(table.View.FetchXML, fetchxml.Options{
				BaseAlias:        logical,
				UTCOffsetHours:   e.cfg.UTCOffsetHours(),
				StripUserContext: e.cfg.Storage.Cached(),
				Logger:           e.logger,
			})
			for _, reason := range filter.Unsupported {
				e.logger.Warn("view filter partially translated", "table", logical, "reason", reason)
			}
		}

		plans := planner.PlanTable(table, planner.Config{
			Mode:                e.cfg.Connection,
			BaseAlias:           logical,
			RequiredForeignKeys: requiredFKs[logical],
			DateOnlyFields:      e.cfg.DateOnlyFields(logical),
			UTCOffsetHours:      e.cfg.UTCOffsetHours(),
			AliasDisplayNames:   e.cfg.AliasDisplayNames,
			LanguageCode:        e.cfg.LanguageCode,
			VirtualOverride: func(attribute string) string {
				return e.cfg.VirtualColumnFor(logical, attribute)
			},
			Logger: e.logger,
		})

		target := tableTarget{table: table, plans: plans, filter: filter}
		if e.cfg.Storage != config.StorageDirectLake {
			target.query = render.Query(render.TableInput{
				Table:  table,
				Plans:  plans,
				Filter: filter,
			})
		}
		m.targets = append(m.targets, target)
	}

	m.priorGeneratedRelKeys = make(map[string]bool)
	if project.Manifest != nil {
		for _, rel := range project.Relationships {
			if project.Manifest.Identifiers[render.RelationshipKey(rel.Key)] != "" {
				m.priorGeneratedRelKeys[rel.Key] = true
			}
		}
	}

	relIn := render.RelationshipInput{
		Tables:        tables,
		Relationships: snapshot.Relationships,
		DateTable:     e.cfg.DateTable,
		Logger:        e.logger,
	}
	relIn.UserRelationships = userRelationshipBlocks(project, render.GeneratedKeys(relIn), m.priorGeneratedRelKeys)
	m.relationshipInput = relIn
	return m, nil
}

// userRelationshipBlocks returns the existing blocks the generator does not
// own this pass. Stale date relationships and blocks the manifest records
// as previously generated are dropped; everything else is user-authored and
// preserved verbatim.
func userRelationshipBlocks(project *tmdlparse.Project, generated []string, priorGenerated map[string]bool) []string {
	owned := make(map[string]bool, len(generated))
	for _, key := range generated {
		owned[key] = true
	}
	var out []string
	for _, rel := range project.Relationships {
		if owned[rel.Key] || rel.TargetsDateTable() || priorGenerated[rel.Key] {
			continue
		}
		out = append(out, rel.Text)
	}
	return out
}

// Analyze computes the change report without touching disk.
func (e *Engine) Analyze() (*analyzer.Analysis, error) {
	m, err := e.compute()
	if err != nil {
		return nil, err
	}
	return e.analyze(m), nil
}

func (e *Engine) analyze(m *model) *analyzer.Analysis {
	tables := make([]analyzer.TargetTable, 0, len(m.targets))
	for _, t := range m.targets {
		tt := analyzer.TargetTable{
			Display: t.table.DisplayName,
			Query:   t.query,
		}
		for _, plan := range t.plans {
			tt.Columns = append(tt.Columns, analyzer.TargetColumn{
				Source:    plan.SourceColumn,
				Display:   columnName(plan),
				DataType:  plan.Type.DataType,
				HasFormat: plan.Type.FormatString != "",
			})
		}
		tables = append(tables, tt)
	}

	return analyzer.Analyze(analyzer.Input{
		Project:            m.project,
		Tables:             tables,
		RelationshipKeys:   render.GeneratedKeys(m.relationshipInput),
		PriorGeneratedKeys: m.priorGeneratedRelKeys,
		HasDateTable:       e.cfg.DateTable != nil,
		Storage:            e.cfg.Storage,
		Logger:             e.logger,
	})
}

// columnName is the TMDL column name a plan renders under: hidden plumbing
// columns keep their source name, visible ones take the display name.
func columnName(plan planner.Plan) string {
	if plan.Hidden || plan.DisplayName == "" {
		return plan.SourceColumn
	}
	return plan.DisplayName
}

// sqlEndpoint derives the SQL server and database names from the
// environment URL: the host on the TDS port, and the organization name,
// which is the first host label.
func sqlEndpoint(environmentURL string) (server, database string, err error) {
	raw := strings.TrimSpace(environmentURL)
	if raw == "" {
		return "", "", fmt.Errorf("environment_url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", fmt.Errorf("invalid environment_url %q", environmentURL)
	}
	host := u.Hostname()
	return host + "," + tdsPort, strings.SplitN(host, ".", 2)[0], nil
}
