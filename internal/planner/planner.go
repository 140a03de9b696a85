// Package planner derives the ordered logical column plan for one exported
// table. Each plan carries both the TMDL column declaration and the exact
// SQL fragment that produces it, so the declaration and the query can never
// diverge.
package planner

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/typemap"
)

// Kind is the closed set of column shapes the planner emits. Classification
// happens once during planning; downstream code switches on Kind instead of
// re-testing attribute types.
type Kind int

const (
	KindKey Kind = iota
	KindForeignKey
	KindLookupID
	KindLookupLabel
	KindChoiceLabel
	KindMultiChoiceLabel
	KindDateOnly
	KindRegular
)

// Join is a metadata-label join required by a column plan. Joins are
// deduplicated by alias when the query is assembled.
type Join struct {
	Alias string
	SQL   string
}

// Plan is one logical column of the generated table.
type Plan struct {
	Kind Kind

	// SourceColumn is the column name the query emits, and the TMDL
	// sourceColumn value.
	SourceColumn string

	DisplayName string
	Hidden      bool
	IsKey       bool
	IsRowLabel  bool

	Type          typemap.Mapping
	AttributeType metadata.AttributeType
	Description   string

	// SQL is the select-list fragment producing this column.
	SQL string

	Join *Join
}

// Config parameterizes a planning pass.
type Config struct {
	Mode config.ConnectionMode

	// BaseAlias qualifies source columns; the engine uses the table logical
	// name.
	BaseAlias string

	// RequiredForeignKeys lists lookup columns relationships join on, which
	// must be queryable even when not selected.
	RequiredForeignKeys []string

	// DateOnlyFields marks DateTime attributes rendered as calendar dates.
	DateOnlyFields map[string]bool

	UTCOffsetHours int

	// AliasDisplayNames emits an explicit SQL alias when display and
	// logical names differ.
	AliasDisplayNames bool

	// LanguageCode selects localized labels in metadata joins.
	LanguageCode int

	// VirtualOverride returns the configured label-column override for an
	// attribute, or "".
	VirtualOverride func(attribute string) string

	Logger *slog.Logger
}

// Attributes never queryable through either backend.
var skippedColumns = map[string]bool{
	"statuscodename":         true,
	"owningusername":         true,
	"owningteamname":         true,
	"owningbusinessunitname": true,
}

// PlanTable produces the ordered column plans for one table.
func PlanTable(table *metadata.Table, cfg Config) []Plan {
	p := &pass{
		table:   table,
		cfg:     cfg,
		logger:  cfg.Logger,
		emitted: make(map[string]bool),
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.cfg.BaseAlias == "" {
		p.cfg.BaseAlias = table.LogicalName
	}
	if p.cfg.LanguageCode == 0 {
		p.cfg.LanguageCode = 1033
	}
	return p.run()
}

type pass struct {
	table   *metadata.Table
	cfg     Config
	logger  *slog.Logger
	emitted map[string]bool
	plans   []Plan
}

func (p *pass) run() []Plan {
	// Primary key always comes first, selected or not.
	p.add(Plan{
		Kind:         KindKey,
		SourceColumn: p.table.PrimaryID,
		DisplayName:  p.table.PrimaryID,
		Hidden:       true,
		IsKey:        true,
		Type:         typemap.Key(),
		SQL:          p.qualify(p.table.PrimaryID),
	})

	// Foreign keys required by relationships must have a queryable column
	// even when the attribute was never selected. Selected attributes are
	// left to the attribute pass, which also emits their label columns.
	for _, fk := range p.cfg.RequiredForeignKeys {
		if p.emitted[fk] {
			continue
		}
		if _, ok := p.table.Attribute(fk); ok {
			continue
		}
		mapping := typemap.ForeignKey()
		p.add(Plan{
			Kind:         KindForeignKey,
			SourceColumn: fk,
			DisplayName:  fk,
			Hidden:       true,
			Type:         mapping,
			SQL:          p.qualify(fk),
		})
	}

	for _, attr := range p.table.Attributes {
		p.attribute(attr)
	}
	return p.plans
}

func (p *pass) attribute(a metadata.Attribute) {
	name := a.LogicalName
	if skippedColumns[name] || p.emitted[name] {
		return
	}

	switch {
	case a.Type.IsLookupFamily():
		p.lookup(a)
	case a.Type == metadata.AttrMultiSelect:
		p.multiSelect(a)
	case a.Type.IsChoiceFamily():
		p.choice(a)
	case a.Type == metadata.AttrDateTime && p.cfg.DateOnlyFields[name]:
		p.dateOnly(a)
	default:
		p.regular(a)
	}
}

// lookup emits the hidden id column plus a visible label column sourced
// from the name companion, unless the companion is an owning-entity name
// field that neither backend can serve.
func (p *pass) lookup(a metadata.Attribute) {
	p.add(Plan{
		Kind:          KindLookupID,
		SourceColumn:  a.LogicalName,
		DisplayName:   a.LogicalName,
		Hidden:        true,
		Type:          typemap.Map(a.Type, p.cfg.Mode),
		AttributeType: a.Type,
		SQL:           p.qualify(a.LogicalName),
	})

	label := p.labelColumn(a)
	if skippedColumns[label] {
		p.logger.Debug("lookup label unavailable, id column only",
			"table", p.table.LogicalName, "attribute", a.LogicalName, "label", label)
		return
	}
	if p.emitted[label] {
		return
	}
	p.add(p.aliased(Plan{
		Kind:          KindLookupLabel,
		SourceColumn:  label,
		DisplayName:   a.DisplayName,
		Type:          typemap.Mapping{DataType: "string", ProviderType: "nvarchar", SummarizeBy: "none"},
		AttributeType: a.Type,
		Description:   a.Description,
		SQL:           p.qualify(label),
	}))
}

// choice emits a single visible label column. Under TDS the label is the
// virtual companion column; under Fabric it needs a metadata-table join.
func (p *pass) choice(a metadata.Attribute) {
	if p.cfg.Mode == config.ConnectionTDS {
		label := p.labelColumn(a)
		if p.emitted[label] {
			return
		}
		p.add(p.aliased(Plan{
			Kind:          KindChoiceLabel,
			SourceColumn:  label,
			DisplayName:   a.DisplayName,
			Type:          typemap.Map(a.Type, p.cfg.Mode),
			AttributeType: a.Type,
			Description:   a.Description,
			SQL:           p.qualify(label),
		}))
		return
	}

	out := a.LogicalName + "name"
	if p.emitted[out] {
		return
	}
	join := p.metadataJoin(a)
	p.add(p.aliased(Plan{
		Kind:          KindChoiceLabel,
		SourceColumn:  out,
		DisplayName:   a.DisplayName,
		Type:          typemap.Map(a.Type, p.cfg.Mode),
		AttributeType: a.Type,
		Description:   a.Description,
		SQL:           fmt.Sprintf("%s.LocalizedLabel AS %s", join.Alias, out),
		Join:          &join,
	}))
}

// multiSelect emits one label column whose value is the comma-joined list
// of option labels.
func (p *pass) multiSelect(a metadata.Attribute) {
	if p.cfg.Mode == config.ConnectionTDS {
		label := p.labelColumn(a)
		if p.emitted[label] {
			return
		}
		p.add(p.aliased(Plan{
			Kind:          KindMultiChoiceLabel,
			SourceColumn:  label,
			DisplayName:   a.DisplayName,
			Type:          typemap.Map(a.Type, p.cfg.Mode),
			AttributeType: a.Type,
			Description:   a.Description,
			SQL:           p.qualify(label),
		}))
		return
	}

	out := a.LogicalName + "name"
	if p.emitted[out] {
		return
	}
	sql := fmt.Sprintf(
		"(SELECT STRING_AGG(m.LocalizedLabel, ', ') FROM OptionsetMetadata AS m"+
			" WHERE m.EntityName = '%s' AND m.OptionSetName = '%s' AND m.LocalizedLabelLanguageCode = %d"+
			" AND m.[Option] IN (SELECT value FROM STRING_SPLIT(%s, ','))) AS %s",
		p.table.LogicalName, a.LogicalName, p.cfg.LanguageCode, p.qualify(a.LogicalName), out)
	p.add(p.aliased(Plan{
		Kind:          KindMultiChoiceLabel,
		SourceColumn:  out,
		DisplayName:   a.DisplayName,
		Type:          typemap.Map(a.Type, p.cfg.Mode),
		AttributeType: a.Type,
		Description:   a.Description,
		SQL:           sql,
	}))
}

// dateOnly truncates a DateTime to a timezone-shifted calendar date.
func (p *pass) dateOnly(a metadata.Attribute) {
	col := p.qualify(a.LogicalName)
	shifted := col
	if p.cfg.UTCOffsetHours != 0 {
		shifted = fmt.Sprintf("DATEADD(HOUR, %d, %s)", p.cfg.UTCOffsetHours, col)
	}
	mapping := typemap.Map(a.Type, p.cfg.Mode)
	mapping.FormatString = "Short Date"
	p.add(p.aliased(Plan{
		Kind:          KindDateOnly,
		SourceColumn:  a.LogicalName,
		DisplayName:   a.DisplayName,
		Type:          mapping,
		AttributeType: a.Type,
		Description:   a.Description,
		SQL:           fmt.Sprintf("CAST(%s AS date) AS %s", shifted, a.LogicalName),
	}))
}

func (p *pass) regular(a metadata.Attribute) {
	p.add(p.aliased(Plan{
		Kind:          KindRegular,
		SourceColumn:  a.LogicalName,
		DisplayName:   a.DisplayName,
		IsRowLabel:    a.LogicalName == p.table.PrimaryName,
		Type:          typemap.Map(a.Type, p.cfg.Mode),
		AttributeType: a.Type,
		Description:   a.Description,
		SQL:           p.qualify(a.LogicalName),
	}))
}

// aliased applies the display-name alias policy to a visible plan: the SQL
// output column (and therefore the TMDL sourceColumn) becomes the display
// name. Hidden key and foreign-key plans are never aliased.
func (p *pass) aliased(plan Plan) Plan {
	if !p.cfg.AliasDisplayNames || plan.Hidden || plan.IsKey {
		return plan
	}
	if plan.DisplayName == "" || plan.DisplayName == plan.SourceColumn {
		return plan
	}
	if strings.Contains(plan.SQL, " AS ") {
		// Expression fragments already carry an output name; rewrite it.
		idx := strings.LastIndex(plan.SQL, " AS ")
		plan.SQL = plan.SQL[:idx] + " AS " + bracket(plan.DisplayName)
	} else {
		plan.SQL = plan.SQL + " AS " + bracket(plan.DisplayName)
	}
	plan.SourceColumn = plan.DisplayName
	return plan
}

func (p *pass) labelColumn(a metadata.Attribute) string {
	if p.cfg.VirtualOverride != nil {
		if o := p.cfg.VirtualOverride(a.LogicalName); o != "" {
			return o
		}
	}
	return a.LabelColumn()
}

// metadataJoin builds the Fabric label join for a choice attribute. State
// and status attributes have dedicated metadata tables; global option sets
// resolve through GlobalOptionsetMetadata, everything else through
// OptionsetMetadata keyed by entity name.
func (p *pass) metadataJoin(a metadata.Attribute) Join {
	alias := "opt_" + a.LogicalName
	lang := p.cfg.LanguageCode
	base := p.qualify(a.LogicalName)

	switch {
	case a.Type == metadata.AttrState:
		return Join{Alias: alias, SQL: fmt.Sprintf(
			"LEFT JOIN StateMetadata AS %s ON %s.EntityName = '%s' AND %s.State = %s AND %s.LocalizedLabelLanguageCode = %d",
			alias, alias, p.table.LogicalName, alias, base, alias, lang)}
	case a.Type == metadata.AttrStatus:
		return Join{Alias: alias, SQL: fmt.Sprintf(
			"LEFT JOIN StatusMetadata AS %s ON %s.EntityName = '%s' AND %s.Status = %s AND %s.LocalizedLabelLanguageCode = %d",
			alias, alias, p.table.LogicalName, alias, base, alias, lang)}
	case a.IsGlobalOptionSet:
		optionSet := a.OptionSetName
		if optionSet == "" {
			optionSet = a.LogicalName
		}
		return Join{Alias: alias, SQL: fmt.Sprintf(
			"LEFT JOIN GlobalOptionsetMetadata AS %s ON %s.OptionSetName = '%s' AND %s.[Option] = %s AND %s.LocalizedLabelLanguageCode = %d",
			alias, alias, optionSet, alias, base, alias, lang)}
	default:
		return Join{Alias: alias, SQL: fmt.Sprintf(
			"LEFT JOIN OptionsetMetadata AS %s ON %s.EntityName = '%s' AND %s.OptionSetName = '%s' AND %s.[Option] = %s AND %s.LocalizedLabelLanguageCode = %d",
			alias, alias, p.table.LogicalName, alias, a.LogicalName, alias, base, alias, lang)}
	}
}

func (p *pass) add(plan Plan) {
	p.plans = append(p.plans, plan)
	p.emitted[plan.SourceColumn] = true
}

func (p *pass) qualify(column string) string {
	return p.cfg.BaseAlias + "." + column
}

// bracket wraps a SQL identifier in brackets, doubling any closing bracket.
func bracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
