package render

import (
	"fmt"
	"strings"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/fetchxml"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/planner"
)

// ExistingColumn is the prior state of a generated column, recovered from
// disk, used to preserve user-applied formatting across regeneration.
type ExistingColumn struct {
	DataType     string
	FormatString string
	SummarizeBy  string
	Description  string

	// Annotations holds custom annotation lines beyond the generated
	// SummarizationSetBy one, verbatim without indentation.
	Annotations []string
}

// UserMeasure is a measure block recovered from an existing table file.
type UserMeasure struct {
	Name string
	// Text is the full block verbatim, starting at the "measure" line with
	// its original single-tab indentation.
	Text string
}

// TableInput is everything needed to render one table file.
type TableInput struct {
	Table  *metadata.Table
	Plans  []planner.Plan
	Filter fetchxml.Translation

	Storage        config.StorageMode
	EnvironmentURL string

	// Server and Database locate the SQL endpoint in generated M partitions.
	Server   string
	Database string

	// ExistingColumns is keyed by sourceColumn.
	ExistingColumns map[string]ExistingColumn

	// UserColumns are calculated-column blocks recovered from the existing
	// file, appended verbatim after the generated columns.
	UserColumns []string

	// UserMeasures are appended verbatim before the partition block.
	// Entries colliding with the auto-generated measure names are dropped.
	UserMeasures []UserMeasure
}

// Auto-measure name suffixes for fact tables.
const (
	openRecordMeasurePrefix = "Open "
	openRecordMeasureSuffix = " Record"
	countMeasureSuffix      = " Count"
)

// AutoMeasureNames returns the two always-present measure names for a fact
// table.
func AutoMeasureNames(displayName string) (openRecord, count string) {
	return openRecordMeasurePrefix + displayName + openRecordMeasureSuffix,
		displayName + countMeasureSuffix
}

// Table renders one table's TMDL text.
func Table(in TableInput, tags *TagAllocator) string {
	p := &printer{}
	name := in.Table.DisplayName

	p.line("table %s", QuoteName(name))
	p.indent()
	p.line("lineageTag: %s", tags.Tag(TableTagKey(name)))

	for _, plan := range in.Plans {
		p.blank()
		column(p, name, plan, in.ExistingColumns, tags)
	}

	for _, c := range in.UserColumns {
		p.blank()
		p.raw(c)
	}

	if in.Table.Role == metadata.RoleFact {
		autoMeasures(p, in, tags)
	}

	openName, countName := AutoMeasureNames(name)
	for _, m := range in.UserMeasures {
		if m.Name == openName || m.Name == countName {
			// Stale duplicate of an auto-generated measure from an earlier
			// run; the freshly generated one wins.
			continue
		}
		p.blank()
		p.raw(m.Text)
	}

	p.blank()
	partition(p, in)

	p.blank()
	p.line("annotation PBI_ResultType = Table")
	p.dedent()

	return p.String()
}

// column renders one column declaration, reusing the prior lineage tag for
// the (table, source-column) pair and preserving prior formatting when the
// computed storage type is unchanged.
func column(p *printer, tableName string, plan planner.Plan, existing map[string]ExistingColumn, tags *TagAllocator) {
	dataType := plan.Type.DataType
	formatString := plan.Type.FormatString
	summarizeBy := plan.Type.SummarizeBy
	if summarizeBy == "" {
		summarizeBy = "none"
	}
	description := plan.Description
	var customAnnotations []string

	if prior, ok := existing[plan.SourceColumn]; ok && prior.DataType == dataType {
		// Same storage type as last run: user formatting survives. A type
		// change resets to computed defaults and is surfaced by the change
		// analyzer as a moderate-impact change.
		formatString = prior.FormatString
		if prior.SummarizeBy != "" {
			summarizeBy = prior.SummarizeBy
		}
		if prior.Description != "" {
			description = prior.Description
		}
		customAnnotations = prior.Annotations
	}

	if description != "" {
		for _, l := range strings.Split(description, "\n") {
			p.line("/// %s", strings.TrimRight(l, "\r"))
		}
	}
	p.line("column %s", QuoteName(displayOrSource(plan)))
	p.indent()
	p.line("dataType: %s", dataType)
	if formatString != "" {
		p.line("formatString: %s", formatString)
	}
	if plan.Hidden {
		p.line("isHidden")
	}
	if plan.IsKey {
		p.line("isKey")
	}
	if plan.IsRowLabel {
		p.line("isDefaultLabel")
	}
	if plan.Type.ProviderType != "" {
		p.line("sourceProviderType: %s", plan.Type.ProviderType)
	}
	p.line("lineageTag: %s", tags.Tag(ColumnTagKey(tableName, plan.SourceColumn)))
	p.line("summarizeBy: %s", summarizeBy)
	p.line("sourceColumn: %s", plan.SourceColumn)
	p.blank()
	p.line("annotation SummarizationSetBy = Automatic")
	for _, a := range customAnnotations {
		p.blank()
		p.line("%s", a)
	}
	p.dedent()
}

func displayOrSource(plan planner.Plan) string {
	if plan.Hidden || plan.DisplayName == "" {
		return plan.SourceColumn
	}
	return plan.DisplayName
}

// autoMeasures renders the two always-present fact-table measures with
// lineage tags keyed by their fixed names.
func autoMeasures(p *printer, in TableInput, tags *TagAllocator) {
	name := in.Table.DisplayName
	openName, countName := AutoMeasureNames(name)

	p.blank()
	p.line("measure %s = \"%s/main.aspx?etn=%s&pagetype=entityrecord&id=\" & SELECTEDVALUE(%s[%s])",
		QuoteName(openName),
		strings.TrimRight(in.EnvironmentURL, "/"),
		in.Table.LogicalName,
		QuoteName(name),
		in.Table.PrimaryID)
	p.indent()
	p.line("lineageTag: %s", tags.Tag(MeasureTagKey(name, openName)))
	p.line("dataCategory: WebUrl")
	p.dedent()

	p.blank()
	p.line("measure %s = COUNTROWS(%s)", QuoteName(countName), QuoteName(name))
	p.indent()
	p.line("formatString: #,0")
	p.line("lineageTag: %s", tags.Tag(MeasureTagKey(name, countName)))
	p.dedent()
}

// partition renders the query block. Direct Lake partitions reference the
// lakehouse entity; all other modes embed the generated native query in an
// M expression.
func partition(p *printer, in TableInput) {
	name := in.Table.DisplayName

	if in.Storage == config.StorageDirectLake {
		p.line("partition %s = entity", QuoteName(name))
		p.indent()
		p.line("mode: %s", in.Storage.PartitionMode())
		p.line("source")
		p.indent()
		p.line("entityName: %s", in.Table.LogicalName)
		p.line("schemaName: dbo")
		p.line("expressionSource: DatabaseQuery")
		p.dedent()
		p.dedent()
		return
	}

	query := Query(in)
	p.line("partition %s = m", QuoteName(name))
	p.indent()
	p.line("mode: %s", in.Storage.PartitionMode())
	p.line("source =")
	p.indent()
	p.line("let")
	p.indent()
	p.line(`Source = Sql.Database("%s", "%s"),`, in.Server, in.Database)
	p.line(`Query = Value.NativeQuery(Source, "%s", null, [EnableFolding = true])`,
		strings.ReplaceAll(query, `"`, `""`))
	p.dedent()
	p.line("in")
	p.indent()
	p.line("Query")
	p.dedent()
	p.dedent()
	p.dedent()
}

// Query assembles the partition SQL: the select list in plan order, the
// metadata joins deduplicated by alias, and the WHERE clause from the
// filter translation, falling back to the active-records predicate for
// tables that track a state column.
func Query(in TableInput) string {
	base := in.Table.LogicalName

	selects := make([]string, 0, len(in.Plans))
	var joins []string
	seenJoins := make(map[string]bool)
	for _, plan := range in.Plans {
		selects = append(selects, plan.SQL)
		if plan.Join != nil && !seenJoins[plan.Join.Alias] {
			seenJoins[plan.Join.Alias] = true
			joins = append(joins, plan.Join.SQL)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s AS %s", strings.Join(selects, ", "), base, base)
	for _, j := range joins {
		b.WriteString(" ")
		b.WriteString(j)
	}

	switch {
	case in.Filter.Predicate != "":
		fmt.Fprintf(&b, " WHERE %s", in.Filter.Predicate)
	case in.Table.HasStateCode:
		fmt.Fprintf(&b, " WHERE %s.statecode = 0", base)
	}
	return b.String()
}
