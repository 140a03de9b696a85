package render

import (
	"log/slog"
	"strings"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
)

// DateTableName is the display name of the synthesized Date dimension.
const DateTableName = "Date"

// DateKeyColumn is the Date dimension's key column.
const DateKeyColumn = "Date"

// userRelationshipMarker tags preserved user-added relationship blocks.
const userRelationshipMarker = "/// user-defined relationship"

// RelationshipInput is everything needed to render the relationships file.
type RelationshipInput struct {
	Tables        []*metadata.Table
	Relationships []metadata.Relationship
	DateTable     *config.DateTableConfig

	// UserRelationships are parsed blocks not generated by this tool,
	// preserved verbatim.
	UserRelationships []string

	Logger *slog.Logger
}

// resolved is one relationship that survived endpoint resolution.
type resolved struct {
	rel  metadata.Relationship
	from *metadata.Table
	to   *metadata.Table
	key  string

	// date marks the synthesized date-table relationship.
	date bool
}

// Relationships renders the relationships file and returns its text along
// with the set of generated endpoint keys.
func Relationships(in RelationshipInput, tags *TagAllocator) (string, []string) {
	rels := resolve(in)

	p := &printer{}
	keys := make([]string, 0, len(rels))
	for i, r := range rels {
		if i > 0 {
			p.blank()
		}
		keys = append(keys, r.key)
		block(p, r, tags)
	}

	for _, raw := range in.UserRelationships {
		p.blank()
		if !strings.Contains(raw, userRelationshipMarker) {
			p.line("%s", userRelationshipMarker)
		}
		p.raw(raw)
	}

	return p.String(), keys
}

// GeneratedKeys computes the endpoint keys the generator would emit,
// without writing anything. The existing-state parser uses this set to tell
// tool-owned relationships from user-added ones.
func GeneratedKeys(in RelationshipInput) []string {
	rels := resolve(in)
	keys := make([]string, 0, len(rels))
	for _, r := range rels {
		keys = append(keys, r.key)
	}
	return keys
}

func resolve(in RelationshipInput) []resolved {
	logger := in.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	byName := make(map[string]*metadata.Table, len(in.Tables))
	for _, t := range in.Tables {
		byName[t.LogicalName] = t
	}

	var out []resolved
	for _, rel := range in.Relationships {
		from, okFrom := byName[rel.FromTable]
		to, okTo := byName[rel.ToTable]
		if !okFrom || !okTo {
			// Endpoint outside the current table selection: dropped, by
			// contract silently.
			logger.Debug("relationship skipped, endpoint not selected",
				"from", rel.FromTable, "to", rel.ToTable)
			continue
		}
		out = append(out, resolved{
			rel:  rel,
			from: from,
			to:   to,
			key:  EndpointKey(from.DisplayName, rel.FromAttribute, to.DisplayName, to.PrimaryID),
		})
	}

	if r, ok := dateRelationship(in, byName, logger); ok {
		out = append(out, r)
	}
	return out
}

// dateRelationship synthesizes the single relationship to the Date
// dimension when configured and the field resolves in the current
// selection. A date relationship to a nonexistent field is never
// fabricated.
func dateRelationship(in RelationshipInput, byName map[string]*metadata.Table, logger *slog.Logger) (resolved, bool) {
	cfg := in.DateTable
	if cfg == nil || cfg.Table == "" || cfg.Field == "" {
		return resolved{}, false
	}
	from, ok := byName[cfg.Table]
	if !ok {
		logger.Warn("date relationship skipped, table not selected", "table", cfg.Table)
		return resolved{}, false
	}
	attr, ok := from.Attribute(cfg.Field)
	if !ok {
		logger.Warn("date relationship skipped, field not selected",
			"table", cfg.Table, "field", cfg.Field)
		return resolved{}, false
	}

	// The date field renders as a visible column under its display name, so
	// the relationship endpoint must use that name, not the logical one.
	fieldName := attr.DisplayName
	if fieldName == "" {
		fieldName = cfg.Field
	}
	return resolved{
		rel: metadata.Relationship{
			FromTable:     cfg.Table,
			FromAttribute: fieldName,
			ToTable:       DateTableName,
			Active:        true,
		},
		from: from,
		to: &metadata.Table{
			LogicalName: DateTableName,
			DisplayName: DateTableName,
			PrimaryID:   DateKeyColumn,
		},
		key:  EndpointKey(from.DisplayName, fieldName, DateTableName, DateKeyColumn),
		date: true,
	}, true
}

func block(p *printer, r resolved, tags *TagAllocator) {
	p.line("relationship %s", tags.Tag(RelationshipKey(r.key)))
	p.indent()
	p.line("fromColumn: %s.%s", QuoteName(r.from.DisplayName), QuoteName(r.rel.FromAttribute))
	p.line("toColumn: %s.%s", QuoteName(r.to.DisplayName), QuoteName(r.to.PrimaryID))
	if !r.rel.Active {
		p.line("isActive: false")
	}
	if r.rel.Reverse {
		p.line("crossFilteringBehavior: bothDirections")
	}
	if r.rel.AssumeReferentialIntegrity || r.rel.Snowflake {
		p.line("relyOnReferentialIntegrity: true")
	}
	if r.date {
		p.line("joinOnDateBehavior: datePartOnly")
	}
	p.dedent()
}
