package tmdlparse

import (
	"strings"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/render"
)

// RelationshipState is one recovered relationship block.
type RelationshipState struct {
	GUID string

	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string

	// Key is the endpoint key, built the same way the generator builds it.
	Key string

	// Text is the full block verbatim, including any marker comment lines,
	// for round-tripping user-added relationships.
	Text string
}

// TargetsDateTable reports whether the relationship points at the
// synthesized Date dimension. Date relationships are always tool-owned;
// a leftover one from a previous configuration is obsolete, never user
// intent.
func (r RelationshipState) TargetsDateTable() bool {
	return r.ToTable == render.DateTableName
}

// ParseRelationships parses a relationships file into its blocks.
func ParseRelationships(text string) []RelationshipState {
	lines := splitLines(text)

	var out []RelationshipState
	for i := 0; i < len(lines); i++ {
		m := relationshipLine.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		// Marker comments above the block travel with it.
		blockStart := i
		for blockStart > 0 && strings.HasPrefix(strings.TrimSpace(lines[blockStart-1]), "///") {
			blockStart--
		}

		end := blockEnd(lines, i)
		rel := RelationshipState{
			GUID: m[1],
			Text: strings.TrimRight(strings.Join(lines[blockStart:end+1], "\r\n"), "\r\n \t"),
		}
		for _, raw := range lines[i+1 : end+1] {
			em := endpointExpr.FindStringSubmatch(raw)
			if em == nil {
				continue
			}
			table, column := unquoteName(em[2]), unquoteName(em[3])
			if em[1] == "from" {
				rel.FromTable, rel.FromColumn = table, column
			} else {
				rel.ToTable, rel.ToColumn = table, column
			}
		}
		rel.Key = render.EndpointKey(rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn)
		out = append(out, rel)
		i = end
	}
	return out
}
