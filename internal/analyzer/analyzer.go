// Package analyzer classifies the differences between the freshly computed
// target model and the project state recovered from disk. It produces the
// change report shown before generation and persisted to the run journal,
// and decides whether an incremental update is possible at all.
package analyzer

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/render"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/tmdlparse"
)

// Kind is the change category of a single record.
type Kind string

const (
	KindNew      Kind = "new"
	KindUpdate   Kind = "update"
	KindPreserve Kind = "preserve"
	KindRemove   Kind = "remove"
	KindWarning  Kind = "warning"
)

// Object names the model entity a record describes.
type Object string

const (
	ObjectProject      Object = "project"
	ObjectTable        Object = "table"
	ObjectColumn       Object = "column"
	ObjectMeasure      Object = "measure"
	ObjectRelationship Object = "relationship"
)

// Impact grades how disruptive applying a change is to user-authored
// content and report visuals.
type Impact string

const (
	ImpactSafe        Impact = "safe"
	ImpactAdditive    Impact = "additive"
	ImpactModerate    Impact = "moderate"
	ImpactDestructive Impact = "destructive"
)

var impactRank = map[Impact]int{
	ImpactSafe:        0,
	ImpactAdditive:    1,
	ImpactModerate:    2,
	ImpactDestructive: 3,
}

// Record is one line of the change report.
type Record struct {
	Kind   Kind   `json:"kind"`
	Object Object `json:"object"`
	Name   string `json:"name"`

	// Parent is the owning table for column and measure records.
	Parent string `json:"parent,omitempty"`

	Impact  Impact `json:"impact"`
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// Analysis is the full change report for one planned generation pass.
type Analysis struct {
	Records []Record `json:"records"`

	// RequiresFullRebuild is set when the on-disk project cannot be
	// reconciled incrementally and every file will be rewritten.
	RequiresFullRebuild bool `json:"requires_full_rebuild"`
}

// MaxImpact returns the highest impact across all records, or ImpactSafe
// for an empty report.
func (a *Analysis) MaxImpact() Impact {
	max := ImpactSafe
	for _, r := range a.Records {
		if impactRank[r.Impact] > impactRank[max] {
			max = r.Impact
		}
	}
	return max
}

// HasChanges reports whether anything beyond preservation was recorded.
func (a *Analysis) HasChanges() bool {
	for _, r := range a.Records {
		if r.Kind != KindPreserve {
			return true
		}
	}
	return false
}

// TargetColumn is the computed shape of one column, reduced to the fields
// that matter for change classification.
type TargetColumn struct {
	Source   string
	Display  string
	DataType string

	// HasFormat marks columns the generator assigns a default format
	// string to. Formatting beyond that is user-applied and preserved.
	HasFormat bool
}

// TargetTable is the computed shape of one table.
type TargetTable struct {
	Display string
	Columns []TargetColumn

	// Query is the generated partition SQL, empty for Direct Lake entity
	// partitions.
	Query string
}

// Input carries both sides of the comparison.
type Input struct {
	// Project is the state recovered from disk.
	Project *tmdlparse.Project

	Tables []TargetTable

	// RelationshipKeys are the endpoint keys the generator will emit,
	// including the date relationship when configured.
	RelationshipKeys []string

	// PriorGeneratedKeys are the relationship keys a previous pass
	// generated, recovered from the sidecar manifest. An existing block
	// with a prior-generated key that is no longer emitted is obsolete,
	// not user-authored.
	PriorGeneratedKeys map[string]bool

	// HasDateTable marks the Date dimension as tool-synthesized this pass,
	// so its existing file is not reported as a removed table.
	HasDateTable bool

	Storage config.StorageMode

	Logger *slog.Logger
}

// Analyze compares target state against recovered state and classifies
// every difference.
func Analyze(in Input) *Analysis {
	logger := in.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &Analysis{}

	if fresh := analyzeStructure(in, a); fresh {
		logger.Debug("no reconcilable project state, full generation", "records", len(a.Records))
		return a
	}

	analyzeStorage(in, a)

	targetNames := make(map[string]bool, len(in.Tables))
	for _, t := range in.Tables {
		targetNames[t.Display] = true
		existing, ok := in.Project.Tables[t.Display]
		if !ok {
			a.Records = append(a.Records, Record{
				Kind: KindNew, Object: ObjectTable, Name: t.Display,
				Impact:  ImpactAdditive,
				Summary: "table will be created",
			})
			continue
		}
		analyzeTable(t, existing, a)
	}

	for name, existing := range in.Project.Tables {
		if targetNames[name] {
			continue
		}
		if name == render.DateTableName && in.HasDateTable {
			continue
		}
		a.Records = append(a.Records, Record{
			Kind: KindRemove, Object: ObjectTable, Name: name,
			Impact:  ImpactDestructive,
			Summary: "table no longer in scope, file will be deleted",
			Detail:  removalDetail(existing),
		})
	}

	analyzeRelationships(in, a)
	return a
}

// analyzeStructure handles the two cases where no incremental comparison is
// possible: a project directory that does not exist yet, and one that exists
// but is missing required structure. It reports whether table comparison
// should be skipped entirely.
func analyzeStructure(in Input, a *Analysis) bool {
	missing := in.Project.MissingStructure
	if len(missing) == 0 {
		return false
	}
	a.RequiresFullRebuild = true

	if missing[0] == "." {
		// Nothing on disk at all: a clean first generation.
		for _, t := range in.Tables {
			a.Records = append(a.Records, Record{
				Kind: KindNew, Object: ObjectTable, Name: t.Display,
				Impact:  ImpactAdditive,
				Summary: "table will be created",
			})
		}
		for _, key := range in.RelationshipKeys {
			a.Records = append(a.Records, Record{
				Kind: KindNew, Object: ObjectRelationship, Name: key,
				Impact:  ImpactAdditive,
				Summary: "relationship will be created",
			})
		}
		return true
	}

	for _, element := range missing {
		a.Records = append(a.Records, Record{
			Kind: KindWarning, Object: ObjectProject, Name: element,
			Impact:  ImpactDestructive,
			Summary: "required project structure missing, full rebuild required",
			Detail:  "expected under " + in.Project.Dir,
		})
	}
	for _, t := range in.Tables {
		a.Records = append(a.Records, Record{
			Kind: KindNew, Object: ObjectTable, Name: t.Display,
			Impact:  ImpactAdditive,
			Summary: "table will be created",
		})
	}
	return true
}

// analyzeStorage detects a storage-mode transition from the partition mode
// persisted in any recovered table file.
func analyzeStorage(in Input, a *Analysis) {
	var sampled string
	for name, t := range in.Project.Tables {
		// The Date dimension always carries a calculated import partition
		// and says nothing about the project's storage mode.
		if name == render.DateTableName {
			continue
		}
		if t.PartitionMode != "" {
			sampled = t.PartitionMode
			break
		}
	}
	if sampled == "" {
		return
	}
	existing := config.NormalizeStorageMode(sampled)
	if existing == in.Storage {
		return
	}

	impact := ImpactModerate
	detail := fmt.Sprintf("every partition will switch from %s to %s", existing, in.Storage)
	if in.Storage.Cached() {
		// Entering a cached mode drops the local data cache and strips
		// user-context filters from generated queries.
		impact = ImpactDestructive
		detail += "; the local data cache will be invalidated and user-context filters removed from queries"
	}
	a.Records = append(a.Records, Record{
		Kind: KindUpdate, Object: ObjectProject, Name: "storage mode",
		Impact:  impact,
		Summary: fmt.Sprintf("storage mode changes from %s to %s", existing, in.Storage),
		Detail:  detail,
	})
}

func analyzeTable(target TargetTable, existing *tmdlparse.TableState, a *Analysis) {
	var children []Record

	targetCols := make(map[string]TargetColumn, len(target.Columns))
	for _, c := range target.Columns {
		targetCols[c.Source] = c
		prior, ok := existing.Columns[c.Source]
		if !ok {
			children = append(children, Record{
				Kind: KindNew, Object: ObjectColumn, Name: c.Display, Parent: target.Display,
				Impact:  ImpactAdditive,
				Summary: "column will be added",
			})
			continue
		}
		if prior.DataType != c.DataType {
			children = append(children, Record{
				Kind: KindUpdate, Object: ObjectColumn, Name: c.Display, Parent: target.Display,
				Impact:  ImpactModerate,
				Summary: fmt.Sprintf("data type changes from %s to %s", prior.DataType, c.DataType),
				Detail:  "user formatting on this column will be reset",
			})
			continue
		}
		if prior.Name != c.Display && c.Display != "" {
			children = append(children, Record{
				Kind: KindUpdate, Object: ObjectColumn, Name: c.Display, Parent: target.Display,
				Impact:  ImpactSafe,
				Summary: fmt.Sprintf("renamed from %q", prior.Name),
			})
			continue
		}
		if c.HasFormat != (prior.FormatString != "") {
			children = append(children, Record{
				Kind: KindUpdate, Object: ObjectColumn, Name: c.Display, Parent: target.Display,
				Impact:  ImpactSafe,
				Summary: "format string presence differs from the generated default",
			})
		}
	}

	for key, prior := range existing.Columns {
		if prior.SourceColumn == "" {
			// Calculated columns have no source binding; they are user
			// additions and survive untouched.
			children = append(children, Record{
				Kind: KindPreserve, Object: ObjectColumn, Name: prior.Name, Parent: target.Display,
				Impact:  ImpactSafe,
				Summary: "user calculated column preserved",
			})
			continue
		}
		if _, ok := targetCols[key]; !ok {
			children = append(children, Record{
				Kind: KindRemove, Object: ObjectColumn, Name: prior.Name, Parent: target.Display,
				Impact:  ImpactDestructive,
				Summary: "column no longer generated, visuals using it will break",
			})
		}
	}

	for _, m := range existing.UserMeasures {
		children = append(children, Record{
			Kind: KindPreserve, Object: ObjectMeasure, Name: m.Name, Parent: target.Display,
			Impact:  ImpactSafe,
			Summary: "user measure preserved",
		})
	}

	queryChanged := normalizeSQL(target.Query) != normalizeSQL(existing.Query)

	kind := KindPreserve
	impact := ImpactSafe
	summary := "unchanged"
	for _, c := range children {
		if c.Kind != KindPreserve {
			kind = KindUpdate
			summary = "columns change"
			if impactRank[c.Impact] > impactRank[impact] {
				impact = c.Impact
			}
		}
	}
	if queryChanged {
		kind = KindUpdate
		if summary == "unchanged" {
			summary = "partition query changes"
		} else {
			summary += ", partition query changes"
		}
	}
	a.Records = append(a.Records, Record{
		Kind: kind, Object: ObjectTable, Name: target.Display,
		Impact:  impact,
		Summary: summary,
	})
	a.Records = append(a.Records, children...)
}

func analyzeRelationships(in Input, a *Analysis) {
	existing := make(map[string]tmdlparse.RelationshipState, len(in.Project.Relationships))
	for _, r := range in.Project.Relationships {
		existing[r.Key] = r
	}

	for _, key := range in.RelationshipKeys {
		if _, ok := existing[key]; ok {
			a.Records = append(a.Records, Record{
				Kind: KindPreserve, Object: ObjectRelationship, Name: key,
				Impact:  ImpactSafe,
				Summary: "relationship preserved",
			})
			continue
		}
		a.Records = append(a.Records, Record{
			Kind: KindNew, Object: ObjectRelationship, Name: key,
			Impact:  ImpactAdditive,
			Summary: "relationship will be created",
		})
	}

	targetKeys := make(map[string]bool, len(in.RelationshipKeys))
	for _, key := range in.RelationshipKeys {
		targetKeys[key] = true
	}
	for _, r := range in.Project.Relationships {
		if targetKeys[r.Key] {
			continue
		}
		if r.TargetsDateTable() {
			// Date relationships are always tool-owned; a leftover one from
			// a previous configuration is dropped, never preserved.
			a.Records = append(a.Records, Record{
				Kind: KindWarning, Object: ObjectRelationship, Name: r.Key,
				Impact:  ImpactModerate,
				Summary: "stale date relationship will be dropped",
				Detail:  "the configured date field no longer points at this column",
			})
			continue
		}
		if in.PriorGeneratedKeys[r.Key] {
			a.Records = append(a.Records, Record{
				Kind: KindRemove, Object: ObjectRelationship, Name: r.Key,
				Impact:  ImpactDestructive,
				Summary: "relationship no longer generated, block will be dropped",
			})
			continue
		}
		a.Records = append(a.Records, Record{
			Kind: KindPreserve, Object: ObjectRelationship, Name: r.Key,
			Impact:  ImpactSafe,
			Summary: "user relationship preserved",
		})
	}
}

func removalDetail(state *tmdlparse.TableState) string {
	if n := len(state.UserMeasures); n > 0 {
		return fmt.Sprintf("%d user measure(s) on this table will be lost", n)
	}
	return ""
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// normalizeSQL reduces a query to its comparable form: comments stripped,
// whitespace collapsed, case folded. Cosmetic edits to the partition query
// never count as changes.
func normalizeSQL(query string) string {
	s := blockComment.ReplaceAllString(query, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}
