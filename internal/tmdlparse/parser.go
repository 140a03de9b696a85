// Package tmdlparse recovers the logical state of an on-disk TMDL project
// for comparison against freshly computed target state and for identifier
// reuse. It tolerates files written by the desktop tool, including BOMs and
// property reordering inside column blocks.
package tmdlparse

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/render"
)

// ParseError reports malformed TMDL content.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// Column is one recovered column declaration.
type Column struct {
	Name         string
	SourceColumn string
	DataType     string
	FormatString string
	SummarizeBy  string
	LineageTag   string
	Description  string
	Hidden       bool
	IsKey        bool

	// Annotations holds custom annotation lines beyond the generated
	// SummarizationSetBy one.
	Annotations []string

	// Text is the full block verbatim, for round-tripping user calculated
	// columns.
	Text string
}

// Measure is one recovered measure block.
type Measure struct {
	Name       string
	LineageTag string

	// Text is the full block verbatim for round-tripping user measures.
	Text string
}

// TableState is the recovered state of one table file.
type TableState struct {
	Name       string
	LineageTag string

	// Columns is keyed by sourceColumn; ColumnOrder preserves file order.
	Columns     map[string]Column
	ColumnOrder []string

	AutoMeasures []Measure
	UserMeasures []Measure

	// PartitionMode is the persisted execution-mode marker.
	PartitionMode string

	// Query is the recovered native query text, empty when the partition
	// carries none (calculated and entity partitions).
	Query string
}

var (
	tableLine        = regexp.MustCompile(`^table\s+(.+?)\s*$`)
	columnLine       = regexp.MustCompile(`^\tcolumn\s+('(?:[^']|'')+'|[^\s=]+)(\s*=.*)?$`)
	measureLine      = regexp.MustCompile(`^\tmeasure\s+('(?:[^']|'')+'|[^\s=]+)\s*=`)
	partitionLine    = regexp.MustCompile(`^\tpartition\s+`)
	modeLine         = regexp.MustCompile(`^\s+mode:\s*(\S+)`)
	nativeQueryExpr  = regexp.MustCompile(`Value\.NativeQuery\([^,]+,\s*"((?:[^"]|"")*)"`)
	relationshipLine = regexp.MustCompile(`^relationship\s+(\S+)\s*$`)
	endpointExpr     = regexp.MustCompile(`^\s*(from|to)Column:\s*('(?:[^']|'')+'|[^.']+)\.('(?:[^']|'')+'|.+?)\s*$`)
)

// ParseTableFile reads and parses one table file.
func ParseTableFile(path string) (*TableState, error) {
	text, err := ReadText(path)
	if err != nil {
		return nil, err
	}
	state, err := ParseTable(text)
	if err != nil {
		if perr, ok := err.(*ParseError); ok {
			perr.File = path
		}
		return nil, err
	}
	return state, nil
}

// ParseTable parses table TMDL text.
func ParseTable(text string) (*TableState, error) {
	lines := splitLines(text)
	state := &TableState{Columns: make(map[string]Column)}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := tableLine.FindStringSubmatch(line); m != nil && state.Name == "" {
			state.Name = unquoteName(m[1])
			continue
		}
		if strings.HasPrefix(line, "\tlineageTag:") && state.LineageTag == "" {
			state.LineageTag = strings.TrimSpace(strings.TrimPrefix(line, "\tlineageTag:"))
			continue
		}
		if m := columnLine.FindStringSubmatch(line); m != nil {
			col, end := parseColumn(lines, i, unquoteName(m[1]))
			// Calculated columns without a sourceColumn are user additions;
			// they are keyed by declared name so they never collide with
			// generated columns.
			key := col.SourceColumn
			if key == "" {
				key = col.Name
			}
			if _, dup := state.Columns[key]; !dup {
				state.Columns[key] = col
				state.ColumnOrder = append(state.ColumnOrder, key)
			}
			i = end
			continue
		}
		if m := measureLine.FindStringSubmatch(line); m != nil {
			meas, end := parseMeasure(lines, i, unquoteName(m[1]))
			openName, countName := render.AutoMeasureNames(state.Name)
			if meas.Name == openName || meas.Name == countName {
				state.AutoMeasures = append(state.AutoMeasures, meas)
			} else {
				state.UserMeasures = append(state.UserMeasures, meas)
			}
			i = end
			continue
		}
		if partitionLine.MatchString(line) {
			end := blockEnd(lines, i)
			block := strings.Join(lines[i:end+1], "\n")
			for _, l := range lines[i : end+1] {
				if mm := modeLine.FindStringSubmatch(l); mm != nil {
					state.PartitionMode = mm[1]
					break
				}
			}
			if m := nativeQueryExpr.FindStringSubmatch(block); m != nil {
				state.Query = strings.ReplaceAll(m[1], `""`, `"`)
			}
			i = end
			continue
		}
	}

	if state.Name == "" {
		return nil, &ParseError{Message: "no table declaration found"}
	}
	return state, nil
}

// parseColumn consumes a column block. Properties may appear in any order
// within the block (lineageTag is observed both before and after
// sourceColumn in files edited by the desktop tool), so the whole block is
// scanned before the column is assembled.
func parseColumn(lines []string, start int, name string) (Column, int) {
	col := Column{Name: name}
	col.Description = leadingDescription(lines, start)
	end := blockEnd(lines, start)
	col.Text = strings.TrimRight(strings.Join(lines[start:end+1], "\r\n"), "\r\n \t")

	for _, raw := range lines[start+1 : end+1] {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "dataType:"):
			col.DataType = strings.TrimSpace(strings.TrimPrefix(line, "dataType:"))
		case strings.HasPrefix(line, "formatString:"):
			col.FormatString = strings.TrimSpace(strings.TrimPrefix(line, "formatString:"))
		case strings.HasPrefix(line, "summarizeBy:"):
			col.SummarizeBy = strings.TrimSpace(strings.TrimPrefix(line, "summarizeBy:"))
		case strings.HasPrefix(line, "lineageTag:"):
			col.LineageTag = strings.TrimSpace(strings.TrimPrefix(line, "lineageTag:"))
		case strings.HasPrefix(line, "sourceColumn:"):
			col.SourceColumn = strings.TrimSpace(strings.TrimPrefix(line, "sourceColumn:"))
		case line == "isHidden":
			col.Hidden = true
		case line == "isKey":
			col.IsKey = true
		case strings.HasPrefix(line, "annotation "):
			if !strings.HasPrefix(line, "annotation SummarizationSetBy") {
				col.Annotations = append(col.Annotations, line)
			}
		}
	}
	return col, end
}

func parseMeasure(lines []string, start int, name string) (Measure, int) {
	end := blockEnd(lines, start)
	meas := Measure{
		Name: name,
		Text: strings.Join(lines[start:end+1], "\r\n"),
	}
	for _, raw := range lines[start+1 : end+1] {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "lineageTag:") {
			meas.LineageTag = strings.TrimSpace(strings.TrimPrefix(line, "lineageTag:"))
		}
	}
	meas.Text = strings.TrimRight(meas.Text, "\r\n \t")
	return meas, end
}

// leadingDescription collects the /// lines immediately above a block.
func leadingDescription(lines []string, start int) string {
	var desc []string
	for i := start - 1; i >= 0; i-- {
		trimmed := strings.TrimLeft(lines[i], "\t")
		if strings.HasPrefix(trimmed, "/// ") {
			desc = append([]string{strings.TrimPrefix(trimmed, "/// ")}, desc...)
			continue
		}
		break
	}
	return strings.Join(desc, "\n")
}

// blockEnd returns the index of the last line belonging to the block
// starting at start: the run of following lines that are blank or indented
// deeper than the block header, trimmed of trailing blanks.
func blockEnd(lines []string, start int) int {
	headerDepth := indentDepth(lines[start])
	end := start
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentDepth(lines[i]) <= headerDepth {
			break
		}
		end = i
	}
	return end
}

func indentDepth(line string) int {
	return len(line) - len(strings.TrimLeft(line, "\t"))
}

func splitLines(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}

// unquoteName removes TMDL name quoting.
func unquoteName(name string) string {
	if strings.HasPrefix(name, "'") && strings.HasSuffix(name, "'") && len(name) >= 2 {
		return strings.ReplaceAll(name[1:len(name)-1], "''", "'")
	}
	return name
}

// ReadText reads a file as UTF-8 text, tolerating a leading byte-order
// mark. Generated files never carry one, but files re-saved by desktop
// tools sometimes do.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	decoded, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), data)
	if err != nil {
		return "", &ParseError{File: path, Message: fmt.Sprintf("invalid encoding: %v", err)}
	}
	return string(decoded), nil
}
