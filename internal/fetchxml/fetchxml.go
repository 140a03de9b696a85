// Package fetchxml parses FetchXML view definitions and translates their
// filter trees into SQL predicates for generated partitions.
package fetchxml

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Document is a parsed FetchXML query.
type Document struct {
	XMLName xml.Name `xml:"fetch"`
	Entity  Entity   `xml:"entity"`
}

// Entity is the root entity of a FetchXML query.
type Entity struct {
	Name    string       `xml:"name,attr"`
	Filters []Filter     `xml:"filter"`
	Links   []LinkEntity `xml:"link-entity"`
}

// Filter is an AND/OR node containing conditions and nested filters.
type Filter struct {
	Type       string      `xml:"type,attr"`
	Conditions []Condition `xml:"condition"`
	Filters    []Filter    `xml:"filter"`
}

// IsOr reports whether children join with OR. The default (absent or any
// other value) is AND, matching FetchXML semantics.
func (f Filter) IsOr() bool {
	return strings.EqualFold(f.Type, "or")
}

// Condition is a single attribute comparison leaf.
type Condition struct {
	Attribute string           `xml:"attribute,attr"`
	Operator  string           `xml:"operator,attr"`
	Value     string           `xml:"value,attr"`
	Values    []ConditionValue `xml:"value"`
}

// ConditionValue is a child value element used by list operators.
type ConditionValue struct {
	Text string `xml:",chardata"`
}

// LinkEntity is a joined sub-entity carrying its own filters.
type LinkEntity struct {
	Name    string       `xml:"name,attr"`
	From    string       `xml:"from,attr"`
	To      string       `xml:"to,attr"`
	Alias   string       `xml:"alias,attr"`
	Filters []Filter     `xml:"filter"`
	Links   []LinkEntity `xml:"link-entity"`
}

// ParseError reports malformed FetchXML.
type ParseError struct {
	View    string
	Message string
}

func (e *ParseError) Error() string {
	if e.View != "" {
		return fmt.Sprintf("view %q: %s", e.View, e.Message)
	}
	return e.Message
}

// Parse parses a FetchXML document.
func Parse(fetchXML string) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal([]byte(fetchXML), &doc); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid FetchXML: %v", err)}
	}
	if doc.Entity.Name == "" {
		return nil, &ParseError{Message: "fetch has no entity"}
	}
	return &doc, nil
}
