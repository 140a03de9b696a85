// Package metadata defines the Dataverse metadata model consumed by the
// synthesis pipeline and the loader for metadata snapshot files.
package metadata

// AttributeType is the Dataverse attribute type tag as reported by the
// EntityDefinitions Web API.
type AttributeType string

const (
	AttrLookup           AttributeType = "Lookup"
	AttrOwner            AttributeType = "Owner"
	AttrCustomer         AttributeType = "Customer"
	AttrPicklist         AttributeType = "Picklist"
	AttrState            AttributeType = "State"
	AttrStatus           AttributeType = "Status"
	AttrMultiSelect      AttributeType = "MultiSelectPicklist"
	AttrBoolean          AttributeType = "Boolean"
	AttrDateTime         AttributeType = "DateTime"
	AttrString           AttributeType = "String"
	AttrMemo             AttributeType = "Memo"
	AttrInteger          AttributeType = "Integer"
	AttrBigInt           AttributeType = "BigInt"
	AttrDecimal          AttributeType = "Decimal"
	AttrDouble           AttributeType = "Double"
	AttrMoney            AttributeType = "Money"
	AttrUniqueidentifier AttributeType = "Uniqueidentifier"
)

// IsLookupFamily reports whether the type resolves through a lookup id plus
// a name companion column.
func (t AttributeType) IsLookupFamily() bool {
	return t == AttrLookup || t == AttrOwner || t == AttrCustomer
}

// IsChoiceFamily reports whether the type carries an option-set label
// (single select). Booleans behave the same way for label resolution.
func (t AttributeType) IsChoiceFamily() bool {
	return t == AttrPicklist || t == AttrState || t == AttrStatus || t == AttrBoolean
}

// Attribute is one Dataverse column's metadata. Immutable once retrieved.
type Attribute struct {
	LogicalName string `json:"LogicalName"`
	SchemaName  string `json:"SchemaName"`
	DisplayName string `json:"DisplayName"`

	Type AttributeType `json:"AttributeType"`

	// Targets lists target entities for polymorphic lookups.
	Targets []string `json:"Targets,omitempty"`

	Description string `json:"Description,omitempty"`

	// IsGlobalOptionSet marks choice attributes backed by a global option
	// set; label joins then go through GlobalOptionsetMetadata.
	IsGlobalOptionSet bool   `json:"IsGlobalOptionSet,omitempty"`
	OptionSetName     string `json:"OptionSetName,omitempty"`

	// VirtualName overrides the queryable label column for choice/boolean
	// attributes whose label column does not follow the "{name}name"
	// convention.
	VirtualName string `json:"VirtualAttributeName,omitempty"`
}

// LabelColumn returns the queryable label column for choice and lookup
// attributes: the metadata-supplied virtual name when present, else the
// "{name}name" convention.
func (a Attribute) LabelColumn() string {
	if a.VirtualName != "" {
		return a.VirtualName
	}
	return a.LogicalName + "name"
}

// TableRole drives auto-measure generation and star-schema handling.
type TableRole string

const (
	RoleFact      TableRole = "Fact"
	RoleDimension TableRole = "Dimension"
	RoleOther     TableRole = "Other"
)

// View binds a table to a Dataverse saved view whose FetchXML filter is
// translated into the partition predicate.
type View struct {
	Name     string `json:"Name"`
	FetchXML string `json:"FetchXml"`
}

// Table is one exported entity with its selected attributes.
type Table struct {
	LogicalName string `json:"LogicalName"`
	SchemaName  string `json:"SchemaName"`
	DisplayName string `json:"DisplayName"`

	PrimaryID   string `json:"PrimaryIdAttribute"`
	PrimaryName string `json:"PrimaryNameAttribute"`

	// Attributes is the ordered attribute selection, unique by logical name.
	Attributes []Attribute `json:"Attributes"`

	Role TableRole `json:"Role,omitempty"`

	View *View `json:"View,omitempty"`

	// HasStateCode enables the default active-records predicate when the
	// bound view supplies no filter.
	HasStateCode bool `json:"HasStateCode,omitempty"`
}

// Attribute returns the selected attribute with the given logical name.
func (t *Table) Attribute(logicalName string) (Attribute, bool) {
	for _, a := range t.Attributes {
		if a.LogicalName == logicalName {
			return a, true
		}
	}
	return Attribute{}, false
}

// Relationship is one exported lookup relationship between two tables.
type Relationship struct {
	FromTable     string `json:"FromTable"`
	FromAttribute string `json:"FromAttribute"`
	ToTable       string `json:"ToTable"`

	Active bool `json:"Active"`

	// Snowflake marks dimension-to-dimension links; these always rely on
	// referential integrity.
	Snowflake bool `json:"Snowflake,omitempty"`
	Reverse   bool `json:"Reverse,omitempty"`

	AssumeReferentialIntegrity bool `json:"AssumeReferentialIntegrity,omitempty"`
}

// Snapshot is the full metadata export consumed by a synthesis pass.
type Snapshot struct {
	Environment string `json:"Environment"`
	Solution    string `json:"Solution"`

	Tables        []Table        `json:"Tables"`
	Relationships []Relationship `json:"Relationships,omitempty"`
}

// Table returns the exported table with the given logical name.
func (s *Snapshot) Table(logicalName string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].LogicalName == logicalName {
			return &s.Tables[i], true
		}
	}
	return nil, false
}
