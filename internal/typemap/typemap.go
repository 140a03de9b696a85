// Package typemap maps Dataverse attribute types onto TMDL column typing.
package typemap

import (
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
)

// Mapping is the TMDL-side typing for one attribute.
type Mapping struct {
	// DataType is the TMDL storage type (string, int64, double, dateTime,
	// boolean).
	DataType string

	// FormatString is the default display format, empty for none.
	FormatString string

	// ProviderType hints the source provider type in the dataSource
	// annotation.
	ProviderType string

	// SummarizeBy is the default aggregation (none, sum, count).
	SummarizeBy string
}

// Map resolves the TMDL typing for an attribute type under a connection
// mode. Unknown or empty tags map to a generic text type with no
// aggregation.
//
// Money, Decimal and Double all map to double rather than a fixed decimal:
// Power BI widens these on load, so emitting decimal would make every
// subsequent comparison pass report a phantom type change. The mapping is
// deliberately the post-widening type so regeneration is idempotent.
func Map(t metadata.AttributeType, mode config.ConnectionMode) Mapping {
	switch t {
	case metadata.AttrInteger:
		return Mapping{DataType: "int64", FormatString: "0", ProviderType: "int", SummarizeBy: "sum"}
	case metadata.AttrBigInt:
		return Mapping{DataType: "int64", FormatString: "0", ProviderType: "bigint", SummarizeBy: "sum"}
	case metadata.AttrDecimal, metadata.AttrDouble:
		return Mapping{DataType: "double", FormatString: "#,0.00", ProviderType: "float", SummarizeBy: "sum"}
	case metadata.AttrMoney:
		return Mapping{DataType: "double", FormatString: `\$#,0.00;(\$#,0.00);\$#,0.00`, ProviderType: "money", SummarizeBy: "sum"}
	case metadata.AttrDateTime:
		return Mapping{DataType: "dateTime", FormatString: "General Date", ProviderType: "datetime2", SummarizeBy: "none"}
	case metadata.AttrUniqueidentifier:
		return Mapping{DataType: "string", ProviderType: "uniqueidentifier", SummarizeBy: "none"}
	case metadata.AttrLookup, metadata.AttrOwner, metadata.AttrCustomer:
		// The id column itself; label companions map as strings.
		return Mapping{DataType: "string", ProviderType: "uniqueidentifier", SummarizeBy: "none"}
	case metadata.AttrBoolean, metadata.AttrPicklist, metadata.AttrState,
		metadata.AttrStatus, metadata.AttrMultiSelect:
		// Rendered as their label text in both connection modes.
		return Mapping{DataType: "string", ProviderType: labelProviderType(mode), SummarizeBy: "none"}
	case metadata.AttrString, metadata.AttrMemo:
		return Mapping{DataType: "string", ProviderType: "nvarchar", SummarizeBy: "none"}
	default:
		return Mapping{DataType: "string", SummarizeBy: "none"}
	}
}

func labelProviderType(mode config.ConnectionMode) string {
	if mode == config.ConnectionFabric {
		// Labels come from the metadata tables' LocalizedLabel column.
		return "varchar"
	}
	return "nvarchar"
}

// ForeignKey is the typing for hidden join columns synthesized for
// relationships whose attribute was not otherwise selected.
func ForeignKey() Mapping {
	return Mapping{DataType: "int64", ProviderType: "int", SummarizeBy: "none"}
}

// Key is the typing for primary-key columns.
func Key() Mapping {
	return Mapping{DataType: "string", ProviderType: "uniqueidentifier", SummarizeBy: "none"}
}
