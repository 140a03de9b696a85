package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/fetchxml"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/planner"
)

func factInput() TableInput {
	table := &metadata.Table{
		LogicalName:  "account",
		DisplayName:  "Account",
		PrimaryID:    "accountid",
		PrimaryName:  "name",
		Role:         metadata.RoleFact,
		HasStateCode: true,
		Attributes: []metadata.Attribute{
			{LogicalName: "name", DisplayName: "Account Name", Type: metadata.AttrString},
			{LogicalName: "ownerid", DisplayName: "Owner", Type: metadata.AttrOwner},
		},
	}
	plans := planner.PlanTable(table, planner.Config{Mode: config.ConnectionTDS})
	return TableInput{
		Table:          table,
		Plans:          plans,
		Storage:        config.StorageDirectQuery,
		EnvironmentURL: "https://org.crm.dynamics.com",
		Server:         "org.crm.dynamics.com,5558",
		Database:       "org",
	}
}

func TestTable_ByteStableAcrossRuns(t *testing.T) {
	in := factInput()

	// A second run seeded with the first run's identifiers must reproduce
	// the first run byte for byte.
	first := NewTagAllocator(nil)
	one := Table(in, first)
	two := Table(in, NewTagAllocator(first.Used()))
	require.Equal(t, one, two)
}

func TestTable_CRLFAndTabs(t *testing.T) {
	out := Table(factInput(), NewTagAllocator(nil))

	assert.True(t, strings.HasPrefix(out, "table Account\r\n"))
	assert.NotContains(t, strings.ReplaceAll(out, "\r\n", ""), "\n")
	assert.Contains(t, out, "\tcolumn accountid\r\n")
}

func TestTable_LineageTagReuse(t *testing.T) {
	in := factInput()
	existing := map[string]string{
		ColumnTagKey("Account", "accountid"): "11111111-1111-1111-1111-111111111111",
	}

	out := Table(in, NewTagAllocator(existing))
	assert.Contains(t, out, "lineageTag: 11111111-1111-1111-1111-111111111111")
}

func TestTable_HiddenKeyColumn(t *testing.T) {
	out := Table(factInput(), NewTagAllocator(nil))

	keyBlock := out[strings.Index(out, "column accountid"):]
	keyBlock = keyBlock[:strings.Index(keyBlock, "column 'Account Name'")]
	assert.Contains(t, keyBlock, "isHidden")
	assert.Contains(t, keyBlock, "isKey")
	assert.Contains(t, keyBlock, "sourceColumn: accountid")
}

func TestTable_FactMeasures(t *testing.T) {
	out := Table(factInput(), NewTagAllocator(nil))

	assert.Contains(t, out, "measure 'Open Account Record' = ")
	assert.Contains(t, out, "https://org.crm.dynamics.com/main.aspx?etn=account&pagetype=entityrecord&id=")
	assert.Contains(t, out, "measure 'Account Count' = COUNTROWS(Account)")
}

func TestTable_DimensionHasNoAutoMeasures(t *testing.T) {
	in := factInput()
	in.Table.Role = metadata.RoleDimension

	out := Table(in, NewTagAllocator(nil))
	assert.NotContains(t, out, "measure")
}

func TestTable_UserMeasurePreservedVerbatim(t *testing.T) {
	in := factInput()
	userBlock := "\tmeasure 'My Margin' = DIVIDE([Profit], [Revenue])\r\n\t\tformatString: 0.0%\r\n\t\tlineageTag: 99999999-9999-9999-9999-999999999999"
	in.UserMeasures = []UserMeasure{{Name: "My Margin", Text: userBlock}}

	out := Table(in, NewTagAllocator(nil))
	assert.Contains(t, out, "measure 'My Margin' = DIVIDE([Profit], [Revenue])\r\n")
	assert.Contains(t, out, "lineageTag: 99999999-9999-9999-9999-999999999999")
}

func TestTable_StaleAutoMeasureDuplicateDropped(t *testing.T) {
	in := factInput()
	in.UserMeasures = []UserMeasure{
		{Name: "Account Count", Text: "\tmeasure 'Account Count' = COUNTROWS(Account) + 1"},
	}

	out := Table(in, NewTagAllocator(nil))
	assert.NotContains(t, out, "COUNTROWS(Account) + 1")
	assert.Equal(t, 1, strings.Count(out, "measure 'Account Count'"))
}

func TestTable_DefaultActiveRecordsPredicate(t *testing.T) {
	out := Table(factInput(), NewTagAllocator(nil))
	assert.Contains(t, out, "WHERE account.statecode = 0")
}

func TestTable_FilterPredicateWins(t *testing.T) {
	in := factInput()
	in.Filter = fetchxml.Translation{Predicate: "account.statuscode = 1", FullySupported: true}

	out := Table(in, NewTagAllocator(nil))
	assert.Contains(t, out, "WHERE account.statuscode = 1")
	assert.NotContains(t, out, "statecode = 0")
}

func TestTable_NoPredicateWithoutStateColumn(t *testing.T) {
	in := factInput()
	in.Table.HasStateCode = false

	assert.NotContains(t, Query(in), "WHERE")
}

func TestTable_FormatPreservedWhenTypeUnchanged(t *testing.T) {
	in := factInput()
	in.ExistingColumns = map[string]ExistingColumn{
		"name": {
			DataType:     "string",
			FormatString: "",
			Description:  "user-edited description",
			Annotations:  []string{"annotation PBI_FormatHint = {\"isText\":true}"},
		},
	}

	out := Table(in, NewTagAllocator(nil))
	assert.Contains(t, out, "/// user-edited description")
	assert.Contains(t, out, "annotation PBI_FormatHint")
}

func TestTable_FormatResetOnTypeChange(t *testing.T) {
	in := factInput()
	in.ExistingColumns = map[string]ExistingColumn{
		"name": {
			DataType:     "int64",
			FormatString: "#,0",
			Description:  "stale",
		},
	}

	out := Table(in, NewTagAllocator(nil))
	assert.NotContains(t, out, "formatString: #,0\r\n\t\tisDefaultLabel")
	assert.NotContains(t, out, "/// stale")
}

func TestTable_DirectLakePartition(t *testing.T) {
	in := factInput()
	in.Storage = config.StorageDirectLake

	out := Table(in, NewTagAllocator(nil))
	assert.Contains(t, out, "partition Account = entity")
	assert.Contains(t, out, "mode: directLake")
	assert.Contains(t, out, "entityName: account")
	assert.NotContains(t, out, "Value.NativeQuery")
}

func TestQuery_JoinsDeduplicatedByAlias(t *testing.T) {
	table := &metadata.Table{
		LogicalName: "contact",
		DisplayName: "Contact",
		PrimaryID:   "contactid",
		Attributes: []metadata.Attribute{
			{LogicalName: "preferredcontactmethodcode", DisplayName: "Preferred Method", Type: metadata.AttrPicklist},
		},
	}
	plans := planner.PlanTable(table, planner.Config{Mode: config.ConnectionFabric})
	in := TableInput{Table: table, Plans: append(plans, plans[len(plans)-1])}

	q := Query(in)
	assert.Equal(t, 1, strings.Count(q, "LEFT JOIN OptionsetMetadata AS opt_preferredcontactmethodcode"))
}

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "Account", QuoteName("Account"))
	assert.Equal(t, "'Account Name'", QuoteName("Account Name"))
	assert.Equal(t, "'1st Table'", QuoteName("1st Table"))
	assert.Equal(t, "'It''s'", QuoteName("It's"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Account.tmdl", FileName("Account"))
	assert.Equal(t, "A_B_C.tmdl", FileName(`A/B:C`))
}
