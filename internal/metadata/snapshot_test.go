package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `{
  "Environment": "https://contoso.crm.dynamics.com",
  "Solution": "sales",
  "Tables": [
    {
      "LogicalName": "account",
      "DisplayName": "Account",
      "PrimaryIdAttribute": "accountid",
      "PrimaryNameAttribute": "name",
      "Role": "Dimension",
      "HasStateCode": true,
      "Attributes": [
        {"LogicalName": "name", "DisplayName": "Account Name", "AttributeType": "String"},
        {"LogicalName": "ownerid", "DisplayName": "Owner", "AttributeType": "Owner"},
        {"LogicalName": "ownerid", "DisplayName": "Owner (dup)", "AttributeType": "Owner"},
        {"LogicalName": "statuscode", "DisplayName": "Status Reason", "AttributeType": "Status"}
      ],
      "View": {"Name": "Active Accounts", "FetchXml": "<fetch/>"}
    },
    {
      "LogicalName": "contact",
      "PrimaryIdAttribute": "contactid",
      "Attributes": [
        {"LogicalName": "fullname", "SchemaName": "FullName", "AttributeType": "String"}
      ]
    }
  ],
  "Relationships": [
    {"FromTable": "contact", "FromAttribute": "parentcustomerid", "ToTable": "account", "Active": true}
  ]
}`

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSnapshot(t *testing.T) {
	snap, err := LoadSnapshot(writeSnapshot(t, sampleSnapshot))
	require.NoError(t, err)

	require.Len(t, snap.Tables, 2)
	account, ok := snap.Table("account")
	require.True(t, ok)
	assert.Equal(t, "Account", account.DisplayName)
	assert.Equal(t, RoleDimension, account.Role)
	assert.True(t, account.HasStateCode)
	require.NotNil(t, account.View)
	assert.Equal(t, "<fetch/>", account.View.FetchXML)

	// Duplicate attribute selections collapse to the first occurrence.
	require.Len(t, account.Attributes, 3)
	owner, ok := account.Attribute("ownerid")
	require.True(t, ok)
	assert.Equal(t, "Owner", owner.DisplayName)

	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "parentcustomerid", snap.Relationships[0].FromAttribute)
}

func TestLoadSnapshot_DefaultsApplied(t *testing.T) {
	snap, err := LoadSnapshot(writeSnapshot(t, sampleSnapshot))
	require.NoError(t, err)

	contact, ok := snap.Table("contact")
	require.True(t, ok)
	assert.Equal(t, "contact", contact.DisplayName)
	assert.Equal(t, RoleOther, contact.Role)
	assert.Equal(t, "FullName", contact.Attributes[0].DisplayName)
}

func TestLoadSnapshot_DuplicateTableRejected(t *testing.T) {
	dup := `{"Tables": [
		{"LogicalName": "account", "PrimaryIdAttribute": "accountid"},
		{"LogicalName": "account", "PrimaryIdAttribute": "accountid"}
	]}`
	_, err := LoadSnapshot(writeSnapshot(t, dup))
	require.Error(t, err)

	var serr *SnapshotError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Message, "duplicate table")
}

func TestLoadSnapshot_MissingPrimaryIDRejected(t *testing.T) {
	_, err := LoadSnapshot(writeSnapshot(t, `{"Tables": [{"LogicalName": "account"}]}`))
	require.Error(t, err)
}

func TestLoadSnapshot_InvalidJSON(t *testing.T) {
	_, err := LoadSnapshot(writeSnapshot(t, "{not json"))
	var serr *SnapshotError
	require.ErrorAs(t, err, &serr)
}

func TestAttributeTypeFamilies(t *testing.T) {
	assert.True(t, AttrLookup.IsLookupFamily())
	assert.True(t, AttrOwner.IsLookupFamily())
	assert.True(t, AttrCustomer.IsLookupFamily())
	assert.False(t, AttrPicklist.IsLookupFamily())

	assert.True(t, AttrPicklist.IsChoiceFamily())
	assert.True(t, AttrState.IsChoiceFamily())
	assert.True(t, AttrStatus.IsChoiceFamily())
	assert.True(t, AttrBoolean.IsChoiceFamily())
	assert.False(t, AttrMultiSelect.IsChoiceFamily())
}

func TestLabelColumn(t *testing.T) {
	assert.Equal(t, "statecodename", Attribute{LogicalName: "statecode"}.LabelColumn())
	assert.Equal(t, "owninguseridname",
		Attribute{LogicalName: "owninguser", VirtualName: "owninguseridname"}.LabelColumn())
}
