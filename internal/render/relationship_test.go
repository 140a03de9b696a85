package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/metadata"
)

func starSchema() RelationshipInput {
	return RelationshipInput{
		Tables: []*metadata.Table{
			{
				LogicalName: "opportunity", DisplayName: "Opportunity",
				PrimaryID: "opportunityid", Role: metadata.RoleFact,
				Attributes: []metadata.Attribute{
					{LogicalName: "customerid", DisplayName: "Customer", Type: metadata.AttrCustomer},
					{LogicalName: "estimatedclosedate", DisplayName: "Est. Close", Type: metadata.AttrDateTime},
				},
			},
			{
				LogicalName: "account", DisplayName: "Account",
				PrimaryID: "accountid", Role: metadata.RoleDimension,
			},
		},
		Relationships: []metadata.Relationship{
			{FromTable: "opportunity", FromAttribute: "customerid", ToTable: "account", Active: true},
		},
	}
}

func TestRelationships_BasicBlock(t *testing.T) {
	out, keys := Relationships(starSchema(), NewTagAllocator(nil))

	require.Len(t, keys, 1)
	assert.Equal(t, "Opportunity.customerid->Account.accountid", keys[0])
	assert.Contains(t, out, "fromColumn: Opportunity.customerid\r\n")
	assert.Contains(t, out, "toColumn: Account.accountid\r\n")
	assert.NotContains(t, out, "isActive: false")
}

func TestRelationships_DanglingEndpointDropped(t *testing.T) {
	in := starSchema()
	in.Relationships = append(in.Relationships, metadata.Relationship{
		FromTable: "opportunity", FromAttribute: "pricelevelid", ToTable: "pricelevel", Active: true,
	})

	_, keys := Relationships(in, NewTagAllocator(nil))
	assert.Len(t, keys, 1)
}

func TestRelationships_GUIDReuseByEndpointKey(t *testing.T) {
	in := starSchema()
	existing := map[string]string{
		RelationshipKey("Opportunity.customerid->Account.accountid"): "22222222-2222-2222-2222-222222222222",
	}

	out, _ := Relationships(in, NewTagAllocator(existing))
	assert.Contains(t, out, "relationship 22222222-2222-2222-2222-222222222222")
}

func TestRelationships_InactiveAndRIFlags(t *testing.T) {
	in := starSchema()
	in.Relationships[0].Active = false
	in.Relationships[0].Snowflake = true

	out, _ := Relationships(in, NewTagAllocator(nil))
	assert.Contains(t, out, "isActive: false")
	assert.Contains(t, out, "relyOnReferentialIntegrity: true")
}

func TestRelationships_DateRelationshipSynthesized(t *testing.T) {
	in := starSchema()
	in.DateTable = &config.DateTableConfig{Table: "opportunity", Field: "estimatedclosedate"}

	out, keys := Relationships(in, NewTagAllocator(nil))
	require.Len(t, keys, 2)
	assert.Equal(t, "Opportunity.Est. Close->Date.Date", keys[1])
	assert.Contains(t, out, "fromColumn: Opportunity.'Est. Close'\r\n")
	// At most one date relationship is ever generated.
	assert.Equal(t, 1, strings.Count(out, "toColumn: Date.Date\r\n"))
}

func TestRelationships_DateFieldNotSelectedSkipped(t *testing.T) {
	in := starSchema()
	in.DateTable = &config.DateTableConfig{Table: "opportunity", Field: "actualclosedate"}

	_, keys := Relationships(in, NewTagAllocator(nil))
	assert.Len(t, keys, 1)
}

func TestRelationships_UserBlockPreservedWithMarker(t *testing.T) {
	in := starSchema()
	in.UserRelationships = []string{
		"relationship 33333333-3333-3333-3333-333333333333\r\n\tfromColumn: Opportunity.ownerid\r\n\ttoColumn: Team.teamid",
	}

	out, _ := Relationships(in, NewTagAllocator(nil))
	assert.Contains(t, out, userRelationshipMarker)
	assert.Contains(t, out, "toColumn: Team.teamid")
}

func TestRelationships_MarkedUserBlockNotDoubleMarked(t *testing.T) {
	in := starSchema()
	in.UserRelationships = []string{
		userRelationshipMarker + "\r\nrelationship 44444444-4444-4444-4444-444444444444\r\n\tfromColumn: Opportunity.ownerid\r\n\ttoColumn: Team.teamid",
	}

	out, _ := Relationships(in, NewTagAllocator(nil))
	assert.Equal(t, 1, strings.Count(out, userRelationshipMarker))
}

func TestGeneratedKeys_MatchesRender(t *testing.T) {
	in := starSchema()
	in.DateTable = &config.DateTableConfig{Table: "opportunity", Field: "estimatedclosedate"}

	_, rendered := Relationships(in, NewTagAllocator(nil))
	assert.Equal(t, rendered, GeneratedKeys(in))
}

func TestDateTable_StableAndSpansYears(t *testing.T) {
	cfg := &config.DateTableConfig{StartYear: 2021, EndYear: 2027}

	first := NewTagAllocator(nil)
	one := DateTable(cfg, first)
	two := DateTable(cfg, NewTagAllocator(first.Used()))

	assert.Equal(t, one, two)
	assert.Contains(t, one, "source = CALENDAR(DATE(2021, 1, 1), DATE(2027, 12, 31))")
	assert.Contains(t, one, "dataCategory: Time")
}
