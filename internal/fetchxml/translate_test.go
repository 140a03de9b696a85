package fetchxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translateFilter(t *testing.T, filterXML string, opts Options) Translation {
	t.Helper()
	fetch := `<fetch><entity name="account">` + filterXML + `</entity></fetch>`
	return TranslateXML(fetch, opts)
}

func TestTranslate_SimpleComparison(t *testing.T) {
	tr := translateFilter(t,
		`<filter type="and"><condition attribute="statuscode" operator="eq" value="1"/></filter>`,
		Options{BaseAlias: "Base"})

	require.True(t, tr.FullySupported)
	assert.Equal(t, "Base.statuscode = 1", tr.Predicate)
}

func TestTranslate_StringLiteralQuoting(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="name" operator="eq" value="O'Brien &amp; Co"/></filter>`,
		Options{BaseAlias: "Base"})

	require.True(t, tr.FullySupported)
	assert.Equal(t, "Base.name = 'O''Brien & Co'", tr.Predicate)
}

func TestTranslate_GuidLiteralPassesQuotedUnescaped(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="ownerid" operator="eq" value="0e46c20a-3f51-4e2c-8c14-2f3a35e92d11"/></filter>`,
		Options{})

	assert.Equal(t, "Base.ownerid = '0e46c20a-3f51-4e2c-8c14-2f3a35e92d11'", tr.Predicate)
}

func TestTranslate_Like(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="name" operator="like" value="Acme%"/></filter>`,
		Options{BaseAlias: "Base"})

	assert.Equal(t, "Base.name LIKE 'Acme%'", tr.Predicate)
}

func TestTranslate_BeginsWithAppendsWildcard(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="name" operator="begins-with" value="Acme"/></filter>`,
		Options{})

	assert.Equal(t, "Base.name LIKE 'Acme%'", tr.Predicate)
}

func TestTranslate_NullChecks(t *testing.T) {
	tr := translateFilter(t,
		`<filter type="and">
			<condition attribute="parentaccountid" operator="null"/>
			<condition attribute="name" operator="not-null"/>
		</filter>`,
		Options{})

	assert.Equal(t, "Base.parentaccountid IS NULL AND Base.name IS NOT NULL", tr.Predicate)
}

func TestTranslate_OrFilterWithNestedAnd(t *testing.T) {
	tr := translateFilter(t,
		`<filter type="or">
			<condition attribute="statuscode" operator="eq" value="1"/>
			<filter type="and">
				<condition attribute="statecode" operator="eq" value="0"/>
				<condition attribute="name" operator="not-null"/>
			</filter>
		</filter>`,
		Options{})

	assert.Equal(t,
		"Base.statuscode = 1 OR (Base.statecode = 0 AND Base.name IS NOT NULL)",
		tr.Predicate)
}

func TestTranslate_InWithChildValues(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="statuscode" operator="in">
			<value>1</value><value>2</value><value>3</value>
		</condition></filter>`,
		Options{})

	assert.Equal(t, "Base.statuscode IN (1, 2, 3)", tr.Predicate)
}

func TestTranslate_InWithCommaSplitValue(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="statuscode" operator="not-in" value="1, 2"/></filter>`,
		Options{})

	assert.Equal(t, "Base.statuscode NOT IN (1, 2)", tr.Predicate)
}

func TestTranslate_LastXDaysHalfOpenInterval(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="createdon" operator="last-x-days" value="7"/></filter>`,
		Options{})

	require.True(t, tr.FullySupported)
	assert.Equal(t,
		"(Base.createdon >= DATEADD(DAY, -7, DATEADD(DAY, DATEDIFF(DAY, 0, GETUTCDATE()), 0))"+
			" AND Base.createdon < DATEADD(DAY, 1, DATEADD(DAY, DATEDIFF(DAY, 0, GETUTCDATE()), 0)))",
		tr.Predicate)
}

func TestTranslate_NextXMonthsForwardWindow(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="estimatedclosedate" operator="next-x-months" value="3"/></filter>`,
		Options{})

	assert.Equal(t,
		"(Base.estimatedclosedate >= DATEADD(MONTH, DATEDIFF(MONTH, 0, GETUTCDATE()), 0)"+
			" AND Base.estimatedclosedate < DATEADD(MONTH, 4, DATEADD(MONTH, DATEDIFF(MONTH, 0, GETUTCDATE()), 0)))",
		tr.Predicate)
}

func TestTranslate_OlderThanXMonths(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="createdon" operator="olderthan-x-months" value="6"/></filter>`,
		Options{})

	assert.Equal(t,
		"Base.createdon < DATEADD(MONTH, -6, DATEADD(MONTH, DATEDIFF(MONTH, 0, GETUTCDATE()), 0))",
		tr.Predicate)
}

func TestTranslate_TodayUsesTimezoneShift(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="createdon" operator="today"/></filter>`,
		Options{UTCOffsetHours: -5})

	assert.Equal(t,
		"CAST(DATEADD(HOUR, -5, Base.createdon) AS date) = CAST(DATEADD(HOUR, -5, GETUTCDATE()) AS date)",
		tr.Predicate)
}

func TestTranslate_ThisWeekComparesWeekAndYear(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="createdon" operator="this-week"/></filter>`,
		Options{})

	assert.Equal(t,
		"DATEPART(ISO_WEEK, Base.createdon) = DATEPART(ISO_WEEK, GETUTCDATE())"+
			" AND YEAR(Base.createdon) = YEAR(GETUTCDATE())",
		tr.Predicate)
}

func TestTranslate_OnTruncatesBothSides(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="createdon" operator="on" value="2026-01-15"/></filter>`,
		Options{})

	assert.Equal(t,
		"CAST(Base.createdon AS date) = CAST('2026-01-15' AS date)",
		tr.Predicate)
}

func TestTranslate_UnknownOperatorDroppedAndRecorded(t *testing.T) {
	tr := translateFilter(t,
		`<filter type="and">
			<condition attribute="name" operator="under-or-equal" value="x"/>
			<condition attribute="statecode" operator="eq" value="0"/>
		</filter>`,
		Options{})

	assert.False(t, tr.FullySupported)
	require.Len(t, tr.Unsupported, 1)
	assert.Contains(t, tr.Unsupported[0], "under-or-equal")
	assert.Equal(t, "Base.statecode = 0", tr.Predicate)
}

func TestTranslate_EmptyFilterAbsorbed(t *testing.T) {
	tr := translateFilter(t, `<filter type="and"></filter>`, Options{})

	assert.True(t, tr.FullySupported)
	assert.Empty(t, tr.Predicate)
}

func TestTranslate_UserContextOperator(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="ownerid" operator="eq-userid"/></filter>`,
		Options{})

	require.True(t, tr.FullySupported)
	assert.Equal(t,
		"Base.ownerid = (SELECT systemuserid FROM systemuser WHERE domainname = SUSER_SNAME())",
		tr.Predicate)
}

func TestTranslate_UserContextStrippedForCachedMode(t *testing.T) {
	tr := translateFilter(t,
		`<filter type="and">
			<condition attribute="ownerid" operator="eq-userid"/>
			<condition attribute="statecode" operator="eq" value="0"/>
		</filter>`,
		Options{StripUserContext: true})

	assert.False(t, tr.FullySupported)
	assert.Equal(t, "Base.statecode = 0", tr.Predicate)
}

func TestTranslate_UserTeamsAlwaysFlaggedPartial(t *testing.T) {
	tr := translateFilter(t,
		`<filter><condition attribute="owningteam" operator="eq-userteams"/></filter>`,
		Options{})

	assert.False(t, tr.FullySupported)
	assert.Contains(t, tr.Predicate, "Base.owningteam IN (SELECT teammembership.teamid")
}

func TestTranslate_LinkEntityExistsSubquery(t *testing.T) {
	fetch := `<fetch><entity name="account">
		<link-entity name="contact" from="parentcustomerid" to="accountid" alias="c">
			<filter><condition attribute="statecode" operator="eq" value="0"/></filter>
		</link-entity>
	</entity></fetch>`

	tr := TranslateXML(fetch, Options{BaseAlias: "account"})

	require.True(t, tr.FullySupported)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM contact AS c WHERE c.parentcustomerid = account.accountid AND (c.statecode = 0))",
		tr.Predicate)
}

func TestTranslate_NestedLinkEntityRecursesWithNewBase(t *testing.T) {
	fetch := `<fetch><entity name="account">
		<link-entity name="contact" from="parentcustomerid" to="accountid" alias="c">
			<link-entity name="systemuser" from="systemuserid" to="ownerid" alias="u">
				<filter><condition attribute="isdisabled" operator="eq" value="0"/></filter>
			</link-entity>
		</link-entity>
	</entity></fetch>`

	tr := TranslateXML(fetch, Options{BaseAlias: "account"})

	assert.Equal(t,
		"EXISTS (SELECT 1 FROM contact AS c WHERE c.parentcustomerid = account.accountid"+
			" AND EXISTS (SELECT 1 FROM systemuser AS u WHERE u.systemuserid = c.ownerid AND (u.isdisabled = 0)))",
		tr.Predicate)
}

func TestTranslateXML_MalformedDocument(t *testing.T) {
	tr := TranslateXML("<fetch><entity", Options{})

	assert.False(t, tr.FullySupported)
	assert.Empty(t, tr.Predicate)
	require.Len(t, tr.Unsupported, 1)
}

func TestParse_MissingEntity(t *testing.T) {
	_, err := Parse("<fetch></fetch>")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
