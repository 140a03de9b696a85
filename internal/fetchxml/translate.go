package fetchxml

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Translation is the result of converting a FetchXML filter tree to SQL.
type Translation struct {
	// Predicate is the SQL boolean expression, empty when nothing could be
	// translated.
	Predicate string

	// FullySupported is false when any condition was dropped or only
	// partially expressed.
	FullySupported bool

	// Unsupported lists the specific reasons for partial support.
	Unsupported []string
}

// Options configures a translation pass.
type Options struct {
	// BaseAlias qualifies root-entity columns in the generated predicate.
	BaseAlias string

	// UTCOffsetHours shifts date arithmetic from UTC into the model's
	// reporting timezone.
	UTCOffsetHours int

	// StripUserContext removes user-identity operators entirely. Cached
	// storage modes authenticate as the refresh principal, not the
	// interactive user, so user-context predicates would be wrong there.
	StripUserContext bool

	Logger *slog.Logger
}

// Translate converts a parsed FetchXML document's filter tree into a SQL
// predicate. A filter with no translatable children is absorbed, never an
// error.
func Translate(doc *Document, opts Options) Translation {
	tr := newTranslator(opts)
	pred := tr.entity(doc.Entity)
	return tr.result(pred)
}

// TranslateXML parses and translates in one step. Malformed input yields an
// empty predicate with the failure recorded, never an error.
func TranslateXML(fetchXML string, opts Options) Translation {
	doc, err := Parse(fetchXML)
	if err != nil {
		tr := newTranslator(opts)
		tr.note("filter not translated: %v", err)
		return tr.result("")
	}
	return Translate(doc, opts)
}

type translator struct {
	opts        Options
	logger      *slog.Logger
	unsupported []string
}

func newTranslator(opts Options) *translator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.BaseAlias == "" {
		opts.BaseAlias = "Base"
	}
	return &translator{opts: opts, logger: logger}
}

func (t *translator) result(pred string) Translation {
	return Translation{
		Predicate:      pred,
		FullySupported: len(t.unsupported) == 0,
		Unsupported:    t.unsupported,
	}
}

func (t *translator) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.logger.Debug("filter translation limitation", "reason", msg)
	t.unsupported = append(t.unsupported, msg)
}

// entity translates the root entity: its filters AND its link-entity
// sub-filters, joined with AND.
func (t *translator) entity(e Entity) string {
	var parts []string
	for _, f := range e.Filters {
		if p := t.filter(f, t.opts.BaseAlias); p != "" {
			parts = append(parts, p)
		}
	}
	for _, l := range e.Links {
		if p := t.link(l, t.opts.BaseAlias); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " AND ")
}

// filter translates one AND/OR node. Nested sub-results are parenthesized.
func (t *translator) filter(f Filter, alias string) string {
	var parts []string
	for _, c := range f.Conditions {
		if p := t.condition(c, alias); p != "" {
			parts = append(parts, p)
		}
	}
	for _, nested := range f.Filters {
		if p := t.filter(nested, alias); p != "" {
			parts = append(parts, "("+p+")")
		}
	}
	if len(parts) == 0 {
		return ""
	}
	joiner := " AND "
	if f.IsOr() {
		joiner = " OR "
	}
	return strings.Join(parts, joiner)
}

// link translates a link-entity's filters as an EXISTS subquery against the
// joined entity, recursing for nested links with the link alias as the new
// base.
func (t *translator) link(l LinkEntity, baseAlias string) string {
	alias := l.Alias
	if alias == "" {
		alias = l.Name
	}

	var inner []string
	for _, f := range l.Filters {
		if p := t.filter(f, alias); p != "" {
			inner = append(inner, "("+p+")")
		}
	}
	for _, nested := range l.Links {
		if p := t.link(nested, alias); p != "" {
			inner = append(inner, p)
		}
	}

	join := fmt.Sprintf("%s.%s = %s.%s", alias, l.From, baseAlias, l.To)
	where := join
	if len(inner) > 0 {
		where = join + " AND " + strings.Join(inner, " AND ")
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s)", l.Name, alias, where)
}

var comparisonOps = map[string]string{
	"eq":  "=",
	"ne":  "<>",
	"neq": "<>",
	"gt":  ">",
	"ge":  ">=",
	"lt":  "<",
	"le":  "<=",
}

func (t *translator) condition(c Condition, alias string) string {
	col := alias + "." + c.Attribute

	if op, ok := comparisonOps[c.Operator]; ok {
		return fmt.Sprintf("%s %s %s", col, op, formatLiteral(c.Value))
	}

	switch c.Operator {
	case "null":
		return col + " IS NULL"
	case "not-null":
		return col + " IS NOT NULL"

	case "like":
		return fmt.Sprintf("%s LIKE %s", col, quote(c.Value))
	case "not-like":
		return fmt.Sprintf("%s NOT LIKE %s", col, quote(c.Value))
	case "begins-with":
		return fmt.Sprintf("%s LIKE %s", col, quote(c.Value+"%"))
	case "not-begin-with":
		return fmt.Sprintf("%s NOT LIKE %s", col, quote(c.Value+"%"))
	case "ends-with":
		return fmt.Sprintf("%s LIKE %s", col, quote("%"+c.Value))
	case "not-end-with":
		return fmt.Sprintf("%s NOT LIKE %s", col, quote("%"+c.Value))

	case "today":
		return t.onDay(col, 0)
	case "yesterday":
		return t.onDay(col, -1)
	case "tomorrow":
		return t.onDay(col, 1)

	case "this-week":
		return t.samePeriod(col, "week", 0)
	case "last-week":
		return t.samePeriod(col, "week", -1)
	case "next-week":
		return t.samePeriod(col, "week", 1)
	case "this-month":
		return t.samePeriod(col, "month", 0)
	case "last-month":
		return t.samePeriod(col, "month", -1)
	case "next-month":
		return t.samePeriod(col, "month", 1)
	case "this-year":
		return t.samePeriod(col, "year", 0)
	case "last-year":
		return t.samePeriod(col, "year", -1)
	case "next-year":
		return t.samePeriod(col, "year", 1)

	case "last-x-hours":
		return t.window(c, col, "HOUR", true)
	case "next-x-hours":
		return t.window(c, col, "HOUR", false)
	case "last-x-days":
		return t.window(c, col, "DAY", true)
	case "next-x-days":
		return t.window(c, col, "DAY", false)
	case "last-x-weeks":
		return t.window(c, col, "WEEK", true)
	case "next-x-weeks":
		return t.window(c, col, "WEEK", false)
	case "last-x-months":
		return t.window(c, col, "MONTH", true)
	case "next-x-months":
		return t.window(c, col, "MONTH", false)
	case "last-x-years":
		return t.window(c, col, "YEAR", true)
	case "next-x-years":
		return t.window(c, col, "YEAR", false)

	case "olderthan-x-months", "older-than-x-months":
		return t.olderThan(c, col, "MONTH")
	case "olderthan-x-years", "older-than-x-years":
		return t.olderThan(c, col, "YEAR")

	case "on":
		return fmt.Sprintf("CAST(%s AS date) = CAST(%s AS date)", t.shift(col), quote(c.Value))
	case "on-or-after":
		return fmt.Sprintf("CAST(%s AS date) >= CAST(%s AS date)", t.shift(col), quote(c.Value))
	case "on-or-before":
		return fmt.Sprintf("CAST(%s AS date) <= CAST(%s AS date)", t.shift(col), quote(c.Value))

	case "eq-userid", "ne-userid":
		if t.opts.StripUserContext {
			t.note("condition on %s removed: operator %s cannot run in a cached storage mode", c.Attribute, c.Operator)
			return ""
		}
		op := "="
		if c.Operator == "ne-userid" {
			op = "<>"
		}
		return fmt.Sprintf("%s %s %s", col, op, currentUserExpr)

	case "eq-userteams", "ne-userteams":
		if t.opts.StripUserContext {
			t.note("condition on %s removed: operator %s cannot run in a cached storage mode", c.Attribute, c.Operator)
			return ""
		}
		// Team membership resolution depends on backend context; flag the
		// result as partial so the user can verify it.
		t.note("operator %s on %s translated as a team-membership subquery; verify results against the source view", c.Operator, c.Attribute)
		op := "IN"
		if c.Operator == "ne-userteams" {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s %s", col, op, currentUserTeamsExpr)

	case "in", "not-in":
		values := c.listValues()
		if len(values) == 0 {
			t.note("operator %s on %s has no values", c.Operator, c.Attribute)
			return ""
		}
		formatted := make([]string, len(values))
		for i, v := range values {
			formatted[i] = formatLiteral(v)
		}
		op := "IN"
		if c.Operator == "not-in" {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(formatted, ", "))
	}

	t.note("unsupported operator %q on %s", c.Operator, c.Attribute)
	return ""
}

// listValues collects list-operator values from child value elements, or
// from a comma-split single attribute value.
func (c Condition) listValues() []string {
	if len(c.Values) > 0 {
		out := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			if s := strings.TrimSpace(v.Text); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if c.Value == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(c.Value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// currentUserExpr resolves the executing user's systemuser row on the TDS
// endpoint, where SUSER_SNAME() carries the signed-in UPN.
const currentUserExpr = "(SELECT systemuserid FROM systemuser WHERE domainname = SUSER_SNAME())"

const currentUserTeamsExpr = "(SELECT teammembership.teamid FROM teammembership" +
	" INNER JOIN systemuser ON teammembership.systemuserid = systemuser.systemuserid" +
	" WHERE systemuser.domainname = SUSER_SNAME())"

// shift moves a datetime expression from UTC into the reporting timezone.
func (t *translator) shift(expr string) string {
	if t.opts.UTCOffsetHours == 0 {
		return expr
	}
	return fmt.Sprintf("DATEADD(HOUR, %d, %s)", t.opts.UTCOffsetHours, expr)
}

// now is the timezone-shifted current instant.
func (t *translator) now() string {
	return t.shift("GETUTCDATE()")
}

// trunc truncates a datetime expression to the start of the given
// granularity using epoch-anchored DATEDIFF arithmetic.
func trunc(granularity, expr string) string {
	return fmt.Sprintf("DATEADD(%s, DATEDIFF(%s, 0, %s), 0)", granularity, granularity, expr)
}

// onDay compares the column's calendar date to today +/- an offset in days.
func (t *translator) onDay(col string, dayOffset int) string {
	ref := t.now()
	if dayOffset != 0 {
		ref = fmt.Sprintf("DATEADD(DAY, %d, %s)", dayOffset, ref)
	}
	return fmt.Sprintf("CAST(%s AS date) = CAST(%s AS date)", t.shift(col), ref)
}

// samePeriod compares the column's week/month/year parts to "now" offset by
// the given number of periods.
func (t *translator) samePeriod(col, granularity string, offset int) string {
	ref := t.now()
	if offset != 0 {
		ref = fmt.Sprintf("DATEADD(%s, %d, %s)", strings.ToUpper(granularity), offset, ref)
	}
	shifted := t.shift(col)
	switch granularity {
	case "week":
		return fmt.Sprintf("DATEPART(ISO_WEEK, %s) = DATEPART(ISO_WEEK, %s) AND YEAR(%s) = YEAR(%s)",
			shifted, ref, shifted, ref)
	case "month":
		return fmt.Sprintf("YEAR(%s) = YEAR(%s) AND MONTH(%s) = MONTH(%s)",
			shifted, ref, shifted, ref)
	default: // year
		return fmt.Sprintf("YEAR(%s) = YEAR(%s)", shifted, ref)
	}
}

// window builds the half-open interval [lower, upper) for the numeric
// relative-date operators. Backward windows cover the count of completed
// periods plus the current one; forward windows start at the current period
// and extend count periods ahead.
func (t *translator) window(c Condition, col, granularity string, backward bool) string {
	count, ok := t.intValue(c)
	if !ok {
		return ""
	}
	anchor := trunc(granularity, t.now())
	var lower, upper string
	if backward {
		lower = fmt.Sprintf("DATEADD(%s, %d, %s)", granularity, -count, anchor)
		upper = fmt.Sprintf("DATEADD(%s, 1, %s)", granularity, anchor)
	} else {
		lower = anchor
		upper = fmt.Sprintf("DATEADD(%s, %d, %s)", granularity, count+1, anchor)
	}
	shifted := t.shift(col)
	return fmt.Sprintf("(%s >= %s AND %s < %s)", shifted, lower, shifted, upper)
}

// olderThan is a strict upper bound count periods before the truncated now.
func (t *translator) olderThan(c Condition, col, granularity string) string {
	count, ok := t.intValue(c)
	if !ok {
		return ""
	}
	threshold := fmt.Sprintf("DATEADD(%s, %d, %s)", granularity, -count, trunc(granularity, t.now()))
	return fmt.Sprintf("%s < %s", t.shift(col), threshold)
}

func (t *translator) intValue(c Condition) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(c.Value))
	if err != nil {
		t.note("operator %s on %s requires an integer value, got %q", c.Operator, c.Attribute, c.Value)
		return 0, false
	}
	return n, true
}

var (
	integerPattern = regexp.MustCompile(`^-?\d+$`)
	guidPattern    = regexp.MustCompile(`^\{?[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\}?$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// formatLiteral renders a condition value as a SQL literal. Integer-looking
// tokens pass through unquoted; GUID-shaped and date-parseable tokens are
// quoted as-is; everything else is quoted with embedded quotes doubled.
func formatLiteral(value string) string {
	v := strings.TrimSpace(value)
	if integerPattern.MatchString(v) {
		return v
	}
	if guidPattern.MatchString(v) {
		return "'" + v + "'"
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return "'" + v + "'"
		}
	}
	return quote(v)
}

// quote single-quotes a string literal, doubling embedded quotes.
func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
