package render

import (
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
)

// DateTable renders the synthesized Date dimension as a calculated table
// spanning the configured year range.
func DateTable(cfg *config.DateTableConfig, tags *TagAllocator) string {
	p := &printer{}

	p.line("table %s", DateTableName)
	p.indent()
	p.line("lineageTag: %s", tags.Tag(TableTagKey(DateTableName)))
	p.line("dataCategory: Time")

	p.blank()
	p.line("column %s", DateKeyColumn)
	p.indent()
	p.line("dataType: dateTime")
	p.line("formatString: Short Date")
	p.line("isKey")
	p.line("isNameInferred")
	p.line("lineageTag: %s", tags.Tag(ColumnTagKey(DateTableName, DateKeyColumn)))
	p.line("summarizeBy: none")
	p.line("sourceColumn: [Date]")
	p.blank()
	p.line("annotation SummarizationSetBy = Automatic")
	p.dedent()

	calculated := []struct {
		name     string
		expr     string
		dataType string
		sortBy   string
	}{
		{"Year", "YEAR([Date])", "int64", ""},
		{"Month Number", "MONTH([Date])", "int64", ""},
		{"Month", `FORMAT([Date], "MMMM")`, "string", "Month Number"},
		{"Quarter", `"Q" & FORMAT([Date], "Q")`, "string", ""},
		{"Year Month", `FORMAT([Date], "YYYY-MM")`, "string", ""},
	}
	for _, c := range calculated {
		p.blank()
		p.line("column %s = %s", QuoteName(c.name), c.expr)
		p.indent()
		p.line("dataType: %s", c.dataType)
		if c.sortBy != "" {
			p.line("sortByColumn: %s", QuoteName(c.sortBy))
		}
		p.line("lineageTag: %s", tags.Tag(ColumnTagKey(DateTableName, c.name)))
		p.line("summarizeBy: none")
		p.blank()
		p.line("annotation SummarizationSetBy = Automatic")
		p.dedent()
	}

	p.blank()
	p.line("partition %s = calculated", DateTableName)
	p.indent()
	p.line("mode: import")
	p.line("source = CALENDAR(DATE(%d, 1, 1), DATE(%d, 12, 31))", cfg.StartYear, cfg.EndYear)
	p.dedent()

	p.blank()
	p.line("annotation PBI_ResultType = Table")
	p.dedent()

	return p.String()
}
