package render

import (
	"fmt"
	"strings"
)

// compatibilityLevel is the minimum level supporting TMDL-serialized
// semantic models.
const compatibilityLevel = 1604

// ModelInput parameterizes the model.tmdl file.
type ModelInput struct {
	Culture string

	// TableNames lists table display names in generation order; the Date
	// dimension, when present, comes last.
	TableNames []string
}

// Model renders model.tmdl.
func Model(in ModelInput) string {
	culture := in.Culture
	if culture == "" {
		culture = "en-US"
	}

	p := &printer{}
	p.line("model Model")
	p.indent()
	p.line("culture: %s", culture)
	p.line("defaultPowerBIDataSourceVersion: powerBI_V3")
	p.line("discourageImplicitMeasures")
	p.line("sourceQueryCulture: %s", culture)
	p.line("dataAccessOptions")
	p.indent()
	p.line("legacyRedirects")
	p.line("returnErrorValuesAsNull")
	p.dedent()
	p.blank()
	p.line("annotation PBI_QueryOrder = [%s]", queryOrder(in.TableNames))
	p.dedent()

	if len(in.TableNames) > 0 {
		p.blank()
		for _, name := range in.TableNames {
			p.line("ref table %s", QuoteName(name))
		}
	}
	return p.String()
}

// Database renders database.tmdl.
func Database() string {
	p := &printer{}
	p.line("database")
	p.indent()
	p.line("compatibilityLevel: %d", compatibilityLevel)
	p.dedent()
	return p.String()
}

func queryOrder(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, fmt.Sprintf("%q", n))
	}
	return strings.Join(quoted, ",")
}
