package render

import (
	"regexp"
	"strings"
)

// plainName matches TMDL object names that can appear unquoted: letters,
// digits and underscores, not starting with a digit.
var plainName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteName quotes a TMDL object name when it contains spaces, punctuation
// or a leading digit.
func QuoteName(name string) string {
	if plainName.MatchString(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// invalidFileChars are replaced by underscore in generated file names.
var invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// FileName converts a table display name into its on-disk file name.
func FileName(displayName string) string {
	return invalidFileChars.ReplaceAllString(displayName, "_") + ".tmdl"
}

// EndpointKey identifies a relationship by its endpoints, independent of
// any GUID. The same key computed from target state and from parsed
// existing state must match, so both sides build it through this function.
func EndpointKey(fromTable, fromColumn, toTable, toColumn string) string {
	return fromTable + "." + fromColumn + "->" + toTable + "." + toColumn
}
