package completion

import "strings"

// FunctionInfo describes a built-in SQL function offered in expression
// positions.
type FunctionInfo struct {
	Name        string // e.g. "COUNT"
	Signature   string // e.g. "COUNT(expr) -> integer"
	Description string
	IsAggregate bool
}

// Functions lists the built-in functions shared by the SQLite and
// PostgreSQL dialects the live catalog connects to.
var Functions = []FunctionInfo{
	{Name: "COUNT", Signature: "COUNT(expr) -> integer", Description: "Count non-null values", IsAggregate: true},
	{Name: "SUM", Signature: "SUM(expr) -> numeric", Description: "Sum of all values", IsAggregate: true},
	{Name: "AVG", Signature: "AVG(expr) -> numeric", Description: "Average of all values", IsAggregate: true},
	{Name: "MIN", Signature: "MIN(expr) -> same", Description: "Minimum value", IsAggregate: true},
	{Name: "MAX", Signature: "MAX(expr) -> same", Description: "Maximum value", IsAggregate: true},
	{Name: "STRING_AGG", Signature: "STRING_AGG(expr, sep) -> text", Description: "Concatenate strings with separator", IsAggregate: true},

	{Name: "ABS", Signature: "ABS(x) -> numeric", Description: "Absolute value"},
	{Name: "ROUND", Signature: "ROUND(x, digits) -> numeric", Description: "Round to the given number of digits"},
	{Name: "COALESCE", Signature: "COALESCE(a, b, ...) -> same", Description: "First non-null argument"},
	{Name: "NULLIF", Signature: "NULLIF(a, b) -> same", Description: "NULL if a equals b, else a"},
	{Name: "LENGTH", Signature: "LENGTH(s) -> integer", Description: "Number of characters"},
	{Name: "LOWER", Signature: "LOWER(s) -> text", Description: "Convert to lower case"},
	{Name: "UPPER", Signature: "UPPER(s) -> text", Description: "Convert to upper case"},
	{Name: "TRIM", Signature: "TRIM(s) -> text", Description: "Remove surrounding whitespace"},
	{Name: "SUBSTR", Signature: "SUBSTR(s, start, length) -> text", Description: "Extract a substring"},
	{Name: "REPLACE", Signature: "REPLACE(s, from, to) -> text", Description: "Replace all occurrences"},
}

// SearchFunctions returns the functions whose name starts with prefix,
// ignoring case.
func SearchFunctions(prefix string) []FunctionInfo {
	if prefix == "" {
		return Functions
	}
	var out []FunctionInfo
	for _, fn := range Functions {
		if len(fn.Name) >= len(prefix) && strings.EqualFold(fn.Name[:len(prefix)], prefix) {
			out = append(out, fn)
		}
	}
	return out
}
