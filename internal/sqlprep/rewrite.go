package sqlprep

import "strings"

const SchemePrefix = "s3://"

// ReplaceTableName swaps the first quoted s3:// literal in query for the bare
// logicalName. The span runs from the nearest quote before the scheme (or the
// start of the query) through the next quote after it (or the end of the
// query). Text outside the span is kept verbatim. The rewrite is textual, so
// it is only correct when the literal appears once and contains no escaped
// quotes.
func ReplaceTableName(query, logicalName string) string {
	start := strings.Index(query, SchemePrefix)
	if start < 0 {
		return query
	}

	open := strings.LastIndexAny(query[:start], `'"`)
	if open < 0 {
		open = 0
	}
	end := len(query)
	if idx := strings.IndexAny(query[start:], `'"`); idx >= 0 {
		end = start + idx + 1
	}
	return query[:open] + logicalName + query[end:]
}
