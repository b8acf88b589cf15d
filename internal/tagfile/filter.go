package tagfile

import "strings"

// Keep reports whether a tags-file line survives a strip for the given set
// of excluded source paths.
//
// Header lines (leading '!') are always kept verbatim. A data line is kept
// only when it has more than three tab-separated fields and its source field
// is not excluded; anything shorter is malformed or truncated and is
// treated as stale.
func Keep(line string, excluded map[string]bool) bool {
	if strings.HasPrefix(line, "!") {
		return true
	}
	fields := strings.Split(line, "\t")
	if len(fields) <= 3 {
		return false
	}
	return !excluded[fields[1]]
}
