package httpmetrics

import (
	"regexp"
	"strings"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// idCollections name path segments whose child segment is always an
// identifier, valid or not.
var idCollections = map[string]struct{}{
	"connections": {},
}

// NormalizePath collapses ids in a request path so metric labels stay bounded.
func NormalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}

	parts := strings.Split(path, "/")
	for i, part := range parts {
		switch {
		case part == "":
		case i > 0 && isIDCollection(parts[i-1]):
			parts[i] = "{id}"
		case uuidRegex.MatchString(part):
			parts[i] = "{id}"
		case isNumeric(part):
			parts[i] = "{param}"
		}
	}
	return strings.Join(parts, "/")
}

func isIDCollection(segment string) bool {
	_, ok := idCollections[segment]
	return ok
}

func isNumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
