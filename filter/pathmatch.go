package filter

import "strings"

// MatchPath matches a request path against an ant-style pattern:
//
//	?   one character within a segment
//	*   any run of characters within a segment
//	**  any number of whole segments, including none
//
// "/api/**" matches "/api", "/api/v1", and "/api/v1/orders";
// "/api/*" matches "/api/v1" but not "/api/v1/orders".
func MatchPath(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		// ** swallows zero or more segments
		if matchSegments(pattern[1:], parts) {
			return true
		}
		if len(parts) == 0 {
			return false
		}
		return matchSegments(pattern, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	if !matchSegment(pattern[0], parts[0]) {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// matchSegment matches one path segment with * and ? wildcards, greedy
// with backtracking.
func matchSegment(pattern, s string) bool {
	var starPat, starStr = -1, 0
	p, i := 0, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			starPat = p
			starStr = i
			p++
		case starPat >= 0:
			p = starPat + 1
			starStr++
			i = starStr
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
