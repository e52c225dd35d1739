// Package textutil has small helpers for parsing model output.
package textutil

// ExtractJSONObject returns the largest balanced {...} object in s. Models
// often wrap JSON in prose or markdown fences, so scanning for balance beats
// trusting the whole string.
func ExtractJSONObject(s string) (string, bool) {
	best := ""
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end, ok := scanBalanced(s, i); ok {
			if end-i > len(best) {
				best = s[i : end+1]
			}
			// Skip past this object so nested braces are not re-scanned.
			i = end
		}
	}
	return best, best != ""
}

// scanBalanced walks from the opening brace at start and returns the index
// of its matching close brace, honoring JSON string literals and escapes.
func scanBalanced(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
