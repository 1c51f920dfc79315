package coordinator

import "strings"

// extractJSON pulls the first balanced JSON object (or, failing that, array)
// out of a model response, tolerating prose and markdown fences around it.
// Returns "{}" when the text carries no JSON and the unbalanced tail when
// the braces never close; the caller's decode step treats both as a
// rejection.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		start = strings.IndexByte(text, '[')
	}
	if start == -1 {
		return "{}"
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++ // the escaped byte is never structural
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return text[start:]
}
