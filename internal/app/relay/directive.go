package relay

import "strings"

// directivePrefix opens the embedded retrieval directive. The tag name is
// case-sensitive; the payload runs to the first closing bracket.
const directivePrefix = "[RAG_QUERY:"

// ParseDirective extracts the retrieval directive from model output, if any.
// Only the first well-formed tag counts; anything after it, including further
// tags, stays in the clean text. Absence of a directive is the normal path,
// not an error: clean equals text and query is empty.
func ParseDirective(text string) (clean string, query string) {
	start := strings.Index(text, directivePrefix)
	if start < 0 {
		return text, ""
	}
	rest := text[start+len(directivePrefix):]
	end := strings.Index(rest, "]")
	if end < 0 {
		// Unclosed tag: treat as plain text.
		return text, ""
	}

	query = strings.TrimSpace(rest[:end])
	clean = strings.TrimSpace(text[:start] + rest[end+1:])
	return clean, query
}
