package helpers

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExtractJSON finds and returns the first JSON object or array in s.
// Generative models wrap JSON in prose or Markdown fences more often than
// not, so the scan unwraps a leading code fence and then searches for a
// balanced {...} or [...] while ignoring braces inside strings.
func ExtractJSON(s string) (string, error) {
	s = trimBOM(strings.TrimSpace(s))

	if inner, ok := stripFirstCodeFence(s); ok {
		s = strings.TrimSpace(inner)
	}

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		if out, ok := extractBalancedJSONFrom(s, 0); ok {
			return out, nil
		}
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := extractBalancedJSONFrom(s, i); ok {
				return out, nil
			}
		}
	}

	return "", errors.New("no balanced JSON object/array found")
}

// CollapseWhitespace normalises runs of whitespace to single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FirstSentences returns the first n sentences of text, where a sentence
// ends at '.', '!' or '?' followed by whitespace or end of input. When fewer
// sentence boundaries exist the whole text is returned.
func FirstSentences(text string, n int) string {
	text = CollapseWhitespace(text)
	if n <= 0 || text == "" {
		return ""
	}
	count := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 >= len(text) {
				return text
			}
			if unicode.IsSpace(rune(text[i+1])) {
				count++
				if count == n {
					return strings.TrimSpace(text[:i+1])
				}
			}
		}
	}
	return text
}

// Truncate caps s at limit bytes without splitting a rune, appending an
// ellipsis when anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// stripFirstCodeFence removes the first fenced code block if s starts with
// ``` or ~~~, tolerating an optional language tag.
func stripFirstCodeFence(s string) (inner string, ok bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	fence := ""
	switch {
	case strings.HasPrefix(trim, "```"):
		fence = "```"
	case strings.HasPrefix(trim, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := trim[len(fence):]
	idx := strings.IndexByte(rest, '\n')
	if idx == -1 {
		return "", false
	}
	rest = rest[idx+1:]
	if end := strings.Index(rest, fence); end != -1 {
		return rest[:end], true
	}
	return "", false
}

// extractBalancedJSONFrom extracts a balanced JSON value starting at startIdx.
// It handles nested objects/arrays, strings and escape sequences.
func extractBalancedJSONFrom(s string, startIdx int) (string, bool) {
	if startIdx < 0 || startIdx >= len(s) {
		return "", false
	}
	open := s[startIdx]
	if open != '{' && open != '[' {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		escape   bool
	)
	stack = append(stack, open)

	for i := startIdx + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[startIdx : i+1], true
			}
		}
	}
	return "", false
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
