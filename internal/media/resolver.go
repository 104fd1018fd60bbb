package media

import (
	"fmt"
	"strings"
)

// Manifest resolves an original filename to its durable URL.
type Manifest func(filename string) (url string, ok bool)

// Resolve rewrites every recognized, resolvable media reference in text
// and returns the render-ready form. The input is never mutated; spans
// whose filename has no manifest entry are emitted byte-identical.
//
// Recognized syntaxes, first match wins at each scan position:
//
//	src="F" / src='F' / src=F   -> src="URL"   (covers <img ... src=...>)
//	img=F                       -> src="URL"
//	[sound:F]                   -> <audio controls src="URL"></audio>
//	[source:F]                  -> <audio controls src="URL"></audio>
//
// A filename token contains letters, digits, dots, dashes and slashes,
// and terminates at whitespace, '>', a quote, ']' or the 0x1F field
// separator. Resolved output is a plain URL, so running Resolve over
// already-resolved text changes nothing.
func Resolve(text string, lookup Manifest) string {
	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for i < len(text) {
		var span int
		var replacement string
		var matched, resolved bool

		switch text[i] {
		case 's':
			span, replacement, matched, resolved = matchAssignment(text[i:], "src", lookup)
		case 'i':
			span, replacement, matched, resolved = matchAssignment(text[i:], "img", lookup)
		case '[':
			span, replacement, matched, resolved = matchBracket(text[i:], lookup)
		}

		switch {
		case matched && resolved:
			b.WriteString(replacement)
			i += span
		case matched:
			// Recognized reference without a manifest entry: keep the
			// span byte-identical, no partial rewrite.
			b.WriteString(text[i : i+span])
			i += span
		default:
			b.WriteByte(text[i])
			i++
		}
	}

	return b.String()
}

// matchAssignment recognizes `key = F` with optional whitespace around the
// equals sign and an optionally quoted filename. The canonical rewrite is
// always double-quoted src, regardless of key and input quoting.
func matchAssignment(s, key string, lookup Manifest) (span int, replacement string, matched, resolved bool) {
	if !strings.HasPrefix(s, key) {
		return 0, "", false, false
	}
	j := len(key)
	j += skipSpace(s[j:])

	if j >= len(s) || s[j] != '=' {
		return 0, "", false, false
	}
	j++
	j += skipSpace(s[j:])

	var quote byte
	if j < len(s) && (s[j] == '"' || s[j] == '\'') {
		quote = s[j]
		j++
	}

	token := scanFilename(s[j:])
	if token == "" {
		return 0, "", false, false
	}
	j += len(token)

	if quote != 0 {
		// The closing quote must immediately follow the token.
		if j >= len(s) || s[j] != quote {
			return 0, "", false, false
		}
		j++
	} else if j < len(s) && !isTerminator(s[j]) {
		return 0, "", false, false
	}

	url, ok := lookup(token)
	if !ok {
		return j, "", true, false
	}
	return j, fmt.Sprintf("src=%q", url), true, true
}

// matchBracket recognizes [sound:F] and [source:F].
func matchBracket(s string, lookup Manifest) (span int, replacement string, matched, resolved bool) {
	var j int
	switch {
	case strings.HasPrefix(s, "[sound:"):
		j = len("[sound:")
	case strings.HasPrefix(s, "[source:"):
		j = len("[source:")
	default:
		return 0, "", false, false
	}

	token := scanFilename(s[j:])
	if token == "" {
		return 0, "", false, false
	}
	j += len(token)

	if j >= len(s) || s[j] != ']' {
		return 0, "", false, false
	}
	j++

	url, ok := lookup(token)
	if !ok {
		return j, "", true, false
	}
	return j, fmt.Sprintf(`<audio controls src=%q></audio>`, url), true, true
}

// scanFilename consumes the longest run of valid filename bytes.
func scanFilename(s string) string {
	i := 0
	for i < len(s) && isFilenameByte(s[i]) {
		i++
	}
	return s[:i]
}

func isFilenameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '-' || c == '/':
		return true
	}
	return false
}

// isTerminator reports whether c legally ends an unquoted filename token.
func isTerminator(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '>', '"', '\'', ']', 0x1F:
		return true
	}
	return false
}

func skipSpace(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}
