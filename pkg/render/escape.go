package render

import (
	"fmt"
	"html"
	"strings"
)

// Dialect is the markup escaping mode applied to rendered text
type Dialect string

// supported dialects; the empty dialect performs no escaping
const (
	DialectNone       Dialect = ""
	DialectMarkdown   Dialect = "Markdown"
	DialectMarkdownV2 Dialect = "MarkdownV2"
	DialectHTML       Dialect = "HTML"
)

// UnsupportedDialectError is a configuration error: the render call must be
// rejected, the item is not delivered.
type UnsupportedDialectError struct {
	Dialect Dialect
}

func (e *UnsupportedDialectError) Error() string {
	return fmt.Sprintf("unsupported parse mode %q", string(e.Dialect))
}

const (
	markdownV1Chars = "_*`["
	markdownV2Chars = "_*[]()~`>#+-=|{}.!"
)

// Escape escapes text for the given dialect. Escaping is intentionally not
// idempotent: reserved characters are escaped blindly, so already-escaped
// text picks up another backslash ("a\.b" becomes "a\\.b"). Use the
// no-escape marker for values that already carry markup.
func Escape(text string, d Dialect) (string, error) {
	switch d {
	case DialectNone:
		return text, nil
	case DialectMarkdown:
		return escapeChars(text, markdownV1Chars), nil
	case DialectMarkdownV2:
		return escapeChars(text, markdownV2Chars), nil
	case DialectHTML:
		return html.EscapeString(text), nil
	default:
		return "", &UnsupportedDialectError{Dialect: d}
	}
}

func escapeChars(text, chars string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(chars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
