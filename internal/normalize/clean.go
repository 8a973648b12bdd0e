package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern    = regexp.MustCompile(`http\S+|www\S+|https\S+`)
	handlePattern = regexp.MustCompile(`[@#][\p{L}\p{N}_]+`)
)

// Clean strips URLs, @mentions and #hashtags, drops every character that is
// not an ASCII letter or whitespace, collapses whitespace and lowercases.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = urlPattern.ReplaceAllString(text, "")
	text = handlePattern.ReplaceAllString(text, "")
	text = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
