// Package textutil builds download-safe filenames from arbitrary media
// titles, which routinely carry emoji, CJK text and path separators.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 80

// SafeFilename normalizes a title into something usable as a filename:
// NFKC-folded, path separators and control characters replaced, whitespace
// collapsed to underscores, truncated on a rune boundary.
func SafeFilename(title string) string {
	title = norm.NFKC.String(title)

	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '\x00':
			b.WriteRune('-')
		case unicode.IsControl(r):
			// drop
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "untitled"
	}

	runes := []rune(out)
	if len(runes) > maxFilenameLen {
		out = strings.Trim(string(runes[:maxFilenameLen]), "._-")
	}
	return out
}

// TitleLabel renders an operation name ("extract-audio") as a display label
// ("Extract Audio") for stats and log output.
func TitleLabel(op string) string {
	op = strings.ReplaceAll(op, "-", " ")
	return cases.Title(language.English).String(op)
}
