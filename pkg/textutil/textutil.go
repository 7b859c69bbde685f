// Package textutil implements the text transforms behind the `text` command:
// case conversion, base64, pattern extraction, slugs, stats and diffs.
package textutil

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CaseMode names a case conversion.
type CaseMode string

const (
	CaseUpper    CaseMode = "upper"
	CaseLower    CaseMode = "lower"
	CaseTitle    CaseMode = "title"
	CaseSnake    CaseMode = "snake"
	CaseKebab    CaseMode = "kebab"
	CaseCamel    CaseMode = "camel"
	CasePascal   CaseMode = "pascal"
	CaseConstant CaseMode = "constant"
)

// CaseModes lists every supported mode in display order.
var CaseModes = []CaseMode{CaseUpper, CaseLower, CaseTitle, CaseSnake, CaseKebab, CaseCamel, CasePascal, CaseConstant}

// ConvertCase converts s to the given case. Word based modes split on
// non-alphanumerics and on camel case boundaries, so "HTTPServer id" becomes
// "http_server_id" in snake case.
func ConvertCase(s string, mode CaseMode) (string, error) {
	switch mode {
	case CaseUpper:
		return cases.Upper(language.Und).String(s), nil
	case CaseLower:
		return cases.Lower(language.Und).String(s), nil
	case CaseTitle:
		return cases.Title(language.English).String(s), nil
	}

	words := SplitWords(s)
	lower := cases.Lower(language.Und)
	title := cases.Title(language.Und)

	switch mode {
	case CaseSnake, CaseKebab, CaseConstant:
		for i, w := range words {
			words[i] = lower.String(w)
		}
		sep := "_"
		if mode == CaseKebab {
			sep = "-"
		}
		out := strings.Join(words, sep)
		if mode == CaseConstant {
			out = strings.ToUpper(out)
		}
		return out, nil
	case CaseCamel, CasePascal:
		var b strings.Builder
		for i, w := range words {
			if i == 0 && mode == CaseCamel {
				b.WriteString(lower.String(w))
				continue
			}
			b.WriteString(title.String(w))
		}
		return b.String(), nil
	default:
		return "", errors.Errorf("unknown case mode %q", mode)
	}
}

// SplitWords breaks s into words at non-alphanumeric runes, lower-to-upper
// transitions, and the last capital of an acronym followed by a lowercase rune.
func SplitWords(s string) []string {
	runes := []rune(s)
	var words []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()

	return words
}

// Base64Encode encodes data with padding, using the URL alphabet when urlSafe is set.
func Base64Encode(data []byte, urlSafe bool) string {
	if urlSafe {
		return base64.URLEncoding.EncodeToString(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes s, ignoring whitespace and missing padding.
func Base64Decode(s string, urlSafe bool) ([]byte, error) {
	s = strings.TrimRight(strings.Join(strings.Fields(s), ""), "=")

	enc := base64.RawStdEncoding
	if urlSafe {
		enc = base64.RawURLEncoding
	}

	out, err := enc.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 input")
	}
	return out, nil
}

// ExtractKind names a built-in extraction pattern.
type ExtractKind string

const (
	ExtractEmails   ExtractKind = "emails"
	ExtractURLs     ExtractKind = "urls"
	ExtractIPv4     ExtractKind = "ipv4"
	ExtractPhone    ExtractKind = "phone"
	ExtractHashtags ExtractKind = "hashtags"
	ExtractMentions ExtractKind = "mentions"
	ExtractNumbers  ExtractKind = "numbers"
	ExtractRegex    ExtractKind = "regex"
)

// Patterns with a capture group yield the group instead of the whole match.
var extractPatterns = map[ExtractKind]*regexp.Regexp{
	ExtractEmails:   regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,}`),
	ExtractURLs:     regexp.MustCompile(`https?://[^\s<>"'\x60]+`),
	ExtractIPv4:     regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
	ExtractPhone:    regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`),
	ExtractHashtags: regexp.MustCompile(`(?:^|[^\w&])(#\w+)`),
	ExtractMentions: regexp.MustCompile(`(?:^|[^\w.])(@\w+)`),
	ExtractNumbers:  regexp.MustCompile(`-?\d+(?:\.\d+)?`),
}

// Extract returns the distinct matches of kind in s, in order of first
// appearance. For ExtractRegex the caller supplies pattern.
func Extract(s string, kind ExtractKind, pattern string) ([]string, error) {
	re, ok := extractPatterns[kind]
	if kind == ExtractRegex {
		if pattern == "" {
			return nil, errors.New("regex extraction requires a pattern")
		}
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil, errors.Wrap(err, "invalid pattern")
		}
	} else if !ok {
		return nil, errors.Errorf("unknown extraction kind %q", kind)
	}

	seen := make(map[string]bool)
	results := []string{}
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		if kind == ExtractURLs {
			v = strings.TrimRight(v, ".,;:!?)]}")
		}
		if kind == ExtractPhone {
			v = strings.TrimSpace(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		results = append(results, v)
	}
	return results, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases text and collapses every run of characters outside
// [a-z0-9] into a single dash. Empty results become "image".
func Slugify(text string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "image"
	}
	return slug
}

// SlugifyMax is Slugify truncated to at most n bytes.
func SlugifyMax(text string, n int) string {
	slug := Slugify(text)
	if n > 0 && len(slug) > n {
		slug = slug[:n]
	}
	return slug
}

// TextStats holds counts for a piece of text.
type TextStats struct {
	Lines int `json:"lines"`
	Words int `json:"words"`
	Chars int `json:"chars"`
	Bytes int `json:"bytes"`
}

// Stats counts lines, whitespace separated words, runes and bytes. A trailing
// newline does not start a new line.
func Stats(s string) TextStats {
	st := TextStats{
		Words: len(strings.Fields(s)),
		Chars: utf8.RuneCountInString(s),
		Bytes: len(s),
	}
	if s != "" {
		st.Lines = strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
	}
	return st
}

// Diff returns a unified diff from a to b. names optionally label the two
// sides and default to "a" and "b". Identical inputs produce "".
func Diff(a, b string, names ...string) string {
	oldName, newName := "a", "b"
	if len(names) > 0 {
		oldName = names[0]
	}
	if len(names) > 1 {
		newName = names[1]
	}
	return udiff.Unified(oldName, newName, a, b)
}
