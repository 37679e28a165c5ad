// Package content validates and sanitizes user-submitted pin text.
package content

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation errors. Handlers map these to 400 responses.
var (
	ErrEmpty       = errors.New("message cannot be empty")
	ErrTooLong     = errors.New("message exceeds maximum length")
	ErrBlocked     = errors.New("message contains inappropriate language")
	ErrSpam        = errors.New("message appears to be spam")
	ErrNoSubstance = errors.New("message must contain at least one letter or number")
)

// MaxLength is the maximum pin content length in characters.
const MaxLength = 500

// maxRepeatRun is the longest allowed run of one repeated character.
// Anything longer is treated as spam.
const maxRepeatRun = 16

// DefaultBlockedTerms seeds the filter. Kept deliberately short: only
// severe slurs, so ordinary venting is never rejected. Matching happens on
// normalized text, so leetspeak and separator tricks do not bypass it.
var DefaultBlockedTerms = []string{"nigger", "fag", "cunt"}

// leetReplacer undoes common character substitutions before blocklist
// matching.
var leetReplacer = strings.NewReplacer(
	"0", "o", "1", "i", "3", "e", "4", "a", "5", "s",
	"7", "t", "@", "a", "$", "s", "!", "i",
)

var (
	separatorPattern = regexp.MustCompile(`[._\-\s]+`)
	spacesPattern    = regexp.MustCompile(`[ \t]+`)
	newlinesPattern  = regexp.MustCompile(`\n{3,}`)
)

// Filter validates pin content against length, blocklist, and spam rules.
type Filter struct {
	blocked []string
}

// NewFilter creates a filter with the given blocked terms. Terms are
// matched against normalized text.
func NewFilter(blocked []string) *Filter {
	normalized := make([]string, 0, len(blocked))
	for _, term := range blocked {
		normalized = append(normalized, Normalize(term))
	}
	return &Filter{blocked: normalized}
}

// NewDefaultFilter creates a filter seeded with DefaultBlockedTerms.
func NewDefaultFilter() *Filter {
	return NewFilter(DefaultBlockedTerms)
}

// Validate runs the full pipeline and returns the sanitized content.
// The returned error is one of the package's validation errors.
func (f *Filter) Validate(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(raw) > MaxLength {
		return "", ErrTooLong
	}

	sanitized := Sanitize(raw)

	normalized := Normalize(sanitized)
	for _, term := range f.blocked {
		if strings.Contains(normalized, term) {
			return "", ErrBlocked
		}
	}
	if hasExcessiveRepeats(sanitized) {
		return "", ErrSpam
	}
	if !hasSubstance(sanitized) {
		return "", ErrNoSubstance
	}
	return sanitized, nil
}

// Sanitize escapes HTML entities, collapses runs of spaces and tabs,
// limits consecutive newlines to two, and trims the edges.
func Sanitize(raw string) string {
	s := html.EscapeString(raw)
	s = spacesPattern.ReplaceAllString(s, " ")
	s = newlinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Normalize lowercases, undoes leetspeak, and strips separators so that
// obfuscated terms still hit the blocklist.
func Normalize(s string) string {
	n := leetReplacer.Replace(strings.ToLower(s))
	return separatorPattern.ReplaceAllString(n, "")
}

// hasExcessiveRepeats reports whether any single character repeats
// maxRepeatRun times in a row, case-insensitively.
func hasExcessiveRepeats(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		r = unicode.ToLower(r)
		if r == prev {
			run++
			if run >= maxRepeatRun {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// hasSubstance requires at least one letter, digit, or underscore.
func hasSubstance(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return true
		}
	}
	return false
}
