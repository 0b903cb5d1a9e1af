// Package normalize canonicalizes concept labels so that labels coming from
// different graphs (and different spellings of the same idea) can be matched.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold strips pictographs, decomposes, and drops combining marks.
func fold(s string) string {
	t := transform.Chain(
		runes.Remove(runes.Predicate(isPictographic)),
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isPictographic(r rune) bool {
	switch {
	case r == 0x200D, r == 0x20E3, r >= 0xFE00 && r <= 0xFE0F:
		// joiners and variation selectors that glue emoji sequences together
		return true
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	}
	return unicode.Is(unicode.So, r)
}

// Label returns the normalized form of a label. Empty or whitespace-only input
// yields "".
func Label(s string) string {
	folded := strings.ToLower(fold(s))
	var b strings.Builder
	b.Grow(len(folded))
	space := true // suppresses leading whitespace
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Singularize applies naive English suffix rules to a single word.
func Singularize(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ses"), strings.HasSuffix(word, "xes"), strings.HasSuffix(word, "zes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && len(word) > 1:
		return word[:len(word)-1]
	}
	return word
}

// SingularNorm singularizes the last token of an already normalized label.
func SingularNorm(normalized string) string {
	if normalized == "" {
		return ""
	}
	i := strings.LastIndexByte(normalized, ' ')
	return normalized[:i+1] + Singularize(normalized[i+1:])
}

// Keys returns the distinct, non-empty exact-match keys for a normalized label.
func Keys(normalized string) []string {
	if normalized == "" {
		return nil
	}
	singular := SingularNorm(normalized)
	if singular == normalized || singular == "" {
		return []string{normalized}
	}
	return []string{normalized, singular}
}
