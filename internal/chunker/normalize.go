package chunker

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	honorificPattern  = `\b(Mrs|Mr|Ms|Dr|St)\.`
	referencePattern  = `\[\d+\]|\([^)]*\b\d{4}\b[^)]*\)`
	numberPattern     = `\b\d+(?:[.,:]\d+)*\b`
	whitespacePattern = `\s+`
	spacingPattern    = `\s+([.,!?;:])`
)

// Normalizer prepares raw text for chunking. Honorific abbreviations are
// expanded so that their trailing period does not end a sentence, reference
// markers such as [12] and (Smith, 2020) are dropped, plain integers are
// spelled out and typographic punctuation is mapped to plain ASCII.
type Normalizer struct {
	honorificPattern  *regexp.Regexp
	referencePattern  *regexp.Regexp
	numberPattern     *regexp.Regexp
	whitespacePattern *regexp.Regexp
	spacingPattern    *regexp.Regexp
	honorifics        map[string]string
	punctuation       *strings.Replacer
}

// NewNormalizer creates a Normalizer with precompiled patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		honorificPattern:  regexp.MustCompile(honorificPattern),
		referencePattern:  regexp.MustCompile(referencePattern),
		numberPattern:     regexp.MustCompile(numberPattern),
		whitespacePattern: regexp.MustCompile(whitespacePattern),
		spacingPattern:    regexp.MustCompile(spacingPattern),
		honorifics: map[string]string{
			"Mr.":  "Mister",
			"Mrs.": "Misses",
			"Ms.":  "Miss",
			"Dr.":  "Doctor",
			"St.":  "Saint",
		},
		punctuation: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns the cleaned text. Empty input stays empty.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	normalized := n.honorificPattern.ReplaceAllStringFunc(text, func(match string) string {
		return n.honorifics[match]
	})

	normalized = n.referencePattern.ReplaceAllString(normalized, "")
	normalized = n.numberPattern.ReplaceAllStringFunc(normalized, spellNumber)
	normalized = n.punctuation.Replace(normalized)
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")
	normalized = n.spacingPattern.ReplaceAllString(normalized, "$1")

	return strings.TrimSpace(normalized)
}

// spellNumber spells out a plain integer token. Decimals, grouped numbers and
// values beyond MaxSpelledNumber are left as written.
func spellNumber(token string) string {
	value, err := strconv.Atoi(token)
	if err != nil || value > MaxSpelledNumber {
		return token
	}

	return NumberToWords(value)
}
