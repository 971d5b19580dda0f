// Package category assigns events to a fixed set of labels from their name
// and description.
//
// Classification is an ordered list of rules evaluated top to bottom; the
// first rule that matches decides the label. Rule order is part of the
// behaviour: an earlier rule shadows every later rule that would also match,
// so the order is pinned by a golden file (testdata/golden/rule_order.golden).
//
// Classify never fails and depends only on its input.
package category

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Category is one label from the closed set below.
type Category string

const (
	Music      Category = "music"
	Festival   Category = "festival"
	Theatre    Category = "theatre"
	Cinema     Category = "cinema"
	Arts       Category = "arts"
	Sports     Category = "sports"
	Food       Category = "food"
	Nightlife  Category = "nightlife"
	Education  Category = "education"
	Business   Category = "business"
	Technology Category = "technology"
	Health     Category = "health"
	Family     Category = "family"
	Outdoor    Category = "outdoor"
	Market     Category = "market"
	Community  Category = "community"
	Other      Category = "other"
)

// Default is returned when no rule matches.
const Default = Other

var labels = []Category{
	Music, Festival, Theatre, Cinema, Arts, Sports, Food, Nightlife,
	Education, Business, Technology, Health, Family, Outdoor, Market,
	Community, Other,
}

// Labels returns the closed label set in display order.
func Labels() []Category {
	out := make([]Category, len(labels))
	copy(out, labels)
	return out
}

// IsKnown reports whether s is one of the closed labels.
func IsKnown(s string) bool {
	for _, l := range labels {
		if string(l) == s {
			return true
		}
	}
	return false
}

// Text is normalized classifier input: lower-case, diacritics stripped,
// split on anything that is not a letter or digit.
type Text struct {
	tokens []string
	phrase string
}

// NewText normalizes name and description into a Text.
func NewText(parts ...string) Text {
	tokens := tokenize(strings.Join(parts, " "))
	return Text{
		tokens: tokens,
		phrase: " " + strings.Join(tokens, " ") + " ",
	}
}

// Empty reports whether the text has no tokens.
func (t Text) Empty() bool {
	return len(t.tokens) == 0
}

func normalize(s string) string {
	// NFD splits base letters from combining marks so the marks can be dropped.
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
