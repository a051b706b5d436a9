// Package parser turns fetched documents into result counts.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Rule is one pattern of the extractor. Rules are tried in slice order.
type Rule struct {
	Name    string
	Locale  string
	pattern *regexp.Regexp
}

// Match holds a successful extraction.
type Match struct {
	Count    int
	Evidence string
	Rule     string
}

// number accepts grouped digits ("123.456", "1 234", "12,345") or a plain run.
// The leading class keeps a match from starting inside another number.
const number = `(?:^|[^\d.,])(\d{1,3}(?:[.,\s\x{00A0}\x{202F}]\d{3})+|\d+)`

const space = `[\s\x{00A0}\x{202F}]`

var unitWords = []struct {
	locale string
	words  string
}{
	{"pt", `resultados?`},
	{"en", `results?`},
	{"fr", `r[ée]sultats?`},
	{"de", `ergebnisse?`},
	{"it", `risultat[oi]|risultats`},
}

// DefaultRules is the extractor's fixed priority list: approximate counts,
// then plain counts, then the "unit: count" form, each per language.
var DefaultRules = buildRules()

func buildRules() []Rule {
	var rules []Rule
	for _, u := range unitWords {
		rules = append(rules, Rule{
			Name:    "approx-" + u.locale,
			Locale:  u.locale,
			pattern: regexp.MustCompile(`(?i)~` + space + `*` + `(\d{1,3}(?:[.,\s\x{00A0}\x{202F}]\d{3})+|\d+)` + space + `+(?:` + u.words + `)\b`),
		})
	}
	for _, u := range unitWords {
		rules = append(rules, Rule{
			Name:    "count-" + u.locale,
			Locale:  u.locale,
			pattern: regexp.MustCompile(`(?i)` + number + space + `+(?:` + u.words + `)\b`),
		})
	}
	for _, u := range unitWords {
		rules = append(rules, Rule{
			Name:    "label-" + u.locale,
			Locale:  u.locale,
			pattern: regexp.MustCompile(`(?i)\b(?:` + u.words + `)` + space + `*[~:]` + space + `*~?` + space + `*(\d{1,3}(?:[.,]\d{3})+|\d+)`),
		})
	}
	return rules
}

// Extract applies DefaultRules to text. ok is false when nothing matched,
// which is an ordinary outcome rather than an error.
func Extract(text string) (Match, bool) {
	return ExtractWith(DefaultRules, text)
}

// ExtractWith applies rules in order and returns the first usable match.
func ExtractWith(rules []Rule, text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}
	for _, rule := range rules {
		for _, loc := range rule.pattern.FindAllStringSubmatchIndex(text, -1) {
			if len(loc) < 4 || loc[2] < 0 {
				continue
			}
			n, ok := parseCount(text[loc[2]:loc[3]])
			if !ok {
				continue
			}
			return Match{
				Count:    n,
				Evidence: strings.TrimLeftFunc(text[loc[0]:loc[1]], notEvidence),
				Rule:     rule.Name,
			}, true
		}
	}
	return Match{}, false
}

// parseCount strips thousand separators and parses a non-negative integer.
func parseCount(raw string) (int, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func notEvidence(r rune) bool {
	return r != '~' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
