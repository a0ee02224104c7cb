// Package identity canonicalises company names so that independently
// sourced spellings of the same operator compare equal.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are dropped from the end of a name, repeatedly.
var legalSuffixes = map[string]struct{}{
	"gmbh": {}, "ag": {}, "inc": {}, "incorporated": {}, "ltd": {}, "limited": {},
	"llc": {}, "co": {}, "corp": {}, "corporation": {}, "company": {}, "plc": {},
	"sa": {}, "spa": {}, "srl": {}, "bv": {}, "nv": {}, "kg": {}, "se": {},
	"oy": {}, "ab": {}, "as": {}, "pte": {}, "pty": {}, "lp": {}, "llp": {},
}

// Normalize returns the canonical form of a company name: lowercase, without
// diacritics, punctuation, redundant whitespace or trailing legal-entity
// suffixes. Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(name string) string {
	if name == "" {
		return ""
	}
	s := stripMarks(strings.ToLower(name))

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(fields) > 0 {
		if _, ok := legalSuffixes[fields[len(fields)-1]]; !ok {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
