package nlp

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentStripper decomposes characters and drops combining marks, so
// "María" and "Maria" compare equal.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips accents, and collapses whitespace. All
// lexicon and option comparisons go through here.
func Normalize(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// MatchOption resolves user input against a closed option list, tolerant of
// accents, casing, and partial mentions. Returns the canonical option text.
// Input that matches nothing returns ok=false; a value outside the list is
// never produced.
func MatchOption(input string, options []string) (string, bool) {
	in := Normalize(input)
	if in == "" {
		return "", false
	}

	for _, opt := range options {
		if Normalize(opt) == in {
			return opt, true
		}
	}

	// Substring fallback: "con la doctora martinez" should match
	// "María Martinez", and a bare last name should too.
	for _, opt := range options {
		no := Normalize(opt)
		if no == "" {
			continue
		}
		if strings.Contains(in, no) || strings.Contains(no, in) {
			return opt, true
		}
		for _, word := range strings.Fields(no) {
			if len(word) >= 3 && containsWord(in, word) {
				return opt, true
			}
		}
	}

	return "", false
}

// Tokens splits normalized text into words with surrounding punctuation
// trimmed, so "hola!" and "¿cuando?" yield clean tokens.
func Tokens(text string) []string {
	fields := strings.Fields(text)
	toks := fields[:0]
	for _, f := range fields {
		tok := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if tok != "" {
			toks = append(toks, tok)
		}
	}
	return toks
}

// containsWord reports whether normalized text contains the token as a
// whole word.
func containsWord(text, word string) bool {
	for _, tok := range Tokens(text) {
		if tok == word {
			return true
		}
	}
	return false
}
