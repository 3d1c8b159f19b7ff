package processing

import (
	"strings"
	"unicode"
)

// Normalizer turns raw document text into the token sequence stored in the
// dataset: lowercase, punctuation stripped, split into words, stopwords dropped.
type Normalizer struct {
	stopwords Stopwords
}

// NewNormalizer builds a normalizer around a precomputed stopword set.
// A nil set keeps every token.
func NewNormalizer(stopwords Stopwords) *Normalizer {
	if stopwords == nil {
		stopwords = Stopwords{}
	}
	return &Normalizer{stopwords: stopwords}
}

// Normalize returns the non-stopword tokens of text in document order.
// Duplicates are kept.
func (n *Normalizer) Normalize(text string) []string {
	tokens := Tokenize(StripPunctuation(strings.ToLower(text)))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if n.stopwords.Contains(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// IsStopword reports whether token would be dropped by Normalize.
func (n *Normalizer) IsStopword(token string) bool {
	return n.stopwords.Contains(token)
}

// StripPunctuation deletes punctuation and symbol runes without inserting
// separators, so "e-mail" becomes "email".
func StripPunctuation(input string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, input)
}

// Tokenize splits text into words. Any rune that is not a letter, digit or
// combining mark separates tokens.
func Tokenize(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
}
