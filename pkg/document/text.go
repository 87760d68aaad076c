// ABOUTME: Tokenization shared by hashing analyzer, change detection and concept extraction
// ABOUTME: Lowercased letter tokens, stopword filtering and sentence splitting

package document

import (
	"regexp"
	"strings"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "not", "no", "has", "have", "had", "do", "does", "did", "each", "which", "who", "what", "when", "where", "how", "all", "any", "both", "more", "most", "other", "some", "only", "also", "may", "must", "we", "you", "they", "our", "your", "their",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokens returns lowercased word and number tokens in order
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Terms returns content-bearing tokens: no stopwords, no numbers, at least three letters
func Terms(text string) []string {
	raw := Tokens(text)
	out := raw[:0]
	for _, t := range raw {
		if len([]rune(t)) < 3 || t[0] >= '0' && t[0] <= '9' {
			continue
		}
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsStopword reports whether token is in the stopword list
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Sentences splits text on terminal punctuation; text without any yields one sentence
func Sentences(text string) []string {
	found := sentencePattern.FindAllString(text, -1)
	if len(found) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	out := make([]string, 0, len(found))
	for _, s := range found {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeHeading folds case and whitespace for heading alignment
func NormalizeHeading(h string) string {
	return spacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), " ")
}

// Jaccard returns the Jaccard similarity of the token sets of a and b.
// Two empty texts are identical.
func Jaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	toks := Tokens(text)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}
