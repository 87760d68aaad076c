// ABOUTME: Structural view: local layout features hashed into the corpus dimension
// ABOUTME: Never calls the analyzer, so it is always available

package view

import (
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/hierarchy"
)

var (
	listPattern     = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	citationPattern = regexp.MustCompile(`\[\d+\]|\(\w[\w .&-]*,? \d{4}\)|https?://\S+`)
	numberPattern   = regexp.MustCompile(`\d+(?:[.,]\d+)*%?`)
	codePattern     = regexp.MustCompile("`[^`]+`|(?m)^```")
)

// StructuralFeatures extracts layout features of a span
func StructuralFeatures(text string, g hierarchy.Granularity) map[string]float64 {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	sentences := document.Sentences(text)
	tokens := document.Tokens(text)

	f := map[string]float64{
		"chars":     float64(len(text)),
		"lines":     float64(len(lines)),
		"sentences": float64(len(sentences)),
		"tokens":    float64(len(tokens)),
		"list":      float64(len(listPattern.FindAllString(text, -1))),
		"citation":  float64(len(citationPattern.FindAllString(text, -1))),
		"numeric":   float64(len(numberPattern.FindAllString(text, -1))),
		"code":      float64(len(codePattern.FindAllString(text, -1))),
	}
	if g == hierarchy.Section || g == hierarchy.Document {
		f["heading"] = 1
	}
	if len(sentences) > 0 {
		f["avg_sentence_tokens"] = float64(len(tokens)) / float64(len(sentences))
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		f["question"] = 1
	}
	upper := 0
	for _, r := range text {
		if r >= 'A' && r <= 'Z' {
			upper++
		}
	}
	if len(text) > 0 {
		f["upper_ratio"] = float64(upper) / float64(len(text))
	}
	return f
}

// structuralVector hashes features into dim buckets. Counts are log-scaled so
// long spans do not drown out pattern features.
func structuralVector(features map[string]float64, g hierarchy.Granularity, dim int) []float32 {
	vec := make([]float32, dim)
	add := func(name string, value float64) {
		if value == 0 {
			return
		}
		sum := xxhash.Sum64String("structural\x00" + name)
		w := math.Log1p(math.Abs(value))
		if sum>>63 == 1 {
			w = -w
		}
		vec[sum%uint64(dim)] += float32(w)
	}
	add("granularity:"+g.String(), 1)
	for _, name := range sortedKeys(features) {
		add(name, features[name])
		add(name+":bucket:"+bucket(features[name]), 1)
	}
	return vec
}

func bucket(v float64) string {
	switch {
	case v == 0:
		return "0"
	case v < 1:
		return "frac"
	case v < 4:
		return "small"
	case v < 32:
		return "medium"
	default:
		return "large"
	}
}
