package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/memtier/internal/model"
)

const (
	defaultExpectedLength = 200
	neutralRelevance      = 0.5

	minSentenceWords = 3
	maxSentenceWords = 30
)

var (
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)
	claimRe    = regexp.MustCompile(`(?i)\b([a-z][a-z_-]{2,})\s+(?:is|are|was|were|equals|totals|costs|has|had|of)\s+\$?(-?\d+(?:\.\d+)?)`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"are": true, "was": true, "were": true, "from": true, "have": true, "has": true,
	"not": true, "but": true, "you": true, "your": true, "about": true, "into": true,
	"what": true, "when": true, "which": true, "will": true, "would": true, "there": true,
	"their": true, "they": true, "them": true, "then": true, "than": true, "its": true,
}

// Heuristic derives sub-metrics from surface features of the text.
type Heuristic struct {
	ExpectedLength int
}

// NewHeuristic returns a Heuristic strategy. expectedLength is measured in runes.
func NewHeuristic(expectedLength int) *Heuristic {
	if expectedLength <= 0 {
		expectedLength = defaultExpectedLength
	}
	return &Heuristic{ExpectedLength: expectedLength}
}

// Derive implements Strategy.
func (h *Heuristic) Derive(text, context string) model.QualityResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.QualityResult{}
	}
	return model.QualityResult{
		Completeness: h.completeness(text),
		Relevance:    relevance(text, context),
		Clarity:      clarity(text),
		Accuracy:     accuracy(text),
	}
}

func (h *Heuristic) completeness(text string) float64 {
	ratio := float64(utf8.RuneCountInString(text)) / float64(h.ExpectedLength)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// relevance is the share of context keywords present in text.
func relevance(text, context string) float64 {
	keywords := wordSet(context)
	if len(keywords) == 0 {
		return neutralRelevance
	}
	present := wordSet(text)
	hits := 0
	for k := range keywords {
		if present[k] {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		set[w] = true
	}
	return set
}

// clarity rewards sentences of moderate length that start capitalised and
// end with terminal punctuation.
func clarity(text string) float64 {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return 0
	}

	var lengthScore, terminated, capitalised float64
	for _, s := range sentences {
		n := len(strings.Fields(s))
		switch {
		case n < minSentenceWords:
			lengthScore += float64(n) / minSentenceWords
		case n > maxSentenceWords:
			lengthScore += maxSentenceWords / float64(n)
		default:
			lengthScore++
		}
		if strings.ContainsAny(s[len(s)-1:], ".!?") {
			terminated++
		}
		if r, _ := utf8.DecodeRuneInString(s); unicode.IsUpper(r) || unicode.IsDigit(r) {
			capitalised++
		}
	}
	n := float64(len(sentences))
	return 0.4*lengthScore/n + 0.3*terminated/n + 0.3*capitalised/n
}

// accuracy penalises subjects asserted with more than one number.
func accuracy(text string) float64 {
	claims := map[string]string{}
	contradicted := map[string]bool{}
	for _, m := range claimRe.FindAllStringSubmatch(text, -1) {
		subject, value := strings.ToLower(m[1]), m[2]
		if prev, ok := claims[subject]; ok {
			if prev != value {
				contradicted[subject] = true
			}
			continue
		}
		claims[subject] = value
	}
	if len(claims) == 0 {
		return 1
	}
	return 1 - float64(len(contradicted))/float64(len(claims))
}
