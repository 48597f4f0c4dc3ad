package linguist

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"alixia/internal/ticket"
)

// Analyzer splits text into sentences and annotates each one. Returned
// sentences carry no ID; the room assigns them.
type Analyzer interface {
	Analyze(text string) []*ticket.Sentence
}

var questionWords = map[string]bool{
	"who": true, "what": true, "when": true, "where": true, "why": true, "how": true, "which": true,
}

// SimpleAnalyzer is a rule-based analyzer: punctuation-delimited sentences,
// Unicode-normalized case-folded tokens, and coarse tags.
type SimpleAnalyzer struct {
	fold cases.Caser
}

func NewSimpleAnalyzer() *SimpleAnalyzer {
	return &SimpleAnalyzer{fold: cases.Fold()}
}

func (a *SimpleAnalyzer) Analyze(text string) []*ticket.Sentence {
	var out []*ticket.Sentence
	for i, raw := range splitSentences(norm.NFC.String(text)) {
		s := &ticket.Sentence{Index: i, Text: raw}
		words := strings.FieldsFunc(raw, notWordRune)
		for j, w := range words {
			tok := a.fold.String(w)
			s.Tokens = append(s.Tokens, tok)
			s.Lemmas = append(s.Lemmas, lemma(tok))
			s.Tags = append(s.Tags, tag(tok))
			if j > 0 && unicode.IsUpper(firstRune(w)) {
				s.Entities = append(s.Entities, w)
			}
		}
		s.Normalized = strings.Join(s.Tokens, " ")
		out = append(out, s)
	}
	return out
}

// splitSentences cuts on terminal punctuation followed by space or the end.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); strings.TrimFunc(s, unicode.IsPunct) != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lemma(tok string) string {
	tok = strings.TrimSuffix(tok, "'s")
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}

func tag(tok string) string {
	switch {
	case questionWords[tok]:
		return "WH"
	case strings.IndexFunc(tok, func(r rune) bool { return !unicode.IsDigit(r) }) < 0:
		return "NUM"
	default:
		return "W"
	}
}
