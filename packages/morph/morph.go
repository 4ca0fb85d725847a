// Package morph reduces words to lemmas. Each supported language has an
// analyzer backed by a snowball stemmer; words are routed to the analyzer
// whose script they are written in.
package morph

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"github.com/kljensen/snowball"
)

const (
	minWordLength = 2
	maxWordLength = 50
)

var wordPattern = regexp.MustCompile(`\p{L}+`)

type Analyzer struct {
	Language  string
	script    *unicode.RangeTable
	stopWords map[string]bool
}

// Stem returns the lemma of an already lowercased word, or false when the
// word is a stopword or cannot be stemmed.
func (a *Analyzer) Stem(word string) (string, bool) {
	if a.stopWords[word] {
		return "", false
	}
	stemmed, err := snowball.Stem(word, a.Language, true)
	if err != nil || stemmed == "" {
		return "", false
	}
	return stemmed, true
}

var analyzers = map[string]func() *Analyzer{
	"english": func() *Analyzer {
		return &Analyzer{Language: "english", script: unicode.Latin, stopWords: englishStopWords}
	},
	"russian": func() *Analyzer {
		return &Analyzer{Language: "russian", script: unicode.Cyrillic, stopWords: russianStopWords}
	},
}

type Provider struct {
	analyzers []*Analyzer
}

// New builds a provider for the named languages, in order. Unknown names are
// logged and skipped; a provider with no analyzers lemmatizes to nothing.
func New(languages ...string) *Provider {
	p := &Provider{}
	seen := make(map[string]bool)
	for _, lang := range languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		factory, ok := analyzers[lang]
		if !ok {
			slog.Warn("Unsupported morphology language, skipping", "language", lang)
			continue
		}
		if seen[lang] {
			continue
		}
		seen[lang] = true
		p.analyzers = append(p.analyzers, factory())
	}
	return p
}

func (p *Provider) Languages() []string {
	out := make([]string, len(p.analyzers))
	for i, a := range p.analyzers {
		out[i] = a.Language
	}
	return out
}

// Lemmatize maps every lemma found in text to its occurrence count. Counts
// from different analyzers for the same lemma text are summed.
func (p *Provider) Lemmatize(text string) map[string]int {
	counts := make(map[string]int)
	if len(p.analyzers) == 0 {
		return counts
	}
	for _, word := range Words(text) {
		a := p.route(word)
		if a == nil {
			continue
		}
		if lemma, ok := a.Stem(word); ok {
			counts[lemma]++
		}
	}
	return counts
}

// NormalForms returns the lemma strings a single word can be reduced to.
func (p *Provider) NormalForms(word string) []string {
	word = normalize(word)
	a := p.route(word)
	if a == nil {
		return nil
	}
	lemma, ok := a.Stem(word)
	if !ok {
		return nil
	}
	return []string{lemma}
}

func (p *Provider) route(word string) *Analyzer {
	n := utf8.RuneCountInString(word)
	if n < minWordLength || n > maxWordLength {
		return nil
	}
	script := whatlanggo.DetectScript(word)
	if script == nil {
		return nil
	}
	for _, a := range p.analyzers {
		if a.script == script {
			return a
		}
	}
	return nil
}

// Words splits text into lowercased letter runs.
func Words(text string) []string {
	return wordPattern.FindAllString(normalize(text), -1)
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "ё", "е")
}
