package search

import (
	"html"
	"regexp"
	"sort"
	"strings"

	"sitesearch/packages/crawler"
)

const maxSnippetSentences = 3

var (
	sentenceEnd = regexp.MustCompile(`[.!?](\s+|$)`)
	snippetWord = regexp.MustCompile(`\p{L}{2,}`)
)

type normalizer interface {
	NormalForms(word string) []string
}

type segment struct {
	text    string
	matches int
}

// Snippet picks up to three sentences of the page that mention a query
// lemma, with each matching word wrapped in <b>, joined by <br />.
func Snippet(content string, lemmas map[string]bool, morph normalizer) string {
	var segments []segment
	for _, block := range crawler.TextBlocks(content) {
		for _, sentence := range sentences(block) {
			if seg := highlight(sentence, lemmas, morph); seg.matches > 0 {
				segments = append(segments, seg)
			}
		}
	}
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].matches > segments[j].matches })
	if len(segments) > maxSnippetSentences {
		segments = segments[:maxSnippetSentences]
	}

	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.text
	}
	return strings.Join(parts, "<br />")
}

func sentences(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : m[0]+1]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func highlight(sentence string, lemmas map[string]bool, morph normalizer) segment {
	var sb strings.Builder
	seg := segment{}
	last := 0
	for _, m := range snippetWord.FindAllStringIndex(sentence, -1) {
		word := sentence[m[0]:m[1]]
		if !matches(word, lemmas, morph) {
			continue
		}
		sb.WriteString(html.EscapeString(sentence[last:m[0]]))
		sb.WriteString("<b>")
		sb.WriteString(html.EscapeString(word))
		sb.WriteString("</b>")
		last = m[1]
		seg.matches++
	}
	sb.WriteString(html.EscapeString(sentence[last:]))
	seg.text = sb.String()
	return seg
}

func matches(word string, lemmas map[string]bool, morph normalizer) bool {
	for _, form := range morph.NormalForms(word) {
		if lemmas[form] {
			return true
		}
	}
	return false
}
