package search

import (
	"reflect"
	"testing"

	"sitesearch/packages/morph"
)

func TestSnippet(t *testing.T) {
	m := morph.New("english")
	lemmas := map[string]bool{"cat": true}

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "ranked by matches",
			content: "<p>The cat sat. A dog ran! Cats chase cats.</p>",
			want:    "<b>Cats</b> chase <b>cats</b>.<br />The <b>cat</b> sat.",
		},
		{
			name:    "top three only",
			content: "<p>cat one. cat two. cat three. cat four.</p>",
			want:    "<b>cat</b> one.<br /><b>cat</b> two.<br /><b>cat</b> three.",
		},
		{
			name:    "escaped",
			content: "<p>cat &amp; mouse</p>",
			want:    "<b>cat</b> &amp; mouse",
		},
		{
			name:    "nested elements are separate blocks",
			content: "<div>Intro text <span>my cat</span></div>",
			want:    "my <b>cat</b>",
		},
		{
			name:    "no match",
			content: "<p>dogs only</p>",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Snippet(tt.content, lemmas, m); got != tt.want {
				t.Fatalf("Snippet = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentences(t *testing.T) {
	got := sentences("Version 2.5 is out. Really?! yes")
	want := []string{"Version 2.5 is out.", "Really?!", "yes"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sentences = %q, want %q", got, want)
	}
}
