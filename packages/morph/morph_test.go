package morph

import (
	"reflect"
	"testing"
)

func TestLemmatize(t *testing.T) {
	p := New("english", "russian")
	tests := []struct {
		name string
		text string
		want map[string]int
	}{
		{name: "simple", text: "cat sat on mat", want: map[string]int{"cat": 1, "sat": 1, "mat": 1}},
		{name: "inflections merge", text: "Cats! The cat, and a CAT.", want: map[string]int{"cat": 3}},
		{name: "russian", text: "Кошка и кошки", want: map[string]int{"кошк": 2}},
		{name: "mixed scripts", text: "dog собака dogs", want: map[string]int{"dog": 2, "собак": 1}},
		{name: "digits and short words ignored", text: "x 42 y", want: map[string]int{}},
		{name: "empty", text: "   ", want: map[string]int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Lemmatize(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Lemmatize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestLemmatizeWithoutAnalyzers(t *testing.T) {
	p := New("klingon")
	if len(p.Languages()) != 0 {
		t.Fatalf("unexpected analyzers: %v", p.Languages())
	}
	if got := p.Lemmatize("cat sat on mat"); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestLanguageSelection(t *testing.T) {
	p := New("english")
	if got := p.Lemmatize("кошка cat"); !reflect.DeepEqual(got, map[string]int{"cat": 1}) {
		t.Fatalf("english-only provider should skip cyrillic words, got %v", got)
	}
}

func TestNormalForms(t *testing.T) {
	p := New("english", "russian")
	if got := p.NormalForms("Cats"); !reflect.DeepEqual(got, []string{"cat"}) {
		t.Errorf("NormalForms(Cats) = %v", got)
	}
	if got := p.NormalForms("the"); got != nil {
		t.Errorf("stopword should have no normal forms, got %v", got)
	}
	if got := p.NormalForms("Ёжики"); len(got) != 1 {
		t.Errorf("NormalForms(Ёжики) = %v", got)
	}
}

func TestWords(t *testing.T) {
	got := Words("Hello, world! Привет-мир 2024")
	want := []string{"hello", "world", "привет", "мир"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Words = %v, want %v", got, want)
	}
}
