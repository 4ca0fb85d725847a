package crawler

import (
	"reflect"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title> The  Cat Page </title>
  <style>body { color: red; }</style>
  <script>var hidden = "dog";</script>
</head>
<body>
  <h1>Cats</h1>
  <p>The cat sat on the <b>mat</b>. It purred!</p>
  <noscript>enable javascript</noscript>
  <a href="/about">About</a>
  <a href="contact#form">Contact</a>
  <a href="https://example.com/about">Dup</a>
  <a href="https://other.com/x">Other</a>
  <a href="mailto:me@example.com">Mail</a>
  <a href="#top">Top</a>
  <a href="javascript:void(0)">JS</a>
</body>
</html>`

func TestExtractLinks(t *testing.T) {
	got := ExtractLinks(samplePage, "https://example.com/blog/")
	want := []string{
		"https://example.com/about",
		"https://example.com/blog/contact",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractLinks = %v, want %v", got, want)
	}
}

func TestExtractLinksDefaultPort(t *testing.T) {
	page := `<a href="https://example.com:443/a">a</a><a href="http://example.com/b">b</a>`
	got := ExtractLinks(page, "https://example.com/")
	want := []string{"https://example.com:443/a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractLinks = %v, want %v", got, want)
	}
}

func TestExtractTitle(t *testing.T) {
	if got := ExtractTitle(samplePage); got != "The Cat Page" {
		t.Fatalf("ExtractTitle = %q", got)
	}
	if got := ExtractTitle("<p>no title</p>"); got != "" {
		t.Fatalf("ExtractTitle without title = %q", got)
	}
}

func TestExtractVisibleText(t *testing.T) {
	got := ExtractVisibleText(samplePage)
	for _, hidden := range []string{"color", "hidden", "enable javascript"} {
		if strings.Contains(got, hidden) {
			t.Errorf("visible text contains %q: %q", hidden, got)
		}
	}
	for _, shown := range []string{"The Cat Page", "Cats", "The cat sat on the mat", "About"} {
		if !strings.Contains(got, shown) {
			t.Errorf("visible text missing %q: %q", shown, got)
		}
	}
}

func TestTextBlocks(t *testing.T) {
	got := TextBlocks(`<html><head><title>Cats</title></head><body><p>The cat sat on the <b>mat</b>. It purred!</p><script>x</script></body></html>`)
	want := []string{"The cat sat on the . It purred!", "mat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TextBlocks = %q, want %q", got, want)
	}
}
