package crawler

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var invisibleTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// ExtractLinks returns the absolute same-origin http(s) URLs linked from
// the document, without fragments, sorted and deduplicated.
func ExtractLinks(htmlContent, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	linkSet := make(map[string]struct{})
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return
		}
		if !SameOrigin(resolved, base) {
			return
		}
		resolved.Fragment = ""
		resolved.RawFragment = ""
		linkSet[resolved.String()] = struct{}{}
	})

	links := make([]string, 0, len(linkSet))
	for link := range linkSet {
		links = append(links, link)
	}
	sort.Strings(links)
	slog.Debug("Link extraction found links", "base_url", baseURL, "count", len(links))
	return links
}

// SameOrigin compares scheme and host, ignoring case and default ports.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(hostPort(a), hostPort(b))
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port == "" {
		return u.Hostname()
	}
	return u.Hostname() + ":" + port
}

func ExtractTitle(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	return collapse(doc.Find("title").First().Text())
}

// ExtractVisibleText returns the document text with script, style and
// noscript content removed and whitespace collapsed.
func ExtractVisibleText(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()

	var sb strings.Builder
	for _, n := range doc.Nodes {
		writeText(&sb, n)
	}
	return collapse(sb.String())
}

// writeText writes text nodes separated by spaces so adjacent block elements
// do not merge their words.
func writeText(sb *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		writeText(sb, child)
	}
}

// TextBlocks returns the own text of every element in document order: the
// concatenation of its direct text children, ignoring nested elements.
// The document head is skipped.
func TextBlocks(htmlContent string) []string {
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}
	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if invisibleTags[n.Data] || n.Data == "head" {
				return
			}
			var own strings.Builder
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				if child.Type == html.TextNode {
					own.WriteString(child.Data)
					own.WriteByte(' ')
				}
			}
			if text := collapse(own.String()); text != "" {
				blocks = append(blocks, text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return blocks
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
