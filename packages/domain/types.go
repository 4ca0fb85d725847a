// Package domain
package domain

import "time"

type SiteStatus string

const (
	Indexing SiteStatus = "INDEXING"
	Indexed  SiteStatus = "INDEXED"
	Failed   SiteStatus = "FAILED"
)

// FetchFailedCode is stored as Page.Code when the request never produced an HTTP response.
const FetchFailedCode = 0

type Site struct {
	ID         int64
	URL        string
	Name       string
	Status     SiteStatus
	LastError  string
	StatusTime time.Time
}

type Page struct {
	ID      int64
	SiteID  int64
	Path    string
	Code    int
	Content string
}

// OK reports whether the page was fetched with a 2xx status and can be parsed.
func (p Page) OK() bool {
	return p.Code >= 200 && p.Code < 300
}

type Lemma struct {
	ID        int64
	SiteID    int64
	Lemma     string
	Frequency int
}

type IndexRow struct {
	PageID  int64
	LemmaID int64
	Rank    float64
}

type LemmaDelta struct {
	LemmaID int64
	Delta   int
}

// SiteConfig is one entry of the configured site list.
type SiteConfig struct {
	URL  string
	Name string
}
