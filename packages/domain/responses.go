package domain

import "time"

type IndexingResponse struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

func NewIndexingResponse(err error) IndexingResponse {
	if err != nil {
		return IndexingResponse{Result: false, Error: err.Error()}
	}
	return IndexingResponse{Result: true}
}

type SearchResult struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

type SearchResponse struct {
	Result bool           `json:"result"`
	Error  string         `json:"error,omitempty"`
	Count  int            `json:"count"`
	Data   []SearchResult `json:"data"`
}

func FailedSearch(err error) SearchResponse {
	return SearchResponse{Result: false, Error: err.Error(), Data: []SearchResult{}}
}

type TotalStatistics struct {
	Sites    int  `json:"sites"`
	Pages    int  `json:"pages"`
	Lemmas   int  `json:"lemmas"`
	Indexing bool `json:"indexing"`
}

type DetailedStatistics struct {
	URL        string     `json:"url"`
	Name       string     `json:"name"`
	Status     SiteStatus `json:"status"`
	StatusTime int64      `json:"statusTime"`
	Error      string     `json:"error,omitempty"`
	Pages      int        `json:"pages"`
	Lemmas     int        `json:"lemmas"`
}

type StatisticsData struct {
	Total    TotalStatistics      `json:"total"`
	Detailed []DetailedStatistics `json:"detailed"`
}

type StatisticsResponse struct {
	Result     bool           `json:"result"`
	Error      string         `json:"error,omitempty"`
	Statistics StatisticsData `json:"statistics"`
}

// EpochMillis converts a status time to the wire representation.
func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
