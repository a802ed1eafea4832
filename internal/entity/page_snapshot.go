package entity

import "time"

// PageSnapshot is the rendered state of a page at fetch time. It is not
// modified after the Fetcher returns it.
type PageSnapshot struct {
	URL        string
	FetchedAt  time.Time
	Content    string // outer HTML of the document
	Title      string
	StatusCode int
	Renderer   string
}
