package models

// Result is a single search hit as returned by a discovery backend.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}
