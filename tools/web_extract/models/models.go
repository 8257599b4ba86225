package models

// Result is the cleaned content of a single fetched page.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	Text     string `json:"text"`
	SiteName string `json:"site_name"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}
