package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reportcraft/reportcraft/tools/web_search/models"
)

// Search queries a self-hosted SearXNG instance through its JSON API.
type Search struct {
	BaseURL string
	Timeout time.Duration
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error) {
	if len(sites) > 0 {
		var filters []string
		for _, site := range sites {
			filters = append(filters, "site:"+site)
		}
		q = q + " (" + strings.Join(filters, " OR ") + ")"
	}
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", strings.TrimRight(s.BaseURL, "/"), url.QueryEscape(q))

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
