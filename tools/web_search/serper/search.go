package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/reportcraft/reportcraft/tools/web_search/models"
)

type Search struct {
	ApiKey  string
	Timeout time.Duration
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error) {
	// https://serper.dev/ docs
	if len(sites) > 0 {
		var filters []string
		for _, site := range sites {
			filters = append(filters, "site:"+site)
		}
		q = q + " (" + strings.Join(filters, " OR ") + ")"
	}
	payload := map[string]any{"q": q, "num": k}
	body, _ := json.Marshal(payload)

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}
