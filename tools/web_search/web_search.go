package web_search

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/tools/web_search/brave"
	"github.com/reportcraft/reportcraft/tools/web_search/models"
	"github.com/reportcraft/reportcraft/tools/web_search/searxng"
	"github.com/reportcraft/reportcraft/tools/web_search/serper"
)

// WebSearcher discovers up to k results for a query. sites, when non-empty,
// restricts results to the given domains.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider  Provider = "serper"
	BraveProvider   Provider = "brave"
	SearxngProvider Provider = "searxng"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

// NewWebSearcher builds the configured backend wrapped in a client-side rate
// limiter so bursts of per-section searches stay within provider quotas.
func NewWebSearcher(cfg config.SearchConfig) (WebSearcher, error) {
	var backend WebSearcher
	switch Provider(cfg.Provider) {
	case SerperProvider:
		backend = serper.Search{ApiKey: cfg.APIKey, Timeout: cfg.Timeout}
	case BraveProvider:
		backend = brave.Search{ApiKey: cfg.APIKey, Timeout: cfg.Timeout}
	case SearxngProvider:
		backend = searxng.Search{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}
	default:
		return nil, ErrUnsupportedProvider
	}
	return &limitedSearcher{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

type limitedSearcher struct {
	backend WebSearcher
	limiter *rate.Limiter
}

func (l *limitedSearcher) Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.backend.Discover(ctx, q, k, sites)
}
