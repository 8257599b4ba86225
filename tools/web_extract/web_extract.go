package web_extract

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/tools/web_extract/chromedp"
	"github.com/reportcraft/reportcraft/tools/web_extract/httpfetch"
	"github.com/reportcraft/reportcraft/tools/web_extract/models"
)

// WebExtractor fetches a URL and returns its readable content.
type WebExtractor interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
	HTTPFetcherType     FetcherType = "http"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

// NewWebExtractor builds the configured fetcher wrapped in a client-side rate
// limiter so parallel section builds do not hammer the same hosts.
func NewWebExtractor(cfg config.ExtractConfig) (WebExtractor, error) {
	var backend WebExtractor
	switch FetcherType(cfg.Fetcher) {
	case ChromedpFetcherType:
		backend = &chromedp.Fetch{Timeout: cfg.Timeout, MaxChars: cfg.MaxChars}
	case HTTPFetcherType:
		backend = &httpfetch.Fetch{Timeout: cfg.Timeout, MaxChars: cfg.MaxChars}
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
	return &limitedExtractor{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

type limitedExtractor struct {
	backend WebExtractor
	limiter *rate.Limiter
}

func (l *limitedExtractor) Exec(ctx context.Context, url string) (models.Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Result{}, err
	}
	return l.backend.Exec(ctx, url)
}
