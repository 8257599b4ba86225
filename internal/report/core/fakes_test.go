package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

// fakeLLM routes prompts to canned responses by matching a distinctive
// fragment of each pipeline prompt.
type fakeLLM struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]string // prompt fragment -> response
	failOn    map[string]int    // prompt fragment -> remaining failures
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		responses: map[string]string{},
		failOn:    map[string]int{},
	}
}

func (f *fakeLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := f.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

func (f *fakeLLM) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, prompt)
	for fragment, remaining := range f.failOn {
		if strings.Contains(prompt, fragment) && remaining > 0 {
			f.failOn[fragment] = remaining - 1
			return "", 0, 0, fmt.Errorf("fake failure for %q", fragment)
		}
	}
	for fragment, response := range f.responses {
		if strings.Contains(prompt, fragment) {
			return response, 100, 50, nil
		}
	}
	return "", 0, 0, fmt.Errorf("no canned response for prompt")
}

func (f *fakeLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return float64(inputTokens+outputTokens) / 1000.0 * 0.01
}

func (f *fakeLLM) callCount(fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, fragment) {
			n++
		}
	}
	return n
}

// fakeSearch returns fixed hits, optionally failing, and records the
// queries it was asked.
type fakeSearch struct {
	mu      sync.Mutex
	hits    []SearchHit
	err     error
	queries []string
}

func (f *fakeSearch) Discover(ctx context.Context, query string, k int, sites []string) ([]SearchHit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeSearch) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

// fakeExtractor serves content per URL and fails for URLs in failures.
type fakeExtractor struct {
	mu       sync.Mutex
	content  map[string]string // url -> text
	failures map[string]int    // url -> remaining failures
	attempts map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		content:  map[string]string{},
		failures: map[string]int{},
		attempts: map[string]int{},
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (ExtractedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[url]++
	if remaining := f.failures[url]; remaining > 0 {
		f.failures[url] = remaining - 1
		return ExtractedContent{}, fmt.Errorf("fake fetch error")
	}
	text, ok := f.content[url]
	if !ok {
		return ExtractedContent{}, fmt.Errorf("unknown url")
	}
	return ExtractedContent{URL: url, Title: "Page " + url, Text: text}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.Routing = config.LLMRoutingConfig{Fallback: "gpt-test"}
	cfg.Report = config.ReportConfig{
		MaxConcurrentSections: 2,
		RunTimeout:            time.Minute,
		SourcePolicyMode:      "complement",
		ExplorationResults:    8,
	}
	return cfg
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{Enabled: false})
}

// sampleText is long enough to clear the chunk length-quality band.
var sampleText = strings.Repeat("In 2024 output grew by 4.2% while exports reached $1.3 billion. ", 12)

func testQuery(topic string) Query {
	return Query{ID: "run-1", Topic: topic, CreatedAt: time.Now()}
}
