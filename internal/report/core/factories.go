package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/tools/web_extract"
	"github.com/reportcraft/reportcraft/tools/web_search"
)

// NewLLMProvider creates an LLM provider from configuration. Any
// OpenAI-compatible chat completion endpoint works through the base URL.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, provider := range cfg.Providers {
		switch provider.Type {
		case "openai":
			return NewOpenAIProvider(provider), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}

// NewSearchProvider adapts the configured web search backend to the
// SearchProvider contract.
func NewSearchProvider(cfg config.SearchConfig) (SearchProvider, error) {
	searcher, err := web_search.NewWebSearcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create web searcher: %w", err)
	}
	return &searchAdapter{searcher: searcher}, nil
}

// NewExtractor adapts the configured web extractor to the Extractor
// contract.
func NewExtractor(cfg config.ExtractConfig) (Extractor, error) {
	extractor, err := web_extract.NewWebExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create web extractor: %w", err)
	}
	return &extractAdapter{extractor: extractor}, nil
}

type searchAdapter struct {
	searcher web_search.WebSearcher
}

func (a *searchAdapter) Discover(ctx context.Context, query string, k int, sites []string) ([]SearchHit, error) {
	results, err := a.searcher.Discover(ctx, query, k, sites)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return hits, nil
}

type extractAdapter struct {
	extractor web_extract.WebExtractor
}

func (a *extractAdapter) Extract(ctx context.Context, url string) (ExtractedContent, error) {
	result, err := a.extractor.Exec(ctx, url)
	if err != nil {
		return ExtractedContent{}, err
	}
	return ExtractedContent{URL: result.URL, Title: result.Title, Text: result.Text}, nil
}

// OpenAIProvider implements LLMProvider against the OpenAI chat API or any
// compatible endpoint.
type OpenAIProvider struct {
	config config.LLMProvider
	models map[string]config.LLMModel
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	return &OpenAIProvider{
		config: cfg,
		models: cfg.Models,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate generates text using the given model.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := p.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

// GenerateWithTokens generates text and returns prompt/completion token
// counts.
func (p *OpenAIProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("OpenAI API key not configured")
	}

	m, ok := p.models[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	temperature := m.Temperature
	if t, ok := options["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := m.MaxTokens
	if mt, ok := options["max_tokens"].(int); ok {
		maxTokens = mt
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("OpenAI status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices")
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// CalculateCost converts token usage to dollars using the model's
// configured per-1K rates.
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	m, ok := p.models[model]
	if !ok {
		return 0.0
	}
	inputCost := float64(inputTokens) / 1000.0 * m.CostPer1K
	outputCost := float64(outputTokens) / 1000.0 * m.CostPer1KOutput
	return inputCost + outputCost
}
