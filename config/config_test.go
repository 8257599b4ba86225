package config

import (
	"testing"
	"time"
)

func TestSearchConfigNormalize(t *testing.T) {
	s := SearchConfig{}.Normalize()
	if s.Provider != "searxng" || s.MaxResults != 8 || s.Timeout != 20*time.Second || s.RatePerSecond != 2 {
		t.Fatalf("defaults = %+v", s)
	}

	custom := SearchConfig{Provider: "brave", MaxResults: 3, Timeout: time.Second, RatePerSecond: 1}.Normalize()
	if custom.Provider != "brave" || custom.MaxResults != 3 {
		t.Fatalf("explicit values overwritten: %+v", custom)
	}
}

func TestSearchConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     SearchConfig
		wantErr bool
	}{
		{"serper without key", SearchConfig{Provider: "serper"}, true},
		{"serper with key", SearchConfig{Provider: "serper", APIKey: "k"}, false},
		{"brave without key", SearchConfig{Provider: "brave"}, true},
		{"searxng without url", SearchConfig{Provider: "searxng"}, true},
		{"searxng with url", SearchConfig{Provider: "searxng", BaseURL: "http://localhost:8888"}, false},
		{"unknown provider", SearchConfig{Provider: "bing"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestExtractConfig(t *testing.T) {
	e := ExtractConfig{}.Normalize()
	if e.Fetcher != "http" || e.MaxChars != 20000 {
		t.Fatalf("defaults = %+v", e)
	}
	if err := e.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (ExtractConfig{Fetcher: "curl"}).Validate(); err == nil {
		t.Fatal("unknown fetcher accepted")
	}
}

func TestReportConfig(t *testing.T) {
	r := ReportConfig{}.Normalize()
	if r.MaxConcurrentSections != 3 || r.RunTimeout != 10*time.Minute ||
		r.SourcePolicyMode != "complement" || r.ExplorationResults != 8 {
		t.Fatalf("defaults = %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (ReportConfig{SourcePolicyMode: "whatever"}).Validate(); err == nil {
		t.Fatal("bad policy mode accepted")
	}
}

func TestTelemetryValidate(t *testing.T) {
	if err := (TelemetryConfig{Enabled: true}).Validate(); err == nil {
		t.Fatal("enabled telemetry without metrics port accepted")
	}
	if err := (TelemetryConfig{Enabled: true, MetricsPort: 9090}).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (TelemetryConfig{}).Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestModelFor(t *testing.T) {
	r := LLMRoutingConfig{Planning: "gpt-plan", Fallback: "gpt-fallback"}
	if got := r.ModelFor("planning"); got != "gpt-plan" {
		t.Fatalf("planning = %q", got)
	}
	if got := r.ModelFor("synthesis"); got != "gpt-fallback" {
		t.Fatalf("synthesis fallback = %q", got)
	}
	if got := r.ModelFor("unknown-stage"); got != "gpt-fallback" {
		t.Fatalf("unknown stage = %q", got)
	}
}
